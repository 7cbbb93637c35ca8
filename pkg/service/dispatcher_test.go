package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/cotoami/cotoami-node/pkg/events"
	"github.com/cotoami/cotoami-node/pkg/id"
	"github.com/cotoami/cotoami-node/pkg/model"
	"github.com/cotoami/cotoami-node/pkg/operator"
	"github.com/cotoami/cotoami-node/pkg/service"
	"github.com/cotoami/cotoami-node/pkg/storage"
	"github.com/cotoami/cotoami-node/pkg/storage/ops"
)

func newTestDispatcher(t *testing.T) (*service.Dispatcher, id.NodeID) {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	e, err := storage.Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	localNodeID := id.New[id.NodeKind]()
	_, err = storage.Write(context.Background(), e, ops.InsertNode(model.Node{
		UUID: localNodeID, Name: "local", Version: 1, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, err)

	return service.NewDispatcher(e, localNodeID, events.NewChangeBroker(), events.NewNodeEventBroker()), localNodeID
}

func TestDispatchPostCotoAsOwnerSucceeds(t *testing.T) {
	d, localNodeID := newTestDispatcher(t)

	content := "hello world"
	body, err := msgpack.Marshal(map[string]any{"Coto": model.Coto{Content: &content}})
	require.NoError(t, err)

	resp := d.Dispatch(context.Background(), operator.LocalOwner(localNodeID), service.Request{
		ID: id.New[id.RequestKind](), Command: service.CommandPostCoto, Body: body,
	})
	require.Nil(t, resp.Err)

	var coto model.Coto
	require.NoError(t, msgpack.Unmarshal(resp.Result, &coto))
	assert.Equal(t, content, *coto.Content)
	assert.Equal(t, localNodeID, coto.PostedByID)
}

func TestDispatchPostCotoAsAnonymousIsDenied(t *testing.T) {
	d, _ := newTestDispatcher(t)

	body, err := msgpack.Marshal(map[string]any{"Coto": model.Coto{}})
	require.NoError(t, err)

	resp := d.Dispatch(context.Background(), operator.Anonymous(), service.Request{
		ID: id.New[id.RequestKind](), Command: service.CommandPostCoto, Body: body,
	})
	require.NotNil(t, resp.Err)
	assert.Equal(t, service.ErrPermissionDenied, resp.Err.Code)
}

func TestDispatchGetCotoNotFound(t *testing.T) {
	d, _ := newTestDispatcher(t)

	body, err := msgpack.Marshal(map[string]any{"CotoID": id.New[id.CotoKind]()})
	require.NoError(t, err)

	resp := d.Dispatch(context.Background(), operator.Anonymous(), service.Request{
		ID: id.New[id.RequestKind](), Command: service.CommandGetCoto, Body: body,
	})
	require.NotNil(t, resp.Err)
	assert.Equal(t, service.ErrNotFound, resp.Err.Code)
}

func TestDispatchUnknownCommandIsInvalid(t *testing.T) {
	d, _ := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), operator.Anonymous(), service.Request{
		ID: id.New[id.RequestKind](), Command: service.Command("DoesNotExist"), Body: nil,
	})
	require.NotNil(t, resp.Err)
	assert.Equal(t, service.ErrInvalid, resp.Err.Code)
}
