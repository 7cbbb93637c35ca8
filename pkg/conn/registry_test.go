package conn_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cotoami/cotoami-node/pkg/conn"
	"github.com/cotoami/cotoami-node/pkg/id"
	"github.com/cotoami/cotoami-node/pkg/operator"
	"github.com/cotoami/cotoami-node/pkg/service"
)

func newFakeSocket() *service.PeerSocket {
	return service.NewPeerSocket(nil, nil, operator.Anonymous(), nil, "")
}

func TestRegistryTracksNamedClient(t *testing.T) {
	r := conn.NewRegistry()
	nodeID := id.New[id.NodeKind]()
	socket := newFakeSocket()

	r.Add(socket, &nodeID)
	require.Equal(t, 1, r.Count())

	client, ok := r.ByNodeID(nodeID)
	require.True(t, ok)
	assert.False(t, client.Anonymous)
	assert.Equal(t, socket, client.Socket)

	r.Remove(socket)
	assert.Equal(t, 0, r.Count())
	_, ok = r.ByNodeID(nodeID)
	assert.False(t, ok)
}

func TestRegistryTracksAnonymousClient(t *testing.T) {
	r := conn.NewRegistry()
	socket := newFakeSocket()

	r.Add(socket, nil)
	require.Equal(t, 1, r.Count())

	clients := r.Clients()
	require.Len(t, clients, 1)
	assert.True(t, clients[0].Anonymous)
	assert.Nil(t, clients[0].NodeID)

	r.Remove(socket)
	assert.Equal(t, 0, r.Count())
}

func TestRegistryAddPrincipalDistinguishesAnonymous(t *testing.T) {
	r := conn.NewRegistry()

	anonSocket := newFakeSocket()
	r.AddPrincipal(anonSocket, operator.Anonymous())
	clients := r.Clients()
	require.Len(t, clients, 1)
	assert.True(t, clients[0].Anonymous)

	nodeID := id.New[id.NodeKind]()
	namedSocket := newFakeSocket()
	r.AddPrincipal(namedSocket, operator.LocalOwner(nodeID))
	client, ok := r.ByNodeID(nodeID)
	require.True(t, ok)
	assert.False(t, client.Anonymous)
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	r := conn.NewRegistry()
	socket := newFakeSocket()

	r.Remove(socket)
	assert.Equal(t, 0, r.Count())

	r.Add(socket, nil)
	r.Remove(socket)
	r.Remove(socket)
	assert.Equal(t, 0, r.Count())
}
