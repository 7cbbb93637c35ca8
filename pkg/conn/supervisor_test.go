package conn_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/cotoami/cotoami-node/pkg/conn"
	"github.com/cotoami/cotoami-node/pkg/events"
	"github.com/cotoami/cotoami-node/pkg/id"
	"github.com/cotoami/cotoami-node/pkg/model"
	"github.com/cotoami/cotoami-node/pkg/security"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// newEchoParentServer answers the /api/ws route with a bare upgrade
// and then simply reads frames until the connection closes, which is
// enough to exercise PeerConnection's dial/connect/teardown cycle
// without a full Dispatcher round trip.
func newEchoParentServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ws", func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestCipher(t *testing.T) *security.PeerPasswordCipher {
	t.Helper()
	c, err := security.NewPeerPasswordCipher(security.DeriveKeyFromOwnerPassword("owner-secret"))
	require.NoError(t, err)
	return c
}

func TestPeerConnectionReachesConnectedState(t *testing.T) {
	srv := newEchoParentServer(t)
	cipher := newTestCipher(t)
	encrypted, err := cipher.Encrypt([]byte("parent-password"))
	require.NoError(t, err)

	parent := model.ServerNode{
		NodeID:            id.New[id.NodeKind](),
		URLPrefix:         srv.URL,
		EncryptedPassword: encrypted,
	}

	pc := conn.NewPeerConnection(parent, id.New[id.NodeKind](), cipher, nil, events.NewChangeBroker(), events.NewNodeEventBroker())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go pc.Run(ctx)

	require.Eventually(t, func() bool {
		return pc.State() == conn.StateConnected
	}, time.Second, 10*time.Millisecond)
}

func TestPeerConnectionDisabledNeverConnects(t *testing.T) {
	srv := newEchoParentServer(t)
	cipher := newTestCipher(t)
	encrypted, err := cipher.Encrypt([]byte("parent-password"))
	require.NoError(t, err)

	parent := model.ServerNode{
		NodeID: id.New[id.NodeKind](), URLPrefix: srv.URL,
		EncryptedPassword: encrypted, Disabled: true,
	}
	pc := conn.NewPeerConnection(parent, id.New[id.NodeKind](), cipher, nil, events.NewChangeBroker(), events.NewNodeEventBroker())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	pc.Run(ctx)

	require.Equal(t, conn.StateDisabled, pc.State())
}

func TestPeerConnectionRetriesWithWrongCredential(t *testing.T) {
	srv := newEchoParentServer(t)
	cipher := newTestCipher(t)
	wrongKeyCipher, err := security.NewPeerPasswordCipher(security.DeriveKeyFromOwnerPassword("different-secret"))
	require.NoError(t, err)
	encrypted, err := wrongKeyCipher.Encrypt([]byte("parent-password"))
	require.NoError(t, err)

	parent := model.ServerNode{
		NodeID: id.New[id.NodeKind](), URLPrefix: srv.URL,
		EncryptedPassword: encrypted,
	}
	// Decrypting with the wrong cipher fails before a dial is even
	// attempted, so the supervisor should sit in StateInitFailed rather
	// than ever reaching StateConnected.
	pc := conn.NewPeerConnection(parent, id.New[id.NodeKind](), cipher, nil, events.NewChangeBroker(), events.NewNodeEventBroker())

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	pc.Run(ctx)

	require.Equal(t, conn.StateInitFailed, pc.State())
}
