// Package conn supervises outbound WebSocket connections to parent
// nodes (nodes this one subscribes to as a ServerNode) and tracks
// inbound connections from child nodes, reconnecting on failure with
// exponential backoff.
package conn

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cotoami/cotoami-node/pkg/events"
	"github.com/cotoami/cotoami-node/pkg/id"
	"github.com/cotoami/cotoami-node/pkg/log"
	"github.com/cotoami/cotoami-node/pkg/metrics"
	"github.com/cotoami/cotoami-node/pkg/model"
	"github.com/cotoami/cotoami-node/pkg/operator"
	"github.com/cotoami/cotoami-node/pkg/security"
	"github.com/cotoami/cotoami-node/pkg/service"
)

// commandsPath is the WebSocket route a parent's HTTPServer exposes
// alongside its /api/commands HTTP endpoint, for the duplex channel
// pushing replicated changes and forwarding service requests.
const commandsPath = "/api/ws"

// PeerConnection supervises one outbound connection to a parent node,
// redialing with a Backoff whenever the socket drops.
type PeerConnection struct {
	parent     model.ServerNode
	localNode  id.NodeID
	cipher     *security.PeerPasswordCipher
	dispatcher *service.Dispatcher
	broker     *events.ChangeBroker
	nodeEvents *events.NodeEventBroker

	mu     sync.Mutex
	state  State
	socket *service.PeerSocket
	cancel context.CancelFunc
}

// NewPeerConnection builds a supervisor for the given ServerNode.
// cipher decrypts parent.EncryptedPassword to obtain the cleartext
// credential sent in the connection's Authorization header.
func NewPeerConnection(parent model.ServerNode, localNode id.NodeID, cipher *security.PeerPasswordCipher, dispatcher *service.Dispatcher, broker *events.ChangeBroker, nodeEvents *events.NodeEventBroker) *PeerConnection {
	state := StateDisconnected
	if parent.Disabled {
		state = StateDisabled
	}
	return &PeerConnection{
		parent: parent, localNode: localNode, cipher: cipher,
		dispatcher: dispatcher, broker: broker, nodeEvents: nodeEvents,
		state: state,
	}
}

// State reports the supervisor's current connection state.
func (p *PeerConnection) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *PeerConnection) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// RemoteChangesTopic names the topic pushed changes from this parent
// are published to.
func (p *PeerConnection) RemoteChangesTopic() string {
	return events.RemoteChangesTopic(p.parent.NodeID.String())
}

// Run loops dialing and serving the connection until ctx is cancelled,
// backing off between failed or dropped attempts. It does not return
// until ctx is done.
func (p *PeerConnection) Run(ctx context.Context) {
	if p.parent.Disabled {
		p.setState(StateDisabled)
		return
	}

	logger := log.WithPeerID(p.parent.NodeID.String())
	backoff := NewBackoff()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.setState(StateConnecting)
		socket, err := p.dial(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to connect to parent")
			p.setState(StateInitFailed)
			if !sleep(ctx, backoff.Next()) {
				return
			}
			continue
		}

		backoff.Reset()
		p.mu.Lock()
		p.socket = socket
		p.mu.Unlock()
		p.setState(StateConnected)
		metrics.ConnectedPeers.WithLabelValues("parent", "connected").Inc()
		p.nodeEvents.Publish(events.TopicEvents, events.NodeEvent{
			Kind: events.EventPeerConnected, NodeID: p.parent.NodeID.String(),
		})

		runCtx, cancel := context.WithCancel(ctx)
		p.mu.Lock()
		p.cancel = cancel
		p.mu.Unlock()

		err = socket.Run(runCtx)
		cancel()
		_ = socket.Close()
		logger.Info().Err(err).Msg("connection to parent closed")
		p.setState(StateDisconnected)
		metrics.ConnectedPeers.WithLabelValues("parent", "connected").Dec()
		p.nodeEvents.Publish(events.TopicEvents, events.NodeEvent{
			Kind: events.EventPeerDisconnected, NodeID: p.parent.NodeID.String(),
		})

		if !sleep(ctx, backoff.Next()) {
			return
		}
	}
}

func (p *PeerConnection) dial(ctx context.Context) (*service.PeerSocket, error) {
	wsURL, err := toWebSocketURL(p.parent.URLPrefix, commandsPath)
	if err != nil {
		return nil, err
	}

	password, err := p.cipher.Decrypt(p.parent.EncryptedPassword)
	if err != nil {
		return nil, fmt.Errorf("decrypt parent credential: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.localNode.String()+":"+string(password))

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	wsConn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	return service.NewPeerSocket(wsConn, p.dispatcher, operator.LocalOwner(p.localNode), p.broker, p.RemoteChangesTopic()), nil
}

// Disconnect cancels the current connection's Run loop, if one is
// active, causing the supervisor to reconnect per its backoff policy.
func (p *PeerConnection) Disconnect() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func toWebSocketURL(urlPrefix, path string) (string, error) {
	u, err := url.Parse(urlPrefix)
	if err != nil {
		return "", fmt.Errorf("parse url prefix: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String(), nil
}

// sleep waits for d or returns false early if ctx is cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
