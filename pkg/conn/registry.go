package conn

import (
	"sync"

	"github.com/cotoami/cotoami-node/pkg/id"
	"github.com/cotoami/cotoami-node/pkg/metrics"
	"github.com/cotoami/cotoami-node/pkg/operator"
	"github.com/cotoami/cotoami-node/pkg/service"
)

// ActiveClient is one currently-connected inbound peer: a child node
// that authenticated with a ClientNode credential, or an anonymous
// read-only session admitted under LocalNode.AnonymousReadEnabled.
type ActiveClient struct {
	NodeID    *id.NodeID // nil for an anonymous connection
	Socket    *service.PeerSocket
	Anonymous bool
}

// Registry tracks inbound PeerSocket connections accepted by this
// node's WebSocket endpoint, so a later command (e.g. forcing a child
// to reconnect, or reporting current load) can reach them, and so the
// active/anonymous client gauges stay accurate.
type Registry struct {
	mu      sync.Mutex
	clients map[*service.PeerSocket]ActiveClient
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[*service.PeerSocket]ActiveClient)}
}

// Add records a newly-accepted inbound connection and updates the
// client gauges. Call Remove when the connection's Run loop returns.
func (r *Registry) Add(socket *service.PeerSocket, nodeID *id.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	anonymous := nodeID == nil
	r.clients[socket] = ActiveClient{NodeID: nodeID, Socket: socket, Anonymous: anonymous}
	if anonymous {
		metrics.AnonymousConnections.Inc()
	} else {
		metrics.ActiveClients.Inc()
		metrics.ConnectedPeers.WithLabelValues("child", "connected").Inc()
	}
}

// Remove forgets socket, decrementing whichever gauge Add incremented
// for it. Safe to call more than once or for an unknown socket.
func (r *Registry) Remove(socket *service.PeerSocket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[socket]
	if !ok {
		return
	}
	delete(r.clients, socket)
	if client.Anonymous {
		metrics.AnonymousConnections.Dec()
	} else {
		metrics.ActiveClients.Dec()
		metrics.ConnectedPeers.WithLabelValues("child", "connected").Dec()
	}
}

// Clients returns a snapshot of every currently-registered connection.
func (r *Registry) Clients() []ActiveClient {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ActiveClient, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// ByNodeID returns the active connection for nodeID, if any.
func (r *Registry) ByNodeID(nodeID id.NodeID) (ActiveClient, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.clients {
		if c.NodeID != nil && *c.NodeID == nodeID {
			return c, true
		}
	}
	return ActiveClient{}, false
}

// AddPrincipal is the HTTPServer.OnPeerConnected-shaped adapter: an
// anonymous principal registers as an anonymous client, anything else
// registers under its node id.
func (r *Registry) AddPrincipal(socket *service.PeerSocket, principal operator.Principal) {
	if principal.IsAnonymous() {
		r.Add(socket, nil)
		return
	}
	nodeID := principal.NodeID()
	r.Add(socket, &nodeID)
}

// Count reports how many connections are currently registered.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
