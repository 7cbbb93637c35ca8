package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/cotoami/cotoami-node/pkg/events"
	"github.com/cotoami/cotoami-node/pkg/id"
	"github.com/cotoami/cotoami-node/pkg/log"
	"github.com/cotoami/cotoami-node/pkg/model"
	"github.com/cotoami/cotoami-node/pkg/operator"
)

// frameKind tags a wsFrame's payload the way model.Change's Kind tags
// its union: exactly one of the Request/Response/Change fields is
// populated.
type frameKind string

const (
	frameRequest  frameKind = "request"
	frameResponse frameKind = "response"
	frameChange   frameKind = "change"
	framePing     frameKind = "ping"
)

type wsFrame struct {
	Kind     frameKind
	Request  *Request
	Response *Response
	Change   *model.ChangelogEntry
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsWriteTimeout bounds how long a single frame write may block before
// the connection is considered dead and torn down.
const wsWriteTimeout = 10 * time.Second

// PeerSocket wraps one WebSocket connection to a peer (child or
// parent), serialising writes and routing inbound frames: Requests go
// to the Dispatcher, Changes go to the change broker, Responses go to
// whichever goroutine is waiting on that RequestID.
type PeerSocket struct {
	conn       *websocket.Conn
	dispatcher *Dispatcher
	principal  operator.Principal
	broker     *events.ChangeBroker
	remoteTopic string

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[id.RequestID]chan Response
}

// NewPeerSocket wraps an already-established connection. remoteTopic
// names the events topic pushed Changes are forwarded onto (typically
// events.RemoteChangesTopic(peerNodeID) on the client side of a parent
// connection, or "" if this socket never receives pushed changes).
func NewPeerSocket(conn *websocket.Conn, dispatcher *Dispatcher, principal operator.Principal, broker *events.ChangeBroker, remoteTopic string) *PeerSocket {
	return &PeerSocket{
		conn: conn, dispatcher: dispatcher, principal: principal,
		broker: broker, remoteTopic: remoteTopic,
		pending: make(map[id.RequestID]chan Response),
	}
}

// UpgradeHandler upgrades an HTTP request to a WebSocket and returns a
// PeerSocket ready for Run. The caller has already authenticated the
// peer (resolvePrincipal ran as HTTP middleware upstream of this route).
func UpgradeHandler(w http.ResponseWriter, r *http.Request, dispatcher *Dispatcher, principal operator.Principal, broker *events.ChangeBroker) (*PeerSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade websocket: %w", err)
	}
	return NewPeerSocket(conn, dispatcher, principal, broker, ""), nil
}

// Run reads frames until the connection closes or ctx is cancelled.
// Blocking; callers run it in its own goroutine.
func (p *PeerSocket) Run(ctx context.Context) error {
	logger := log.WithComponent("service.ws")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var frame wsFrame
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		if err := msgpack.Unmarshal(raw, &frame); err != nil {
			logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		switch frame.Kind {
		case frameRequest:
			if frame.Request == nil {
				continue
			}
			go p.serve(ctx, *frame.Request)

		case frameResponse:
			if frame.Response == nil {
				continue
			}
			p.deliver(*frame.Response)

		case frameChange:
			if frame.Change == nil || p.broker == nil || p.remoteTopic == "" {
				continue
			}
			p.broker.Publish(p.remoteTopic, *frame.Change)

		case framePing:
			// no-op: receiving any frame resets the peer's idle timer in
			// pkg/conn's supervisor.
		}
	}
}

func (p *PeerSocket) serve(ctx context.Context, req Request) {
	resp := p.dispatcher.Dispatch(ctx, p.principal, req)
	if err := p.writeFrame(wsFrame{Kind: frameResponse, Response: &resp}); err != nil {
		log.WithComponent("service.ws").Warn().Err(err).Msg("failed to send response frame")
	}
}

func (p *PeerSocket) deliver(resp Response) {
	p.pendingMu.Lock()
	ch, ok := p.pending[resp.ID]
	if ok {
		delete(p.pending, resp.ID)
	}
	p.pendingMu.Unlock()
	if ok {
		ch <- resp
	}
}

// Call sends req and blocks for the matching Response or until ctx is
// done.
func (p *PeerSocket) Call(ctx context.Context, req Request) (Response, error) {
	ch := make(chan Response, 1)
	p.pendingMu.Lock()
	p.pending[req.ID] = ch
	p.pendingMu.Unlock()

	if err := p.writeFrame(wsFrame{Kind: frameRequest, Request: &req}); err != nil {
		p.pendingMu.Lock()
		delete(p.pending, req.ID)
		p.pendingMu.Unlock()
		return Response{}, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		p.pendingMu.Lock()
		delete(p.pending, req.ID)
		p.pendingMu.Unlock()
		return Response{}, ctx.Err()
	}
}

// PushChange forwards a locally-recorded or already-validated entry to
// the peer at the other end, e.g. a parent pushing to a subscribed
// child.
func (p *PeerSocket) PushChange(entry model.ChangelogEntry) error {
	return p.writeFrame(wsFrame{Kind: frameChange, Change: &entry})
}

func (p *PeerSocket) writeFrame(frame wsFrame) error {
	encoded, err := msgpack.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return p.conn.WriteMessage(websocket.BinaryMessage, encoded)
}

// Close tears down the underlying connection and fails every request
// still waiting on a response.
func (p *PeerSocket) Close() error {
	p.pendingMu.Lock()
	for reqID, ch := range p.pending {
		close(ch)
		delete(p.pending, reqID)
	}
	p.pendingMu.Unlock()
	return p.conn.Close()
}
