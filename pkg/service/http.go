package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/cotoami/cotoami-node/pkg/events"
	"github.com/cotoami/cotoami-node/pkg/id"
	"github.com/cotoami/cotoami-node/pkg/log"
	"github.com/cotoami/cotoami-node/pkg/operator"
	"github.com/cotoami/cotoami-node/pkg/security"
	"github.com/cotoami/cotoami-node/pkg/storage"
	"github.com/cotoami/cotoami-node/pkg/storage/ops"
)

// DefaultSessionDuration is how long an owner session stays valid after
// a successful login, used when NewHTTPServer is not given another via
// WithSessionDuration.
const DefaultSessionDuration = 30 * 24 * time.Hour

// OwnerSessionCookie is the cookie carrying the owner's session token,
// set on successful login and checked by principalFromRequest.
const OwnerSessionCookie = "cotoami_owner_session"

// CSRFHeader must echo CSRFCookie's value on every state-changing
// request; this is the double-submit pattern, chosen over a
// synchronizer token because the service is stateless between requests.
const (
	CSRFCookie = "cotoami_csrf"
	CSRFHeader = "X-Cotoami-CSRF-Token"
)

// HTTPServer exposes a Dispatcher over chi: a single POST /api/commands
// endpoint for every Command, a lightweight GET /api/health, and a
// GET /api/ws duplex WebSocket endpoint for peer connections (pushed
// changes in both directions, plus request/response framing for peers
// that prefer one long-lived connection over per-call HTTP).
type HTTPServer struct {
	dispatcher *Dispatcher
	engine     *storage.Engine
	broker     *events.ChangeBroker
	router     chi.Router

	// OnPeerConnected/OnPeerDisconnected, if set, let a caller (the
	// process wiring pkg/conn's Registry) track inbound connections
	// without pkg/service importing pkg/conn.
	OnPeerConnected    func(*PeerSocket, operator.Principal)
	OnPeerDisconnected func(*PeerSocket)

	sessionDuration time.Duration
}

// HTTPServerOption configures optional HTTPServer behavior at
// construction time.
type HTTPServerOption func(*HTTPServer)

// WithSessionDuration overrides DefaultSessionDuration for sessions
// issued by /api/login.
func WithSessionDuration(d time.Duration) HTTPServerOption {
	return func(s *HTTPServer) { s.sessionDuration = d }
}

func NewHTTPServer(dispatcher *Dispatcher, engine *storage.Engine, broker *events.ChangeBroker, opts ...HTTPServerOption) *HTTPServer {
	s := &HTTPServer{dispatcher: dispatcher, engine: engine, broker: broker, sessionDuration: DefaultSessionDuration}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	r.Post("/api/login", s.handleLogin)
	r.With(s.resolvePrincipal, csrfGuard).Post("/api/logout", s.handleLogout)
	r.With(s.resolvePrincipal, csrfGuard).Post("/api/commands", s.handleCommand)
	r.With(s.resolvePrincipal).Get("/api/ws", s.handleWebSocket)

	s.router = r
	return s
}

func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithComponent("service").Debug().
			Str("method", r.Method).Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).Msg("handled request")
	})
}

// csrfGuard rejects state-changing requests (everything through this
// endpoint is a POST) unless the CSRF header matches the CSRF cookie, a
// pair only JavaScript running on the same origin can read.
func csrfGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(CSRFCookie)
		if err != nil || cookie.Value == "" {
			http.Error(w, "missing csrf cookie", http.StatusForbidden)
			return
		}
		header := r.Header.Get(CSRFHeader)
		if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
			http.Error(w, "csrf token mismatch", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type principalContextKey struct{}

// resolvePrincipal authenticates the caller from the owner session
// cookie or a child node's Authorization: Bearer <node-id>:<password>
// header, falling back to Anonymous when the local node allows
// anonymous reads.
func (s *HTTPServer) resolvePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if cookie, err := r.Cookie(OwnerSessionCookie); err == nil && cookie.Value != "" {
			local, err := storage.Read(ctx, s.engine, ops.GetLocalNode())
			if err == nil && local != nil && local.OwnerSessionToken != nil && local.OwnerSessionExpires != nil {
				session := security.Session{Token: *local.OwnerSessionToken, ExpiresAt: *local.OwnerSessionExpires}
				if session.Valid(cookie.Value, time.Now().UTC()) {
					p := operator.LocalOwner(local.NodeID)
					next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, principalContextKey{}, p)))
					return
				}
			}
		}

		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			if nodeID, ok := parseBearerNodeID(strings.TrimPrefix(auth, "Bearer ")); ok {
				child, err := storage.Read(ctx, s.engine, ops.GetChildNode(nodeID))
				if err == nil && child != nil {
					p := operator.ChildPeer(*child)
					next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, principalContextKey{}, p)))
					return
				}
			}
		}

		local, err := storage.Read(ctx, s.engine, ops.GetLocalNode())
		if err == nil && local != nil && local.AnonymousReadEnabled {
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, principalContextKey{}, operator.Anonymous())))
			return
		}

		http.Error(w, "authentication required", http.StatusUnauthorized)
	})
}

// parseBearerNodeID extracts the node id from a "<node-id>:<password>"
// bearer token. Password verification against the child's stored
// credentials happens at connection-establishment time in pkg/conn;
// here we only need the claimed identity to look up its grants.
func parseBearerNodeID(token string) (id.NodeID, bool) {
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return id.NodeID{}, false
	}
	nodeID, err := id.Parse[id.NodeKind](parts[0])
	if err != nil {
		return id.NodeID{}, false
	}
	return nodeID, true
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type loginRequest struct {
	Password string `json:"password"`
}

// handleLogin verifies the owner password and, on success, issues a
// session token stored both in LocalNode (so resolvePrincipal can later
// validate the cookie) and in the OwnerSessionCookie response cookie,
// plus a fresh CSRF cookie the client must echo via CSRFHeader on every
// subsequent state-changing request.
func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	local, err := storage.Read(ctx, s.engine, ops.GetLocalNode())
	if err != nil || local == nil {
		http.Error(w, "node not initialized", http.StatusInternalServerError)
		return
	}

	ok, err := security.VerifyPassword(local.OwnerPasswordHash, req.Password)
	if err != nil || !ok {
		http.Error(w, "invalid password", http.StatusUnauthorized)
		return
	}

	now := time.Now().UTC()
	session, err := security.NewSession(now, s.sessionDuration)
	if err != nil {
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	csrfToken, err := security.GenerateToken()
	if err != nil {
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	local.OwnerSessionToken = &session.Token
	local.OwnerSessionExpires = &session.ExpiresAt
	if _, err := storage.Write(ctx, s.engine, ops.UpsertLocalNode(*local)); err != nil {
		http.Error(w, "failed to persist session", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name: OwnerSessionCookie, Value: session.Token, Path: "/",
		HttpOnly: true, SameSite: http.SameSiteLaxMode, Expires: session.ExpiresAt,
	})
	http.SetCookie(w, &http.Cookie{
		Name: CSRFCookie, Value: csrfToken, Path: "/",
		HttpOnly: false, SameSite: http.SameSiteLaxMode, Expires: session.ExpiresAt,
	})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"nodeId": local.NodeID.String()})
}

// handleLogout clears the owner session recorded on LocalNode and
// expires both cookies, so a stolen cookie cannot be replayed after
// logout even before its natural expiry.
func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	local, err := storage.Read(ctx, s.engine, ops.GetLocalNode())
	if err == nil && local != nil {
		local.OwnerSessionToken = nil
		local.OwnerSessionExpires = nil
		_, _ = storage.Write(ctx, s.engine, ops.UpsertLocalNode(*local))
	}

	http.SetCookie(w, &http.Cookie{Name: OwnerSessionCookie, Value: "", Path: "/", MaxAge: -1})
	http.SetCookie(w, &http.Cookie{Name: CSRFCookie, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

type wireRequest struct {
	Command Command
	Body    []byte
}

// handleCommand decodes a Command envelope (msgpack if the request
// carries application/msgpack, JSON otherwise), runs it through the
// Dispatcher, and re-encodes the Response the same way.
func (s *HTTPServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	principal, _ := r.Context().Value(principalContextKey{}).(operator.Principal)
	useMsgpack := strings.Contains(r.Header.Get("Content-Type"), "application/msgpack")

	var wreq wireRequest
	if useMsgpack {
		if err := msgpack.NewDecoder(r.Body).Decode(&wreq); err != nil {
			http.Error(w, "malformed msgpack body", http.StatusBadRequest)
			return
		}
	} else {
		if err := json.NewDecoder(r.Body).Decode(&wreq); err != nil {
			http.Error(w, "malformed json body", http.StatusBadRequest)
			return
		}
	}

	resp := s.dispatcher.Dispatch(r.Context(), principal, Request{
		ID:      id.New[id.RequestKind](),
		Command: wreq.Command,
		Body:    wreq.Body,
	})

	status := http.StatusOK
	if resp.Err != nil {
		status = statusForErrorCode(resp.Err.Code)
	}

	if useMsgpack {
		w.Header().Set("Content-Type", "application/msgpack")
		w.WriteHeader(status)
		_ = msgpack.NewEncoder(w).Encode(resp)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// handleWebSocket upgrades an authenticated connection and serves it
// until the peer disconnects, reporting the connection's lifecycle to
// OnPeerConnected/OnPeerDisconnected if set.
func (s *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	principal, _ := r.Context().Value(principalContextKey{}).(operator.Principal)

	socket, err := UpgradeHandler(w, r, s.dispatcher, principal, s.broker)
	if err != nil {
		log.WithComponent("service").Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer socket.Close()

	if s.OnPeerConnected != nil {
		s.OnPeerConnected(socket, principal)
	}
	if s.OnPeerDisconnected != nil {
		defer s.OnPeerDisconnected(socket)
	}

	if err := socket.Run(r.Context()); err != nil {
		log.WithComponent("service").Debug().Err(err).Msg("peer websocket closed")
	}
}

func statusForErrorCode(code ErrorCode) int {
	switch code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrPermissionDenied:
		return http.StatusForbidden
	case ErrInvalid:
		return http.StatusBadRequest
	case ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
