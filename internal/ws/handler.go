package ws

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/openhire/interview-gateway/internal/bridge"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SessionRegistry binds applicant transports to live bridges.
type SessionRegistry interface {
	Attach(sessionID string, t bridge.Transport) error
	Done(sessionID string) <-chan struct{}
}

// HandlerConfig holds the shared session registry and the concurrency limit
// for applicant connections.
type HandlerConfig struct {
	Sessions      SessionRegistry
	MaxConcurrent int
}

// Handler upgrades applicant WebSocket connections and binds them to their
// session's bridge, with admission control.
type Handler struct {
	cfg HandlerConfig
	sem chan struct{}
}

// NewHandler creates a WebSocket handler with a concurrency limit.
func NewHandler(cfg HandlerConfig) *Handler {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 100
	}
	return &Handler{
		cfg: cfg,
		sem: make(chan struct{}, maxConc),
	}
}

// ServeHTTP upgrades the connection and attaches it to the session named in
// the path. Returns 503 at capacity, 409 when the session has no live
// bridge or already has a client.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	select {
	case h.sem <- struct{}{}:
	default:
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}
	defer func() { <-h.sem }()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}

	transport := bridge.NewWSTransport(conn)
	if err := h.cfg.Sessions.Attach(sessionID, transport); err != nil {
		slog.Warn("attach rejected", "session_id", sessionID, "error", err)
		transport.Close()
		return
	}
	slog.Info("applicant connected", "session_id", sessionID)

	// The bridge owns the connection now; hold the admission slot until
	// the session terminates so capacity tracks live conversations.
	h.waitForSession(sessionID)
}

func (h *Handler) waitForSession(sessionID string) {
	done := h.cfg.Sessions.Done(sessionID)
	if done == nil {
		return
	}
	<-done
}
