package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openhire/interview-gateway/internal/bridge"
	"github.com/openhire/interview-gateway/internal/metrics"
	"github.com/openhire/interview-gateway/internal/store"
)

var (
	// ErrAlreadyActive is returned when a session id already has a live bridge.
	ErrAlreadyActive = errors.New("session already active")
	// ErrNotFound is returned for session ids with no persisted record.
	ErrNotFound = errors.New("session not found")
	// ErrNotActive is returned when a client tries to join a session with no
	// live bridge.
	ErrNotActive = errors.New("session has no live bridge")
)

// Persistence is the subset of the store the manager needs.
type Persistence interface {
	SaveSession(ctx context.Context, sess *store.Session) error
	GetSession(ctx context.Context, id string) (*store.Session, error)
	AppendMessage(ctx context.Context, msg *store.Message) error
}

// DialerFactory yields an engine dialer bound to one session.
type DialerFactory interface {
	ForSession(sessionID string, modality string) bridge.Dialer
}

// Config wires the manager's collaborators plus the per-bridge tunables
// applied to every session it starts.
type Config struct {
	DB       Persistence
	Engine   DialerFactory
	Archiver bridge.Archiver
	Bridge   bridge.Config // template; SessionID, Modality and wiring are set per session
}

// Manager owns the registry of live bridges: at most one per session id.
type Manager struct {
	cfg Config

	mu      sync.RWMutex
	bridges map[string]*bridge.Bridge

	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewManager(cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:     cfg,
		bridges: make(map[string]*bridge.Bridge),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// StartRequest describes a new interview. SessionID is optional; when empty
// the manager assigns one.
type StartRequest struct {
	SessionID   string
	ApplicantID string
	Modality    store.Modality
	ResumeData  string
}

// Start persists a new active session and spins up its bridge. The bridge
// dials the engine in the background; the applicant joins over the
// WebSocket endpoint afterwards.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*store.Session, error) {
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	modality := req.Modality
	if modality == "" {
		modality = store.ModalityText
	}

	sess := &store.Session{
		ID:          id,
		ApplicantID: req.ApplicantID,
		Modality:    modality,
		Status:      store.StatusActive,
		StartTime:   time.Now().UTC(),
		ResumeData:  req.ResumeData,
	}

	m.mu.Lock()
	if _, ok := m.bridges[id]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("session %s: %w", id, ErrAlreadyActive)
	}

	bcfg := m.cfg.Bridge
	bcfg.SessionID = id
	bcfg.Modality = modality
	bcfg.Engine = m.cfg.Engine.ForSession(id, string(modality))
	bcfg.Recorder = m.cfg.DB
	bcfg.Archiver = m.cfg.Archiver
	bcfg.OnStatus = func(status store.SessionStatus) { m.finish(id, status) }

	b := bridge.New(bcfg)
	m.bridges[id] = b
	m.mu.Unlock()

	if err := m.cfg.DB.SaveSession(ctx, sess); err != nil {
		m.mu.Lock()
		delete(m.bridges, id)
		m.mu.Unlock()
		return nil, fmt.Errorf("persist session: %w", err)
	}

	b.Start(m.baseCtx)
	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.WithLabelValues(string(modality)).Inc()
	slog.Info("session started", "session_id", id, "applicant_id", req.ApplicantID, "modality", modality)
	return sess, nil
}

// Attach binds an applicant transport to the session's live bridge.
func (m *Manager) Attach(sessionID string, t bridge.Transport) error {
	m.mu.RLock()
	b, ok := m.bridges[sessionID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotActive)
	}
	return b.AttachClient(t)
}

// End terminates a session. Ending a live session injects a synthetic
// end control into its bridge; ending an already-terminal session is a
// no-op. A persisted-active session with no live bridge (a crash leftover)
// is closed out directly.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	m.mu.RLock()
	b, live := m.bridges[sessionID]
	m.mu.RUnlock()
	if live {
		b.End()
		return nil
	}

	sess, err := m.cfg.DB.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return err
	}
	if sess.Status.Terminal() {
		return nil
	}

	now := time.Now().UTC()
	sess.Status = store.StatusCompleted
	sess.EndTime = &now
	return m.cfg.DB.SaveSession(ctx, sess)
}

// Status is the merged view of a session: the persisted record plus, for
// live sessions, the bridge's current state.
type Status struct {
	Session         *store.Session `json:"session"`
	Live            bool           `json:"live"`
	BridgeState     string         `json:"bridge_state,omitempty"`
	PersistFailures int64          `json:"persist_failures,omitempty"`
}

func (m *Manager) Status(ctx context.Context, sessionID string) (*Status, error) {
	sess, err := m.cfg.DB.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return nil, err
	}

	st := &Status{Session: sess}
	m.mu.RLock()
	b, ok := m.bridges[sessionID]
	m.mu.RUnlock()
	if ok {
		st.Live = true
		st.BridgeState = b.State()
		st.PersistFailures = b.PersistFailures()
	}
	return st, nil
}

// Done returns the termination channel of a live session's bridge, or nil
// when the session has no live bridge.
func (m *Manager) Done(sessionID string) <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if b, ok := m.bridges[sessionID]; ok {
		return b.Done()
	}
	return nil
}

// ActiveCount reports the number of live bridges.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bridges)
}

// finish records the bridge's terminal status and drops it from the
// registry. Invoked exactly once per bridge via its status callback.
func (m *Manager) finish(sessionID string, status store.SessionStatus) {
	m.mu.Lock()
	delete(m.bridges, sessionID)
	m.mu.Unlock()
	metrics.SessionsActive.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := m.cfg.DB.GetSession(ctx, sessionID)
	if err != nil {
		slog.Error("load session for finish", "session_id", sessionID, "error", err)
		return
	}
	if sess.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	sess.Status = status
	sess.EndTime = &now
	if err := m.cfg.DB.SaveSession(ctx, sess); err != nil {
		slog.Error("persist terminal status", "session_id", sessionID, "status", status, "error", err)
		return
	}
	slog.Info("session finished", "session_id", sessionID, "status", status)
}

// Shutdown ends every live bridge and waits for them to drain, bounded by
// ctx.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	live := make([]*bridge.Bridge, 0, len(m.bridges))
	for _, b := range m.bridges {
		live = append(live, b)
	}
	m.mu.RUnlock()

	for _, b := range live {
		b.End()
	}
	for _, b := range live {
		select {
		case <-b.Done():
		case <-ctx.Done():
			m.cancel()
			return
		}
	}
	m.cancel()
}
