package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/openhire/interview-gateway/internal/frame"
	"github.com/openhire/interview-gateway/internal/metrics"
	"github.com/openhire/interview-gateway/internal/store"
)

// Bridge lifecycle states.
const (
	StateConnecting = "connecting"
	StateActive     = "active"
	StateClosing    = "closing"
	StateClosed     = "closed"
	StateFailed     = "failed"
)

const (
	triggerHandshakeOK     = "handshake_ok"
	triggerHandshakeFailed = "handshake_failed"
	triggerClose           = "close"
	triggerDrained         = "drained"
)

type closeReason int

const (
	reasonNone closeReason = iota
	reasonEnded
	reasonClientGone
	reasonIdle
	reasonExpired
	reasonEngineLost
	reasonHandshake
	reasonForced
)

func (r closeReason) String() string {
	switch r {
	case reasonEnded:
		return "end_interview"
	case reasonClientGone:
		return "client_disconnect"
	case reasonIdle:
		return "idle_timeout"
	case reasonExpired:
		return "max_duration"
	case reasonEngineLost:
		return "engine_lost"
	case reasonHandshake:
		return "handshake_failed"
	case reasonForced:
		return "forced"
	}
	return "none"
}

// finalStatus maps the close reason onto the session's terminal status.
// Engine loss and forced teardown cancel the session; everything else is a
// graceful completion.
func finalStatus(r closeReason) store.SessionStatus {
	switch r {
	case reasonEngineLost, reasonHandshake, reasonForced:
		return store.StatusCancelled
	default:
		return store.StatusCompleted
	}
}

// ErrClientAttached is returned when a second client transport is offered to
// a bridge that already has one.
var ErrClientAttached = errors.New("bridge already has a client transport")

// Recorder is the persistence sink for assembled turns.
type Recorder interface {
	AppendMessage(ctx context.Context, msg *store.Message) error
}

// Archiver stores a turn's audio and returns a content reference for the
// persisted message. Optional.
type Archiver interface {
	ArchiveAudio(sessionID string, pcm []byte) (string, error)
}

// Config holds one bridge's wiring and tunables. Zero durations and counts
// fall back to the documented defaults.
type Config struct {
	SessionID string
	Modality  store.Modality

	Codec    frame.Codec
	Engine   Dialer
	Recorder Recorder
	Archiver Archiver

	// OnStatus receives the session's terminal status exactly once, after
	// the bridge reaches Closed or Failed.
	OnStatus func(store.SessionStatus)

	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
	IdleTimeout       time.Duration
	MaxDuration       time.Duration
	TurnSilence       time.Duration
	DrainTimeout      time.Duration

	ReconnectAttempts int
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	QueueDepth        int
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 20 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 90 * time.Second
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 45 * time.Minute
	}
	if c.TurnSilence <= 0 {
		c.TurnSilence = 1200 * time.Millisecond
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Second
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = 5
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 500 * time.Millisecond
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 15 * time.Second
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 8
	}
	return c
}

// Bridge owns one session's two concurrent relay directions between the
// applicant's transport and the remote conversational engine.
type Bridge struct {
	cfg   Config
	fsm   *stateless.StateMachine
	codec frame.Codec

	mu     sync.RWMutex
	client Transport
	engine Transport

	toClient *outbox
	toEngine *outbox

	observations chan observation
	clientCh     chan Transport
	attached     atomic.Bool

	lastActivity atomic.Int64

	closeOnce sync.Once
	closeCh   chan struct{}
	reason    closeReason

	persistFailures atomic.Int64

	done chan struct{}
}

// New builds a bridge in Connecting state. Call Start to begin the
// handshake; the bridge becomes Active once the engine dial succeeds and a
// client transport is attached.
func New(cfg Config) *Bridge {
	cfg = cfg.withDefaults()

	b := &Bridge{
		cfg:          cfg,
		codec:        cfg.Codec,
		observations: make(chan observation, 256),
		clientCh:     make(chan Transport, 1),
		closeCh:      make(chan struct{}),
		done:         make(chan struct{}),
	}
	b.toClient = newOutbox(cfg.QueueDepth, b.dropMetric("engine_to_client"))
	b.toEngine = newOutbox(cfg.QueueDepth, b.dropMetric("client_to_engine"))

	fsm := stateless.NewStateMachine(StateConnecting)
	fsm.Configure(StateConnecting).
		Permit(triggerHandshakeOK, StateActive).
		Permit(triggerHandshakeFailed, StateFailed).
		Permit(triggerClose, StateClosing)
	fsm.Configure(StateActive).
		Permit(triggerClose, StateClosing)
	fsm.Configure(StateClosing).
		Permit(triggerDrained, StateClosed)
	b.fsm = fsm

	return b
}

// Start runs the bridge lifecycle in the background. ctx cancellation is a
// forced teardown.
func (b *Bridge) Start(ctx context.Context) {
	go b.run(ctx)
}

// AttachClient binds the applicant's transport. Only one client may attach
// for the bridge's lifetime.
func (b *Bridge) AttachClient(t Transport) error {
	if !b.attached.CompareAndSwap(false, true) {
		return ErrClientAttached
	}
	b.clientCh <- t
	return nil
}

// End injects a synthetic end_interview into the bridge. Idempotent.
func (b *Bridge) End() {
	b.requestClose(reasonEnded)
}

// State returns the bridge's current lifecycle state.
func (b *Bridge) State() string {
	return b.fsm.MustState().(string)
}

// Done is closed once the bridge reaches a terminal state.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// PersistFailures reports how many turns failed to persist; surfaced in the
// end-of-session report so data loss is visible.
func (b *Bridge) PersistFailures() int64 {
	return b.persistFailures.Load()
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)

	engine, err := b.dialEngine(ctx)
	if err != nil {
		slog.Error("engine handshake failed", "session_id", b.cfg.SessionID, "error", err)
		b.requestClose(reasonHandshake)
		_ = b.fsm.Fire(triggerHandshakeFailed)
		b.notifyStatus()
		return
	}
	b.setEngine(engine)

	select {
	case t := <-b.clientCh:
		b.setClient(t)
	case <-time.After(b.cfg.ConnectTimeout):
		engine.Close()
		slog.Warn("client never attached", "session_id", b.cfg.SessionID)
		b.requestClose(reasonHandshake)
		_ = b.fsm.Fire(triggerHandshakeFailed)
		b.notifyStatus()
		return
	case <-b.closeCh:
		engine.Close()
		_ = b.fsm.Fire(triggerClose)
		_ = b.fsm.Fire(triggerDrained)
		b.notifyStatus()
		return
	case <-ctx.Done():
		engine.Close()
		b.requestClose(reasonForced)
		_ = b.fsm.Fire(triggerHandshakeFailed)
		b.notifyStatus()
		return
	}

	_ = b.fsm.Fire(triggerHandshakeOK)
	b.touch()
	slog.Info("bridge active", "session_id", b.cfg.SessionID, "modality", b.cfg.Modality)

	relayCtx, cancelRelays := context.WithCancel(context.Background())
	collectorStop := make(chan struct{})

	var relayWg sync.WaitGroup
	relayWg.Add(5)
	go func() { defer relayWg.Done(); b.relayClient(relayCtx) }()
	go func() { defer relayWg.Done(); b.relayEngine(relayCtx) }()
	go func() { defer relayWg.Done(); b.runWriter(relayCtx, b.toEngine, b.engineTransport, "client_to_engine") }()
	go func() { defer relayWg.Done(); b.runWriter(relayCtx, b.toClient, b.clientTransport, "engine_to_client") }()
	go func() { defer relayWg.Done(); b.runMonitor(relayCtx) }()

	var collectorWg sync.WaitGroup
	collectorWg.Add(1)
	go func() { defer collectorWg.Done(); b.runCollector(collectorStop) }()

	select {
	case <-b.closeCh:
	case <-ctx.Done():
		b.requestClose(reasonForced)
	}

	_ = b.fsm.Fire(triggerClose)
	b.drain(cancelRelays, &relayWg)

	close(collectorStop)
	collectorWg.Wait()

	_ = b.fsm.Fire(triggerDrained)
	b.notifyStatus()
	slog.Info("bridge closed", "session_id", b.cfg.SessionID, "reason", b.reason.String(), "status", finalStatus(b.reason))
}

// dialEngine performs the initial engine handshake with bounded retries and
// exponential backoff.
func (b *Bridge) dialEngine(ctx context.Context) (Transport, error) {
	var lastErr error
	backoff := b.cfg.ReconnectBase
	for attempt := 0; attempt < b.cfg.ReconnectAttempts; attempt++ {
		if attempt > 0 {
			if !b.sleep(ctx, backoff) {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return nil, errors.New("session closed before engine handshake")
			}
			backoff = min(backoff*2, b.cfg.ReconnectMax)
		}
		t, err := b.cfg.Engine.Dial(ctx)
		if err == nil {
			return t, nil
		}
		lastErr = err
		slog.Warn("engine dial failed", "session_id", b.cfg.SessionID, "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("engine unavailable after %d attempts: %w", b.cfg.ReconnectAttempts, lastErr)
}

// reconnectEngine re-dials the engine after a mid-session connection loss,
// preserving the bridge's queues and counters. Returns false when attempts
// are exhausted or the bridge is closing.
func (b *Bridge) reconnectEngine(ctx context.Context) bool {
	backoff := b.cfg.ReconnectBase
	for attempt := 1; attempt <= b.cfg.ReconnectAttempts; attempt++ {
		if b.closing() || ctx.Err() != nil {
			return false
		}
		metrics.EngineReconnects.Inc()
		t, err := b.cfg.Engine.Dial(ctx)
		if err == nil {
			b.setEngine(t)
			b.touch()
			slog.Info("engine reconnected", "session_id", b.cfg.SessionID, "attempt", attempt)
			return true
		}
		slog.Warn("engine reconnect failed", "session_id", b.cfg.SessionID, "attempt", attempt, "error", err)
		if !b.sleep(ctx, backoff) {
			return false
		}
		backoff = min(backoff*2, b.cfg.ReconnectMax)
	}
	return false
}

// relayClient is the client→engine direction.
func (b *Bridge) relayClient(ctx context.Context) {
	for {
		t := b.clientTransport()
		raw, err := t.ReadMessage()
		if err != nil {
			if b.closing() || ctx.Err() != nil {
				return
			}
			slog.Info("client disconnected", "session_id", b.cfg.SessionID, "error", err)
			b.requestClose(reasonClientGone)
			return
		}

		f, decErr := b.codec.Decode(raw)
		if decErr != nil {
			b.rejectClientFrame(decErr)
			continue
		}
		b.touch()

		switch {
		case f.Kind == frame.KindControl:
			if f.Control == frame.ControlEndInterview {
				b.requestClose(reasonEnded)
				return
			}
			// keepalive counts as activity only
		case f.Kind == frame.KindText:
			b.observe(store.RoleUser, f)
			b.toEngine.PushLossless(f)
			metrics.FramesRelayed.WithLabelValues(string(f.Kind), "client_to_engine").Inc()
		case f.IsMedia():
			b.observe(store.RoleUser, f)
			b.toEngine.PushMedia(f)
			metrics.FramesRelayed.WithLabelValues(string(f.Kind), "client_to_engine").Inc()
		}
	}
}

// relayEngine is the engine→client direction. Connection loss triggers
// bounded reconnection; exhausting attempts cancels the session.
func (b *Bridge) relayEngine(ctx context.Context) {
	for {
		t := b.engineTransport()
		raw, err := t.ReadMessage()
		if err != nil {
			if b.closing() || ctx.Err() != nil {
				return
			}
			slog.Warn("engine connection lost", "session_id", b.cfg.SessionID, "error", err)
			if !b.reconnectEngine(ctx) {
				b.requestClose(reasonEngineLost)
				return
			}
			continue
		}

		f, decErr := b.codec.Decode(raw)
		if decErr != nil {
			// A misbehaving engine is logged, not answered.
			metrics.FramesRejected.WithLabelValues("engine_malformed").Inc()
			slog.Warn("malformed engine frame", "session_id", b.cfg.SessionID, "error", decErr)
			continue
		}
		b.touch()

		switch {
		case f.Kind == frame.KindControl:
			if f.Control == frame.ControlEndInterview {
				b.requestClose(reasonEnded)
				return
			}
		case f.Kind == frame.KindText:
			b.observe(store.RoleAssistant, f)
			b.toClient.PushLossless(f)
			metrics.FramesRelayed.WithLabelValues(string(f.Kind), "engine_to_client").Inc()
		case f.Kind == frame.KindError:
			// Engine-side errors go to the applicant verbatim.
			b.toClient.PushLossless(f)
			metrics.FramesRelayed.WithLabelValues(string(f.Kind), "engine_to_client").Inc()
		case f.IsMedia():
			b.observe(store.RoleAssistant, f)
			b.toClient.PushMedia(f)
			metrics.FramesRelayed.WithLabelValues(string(f.Kind), "engine_to_client").Inc()
		}
	}
}

// runWriter drains one direction's outbox onto its destination transport,
// forwarding frames in the order the relay received them.
func (b *Bridge) runWriter(ctx context.Context, o *outbox, dest func() Transport, direction string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.ready:
			for {
				f, ok := o.Pop()
				if !ok {
					break
				}
				b.writeFrame(dest(), f, direction)
			}
		}
	}
}

func (b *Bridge) writeFrame(t Transport, f frame.Frame, direction string) {
	if t == nil {
		return
	}
	raw, err := b.codec.Encode(f)
	if err != nil {
		slog.Error("encode frame", "session_id", b.cfg.SessionID, "kind", f.Kind, "error", err)
		return
	}
	if err := t.WriteMessage(raw); err != nil {
		// The reader on this transport will observe the failure and drive
		// reconnection or close; nothing to do here but log.
		slog.Warn("write frame", "session_id", b.cfg.SessionID, "direction", direction, "error", err)
	}
}

// runMonitor emits keepalives while Active and enforces the idle and
// maximum-duration policies.
func (b *Bridge) runMonitor(ctx context.Context) {
	keepalive := time.NewTicker(b.cfg.KeepaliveInterval)
	defer keepalive.Stop()
	idleEvery := max(min(b.cfg.IdleTimeout/4, time.Second), 10*time.Millisecond)
	idle := time.NewTicker(idleEvery)
	defer idle.Stop()
	expire := time.NewTimer(b.cfg.MaxDuration)
	defer expire.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			ka := frame.Control(frame.ControlKeepalive)
			b.toClient.OfferLossless(ka)
			b.toEngine.OfferLossless(ka)
		case <-idle.C:
			last := time.Unix(0, b.lastActivity.Load())
			if time.Since(last) > b.cfg.IdleTimeout {
				slog.Info("idle timeout", "session_id", b.cfg.SessionID)
				b.requestClose(reasonIdle)
				return
			}
		case <-expire.C:
			slog.Info("max session duration reached", "session_id", b.cfg.SessionID)
			b.requestClose(reasonExpired)
			return
		}
	}
}

// runCollector assembles observations into turns and persists them.
// A single goroutine consumes both directions, so persisted order equals
// bridge observation order.
func (b *Bridge) runCollector(stop <-chan struct{}) {
	var asm turnAssembler
	tick := time.NewTicker(b.cfg.TurnSilence / 4)
	defer tick.Stop()

	for {
		select {
		case ob := <-b.observations:
			if t := asm.Observe(ob); t != nil {
				b.persistTurn(t)
			}
		case <-tick.C:
			if last := asm.IdleSince(); !last.IsZero() && time.Since(last) >= b.cfg.TurnSilence {
				if t := asm.Flush(); t != nil {
					b.persistTurn(t)
				}
			}
		case <-stop:
			for {
				select {
				case ob := <-b.observations:
					if t := asm.Observe(ob); t != nil {
						b.persistTurn(t)
					}
					continue
				default:
				}
				break
			}
			if t := asm.Flush(); t != nil {
				b.persistTurn(t)
			}
			return
		}
	}
}

// persistTurn hands one assembled turn to the recorder. Failures are
// counted and logged but never interrupt the live conversation.
func (b *Bridge) persistTurn(t *Turn) {
	content := t.Text
	switch t.MediaKind {
	case "audio":
		if b.cfg.Archiver != nil {
			ref, err := b.cfg.Archiver.ArchiveAudio(b.cfg.SessionID, t.PCM)
			if err != nil {
				slog.Warn("archive audio turn", "session_id", b.cfg.SessionID, "error", err)
			} else {
				content = ref
			}
		}
		if content == "" {
			content = fmt.Sprintf("[audio: %d chunks]", t.FrameCount)
		}
	case "video":
		content = fmt.Sprintf("[video: %d frames]", t.FrameCount)
	}

	msg := &store.Message{
		ID:        uuid.NewString(),
		SessionID: b.cfg.SessionID,
		Role:      t.Role,
		Content:   content,
		MediaKind: t.MediaKind,
		Timestamp: t.ObservedAt,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.cfg.Recorder.AppendMessage(ctx, msg); err != nil {
		b.persistFailures.Add(1)
		metrics.PersistFailures.Inc()
		slog.Error("persist turn", "session_id", b.cfg.SessionID, "role", t.Role, "error", err)
		return
	}
	metrics.TurnsPersisted.Inc()
	metrics.TurnLatency.Observe(time.Since(t.ObservedAt).Seconds())
}

// drain discards pending media, lets lossless frames flush within the drain
// budget, then closes both transports and stops the relay goroutines.
func (b *Bridge) drain(cancelRelays func(), wg *sync.WaitGroup) {
	b.toClient.DiscardMedia()
	b.toEngine.DiscardMedia()

	if b.reason == reasonEngineLost {
		b.writeFrame(b.clientTransport(), frame.Error("interview engine unavailable, session cancelled"), "engine_to_client")
	}
	b.writeFrame(b.engineTransport(), frame.Control(frame.ControlEndInterview), "client_to_engine")

	deadline := time.After(b.cfg.DrainTimeout)
	for b.toClient.PendingLossless() > 0 || b.toEngine.PendingLossless() > 0 {
		select {
		case <-deadline:
			slog.Warn("drain timeout", "session_id", b.cfg.SessionID)
			goto closeTransports
		case <-time.After(10 * time.Millisecond):
		}
	}

closeTransports:
	if t := b.clientTransport(); t != nil {
		t.Close()
	}
	if t := b.engineTransport(); t != nil {
		t.Close()
	}
	cancelRelays()
	wg.Wait()
}

// rejectClientFrame answers a malformed or oversized client frame with an
// in-band error frame; the bridge stays Active.
func (b *Bridge) rejectClientFrame(err error) {
	var tooLarge *frame.FrameTooLargeError
	reason := "malformed"
	if errors.As(err, &tooLarge) {
		reason = "too_large"
	}
	metrics.FramesRejected.WithLabelValues(reason).Inc()
	slog.Warn("client frame rejected", "session_id", b.cfg.SessionID, "reason", reason, "error", err)
	b.toClient.PushLossless(frame.Error(err.Error()))
}

func (b *Bridge) observe(role store.Role, f frame.Frame) {
	select {
	case b.observations <- observation{role: role, f: f, at: time.Now().UTC()}:
	default:
		// Collector badly behind; dropping the observation keeps the relay
		// hot path from blocking on persistence.
		slog.Warn("observation buffer full", "session_id", b.cfg.SessionID)
	}
}

// sleep waits out one backoff interval. Returns false when the context is
// cancelled or the bridge starts closing before the interval elapses, so
// reconnection never holds up teardown.
func (b *Bridge) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-b.closeCh:
		return false
	}
}

func (b *Bridge) requestClose(r closeReason) {
	b.closeOnce.Do(func() {
		b.reason = r
		close(b.closeCh)
	})
}

func (b *Bridge) closing() bool {
	select {
	case <-b.closeCh:
		return true
	default:
		return false
	}
}

func (b *Bridge) notifyStatus() {
	if b.cfg.OnStatus != nil {
		b.cfg.OnStatus(finalStatus(b.reason))
	}
}

func (b *Bridge) touch() {
	b.lastActivity.Store(time.Now().UnixNano())
}

func (b *Bridge) setClient(t Transport) {
	b.mu.Lock()
	b.client = t
	b.mu.Unlock()
}

func (b *Bridge) setEngine(t Transport) {
	b.mu.Lock()
	b.engine = t
	b.mu.Unlock()
}

func (b *Bridge) clientTransport() Transport {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client
}

func (b *Bridge) engineTransport() Transport {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.engine
}

func (b *Bridge) dropMetric(direction string) func(frame.Frame) {
	return func(f frame.Frame) {
		metrics.FramesDropped.WithLabelValues(string(f.Kind), direction).Inc()
	}
}
