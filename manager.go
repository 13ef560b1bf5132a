package goSession

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goSession/authstate"
	"github.com/MrEthical07/goSession/internal/clock"
	"github.com/MrEthical07/goSession/internal/dispatch"
	"github.com/MrEthical07/goSession/internal/notify"
	"github.com/MrEthical07/goSession/internal/pairing"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/internal/supervisor"
	"github.com/MrEthical07/goSession/protocol"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// teardownTimeout bounds the purge that DeleteSession runs after the
// supervisor stops.
const teardownTimeout = 10 * time.Second

// Manager owns every session of one process. Build it with [New].
type Manager struct {
	cfg     Config
	log     zerolog.Logger
	base    zerolog.Logger
	clock   clock.Clock
	factory protocol.Factory
	store   *authstate.Store
	sink    MessageSink
	metrics *Metrics

	notifier *notify.Notifier
	pairing  *pairing.Coordinator
	queue    *dispatch.Queue
	limiter  *rate.Limiter
	registry *registry

	closed atomic.Bool
}

type managerDeps struct {
	factory protocol.Factory
	store   *authstate.Store
	sink    MessageSink
	redis   redis.UniversalClient
	logger  zerolog.Logger
	clock   clock.Clock
}

func newManager(cfg Config, deps managerDeps) *Manager {
	m := &Manager{
		cfg:      cfg,
		log:      deps.logger.With().Str("component", "manager").Logger(),
		base:     deps.logger,
		clock:    deps.clock,
		factory:  deps.factory,
		store:    deps.store,
		sink:     deps.sink,
		metrics:  NewMetrics(cfg.Metrics),
		registry: newRegistry(),
	}

	m.notifier = notify.New(notify.Config{
		BufferSize:      cfg.Notifier.BufferSize,
		DropIfFull:      cfg.Notifier.DropIfFull,
		CallbackTimeout: cfg.Notifier.CallbackTimeout,
		Logger:          deps.logger,
	})
	m.pairing = pairing.NewCoordinator(deps.clock, cfg.Pairing.CodeTTL, pairing.StateFunc(func(id string) bool {
		e, ok := m.registry.get(id)
		return ok && e.sup.Connecting()
	}))
	m.queue = dispatch.New(dispatch.Config{
		Concurrency:  cfg.Dispatch.Concurrency,
		MaxQueueSize: cfg.Dispatch.MaxQueueSize,
		MaxAttempts:  cfg.Dispatch.MaxAttempts,
		RetryDelay:   cfg.Dispatch.RetryDelay,
		Clock:        deps.clock,
		Logger:       deps.logger,
	}, dispatch.GateFunc(func(id string) bool {
		e, ok := m.registry.get(id)
		return ok && e.sup.Ready()
	}))

	if cfg.Dispatch.RateLimit > 0 && deps.redis != nil {
		m.limiter = rate.New(deps.redis, rate.Config{
			Limit:  cfg.Dispatch.RateLimit,
			Window: cfg.Dispatch.RateWindow,
			Prefix: cfg.AuthState.RedisPrefix + "~rate:",
		})
	}

	return m
}

func (m *Manager) closedError() *Error {
	return newError(KindSession, "MANAGER_CLOSED", ErrManagerClosed, "manager closed")
}

// CreateSession registers id and starts connecting it in the background. The
// returned record is in the CONNECTING state. A session without stored
// credentials reports a pairing code through cb.OnPairingCode and
// GetPairingCode; one with stored credentials moves toward CONNECTED without
// pairing.
func (m *Manager) CreateSession(ctx context.Context, id string, opts Options, cb Callbacks) (SessionRecord, error) {
	if m.closed.Load() {
		return SessionRecord{}, m.closedError()
	}
	if err := validateSessionID(id); err != nil {
		return SessionRecord{}, err
	}
	if opts.ConnectTimeout < 0 || opts.ReadySettleDelay < 0 {
		return SessionRecord{}, validationError(ErrValidation, "session options must not be negative", "session_id", id)
	}
	if _, ok := m.registry.get(id); ok {
		return SessionRecord{}, newError(KindSession, "SESSION_EXISTS", ErrSessionAlreadyExists,
			"session already exists", "session_id", id)
	}

	sup, err := supervisor.New(m.supervisorConfig(id, opts), supervisor.Deps{
		Factory:  m.factory,
		Auth:     m.store,
		Notifier: m.notifier,
		Pairing:  m.pairing,
		Hooks:    m.hooks(),
	})
	if err != nil {
		m.log.Error().Err(err).Str("session_id", id).Msg("supervisor construction failed")
		return SessionRecord{}, newError(KindSession, "SESSION_CREATION_FAILED", ErrSessionCreation,
			"session creation failed", "session_id", id)
	}

	e := &entry{sup: sup, labels: cloneLabels(opts.Labels), started: make(chan struct{})}
	if !m.registry.insert(id, e) {
		_ = sup.Stop(context.Background())
		return SessionRecord{}, newError(KindSession, "SESSION_EXISTS", ErrSessionAlreadyExists,
			"session already exists", "session_id", id)
	}

	m.notifier.Register(id, handlersFor(cb))
	sup.Start()
	close(e.started)

	m.metrics.Inc(MetricSessionCreated)
	m.log.Info().Str("session_id", id).Msg("session created")

	return recordOf(id, e), nil
}

func (m *Manager) supervisorConfig(id string, opts Options) supervisor.Config {
	cc := m.cfg.Connection
	connectTimeout := cc.ConnectTimeout
	if opts.ConnectTimeout > 0 {
		connectTimeout = opts.ConnectTimeout
	}
	settle := cc.ReadySettleDelay
	if opts.ReadySettleDelay > 0 {
		settle = opts.ReadySettleDelay
	}
	return supervisor.Config{
		SessionID:          id,
		Backoff:            m.cfg.backoffPolicy(),
		ConnectTimeout:     connectTimeout,
		ReadySettleDelay:   settle,
		RestartDelay:       cc.RestartDelay,
		MaxRestarts:        cc.MaxRestarts,
		TerminalCloseCodes: cloneInts(cc.TerminalCloseCodes),
		RestartCloseCodes:  cloneInts(cc.RestartCloseCodes),
		Clock:              m.clock,
		Logger:             m.base,
	}
}

// GetStatus returns a snapshot of session id.
func (m *Manager) GetStatus(_ context.Context, id string) (SessionRecord, error) {
	e, ok := m.registry.get(id)
	if !ok {
		return SessionRecord{}, notFound(id)
	}
	return recordOf(id, e), nil
}

// GetPairingCode returns the current pairing code of id. ok is false when the
// session is not connecting or the code has expired.
func (m *Manager) GetPairingCode(_ context.Context, id string) (string, bool, error) {
	if _, ok := m.registry.get(id); !ok {
		return "", false, notFound(id)
	}
	code, ok := m.pairing.Current(id)
	if !ok {
		return "", false, nil
	}
	return code.Value, true, nil
}

// ListSessions returns a snapshot of every live session sorted by id.
func (m *Manager) ListSessions(_ context.Context) []SessionRecord {
	ids := m.registry.list()
	out := make([]SessionRecord, 0, len(ids))
	for _, id := range ids {
		if e, ok := m.registry.get(id); ok {
			out = append(out, recordOf(id, e))
		}
	}
	return out
}

// DeleteSession stops the session, cancels its timers, drops its callbacks,
// pending sends and pairing code, then purges its auth state. The id is
// released even when the purge fails. Deleting an unknown id returns a
// not-found SessionError.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	e, ok := m.registry.markDeleting(id)
	if !ok {
		return notFound(id)
	}
	defer m.registry.remove(id)

	<-e.started

	var first error
	keep := func(err error) {
		if first == nil {
			first = err
		}
	}

	stopErr := e.sup.Stop(ctx)
	if stopErr != nil {
		keep(stopErr)
		m.log.Warn().Err(stopErr).Str("session_id", id).Msg("supervisor stop interrupted")
	}

	// The rest of teardown outlives a cancelled caller.
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	if stopErr != nil {
		select {
		case <-e.sup.Done():
		case <-tctx.Done():
		}
	}

	m.notifier.Unregister(id)
	m.queue.Remove(id)
	m.pairing.Invalidate(id)
	if err := m.limiter.Reset(tctx, id); err != nil {
		keep(err)
		m.log.Warn().Err(err).Str("session_id", id).Msg("send rate counter reset failed")
	}
	if err := m.store.Remove(tctx, id); err != nil {
		keep(err)
		m.log.Error().Err(err).Str("session_id", id).Msg("auth state purge failed")
	}

	m.metrics.Inc(MetricSessionDeleted)

	if first != nil {
		derr := newError(KindSession, "SESSION_DELETION_FAILED", ErrSessionDeletion,
			"session teardown failed", "session_id", id, "cause", rootCause(first))
		derr.Cause = first
		return derr
	}

	m.log.Info().Str("session_id", id).Msg("session deleted")
	return nil
}

// Send validates p and delivers it through the session's dispatch lane. A
// session that is not connected and ready fails immediately.
func (m *Manager) Send(ctx context.Context, id string, p Payload) (SendResult, error) {
	if m.closed.Load() {
		return SendResult{}, m.closedError()
	}
	recipient, content, err := validatePayload(m.cfg.Message, p)
	if err != nil {
		return SendResult{}, err
	}
	e, ok := m.registry.get(id)
	if !ok {
		return SendResult{}, notFound(id)
	}

	// Limiter errors other than ErrRateLimited fail open.
	if err := m.limiter.Allow(ctx, id); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			m.metrics.Inc(MetricSendRejected)
			return SendResult{}, classifySendError(err, id, recipient)
		}
		m.log.Warn().Err(err).Str("session_id", id).Msg("send rate check failed")
	}

	start := m.clock.Now()
	msgID, err := m.queue.Enqueue(ctx, id, recipient, func(ctx context.Context) (string, error) {
		return e.sup.Send(ctx, recipient, content)
	})
	if err != nil {
		if errors.Is(err, dispatch.ErrNotConnected) || errors.Is(err, dispatch.ErrQueueFull) {
			m.metrics.Inc(MetricSendRejected)
		} else {
			m.metrics.Inc(MetricSendFailure)
		}
		m.log.Warn().Err(err).Str("session_id", id).Msg("send failed")
		return SendResult{}, classifySendError(err, id, recipient)
	}

	sentAt := m.clock.Now()
	m.metrics.Inc(MetricSendSuccess)
	m.metrics.Observe(MetricSendLatency, sentAt.Sub(start))

	res := SendResult{MessageID: msgID, SessionID: id, Recipient: recipient, SentAt: sentAt}
	m.record(ctx, res, content)
	return res, nil
}

// record hands a sent message to the sink. Failures are only logged.
func (m *Manager) record(ctx context.Context, res SendResult, content protocol.Content) {
	if m.sink == nil {
		return
	}
	rec := MessageRecord{
		ID:        uuid.NewString(),
		SessionID: res.SessionID,
		MessageID: res.MessageID,
		Recipient: res.Recipient,
		SentAt:    res.SentAt,
	}
	if content.Image != nil {
		rec.Kind = "image"
		rec.Body = content.Image.Caption
		rec.MimeType = content.Image.MimeType
	} else {
		rec.Kind = "text"
		rec.Body = content.Text
	}
	if err := m.sink.Save(ctx, rec); err != nil {
		m.metrics.Inc(MetricMessageSinkFailure)
		m.log.Warn().Err(err).Str("session_id", res.SessionID).Msg("message sink save failed")
	}
}

// Reconnect forces a new connection cycle for a disconnected session and
// resets its backoff. It is a no-op while the session is connecting or
// connected, and fails for a session that closed terminally.
func (m *Manager) Reconnect(ctx context.Context, id string) error {
	if m.closed.Load() {
		return m.closedError()
	}
	e, ok := m.registry.get(id)
	if !ok {
		return notFound(id)
	}
	err := e.sup.Reconnect(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, supervisor.ErrFailed):
		return newError(KindSession, "SESSION_FAILED", ErrSessionFailed,
			"session closed terminally, delete and recreate it", "session_id", id)
	case errors.Is(err, supervisor.ErrStopped):
		return notFound(id)
	default:
		return newError(KindConnection, "RECONNECT_CANCELLED", err, "reconnect cancelled", "session_id", id)
	}
}

// RestoreSessions creates a session for every id with stored credentials
// that is not registered yet. callbacks may be nil.
func (m *Manager) RestoreSessions(ctx context.Context, callbacks CallbackFactory) ([]SessionRecord, error) {
	if m.closed.Load() {
		return nil, m.closedError()
	}
	ids, err := m.store.Sessions(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("listing stored sessions failed")
		return nil, newError(KindAuth, "AUTH_STATE_UNAVAILABLE", ErrAuthUnavailable,
			"auth state store unavailable", "cause", rootCause(err))
	}

	restored := make([]SessionRecord, 0, len(ids))
	for _, id := range ids {
		if validateSessionID(id) != nil {
			m.log.Warn().Str("session_id", id).Msg("skipping stored session with invalid id")
			continue
		}
		if _, ok := m.registry.get(id); ok {
			continue
		}
		var cb Callbacks
		if callbacks != nil {
			cb = callbacks(id)
		}
		rec, err := m.CreateSession(ctx, id, Options{}, cb)
		if err != nil {
			if errors.Is(err, ErrSessionAlreadyExists) {
				continue
			}
			m.log.Error().Err(err).Str("session_id", id).Msg("session restore failed")
			continue
		}
		m.metrics.Inc(MetricSessionRestored)
		restored = append(restored, rec)
	}

	m.log.Info().Int("restored", len(restored)).Int("stored", len(ids)).Msg("sessions restored")
	return restored, nil
}

// MetricsSnapshot returns a copy of the in-process counters.
func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	if m == nil || m.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return m.metrics.Snapshot()
}

// NotifierDropped returns the number of lifecycle events discarded because a
// session's callback buffer was full.
func (m *Manager) NotifierDropped() uint64 {
	if m == nil || m.notifier == nil {
		return 0
	}
	return m.notifier.Dropped()
}

// ActiveSessions returns the number of registered sessions.
func (m *Manager) ActiveSessions() int {
	if m == nil {
		return 0
	}
	return len(m.registry.list())
}

// Close stops every supervisor in parallel, fails pending sends and delivers
// buffered callbacks. Stored auth state is kept so RestoreSessions can resume
// the sessions later. Close is idempotent.
func (m *Manager) Close() {
	if m == nil || m.closed.Swap(true) {
		return
	}

	var wg conc.WaitGroup
	for _, id := range m.registry.list() {
		e, ok := m.registry.get(id)
		if !ok {
			continue
		}
		wg.Go(func() {
			<-e.started
			_ = e.sup.Stop(context.Background())
		})
	}
	wg.Wait()

	m.queue.Close()
	m.notifier.Close()
	m.log.Info().Int("sessions", m.registry.len()).Msg("manager closed")
}

// hooks maps supervisor transitions and signals onto counters.
func (m *Manager) hooks() supervisor.Hooks {
	return supervisor.Hooks{
		Transition: func(_ string, _, to supervisor.Status) {
			switch to {
			case supervisor.StatusConnected:
				m.metrics.Inc(MetricConnected)
			case supervisor.StatusDisconnected:
				m.metrics.Inc(MetricDisconnected)
			case supervisor.StatusFailed:
				m.metrics.Inc(MetricFailed)
			}
		},
		Signal: func(_ string, sig supervisor.Signal) {
			if id, ok := signalMetrics[sig]; ok {
				m.metrics.Inc(id)
			}
		},
	}
}

var signalMetrics = map[supervisor.Signal]MetricID{
	supervisor.SignalReconnectScheduled:    MetricReconnectScheduled,
	supervisor.SignalReconnectSuppressed:   MetricReconnectSuppressed,
	supervisor.SignalReconnectExhausted:    MetricReconnectExhausted,
	supervisor.SignalRestartScheduled:      MetricRestartScheduled,
	supervisor.SignalConnectTimeout:        MetricConnectTimeout,
	supervisor.SignalEngineBuildFailed:     MetricEngineBuildFailed,
	supervisor.SignalCredentialsSaved:      MetricCredentialsSaved,
	supervisor.SignalCredentialsSaveFailed: MetricCredentialsSaveFailed,
}

// handlersFor adapts public callbacks to notifier handlers.
func handlersFor(cb Callbacks) notify.Handlers {
	var h notify.Handlers
	if cb.OnPairingCode != nil {
		h.OnPairingCode = func(ctx context.Context, ev notify.Event) error {
			return cb.OnPairingCode(ctx, ev.SessionID, ev.PairingCode)
		}
	}
	if cb.OnConnected != nil {
		h.OnConnected = func(ctx context.Context, ev notify.Event) error {
			return cb.OnConnected(ctx, ev.SessionID)
		}
	}
	if cb.OnDisconnected != nil {
		h.OnDisconnected = func(ctx context.Context, ev notify.Event) error {
			return cb.OnDisconnected(ctx, ev.SessionID, DisconnectInfo{
				Reason:   ev.Reason,
				Code:     ev.Code,
				Terminal: ev.Terminal,
			})
		}
	}
	if cb.OnError != nil {
		h.OnError = func(ctx context.Context, ev notify.Event) error {
			err := classifyEventError(ev.Err, ev.SessionID)
			if ev.Code != 0 {
				if err.Context == nil {
					err.Context = map[string]string{}
				}
				err.Context["close_code"] = strconv.Itoa(ev.Code)
			}
			return cb.OnError(ctx, ev.SessionID, err)
		}
	}
	return h
}

func recordOf(id string, e *entry) SessionRecord {
	snap := e.sup.Snapshot()
	return SessionRecord{
		ID:                id,
		Status:            Status(snap.Status),
		CreatedAt:         snap.CreatedAt,
		LastStateChangeAt: snap.LastStateChangeAt,
		Ready:             snap.Ready,
		ReconnectAttempts: snap.ReconnectAttempts,
		LastAttemptAt:     snap.LastAttemptAt,
		ReconnectPending:  snap.ReconnectPending,
		LastError:         snap.LastError,
		Labels:            cloneLabels(e.labels),
	}
}

func cloneLabels(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
