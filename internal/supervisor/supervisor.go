package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/goSession/authstate"
	"github.com/MrEthical07/goSession/internal/backoff"
	"github.com/MrEthical07/goSession/internal/clock"
	"github.com/MrEthical07/goSession/internal/notify"
	"github.com/MrEthical07/goSession/internal/pairing"
	"github.com/MrEthical07/goSession/protocol"
	"github.com/rs/zerolog"
)

const inboxSize = 64

// AuthStore is the slice of authstate.Store the supervisor uses.
type AuthStore interface {
	Load(ctx context.Context, sessionID string) (authstate.Credentials, error)
	Save(ctx context.Context, sessionID string, creds []byte) error
	Remove(ctx context.Context, sessionID string) error
	Keys(sessionID string) protocol.KeyStore
}

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, ev notify.Event)
}

// Pairing receives pairing codes.
type Pairing interface {
	Issue(sessionID, value string) pairing.Code
	Consume(sessionID string)
	Invalidate(sessionID string)
}

// Signal names a countable supervisor occurrence.
type Signal uint8

const (
	SignalReconnectScheduled Signal = iota + 1
	SignalReconnectSuppressed
	SignalReconnectExhausted
	SignalRestartScheduled
	SignalConnectTimeout
	SignalEngineBuildFailed
	SignalCredentialsSaved
	SignalCredentialsSaveFailed
)

// Hooks observe the supervisor. Nil members are skipped. They run on the
// supervisor goroutine and must not block.
type Hooks struct {
	Transition func(sessionID string, from, to Status)
	Signal     func(sessionID string, sig Signal)
}

// Config tunes one supervisor.
type Config struct {
	SessionID          string
	Backoff            backoff.Policy
	ConnectTimeout     time.Duration
	ReadySettleDelay   time.Duration
	RestartDelay       time.Duration
	MaxRestarts        int
	TerminalCloseCodes []int
	RestartCloseCodes  []int
	Clock              clock.Clock
	Logger             zerolog.Logger
}

// Deps are the collaborators of a supervisor.
type Deps struct {
	Factory  protocol.Factory
	Auth     AuthStore
	Notifier Publisher
	Pairing  Pairing
	Hooks    Hooks
}

type message interface{}

type (
	msgStart       struct{}
	msgEngineEvent struct {
		gen uint64
		ev  protocol.Event
	}
	msgEngineClosed   struct{ gen uint64 }
	msgReconnectDue   struct{ seq uint64 }
	msgConnectTimeout struct{ gen uint64 }
	msgSettleDue      struct{ gen uint64 }
	msgForce          struct{ reply chan error }
	msgStop           struct{}
)

// Supervisor owns the lifecycle of one session.
type Supervisor struct {
	id       string
	cfg      Config
	deps     Deps
	log      zerolog.Logger
	clock    clock.Clock
	terminal codeSet
	restart  codeSet

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan message
	done   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	mu   sync.RWMutex
	snap Snapshot
	live protocol.Engine

	// Owned by the loop goroutine.
	engine         protocol.Engine
	gen            uint64
	timerSeq       uint64
	reconnectTimer clock.Timer
	connectTimer   clock.Timer
	settleTimer    clock.Timer
	sawUpdate      bool
}

// New builds a supervisor in the CONNECTING state. Start launches it.
func New(cfg Config, deps Deps) (*Supervisor, error) {
	if cfg.SessionID == "" {
		return nil, errors.New("supervisor: session id is required")
	}
	if deps.Factory == nil || deps.Auth == nil {
		return nil, errors.New("supervisor: factory and auth store are required")
	}
	if err := cfg.Backoff.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	now := cfg.Clock.Now()
	return &Supervisor{
		id:       cfg.SessionID,
		cfg:      cfg,
		deps:     deps,
		log:      cfg.Logger.With().Str("component", "supervisor").Str("session_id", cfg.SessionID).Logger(),
		clock:    cfg.Clock,
		terminal: newCodeSet(cfg.TerminalCloseCodes),
		restart:  newCodeSet(cfg.RestartCloseCodes),
		ctx:      ctx,
		cancel:   cancel,
		inbox:    make(chan message, inboxSize),
		done:     make(chan struct{}),
		snap: Snapshot{
			Status:            StatusConnecting,
			CreatedAt:         now,
			LastStateChangeAt: now,
		},
	}, nil
}

// ID returns the session id.
func (s *Supervisor) ID() string { return s.id }

// Start launches the supervisor goroutine and the first connection attempt.
func (s *Supervisor) Start() {
	s.startOnce.Do(func() {
		go s.loop()
		s.post(msgStart{})
	})
}

// Stop cancels every timer, closes the engine and ends the goroutine. It is
// idempotent and safe to call before Start. In-flight engine calls observe a
// cancelled context.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.startOnce.Do(func() { go s.loop() })
	first := false
	s.stopOnce.Do(func() { first = true })
	if first {
		s.cancel()
		s.post(msgStop{})
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the supervisor goroutine has exited.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Reconnect forces a new connection cycle from DISCONNECTED. It is a no-op
// while connecting or connected and fails with ErrFailed after a terminal
// close.
func (s *Supervisor) Reconnect(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case s.inbox <- msgForce{reply: reply}:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the current state.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Ready reports whether the session is connected and ready to send.
func (s *Supervisor) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Status == StatusConnected && s.snap.Ready && s.live != nil
}

// Connecting reports whether the session is in the CONNECTING state.
func (s *Supervisor) Connecting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Status == StatusConnecting
}

// Send delivers content through the live engine.
func (s *Supervisor) Send(ctx context.Context, recipient string, content protocol.Content) (string, error) {
	s.mu.RLock()
	eng := s.live
	ready := s.snap.Status == StatusConnected && s.snap.Ready
	s.mu.RUnlock()
	if eng == nil || !ready {
		return "", ErrNotReady
	}
	return eng.SendMessage(ctx, recipient, content)
}

func (s *Supervisor) post(m message) {
	select {
	case s.inbox <- m:
	case <-s.done:
	}
}

func (s *Supervisor) loop() {
	defer close(s.done)

	for m := range s.inbox {
		switch msg := m.(type) {
		case msgStart:
			s.connect()
		case msgEngineEvent:
			if msg.gen == s.gen && s.engine != nil {
				s.handleEvent(msg.ev)
			}
		case msgEngineClosed:
			if msg.gen == s.gen && s.engine != nil {
				s.log.Warn().Msg("engine event stream ended")
				s.handleClose(&protocol.CloseReason{Message: "engine event stream ended"})
			}
		case msgReconnectDue:
			s.handleReconnectDue(msg.seq)
		case msgConnectTimeout:
			s.handleConnectTimeout(msg.gen)
		case msgSettleDue:
			if msg.gen == s.gen && s.status() == StatusConnected {
				s.settleTimer = nil
				s.update(func(snap *Snapshot) { snap.Ready = true })
			}
		case msgForce:
			msg.reply <- s.handleForce()
		case msgStop:
			s.shutdown()
			return
		}
	}
}

func (s *Supervisor) status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Status
}

func (s *Supervisor) update(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	s.mu.Unlock()
}

func (s *Supervisor) transition(to Status) bool {
	s.mu.Lock()
	from := s.snap.Status
	if !CanTransition(from, to) {
		s.mu.Unlock()
		s.log.Error().Str("from", string(from)).Str("to", string(to)).Msg("illegal transition ignored")
		return false
	}
	s.snap.Status = to
	s.snap.LastStateChangeAt = s.clock.Now()
	if to != StatusConnected {
		s.snap.Ready = false
	}
	s.mu.Unlock()

	s.log.Info().Str("from", string(from)).Str("to", string(to)).Msg("status changed")
	if s.deps.Hooks.Transition != nil {
		s.deps.Hooks.Transition(s.id, from, to)
	}
	if to != StatusConnecting && s.deps.Pairing != nil {
		s.deps.Pairing.Invalidate(s.id)
	}
	return true
}

func (s *Supervisor) signal(sig Signal) {
	if s.deps.Hooks.Signal != nil {
		s.deps.Hooks.Signal(s.id, sig)
	}
}

func (s *Supervisor) publish(ev notify.Event) {
	if s.deps.Notifier == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.clock.Now()
	}
	s.deps.Notifier.Publish(s.ctx, s.id, ev)
}

func (s *Supervisor) setLastError(err error) {
	s.update(func(snap *Snapshot) {
		if err == nil {
			snap.LastError = ""
			return
		}
		snap.LastError = err.Error()
	})
}

// connect runs one connection attempt: load credentials, build an engine,
// pump its events and call Connect.
func (s *Supervisor) connect() {
	s.gen++
	gen := s.gen
	s.sawUpdate = false
	s.update(func(snap *Snapshot) { snap.LastAttemptAt = s.clock.Now() })

	creds, err := s.deps.Auth.Load(s.ctx, s.id)
	if err != nil {
		s.log.Error().Err(err).Msg("credentials unavailable")
		s.attemptFailed(fmt.Errorf("%w: %v", ErrEngine, err))
		return
	}
	if creds.Fresh {
		s.log.Info().Msg("no stored credentials, starting a new pairing")
	}

	cfg := protocol.Config{
		SessionID:      s.id,
		Credentials:    creds.Data,
		Keys:           s.deps.Auth.Keys(s.id),
		ConnectTimeout: s.cfg.ConnectTimeout,
	}
	eng, err := s.deps.Factory.New(s.ctx, cfg)
	if err != nil {
		s.signal(SignalEngineBuildFailed)
		s.log.Warn().Err(err).Msg("engine construction failed, retrying once")
		eng, err = s.deps.Factory.New(s.ctx, cfg)
	}
	if err != nil {
		s.signal(SignalEngineBuildFailed)
		s.log.Error().Err(err).Msg("engine construction failed")
		s.attemptFailed(fmt.Errorf("%w: %v", ErrEngine, err))
		return
	}

	s.engine = eng
	s.mu.Lock()
	s.live = eng
	s.mu.Unlock()
	go s.pump(gen, eng)

	s.armConnectTimeout(gen)
	if err := eng.Connect(s.ctx); err != nil {
		s.log.Error().Err(err).Msg("engine connect failed")
		s.closeEngine()
		s.attemptFailed(fmt.Errorf("%w: %v", ErrEngine, err))
	}
}

func (s *Supervisor) pump(gen uint64, eng protocol.Engine) {
	for ev := range eng.Events() {
		select {
		case s.inbox <- msgEngineEvent{gen: gen, ev: ev}:
		case <-s.done:
			return
		}
	}
	s.post(msgEngineClosed{gen: gen})
}

// attemptFailed folds a failed CONNECTING attempt into the backoff path.
func (s *Supervisor) attemptFailed(err error) {
	s.setLastError(err)
	if s.status() == StatusConnecting {
		s.transition(StatusDisconnected)
		s.publish(notify.Event{Kind: notify.KindDisconnected, Reason: err.Error()})
	}
	s.scheduleReconnect()
}

func (s *Supervisor) closeEngine() {
	s.stopTimer(&s.connectTimer)
	s.stopTimer(&s.settleTimer)
	if s.engine == nil {
		return
	}
	eng := s.engine
	s.engine = nil
	s.gen++
	s.mu.Lock()
	s.live = nil
	s.mu.Unlock()
	if err := eng.Close(); err != nil {
		s.log.Warn().Err(err).Msg("engine close failed")
	}
}

func (s *Supervisor) stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (s *Supervisor) armConnectTimeout(gen uint64) {
	s.stopTimer(&s.connectTimer)
	if s.cfg.ConnectTimeout <= 0 {
		return
	}
	s.connectTimer = s.clock.AfterFunc(s.cfg.ConnectTimeout, func() {
		s.post(msgConnectTimeout{gen: gen})
	})
}

func (s *Supervisor) handleEvent(ev protocol.Event) {
	switch ev.Kind {
	case protocol.EventCredentialsUpdated:
		s.saveCredentials(ev.Credentials)
	case protocol.EventConnectionUpdate:
		s.handleConnectionUpdate(ev.Connection)
	}
}

func (s *Supervisor) saveCredentials(creds []byte) {
	if s.deps.Pairing != nil && s.status() == StatusConnecting {
		s.deps.Pairing.Consume(s.id)
	}
	if err := s.deps.Auth.Save(s.ctx, s.id, creds); err != nil {
		s.signal(SignalCredentialsSaveFailed)
		s.log.Error().Err(err).Msg("credentials save failed")
		s.publish(notify.Event{Kind: notify.KindError, Err: fmt.Errorf("%w: %w", ErrCredentialsSave, err)})
		return
	}
	s.signal(SignalCredentialsSaved)
}

func (s *Supervisor) handleConnectionUpdate(u protocol.ConnectionUpdate) {
	// Only a pairing code or open counts as handshake progress.
	if !s.sawUpdate && (u.PairingCode != "" || u.Phase == protocol.PhaseOpen) {
		s.sawUpdate = true
		s.stopTimer(&s.connectTimer)
	}

	if u.PairingCode != "" && s.status() == StatusConnecting {
		if s.deps.Pairing != nil {
			s.deps.Pairing.Issue(s.id, u.PairingCode)
		}
		s.log.Info().Msg("pairing code issued")
		s.publish(notify.Event{Kind: notify.KindPairingCode, PairingCode: u.PairingCode})
	}

	switch u.Phase {
	case protocol.PhaseOpen:
		s.handleOpen()
	case protocol.PhaseClose:
		s.handleClose(u.CloseReason)
	}
}

func (s *Supervisor) handleOpen() {
	if s.status() != StatusConnecting {
		return
	}
	s.stopTimer(&s.reconnectTimer)
	if !s.transition(StatusConnected) {
		return
	}
	s.update(func(snap *Snapshot) {
		snap.ReconnectAttempts = 0
		snap.ReconnectPending = false
		snap.Restarts = 0
		snap.LastError = ""
		snap.LastCloseCode = 0
	})
	s.publish(notify.Event{Kind: notify.KindConnected})

	if s.cfg.ReadySettleDelay <= 0 {
		s.update(func(snap *Snapshot) { snap.Ready = true })
		return
	}
	gen := s.gen
	s.settleTimer = s.clock.AfterFunc(s.cfg.ReadySettleDelay, func() {
		s.post(msgSettleDue{gen: gen})
	})
}

func (s *Supervisor) handleClose(reason *protocol.CloseReason) {
	status := s.status()
	if status != StatusConnecting && status != StatusConnected {
		return
	}
	s.closeEngine()

	code, msg := 0, "connection closed"
	if reason != nil {
		code = reason.Code
		if reason.Message != "" {
			msg = reason.Message
		}
	}
	s.update(func(snap *Snapshot) {
		snap.LastCloseCode = code
		snap.LastError = msg
	})

	switch classify(reason, s.terminal, s.restart) {
	case closeTerminal:
		s.fail(code, msg)
	case closeRestart:
		snap := s.Snapshot()
		if snap.Restarts < s.cfg.MaxRestarts {
			s.transition(StatusDisconnected)
			s.publish(notify.Event{Kind: notify.KindDisconnected, Reason: msg, Code: code})
			s.scheduleRestart()
			return
		}
		s.log.Warn().Int("restarts", snap.Restarts).Msg("restart limit reached, using backoff")
		fallthrough
	default:
		s.transition(StatusDisconnected)
		s.publish(notify.Event{Kind: notify.KindDisconnected, Reason: msg, Code: code})
		s.scheduleReconnect()
	}
}

func (s *Supervisor) fail(code int, msg string) {
	s.stopTimer(&s.reconnectTimer)
	s.update(func(snap *Snapshot) { snap.ReconnectPending = false })
	s.transition(StatusFailed)
	s.log.Warn().Int("code", code).Msg("terminal close, purging auth state")

	if err := s.deps.Auth.Remove(s.ctx, s.id); err != nil {
		s.log.Error().Err(err).Msg("auth state purge failed")
		s.publish(notify.Event{Kind: notify.KindError, Err: fmt.Errorf("%w: %w", ErrAuthPurge, err)})
	}
	s.publish(notify.Event{Kind: notify.KindDisconnected, Reason: msg, Code: code, Terminal: true})
	s.publish(notify.Event{Kind: notify.KindError, Code: code, Err: ErrLoggedOut})
}

// scheduleReconnect arms the single reconnect timer. A request while a timer
// is pending is a no-op.
func (s *Supervisor) scheduleReconnect() {
	if s.reconnectTimer != nil {
		s.signal(SignalReconnectSuppressed)
		s.log.Debug().Msg("reconnect already pending")
		return
	}
	attempts := s.Snapshot().ReconnectAttempts
	if s.cfg.Backoff.Exhausted(attempts) {
		s.signal(SignalReconnectExhausted)
		s.setLastError(ErrReconnectExhausted)
		s.log.Error().Int("attempts", attempts).Msg("reconnect attempts exhausted")
		s.publish(notify.Event{Kind: notify.KindError, Err: ErrReconnectExhausted})
		return
	}

	attempts++
	delay := s.cfg.Backoff.Next(attempts)
	s.armReconnect(delay)
	s.update(func(snap *Snapshot) { snap.ReconnectAttempts = attempts })
	s.signal(SignalReconnectScheduled)
	s.log.Info().Int("attempt", attempts).Dur("delay", delay).Msg("reconnect scheduled")
}

func (s *Supervisor) scheduleRestart() {
	if s.reconnectTimer != nil {
		s.signal(SignalReconnectSuppressed)
		return
	}
	var restarts int
	s.update(func(snap *Snapshot) {
		snap.Restarts++
		restarts = snap.Restarts
	})
	s.armReconnect(s.cfg.RestartDelay)
	s.signal(SignalRestartScheduled)
	s.log.Info().Int("restart", restarts).Dur("delay", s.cfg.RestartDelay).Msg("restart scheduled")
}

func (s *Supervisor) armReconnect(delay time.Duration) {
	s.timerSeq++
	seq := s.timerSeq
	s.reconnectTimer = s.clock.AfterFunc(delay, func() {
		s.post(msgReconnectDue{seq: seq})
	})
	s.update(func(snap *Snapshot) { snap.ReconnectPending = true })
}

func (s *Supervisor) handleReconnectDue(seq uint64) {
	if seq != s.timerSeq || s.reconnectTimer == nil {
		return
	}
	s.reconnectTimer = nil
	s.update(func(snap *Snapshot) { snap.ReconnectPending = false })
	if s.status() != StatusDisconnected {
		return
	}
	if s.transition(StatusConnecting) {
		s.connect()
	}
}

func (s *Supervisor) handleConnectTimeout(gen uint64) {
	if gen != s.gen || s.engine == nil || s.sawUpdate || s.status() != StatusConnecting {
		return
	}
	s.connectTimer = nil
	s.signal(SignalConnectTimeout)
	s.log.Warn().Dur("timeout", s.cfg.ConnectTimeout).Msg("connect timed out")
	s.closeEngine()
	s.update(func(snap *Snapshot) { snap.LastCloseCode = protocol.CodeTimedOut })
	s.attemptFailed(ErrConnectTimeout)
}

func (s *Supervisor) handleForce() error {
	switch s.status() {
	case StatusFailed:
		return ErrFailed
	case StatusConnecting, StatusConnected:
		return nil
	}
	s.stopTimer(&s.reconnectTimer)
	s.update(func(snap *Snapshot) {
		snap.ReconnectAttempts = 0
		snap.ReconnectPending = false
		snap.Restarts = 0
	})
	s.log.Info().Msg("forced reconnect")
	if s.transition(StatusConnecting) {
		s.connect()
	}
	return nil
}

func (s *Supervisor) shutdown() {
	s.stopTimer(&s.reconnectTimer)
	s.stopTimer(&s.connectTimer)
	s.stopTimer(&s.settleTimer)
	s.closeEngine()
	s.cancel()
	s.update(func(snap *Snapshot) {
		snap.Ready = false
		snap.ReconnectPending = false
	})
	s.log.Debug().Msg("supervisor stopped")
}
