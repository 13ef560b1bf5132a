package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCallbackTimeout bounds a single callback invocation.
const DefaultCallbackTimeout = 30 * time.Second

// DefaultBufferSize is the per-session event buffer.
const DefaultBufferSize = 256

// ErrCallbackTimeout is logged when a callback outlives CallbackTimeout.
var ErrCallbackTimeout = errors.New("callback timed out")

// Config controls buffering and callback limits.
type Config struct {
	BufferSize int
	DropIfFull bool
	// CallbackTimeout bounds how long the worker waits for one callback. A
	// callback that outlives it is logged, its context is cancelled and the
	// worker moves on while the callback goroutine keeps running, so a slow
	// callback may overlap the next one for the same session. Callbacks that
	// ignore ctx lose per-session ordering once they time out.
	CallbackTimeout time.Duration
	Logger          zerolog.Logger
}

// Notifier fans lifecycle events out to per-session workers.
type Notifier struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	workers map[string]*worker

	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

type worker struct {
	sessionID string
	handlers  Handlers
	ch        chan Event
	quit      chan struct{}
	drain     atomic.Bool
	stopOnce  sync.Once
}

func (w *worker) stop(drain bool) {
	w.stopOnce.Do(func() {
		w.drain.Store(drain)
		close(w.quit)
	})
}

// New builds a Notifier.
func New(cfg Config) *Notifier {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.CallbackTimeout <= 0 {
		cfg.CallbackTimeout = DefaultCallbackTimeout
	}
	return &Notifier{
		cfg:     cfg,
		log:     cfg.Logger.With().Str("component", "notify").Logger(),
		workers: make(map[string]*worker),
	}
}

// Register installs handlers for sessionID, replacing any previous set.
func (n *Notifier) Register(sessionID string, h Handlers) {
	if n == nil {
		return
	}
	w := &worker{
		sessionID: sessionID,
		handlers:  h,
		ch:        make(chan Event, n.cfg.BufferSize),
		quit:      make(chan struct{}),
	}

	n.mu.Lock()
	if n.closed.Load() {
		n.mu.Unlock()
		return
	}
	old := n.workers[sessionID]
	n.workers[sessionID] = w
	n.wg.Add(1)
	n.mu.Unlock()

	if old != nil {
		old.stop(true)
	}
	go n.run(w)
}

// Unregister drops the session's handlers. Pending events are discarded and
// no callback starts afterwards. It does not wait for a callback already in
// flight, so a callback may unregister its own session.
func (n *Notifier) Unregister(sessionID string) {
	if n == nil {
		return
	}
	n.mu.Lock()
	w := n.workers[sessionID]
	delete(n.workers, sessionID)
	n.mu.Unlock()

	if w != nil {
		w.stop(false)
	}
}

// Registered reports whether sessionID has handlers.
func (n *Notifier) Registered(sessionID string) bool {
	if n == nil {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.workers[sessionID]
	return ok
}

// Publish queues ev for sessionID. Events for unregistered sessions are
// discarded.
func (n *Notifier) Publish(ctx context.Context, sessionID string, ev Event) {
	if n == nil || n.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	n.mu.Lock()
	w := n.workers[sessionID]
	n.mu.Unlock()
	if w == nil {
		return
	}
	ev.SessionID = sessionID
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	if n.cfg.DropIfFull {
		select {
		case w.ch <- ev:
		case <-w.quit:
		default:
			n.dropped.Add(1)
			n.log.Warn().Str("session_id", sessionID).Stringer("event", ev.Kind).Msg("event buffer full, dropping")
		}
		return
	}

	select {
	case w.ch <- ev:
	case <-ctx.Done():
	case <-w.quit:
	}
}

func (n *Notifier) run(w *worker) {
	defer n.wg.Done()

	for {
		select {
		case ev := <-w.ch:
			select {
			case <-w.quit:
				if !w.drain.Load() {
					return
				}
			default:
			}
			n.deliver(w, ev)
		case <-w.quit:
			if !w.drain.Load() {
				return
			}
			for {
				select {
				case ev := <-w.ch:
					n.deliver(w, ev)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) deliver(w *worker, ev Event) {
	fn := w.handlers.pick(ev.Kind)
	if fn == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.CallbackTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("callback panic: %v", r)
			}
		}()
		done <- fn(ctx, ev)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ErrCallbackTimeout
	}
	if err != nil {
		n.failed.Add(1)
		n.log.Error().Err(err).Str("session_id", w.sessionID).Stringer("event", ev.Kind).Msg("callback failed")
	}
}

// Close stops accepting events, delivers what is buffered and waits for all
// workers.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed.Store(true)
		workers := make([]*worker, 0, len(n.workers))
		for id, w := range n.workers {
			workers = append(workers, w)
			delete(n.workers, id)
		}
		n.mu.Unlock()
		for _, w := range workers {
			w.stop(true)
		}
		n.wg.Wait()
	})
}

// Dropped returns the number of events discarded because a buffer was full.
func (n *Notifier) Dropped() uint64 {
	if n == nil {
		return 0
	}
	return n.dropped.Load()
}

// Failed returns the number of callbacks that errored, panicked or timed out.
func (n *Notifier) Failed() uint64 {
	if n == nil {
		return 0
	}
	return n.failed.Load()
}
