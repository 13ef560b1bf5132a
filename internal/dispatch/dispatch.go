// Package dispatch runs outbound sends through a per-session FIFO gated on
// session readiness, with a bounded retry budget.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/goSession/internal/clock"
	"github.com/rs/zerolog"
)

const (
	DefaultConcurrency  = 1
	DefaultMaxQueueSize = 100
	DefaultMaxAttempts  = 3
	DefaultRetryDelay   = time.Second
)

var (
	// ErrNotConnected is returned when the gate reports the session not ready.
	ErrNotConnected = errors.New("session not connected")
	// ErrQueueFull is returned when a session already has MaxQueueSize pending sends.
	ErrQueueFull = errors.New("session send queue full")
	// ErrSessionClosed fails sends still pending when the session is removed.
	ErrSessionClosed = errors.New("session send queue closed")
	// ErrSendFailed wraps the last error of a task that used up its attempts.
	ErrSendFailed = errors.New("send failed")
)

// Gate reports whether a session may send right now.
type Gate interface {
	Ready(sessionID string) bool
}

// GateFunc adapts a function to Gate.
type GateFunc func(sessionID string) bool

func (f GateFunc) Ready(sessionID string) bool { return f(sessionID) }

// Task performs one send attempt and returns the message id.
type Task func(ctx context.Context) (string, error)

// Config controls per-session queue behavior.
type Config struct {
	Concurrency  int
	MaxQueueSize int
	MaxAttempts  int
	RetryDelay   time.Duration
	Clock        clock.Clock
	Logger       zerolog.Logger
}

// Queue owns one lane per session.
type Queue struct {
	cfg  Config
	gate Gate
	log  zerolog.Logger

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
}

type lane struct {
	pending []*job
	running int
	done    chan struct{}
}

type job struct {
	ctx       context.Context
	recipient string
	task      Task
	result    chan result
}

type result struct {
	id  string
	err error
}

// New builds a Queue. Zero config fields select the package defaults.
func New(cfg Config, gate Gate) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultMaxQueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &Queue{
		cfg:   cfg,
		gate:  gate,
		log:   cfg.Logger.With().Str("component", "dispatch").Logger(),
		lanes: make(map[string]*lane),
	}
}

// Enqueue submits task for sessionID and waits for its outcome. A session
// that is not ready fails immediately with ErrNotConnected.
func (q *Queue) Enqueue(ctx context.Context, sessionID, recipient string, task Task) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !q.gate.Ready(sessionID) {
		return "", ErrNotConnected
	}

	j := &job{
		ctx:       ctx,
		recipient: recipient,
		task:      task,
		result:    make(chan result, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrSessionClosed
	}
	l := q.lanes[sessionID]
	if l == nil {
		l = &lane{done: make(chan struct{})}
		q.lanes[sessionID] = l
	}
	if len(l.pending) >= q.cfg.MaxQueueSize {
		q.mu.Unlock()
		return "", ErrQueueFull
	}
	l.pending = append(l.pending, j)
	if l.running < q.cfg.Concurrency {
		l.running++
		go q.work(sessionID, l)
	}
	q.mu.Unlock()

	select {
	case r := <-j.result:
		return r.id, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *Queue) work(sessionID string, l *lane) {
	for {
		q.mu.Lock()
		if len(l.pending) == 0 {
			l.running--
			q.mu.Unlock()
			return
		}
		j := l.pending[0]
		l.pending[0] = nil
		l.pending = l.pending[1:]
		q.mu.Unlock()

		id, err := q.run(sessionID, l, j)
		j.result <- result{id: id, err: err}
	}
}

func (q *Queue) run(sessionID string, l *lane, j *job) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if !clock.Sleep(q.cfg.Clock, q.cfg.RetryDelay, l.done) {
				return "", ErrSessionClosed
			}
		}
		select {
		case <-l.done:
			return "", ErrSessionClosed
		default:
		}
		if err := j.ctx.Err(); err != nil {
			return "", err
		}
		if !q.gate.Ready(sessionID) {
			return "", ErrNotConnected
		}

		id, err := j.task(j.ctx)
		if err == nil {
			return id, nil
		}
		lastErr = err
		q.log.Warn().Err(err).
			Str("session_id", sessionID).
			Str("recipient", j.recipient).
			Int("attempt", attempt).
			Msg("send attempt failed")
	}
	return "", fmt.Errorf("%w: session %s, recipient %s, %d attempts: %w",
		ErrSendFailed, sessionID, j.recipient, q.cfg.MaxAttempts, lastErr)
}

// Pending returns the number of queued, not yet started sends for sessionID.
func (q *Queue) Pending(sessionID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l := q.lanes[sessionID]; l != nil {
		return len(l.pending)
	}
	return 0
}

// Remove fails every pending send of sessionID with ErrSessionClosed and stops
// further attempts. A send already executing finishes its current attempt.
func (q *Queue) Remove(sessionID string) {
	q.mu.Lock()
	l := q.lanes[sessionID]
	delete(q.lanes, sessionID)
	var dropped []*job
	if l != nil {
		dropped = l.pending
		l.pending = nil
		close(l.done)
	}
	q.mu.Unlock()

	for _, j := range dropped {
		j.result <- result{err: ErrSessionClosed}
	}
}

// Close removes every lane and rejects later sends.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	ids := make([]string, 0, len(q.lanes))
	for id := range q.lanes {
		ids = append(ids, id)
	}
	q.mu.Unlock()

	for _, id := range ids {
		q.Remove(id)
	}
}
