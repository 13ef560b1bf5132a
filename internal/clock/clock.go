// Package clock abstracts wall time and timers so that reconnect, pairing and
// retry windows can be driven by a virtual clock in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is a cancellable pending callback.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the call
	// stopped the timer (false if it already fired or was stopped).
	Stop() bool
}

// Clock provides the current time and one-shot timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the system clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Sleep blocks for d on c or until done is closed. It returns false when done
// closed first.
func Sleep(c Clock, d time.Duration, done <-chan struct{}) bool {
	if d <= 0 {
		select {
		case <-done:
			return false
		default:
			return true
		}
	}
	fired := make(chan struct{})
	t := c.AfterFunc(d, func() { close(fired) })
	select {
	case <-fired:
		return true
	case <-done:
		t.Stop()
		return false
	}
}

// Fake is a manually advanced clock. Timers fire synchronously inside Advance,
// in deadline order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers map[uint64]*fakeTimer
}

type fakeTimer struct {
	clock    *Fake
	id       uint64
	deadline time.Time
	f        func()
}

// NewFake returns a fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{
		now:    start,
		timers: make(map[uint64]*fakeTimer),
	}
}

func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{
		clock:    c,
		id:       c.seq,
		deadline: c.now.Add(d),
		f:        f,
	}
	c.timers[t.id] = t
	return t
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Advance moves the clock forward by d and fires every timer whose deadline
// is reached.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		due := make([]*fakeTimer, 0, len(c.timers))
		for _, t := range c.timers {
			if !t.deadline.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].deadline.Equal(due[j].deadline) {
				return due[i].id < due[j].id
			}
			return due[i].deadline.Before(due[j].deadline)
		})
		next := due[0]
		delete(c.timers, next.id)
		if next.deadline.After(c.now) {
			c.now = next.deadline
		}
		c.mu.Unlock()

		next.f()
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if _, ok := t.clock.timers[t.id]; !ok {
		return false
	}
	delete(t.clock.timers, t.id)
	return true
}
