// Package pairing tracks the one-time pairing code each connecting session
// exposes to its user.
package pairing

import (
	"sync"
	"time"

	"github.com/MrEthical07/goSession/internal/clock"
)

// DefaultTTL bounds how long an issued code is served.
const DefaultTTL = 60 * time.Second

// StateSource reports whether a session is still in the connecting phase.
type StateSource interface {
	Connecting(sessionID string) bool
}

// StateFunc adapts a function to StateSource.
type StateFunc func(sessionID string) bool

func (f StateFunc) Connecting(sessionID string) bool { return f(sessionID) }

// Code is the latest code issued for a session.
type Code struct {
	Value    string
	IssuedAt time.Time
	Consumed bool
}

// Coordinator stores at most one code per session.
type Coordinator struct {
	clock clock.Clock
	ttl   time.Duration
	state StateSource

	mu    sync.Mutex
	codes map[string]Code
}

// NewCoordinator builds a Coordinator. A non-positive ttl selects DefaultTTL.
func NewCoordinator(c clock.Clock, ttl time.Duration, state StateSource) *Coordinator {
	if c == nil {
		c = clock.Real{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Coordinator{
		clock: c,
		ttl:   ttl,
		state: state,
		codes: make(map[string]Code),
	}
}

// Issue replaces the session's code with value.
func (c *Coordinator) Issue(sessionID, value string) Code {
	code := Code{Value: value, IssuedAt: c.clock.Now()}
	c.mu.Lock()
	c.codes[sessionID] = code
	c.mu.Unlock()
	return code
}

// Current returns the code while the session is connecting, the code is
// younger than the TTL and it has not been consumed.
func (c *Coordinator) Current(sessionID string) (Code, bool) {
	c.mu.Lock()
	code, ok := c.codes[sessionID]
	c.mu.Unlock()
	if !ok || code.Value == "" || code.Consumed {
		return Code{}, false
	}
	if c.clock.Now().Sub(code.IssuedAt) >= c.ttl {
		return Code{}, false
	}
	if c.state != nil && !c.state.Connecting(sessionID) {
		return Code{}, false
	}
	return code, true
}

// Consume marks the session's code as used. Current stops serving it; a
// later Issue replaces it with a fresh code.
func (c *Coordinator) Consume(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if code, ok := c.codes[sessionID]; ok {
		code.Consumed = true
		c.codes[sessionID] = code
	}
}

// Invalidate forgets the session's code.
func (c *Coordinator) Invalidate(sessionID string) {
	c.mu.Lock()
	delete(c.codes, sessionID)
	c.mu.Unlock()
}

// Len returns the number of tracked codes.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.codes)
}
