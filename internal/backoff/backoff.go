// Package backoff computes capped exponential reconnect delays with jitter.
package backoff

import (
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// DefaultJitterRatio bounds the random extra delay as a fraction of the base
// delay.
const DefaultJitterRatio = 0.3

// ErrInvalidPolicy is returned by Validate for unusable settings.
var ErrInvalidPolicy = errors.New("invalid backoff policy")

// Policy holds reconnect tuning parameters.
type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	JitterRatio float64
	MaxAttempts int

	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

// Validate checks the policy for obviously broken values.
func (p Policy) Validate() error {
	switch {
	case p.Base <= 0:
		return errors.Join(ErrInvalidPolicy, errors.New("base delay must be > 0"))
	case p.Cap < p.Base:
		return errors.Join(ErrInvalidPolicy, errors.New("cap must be >= base delay"))
	case p.JitterRatio < 0 || p.JitterRatio > 1:
		return errors.Join(ErrInvalidPolicy, errors.New("jitter ratio must be within [0, 1]"))
	case p.MaxAttempts <= 0:
		return errors.Join(ErrInvalidPolicy, errors.New("max attempts must be > 0"))
	}
	return nil
}

// Delay returns the pre-jitter delay for attempt n (1-based):
// min(Base * 2^(n-1), Cap).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.Base <= 0 {
		return 0
	}
	d := float64(p.Base) * math.Pow(2, float64(attempt-1))
	if p.Cap > 0 && d >= float64(p.Cap) {
		return p.Cap
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Next returns the delay for attempt n including jitter in
// [0, JitterRatio*delay).
func (p Policy) Next(attempt int) time.Duration {
	d := p.Delay(attempt)
	if p.JitterRatio <= 0 || d <= 0 {
		return d
	}
	r := p.Rand
	if r == nil {
		r = rand.Float64
	}
	jitter := time.Duration(r() * p.JitterRatio * float64(d))
	return d + jitter
}

// Exhausted reports whether attempts has reached the ceiling.
func (p Policy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
