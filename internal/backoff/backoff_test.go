package backoff

import (
	"errors"
	"testing"
	"time"
)

func TestDelaySequenceDoublesUntilCap(t *testing.T) {
	p := Policy{Base: 5 * time.Second, Cap: 300 * time.Second, MaxAttempts: 10}
	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
		160 * time.Second,
	}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, w, got)
		}
	}
	if got := p.Delay(7); got != 300*time.Second {
		t.Fatalf("attempt 7: expected cap 300s, got %s", got)
	}
	if got := p.Delay(60); got != 300*time.Second {
		t.Fatalf("attempt 60: expected cap 300s, got %s", got)
	}
}

func TestNextAddsBoundedJitter(t *testing.T) {
	p := Policy{Base: time.Second, Cap: time.Minute, JitterRatio: DefaultJitterRatio, MaxAttempts: 3}

	p.Rand = func() float64 { return 0 }
	if got := p.Next(2); got != 2*time.Second {
		t.Fatalf("expected no jitter at r=0, got %s", got)
	}

	p.Rand = func() float64 { return 0.999999 }
	got := p.Next(2)
	if got < 2*time.Second || got >= 2*time.Second+600*time.Millisecond {
		t.Fatalf("jitter out of bounds: %s", got)
	}
}

func TestNextDefaultRandStaysInRange(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, Cap: time.Second, JitterRatio: 0.3, MaxAttempts: 3}
	for i := 0; i < 200; i++ {
		got := p.Next(1)
		if got < 100*time.Millisecond || got >= 130*time.Millisecond {
			t.Fatalf("iteration %d: delay %s out of range", i, got)
		}
	}
}

func TestExhausted(t *testing.T) {
	p := Policy{Base: time.Second, Cap: time.Second, MaxAttempts: 2}
	if p.Exhausted(1) {
		t.Fatal("one attempt should not exhaust")
	}
	if !p.Exhausted(2) {
		t.Fatal("two attempts should exhaust")
	}
}

func TestValidate(t *testing.T) {
	cases := []Policy{
		{Base: 0, Cap: time.Second, MaxAttempts: 1},
		{Base: time.Second, Cap: time.Millisecond, MaxAttempts: 1},
		{Base: time.Second, Cap: time.Second, JitterRatio: 2, MaxAttempts: 1},
		{Base: time.Second, Cap: time.Second},
	}
	for i, p := range cases {
		if err := p.Validate(); !errors.Is(err, ErrInvalidPolicy) {
			t.Fatalf("case %d: expected ErrInvalidPolicy, got %v", i, err)
		}
	}
	ok := Policy{Base: time.Second, Cap: time.Minute, JitterRatio: 0.3, MaxAttempts: 5}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid policy rejected: %v", err)
	}
}
