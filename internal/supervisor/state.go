package supervisor

import (
	"errors"
	"time"

	"github.com/MrEthical07/goSession/protocol"
)

// Status is the connection status of a session.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusFailed       Status = "failed"
)

var (
	// ErrStopped is returned by requests made after Stop.
	ErrStopped = errors.New("supervisor stopped")
	// ErrFailed rejects forced reconnection of a terminally failed session.
	ErrFailed = errors.New("session failed terminally")
	// ErrReconnectExhausted is published when the attempt ceiling is reached.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	// ErrConnectTimeout marks an attempt that saw no connection update in time.
	ErrConnectTimeout = errors.New("connect timed out")
	// ErrLoggedOut is published on a terminal close.
	ErrLoggedOut = errors.New("session logged out")
	// ErrEngine wraps engine construction and connect failures.
	ErrEngine = errors.New("engine failure")
	// ErrCredentialsSave is published when a credentials update cannot be persisted.
	ErrCredentialsSave = errors.New("credentials save failed")
	// ErrAuthPurge is published when auth state cannot be purged on failure.
	ErrAuthPurge = errors.New("auth state purge failed")
	// ErrNotReady is returned by Send while the session is not ready.
	ErrNotReady = errors.New("session not ready")
)

var transitions = map[Status][]Status{
	StatusConnecting:   {StatusConnected, StatusDisconnected, StatusFailed},
	StatusConnected:    {StatusDisconnected, StatusFailed},
	StatusDisconnected: {StatusConnecting},
	StatusFailed:       {},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type closeClass uint8

const (
	closeRetryable closeClass = iota
	closeTerminal
	closeRestart
)

type codeSet map[int]struct{}

func newCodeSet(codes []int) codeSet {
	set := make(codeSet, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}

func (s codeSet) has(code int) bool {
	_, ok := s[code]
	return ok
}

func classify(reason *protocol.CloseReason, terminal, restart codeSet) closeClass {
	if reason == nil {
		return closeRetryable
	}
	switch {
	case reason.Terminal || terminal.has(reason.Code):
		return closeTerminal
	case restart.has(reason.Code):
		return closeRestart
	default:
		return closeRetryable
	}
}

// Snapshot is a point-in-time copy of the session state.
type Snapshot struct {
	Status            Status
	CreatedAt         time.Time
	LastStateChangeAt time.Time
	Ready             bool
	ReconnectAttempts int
	LastAttemptAt     time.Time
	ReconnectPending  bool
	Restarts          int
	LastCloseCode     int
	LastError         string
}
