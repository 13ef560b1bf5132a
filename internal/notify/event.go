package notify

import (
	"context"
	"time"
)

// Kind identifies an event.
type Kind uint8

const (
	KindPairingCode Kind = iota + 1
	KindConnected
	KindDisconnected
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindPairingCode:
		return "pairing_code"
	case KindConnected:
		return "connected"
	case KindDisconnected:
		return "disconnected"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one lifecycle notification.
type Event struct {
	Kind        Kind
	SessionID   string
	At          time.Time
	PairingCode string
	// Reason and Code describe a disconnect.
	Reason   string
	Code     int
	Terminal bool
	Err      error
}

// Handlers is the callback set of one session. Nil members are skipped.
type Handlers struct {
	OnPairingCode  func(ctx context.Context, ev Event) error
	OnConnected    func(ctx context.Context, ev Event) error
	OnDisconnected func(ctx context.Context, ev Event) error
	OnError        func(ctx context.Context, ev Event) error
}

func (h Handlers) pick(kind Kind) func(context.Context, Event) error {
	switch kind {
	case KindPairingCode:
		return h.OnPairingCode
	case KindConnected:
		return h.OnConnected
	case KindDisconnected:
		return h.OnDisconnected
	case KindError:
		return h.OnError
	default:
		return nil
	}
}
