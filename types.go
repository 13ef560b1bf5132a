package goSession

import (
	"context"
	"time"

	"github.com/MrEthical07/goSession/internal/supervisor"
)

// Status is the connection status of a session.
type Status string

const (
	StatusConnecting   Status = Status(supervisor.StatusConnecting)
	StatusConnected    Status = Status(supervisor.StatusConnected)
	StatusDisconnected Status = Status(supervisor.StatusDisconnected)
	StatusFailed       Status = Status(supervisor.StatusFailed)
)

// SessionRecord is a point-in-time view of one session.
type SessionRecord struct {
	ID                string
	Status            Status
	CreatedAt         time.Time
	LastStateChangeAt time.Time
	Ready             bool
	ReconnectAttempts int
	LastAttemptAt     time.Time
	ReconnectPending  bool
	LastError         string
	Labels            map[string]string
}

// Options tune one session. Zero values fall back to the Manager config.
type Options struct {
	ConnectTimeout   time.Duration
	ReadySettleDelay time.Duration
	// Labels are opaque caller metadata echoed in SessionRecord.
	Labels map[string]string
}

// DisconnectInfo describes why a session lost its connection.
type DisconnectInfo struct {
	Reason   string
	Code     int
	Terminal bool
}

// Callbacks receive the lifecycle events of one session, in order. A
// callback error or panic is logged and otherwise ignored. Nil members are
// skipped.
type Callbacks struct {
	OnPairingCode  func(ctx context.Context, sessionID, code string) error
	OnConnected    func(ctx context.Context, sessionID string) error
	OnDisconnected func(ctx context.Context, sessionID string, info DisconnectInfo) error
	// OnError receives fatal connection errors (for example exhausted
	// reconnects) and auth-state write failures as *Error values.
	OnError func(ctx context.Context, sessionID string, err error) error
}

// CallbackFactory builds callbacks for sessions restored from storage.
type CallbackFactory func(sessionID string) Callbacks

// Image is an image message body. Exactly one of URL or Data is set.
type Image struct {
	URL      string
	Data     []byte
	MimeType string
	Caption  string
}

// Payload is an outbound message. Exactly one of Text or Image is set.
type Payload struct {
	To    string
	Text  string
	Image *Image
}

// SendResult is returned by a successful Send.
type SendResult struct {
	MessageID string
	SessionID string
	Recipient string
	SentAt    time.Time
}

// MessageRecord is handed to the MessageSink after every successful send.
type MessageRecord struct {
	ID        string
	SessionID string
	MessageID string
	Recipient string
	Kind      string
	Body      string
	MimeType  string
	SentAt    time.Time
}

// MessageSink persists sent-message history. Failures never affect the
// session lifecycle or the Send result.
type MessageSink interface {
	Save(ctx context.Context, rec MessageRecord) error
}
