package protocol

import (
	"context"
	"time"
)

// Phase is the connection phase reported by the engine.
type Phase string

const (
	PhaseConnecting Phase = "connecting"
	PhaseOpen       Phase = "open"
	PhaseClose      Phase = "close"
)

// Close codes reported by engines built on the multi-device web protocol.
const (
	CodeLoggedOut           = 401
	CodeForbidden           = 403
	CodeTimedOut            = 408
	CodeMultideviceMismatch = 411
	CodeConnectionClosed    = 428
	CodeConnectionReplaced  = 440
	CodeBadSession          = 500
	CodeUnavailable         = 503
	CodeRestartRequired     = 515
)

// CloseReason describes why the engine closed its connection.
type CloseReason struct {
	Code    int
	Message string

	// Terminal marks a close that must never be retried, regardless of Code.
	Terminal bool
}

// ConnectionUpdate is the payload of an EventConnectionUpdate.
type ConnectionUpdate struct {
	Phase       Phase
	PairingCode string
	CloseReason *CloseReason
}

// EventKind discriminates Event payloads.
type EventKind uint8

const (
	EventCredentialsUpdated EventKind = iota + 1
	EventConnectionUpdate
)

// Event is one item of an engine event stream.
type Event struct {
	Kind        EventKind
	Credentials []byte
	Connection  ConnectionUpdate
}

// Image is an image attachment.
type Image struct {
	URL      string
	Data     []byte
	MimeType string
	Caption  string
}

// Content is an outbound message body. Exactly one of Text or Image is set.
type Content struct {
	Text  string
	Image *Image
}

// KeyStore gives an engine read/write access to its own signal key records.
type KeyStore interface {
	Get(ctx context.Context, keyType string, ids []string) (map[string][]byte, error)
	Set(ctx context.Context, keyType, id string, value []byte) error
	Clear(ctx context.Context, keyType string, ids []string) error
}

// Config is handed to Factory.New for every engine instance.
type Config struct {
	SessionID      string
	Credentials    []byte
	Keys           KeyStore
	ConnectTimeout time.Duration
}

// Engine is one live protocol client.
//
// Events must be closed by the engine after Close returns or when the
// underlying transport is gone for good. SendMessage may be called
// concurrently with event delivery.
type Engine interface {
	Connect(ctx context.Context) error
	Events() <-chan Event
	SendMessage(ctx context.Context, recipient string, content Content) (string, error)
	Close() error
}

// Factory constructs engines and generates identities for brand-new sessions.
type Factory interface {
	New(ctx context.Context, cfg Config) (Engine, error)
	GenerateCredentials(ctx context.Context) ([]byte, error)
}
