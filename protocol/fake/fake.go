// Package fake provides a scripted in-memory protocol engine for tests, the
// load generator and examples.
package fake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MrEthical07/goSession/protocol"
	"github.com/google/uuid"
)

var (
	// ErrClosed is returned by verbs called on a closed engine.
	ErrClosed = errors.New("fake engine closed")
	// ErrNotOpen is returned by SendMessage before the engine reported open.
	ErrNotOpen = errors.New("fake engine not open")
)

var registeredMarker = []byte("registered=1;")

// RegisteredCredentials returns a credential blob that makes a fake engine
// open without pairing.
func RegisteredCredentials() []byte {
	return append(append([]byte{}, registeredMarker...), []byte("id="+uuid.NewString())...)
}

// IsRegistered reports whether creds were produced by a completed pairing.
func IsRegistered(creds []byte) bool {
	return bytes.HasPrefix(creds, registeredMarker)
}

// SentMessage records one SendMessage call.
type SentMessage struct {
	ID        string
	Recipient string
	Content   protocol.Content
}

// Factory builds fake engines and keeps track of every instance per session.
type Factory struct {
	// NewErr, when set, is consulted before constructing an engine.
	NewErr func(sessionID string) error
	// Send, when set, replaces the default successful send.
	Send func(ctx context.Context, sessionID, recipient string, content protocol.Content) (string, error)
	// AutoOpen makes engines with registered credentials report open on Connect.
	// Defaults to true through NewFactory.
	AutoOpen bool

	mu      sync.Mutex
	engines map[string][]*Engine
	codes   atomic.Uint64
	built   atomic.Int64
}

// NewFactory returns a factory with AutoOpen enabled.
func NewFactory() *Factory {
	return &Factory{
		AutoOpen: true,
		engines:  make(map[string][]*Engine),
	}
}

// GenerateCredentials returns an unregistered identity.
func (f *Factory) GenerateCredentials(context.Context) ([]byte, error) {
	return []byte("registered=0;id=" + uuid.NewString()), nil
}

// New constructs an engine for cfg.SessionID.
func (f *Factory) New(_ context.Context, cfg protocol.Config) (protocol.Engine, error) {
	if f.NewErr != nil {
		if err := f.NewErr(cfg.SessionID); err != nil {
			return nil, err
		}
	}
	e := &Engine{
		factory: f,
		cfg:     cfg,
		events:  make(chan protocol.Event, 64),
	}
	f.mu.Lock()
	if f.engines == nil {
		f.engines = make(map[string][]*Engine)
	}
	f.engines[cfg.SessionID] = append(f.engines[cfg.SessionID], e)
	f.mu.Unlock()
	f.built.Add(1)
	return e, nil
}

// Built returns the number of engines constructed so far.
func (f *Factory) Built() int64 {
	return f.built.Load()
}

// Engines returns every engine built for sessionID, oldest first.
func (f *Factory) Engines(sessionID string) []*Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Engine, len(f.engines[sessionID]))
	copy(out, f.engines[sessionID])
	return out
}

// Latest returns the most recently built engine for sessionID.
func (f *Factory) Latest(sessionID string) *Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.engines[sessionID]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (f *Factory) nextCode() string {
	return fmt.Sprintf("PAIR-%06d", f.codes.Add(1))
}

// Engine is a scripted protocol.Engine.
type Engine struct {
	factory *Factory
	cfg     protocol.Config

	mu        sync.Mutex
	events    chan protocol.Event
	closed    bool
	open      bool
	connected bool
	sent      []SentMessage
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() protocol.Config {
	return e.cfg
}

func (e *Engine) Events() <-chan protocol.Event {
	return e.events
}

// Connect starts the scripted handshake: registered credentials open
// immediately (with AutoOpen), anything else receives a pairing code.
func (e *Engine) Connect(context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.connected = true
	e.mu.Unlock()

	if IsRegistered(e.cfg.Credentials) {
		if e.factory == nil || e.factory.AutoOpen {
			e.Open()
		}
		return nil
	}
	e.IssueCode()
	return nil
}

// IssueCode emits a fresh pairing code.
func (e *Engine) IssueCode() string {
	code := "PAIR-000000"
	if e.factory != nil {
		code = e.factory.nextCode()
	}
	e.Emit(protocol.Event{
		Kind: protocol.EventConnectionUpdate,
		Connection: protocol.ConnectionUpdate{
			Phase:       protocol.PhaseConnecting,
			PairingCode: code,
		},
	})
	return code
}

// Pair simulates the user completing pairing: registered credentials are
// published, then the connection opens.
func (e *Engine) Pair() {
	e.Emit(protocol.Event{
		Kind:        protocol.EventCredentialsUpdated,
		Credentials: RegisteredCredentials(),
	})
	e.Open()
}

// Open reports the connection as open.
func (e *Engine) Open() {
	e.mu.Lock()
	e.open = true
	e.mu.Unlock()
	e.Emit(protocol.Event{
		Kind:       protocol.EventConnectionUpdate,
		Connection: protocol.ConnectionUpdate{Phase: protocol.PhaseOpen},
	})
}

// Drop reports the connection as closed with code.
func (e *Engine) Drop(code int, message string) {
	e.mu.Lock()
	e.open = false
	e.mu.Unlock()
	e.Emit(protocol.Event{
		Kind: protocol.EventConnectionUpdate,
		Connection: protocol.ConnectionUpdate{
			Phase:       protocol.PhaseClose,
			CloseReason: &protocol.CloseReason{Code: code, Message: message},
		},
	})
}

// Emit pushes ev onto the event stream. It is a no-op after Close and drops
// the event when the stream buffer is full.
func (e *Engine) Emit(ev protocol.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.events <- ev:
	default:
	}
}

func (e *Engine) SendMessage(ctx context.Context, recipient string, content protocol.Content) (string, error) {
	e.mu.Lock()
	closed, open := e.closed, e.open
	e.mu.Unlock()
	if closed {
		return "", ErrClosed
	}
	if !open {
		return "", ErrNotOpen
	}

	id := uuid.NewString()
	if e.factory != nil && e.factory.Send != nil {
		var err error
		id, err = e.factory.Send(ctx, e.cfg.SessionID, recipient, content)
		if err != nil {
			return "", err
		}
	}

	e.mu.Lock()
	e.sent = append(e.sent, SentMessage{ID: id, Recipient: recipient, Content: content})
	e.mu.Unlock()
	return id, nil
}

// Sent returns a copy of the messages sent so far.
func (e *Engine) Sent() []SentMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]SentMessage, len(e.sent))
	copy(out, e.sent)
	return out
}

// Connected reports whether Connect has been called.
func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// Closed reports whether Close has been called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.open = false
	close(e.events)
	return nil
}
