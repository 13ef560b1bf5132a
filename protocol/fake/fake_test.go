package fake

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/goSession/protocol"
)

func next(t *testing.T, e *Engine) protocol.Event {
	t.Helper()
	select {
	case ev, ok := <-e.Events():
		if !ok {
			t.Fatal("event stream closed")
		}
		return ev
	default:
		t.Fatal("expected a buffered event")
	}
	return protocol.Event{}
}

func TestUnregisteredCredentialsReceivePairingCode(t *testing.T) {
	ctx := context.Background()
	f := NewFactory()
	creds, err := f.GenerateCredentials(ctx)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if IsRegistered(creds) {
		t.Fatal("generated credentials must not be registered")
	}

	eng, err := f.New(ctx, protocol.Config{SessionID: "s1", Credentials: creds})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := eng.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ev := next(t, f.Latest("s1"))
	if ev.Kind != protocol.EventConnectionUpdate || ev.Connection.PairingCode == "" {
		t.Fatalf("expected pairing code, got %+v", ev)
	}

	f.Latest("s1").Pair()
	if ev := next(t, f.Latest("s1")); ev.Kind != protocol.EventCredentialsUpdated || !IsRegistered(ev.Credentials) {
		t.Fatalf("expected registered credentials, got %+v", ev)
	}
	if ev := next(t, f.Latest("s1")); ev.Connection.Phase != protocol.PhaseOpen {
		t.Fatalf("expected open, got %+v", ev)
	}
}

func TestRegisteredCredentialsOpenAndSend(t *testing.T) {
	ctx := context.Background()
	f := NewFactory()
	eng, err := f.New(ctx, protocol.Config{SessionID: "s2", Credentials: RegisteredCredentials()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	fe := eng.(*Engine)

	if _, err := fe.SendMessage(ctx, "15551234567", protocol.Content{Text: "early"}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
	if err := eng.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if ev := next(t, fe); ev.Connection.Phase != protocol.PhaseOpen {
		t.Fatalf("expected open, got %+v", ev)
	}

	id, err := fe.SendMessage(ctx, "15551234567", protocol.Content{Text: "hi"})
	if err != nil || id == "" {
		t.Fatalf("send: %q %v", id, err)
	}
	if sent := fe.Sent(); len(sent) != 1 || sent[0].Content.Text != "hi" {
		t.Fatalf("unexpected sent log %+v", sent)
	}

	if err := eng.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := fe.SendMessage(ctx, "15551234567", protocol.Content{Text: "late"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	fe.Emit(protocol.Event{Kind: protocol.EventConnectionUpdate})
	if f.Built() != 1 || len(f.Engines("s2")) != 1 {
		t.Fatalf("unexpected factory bookkeeping built=%d", f.Built())
	}
}

func TestNewErrHook(t *testing.T) {
	f := NewFactory()
	boom := errors.New("boom")
	f.NewErr = func(string) error { return boom }
	if _, err := f.New(context.Background(), protocol.Config{SessionID: "s3"}); !errors.Is(err, boom) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if f.Built() != 0 {
		t.Fatal("failed construction counted as built")
	}
}
