package goSession

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/MrEthical07/goSession/authstate"
	"github.com/MrEthical07/goSession/internal/dispatch"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/internal/supervisor"
)

// Kind classifies every error returned by the Manager.
type Kind string

const (
	KindValidation Kind = "ValidationError"
	KindSession    Kind = "SessionError"
	KindConnection Kind = "ConnectionError"
	KindAuth       Kind = "AuthError"
	KindMessage    Kind = "MessageError"
)

// Kind sentinels. errors.Is(err, ErrSession) holds for every SessionError.
var (
	ErrValidation = errors.New("validation error")
	ErrSession    = errors.New("session error")
	ErrConnection = errors.New("connection error")
	ErrAuth       = errors.New("auth error")
	ErrMessage    = errors.New("message error")
)

var (
	// ErrInvalidSessionID rejects ids outside [A-Za-z0-9._-]{1,128}.
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrInvalidRecipient rejects recipients without 5..20 digits.
	ErrInvalidRecipient = errors.New("invalid recipient")
	// ErrInvalidPayload rejects empty, oversized or ambiguous message bodies.
	ErrInvalidPayload = errors.New("invalid message payload")

	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionAlreadyExists = errors.New("session already exists")
	ErrSessionCreation      = errors.New("session creation failed")
	ErrSessionDeletion      = errors.New("session deletion failed")
	ErrSessionFailed        = errors.New("session failed terminally")
	ErrManagerClosed        = errors.New("manager closed")

	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrLoggedOut          = errors.New("session logged out")
	ErrConnectTimeout     = errors.New("connect timed out")

	ErrCredentialsSave = errors.New("credentials save failed")
	ErrAuthUnavailable = errors.New("auth state unavailable")

	ErrNotConnected = errors.New("session not connected")
	ErrQueueFull    = errors.New("send queue full")
	ErrSendFailed   = errors.New("send failed")
	ErrRateLimited  = errors.New("send rate limit exceeded")
)

var kindSentinels = map[Kind]error{
	KindValidation: ErrValidation,
	KindSession:    ErrSession,
	KindConnection: ErrConnection,
	KindAuth:       ErrAuth,
	KindMessage:    ErrMessage,
}

// Error is the classified error returned at the public boundary. It carries
// a code, a message and structured context, never raw engine payloads.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Context map[string]string
	// Err is the specific sentinel (ErrSessionNotFound, ErrSendFailed, ...).
	Err error
	// Cause, when set, is the underlying failure and joins the Unwrap chain.
	Cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(e.Context[k])
		}
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the specific cause.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 3)
	if s, ok := kindSentinels[e.Kind]; ok {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

func newError(kind Kind, code string, sentinel error, msg string, kv ...string) *Error {
	e := &Error{Kind: kind, Code: code, Message: msg, Err: sentinel}
	if len(kv) > 1 {
		e.Context = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			e.Context[kv[i]] = kv[i+1]
		}
	}
	return e
}

func notFound(id string) *Error {
	return newError(KindSession, "SESSION_NOT_FOUND", ErrSessionNotFound, "session not found", "session_id", id)
}

func validationError(sentinel error, msg string, kv ...string) *Error {
	return newError(KindValidation, "VALIDATION_FAILED", sentinel, msg, kv...)
}

// classifySendError maps dispatch and engine failures to a MessageError. A
// session removed while the send was queued is a SessionError.
func classifySendError(err error, sessionID, recipient string) *Error {
	switch {
	case errors.Is(err, dispatch.ErrNotConnected), errors.Is(err, supervisor.ErrNotReady):
		return newError(KindMessage, "NOT_CONNECTED", ErrNotConnected, "session not connected",
			"session_id", sessionID)
	case errors.Is(err, rate.ErrRateLimited):
		return newError(KindMessage, "RATE_LIMITED", ErrRateLimited, "send rate limit exceeded",
			"session_id", sessionID)
	case errors.Is(err, dispatch.ErrQueueFull):
		return newError(KindMessage, "QUEUE_FULL", ErrQueueFull, "send queue full",
			"session_id", sessionID)
	case errors.Is(err, dispatch.ErrSessionClosed):
		return newError(KindSession, "SESSION_CLOSED", ErrSessionNotFound, "session closed while sending",
			"session_id", sessionID, "recipient", recipient)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newError(KindMessage, "SEND_CANCELLED", err, "send cancelled",
			"session_id", sessionID, "recipient", recipient)
	default:
		return newError(KindMessage, "SEND_FAILED", ErrSendFailed, "send failed after retries",
			"session_id", sessionID, "recipient", recipient, "cause", rootCause(err))
	}
}

// classifyEventError maps an error published by a supervisor.
func classifyEventError(err error, sessionID string) *Error {
	switch {
	case errors.Is(err, supervisor.ErrReconnectExhausted):
		return newError(KindConnection, "RECONNECT_EXHAUSTED", ErrReconnectExhausted,
			"reconnect attempts exhausted", "session_id", sessionID)
	case errors.Is(err, supervisor.ErrLoggedOut):
		return newError(KindConnection, "LOGGED_OUT", ErrLoggedOut,
			"session logged out", "session_id", sessionID)
	case errors.Is(err, supervisor.ErrCredentialsSave):
		return newError(KindAuth, "CREDENTIALS_SAVE_FAILED", ErrCredentialsSave,
			"credentials could not be saved", "session_id", sessionID)
	case errors.Is(err, supervisor.ErrAuthPurge), errors.Is(err, authstate.ErrStoreUnavailable):
		return newError(KindAuth, "AUTH_STATE_UNAVAILABLE", ErrAuthUnavailable,
			"auth state store unavailable", "session_id", sessionID)
	case errors.Is(err, supervisor.ErrConnectTimeout):
		return newError(KindConnection, "CONNECT_TIMEOUT", ErrConnectTimeout,
			"connect timed out", "session_id", sessionID)
	default:
		return newError(KindConnection, "CONNECTION_FAILED", err,
			"connection failed", "session_id", sessionID)
	}
}

// rootCause returns the message of the innermost error, following the last
// branch of multi-error wraps.
func rootCause(err error) string {
	for {
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			errs := u.Unwrap()
			if len(errs) == 0 {
				return err.Error()
			}
			err = errs[len(errs)-1]
		case interface{ Unwrap() error }:
			next := u.Unwrap()
			if next == nil {
				return err.Error()
			}
			err = next
		default:
			return err.Error()
		}
	}
}
