package goSession

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goSession/internal/backoff"
	"github.com/MrEthical07/goSession/protocol"
)

// Config is the Manager configuration. Build validates a copy of it; later
// changes to the caller's value have no effect.
type Config struct {
	Connection ConnectionConfig `toml:"connection"`
	Pairing    PairingConfig    `toml:"pairing"`
	Notifier   NotifierConfig   `toml:"notifier"`
	Dispatch   DispatchConfig   `toml:"dispatch"`
	AuthState  AuthStateConfig  `toml:"auth_state"`
	Message    MessageConfig    `toml:"message"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

/*
====================================
CONNECTION CONFIG
====================================
*/

// ConnectionConfig tunes the connection supervisor.
type ConnectionConfig struct {
	ReconnectBase        time.Duration `toml:"reconnect_base"`
	ReconnectCap         time.Duration `toml:"reconnect_cap"`
	JitterRatio          float64       `toml:"jitter_ratio"`
	MaxReconnectAttempts int           `toml:"max_reconnect_attempts"`
	// ConnectTimeout bounds the wait for the first connection update after
	// Connect.
	ConnectTimeout time.Duration `toml:"connect_timeout"`
	// ReadySettleDelay is the wait between open and ready. Zero means ready
	// on open.
	ReadySettleDelay time.Duration `toml:"ready_settle_delay"`
	// RestartDelay applies to restart-required closes, which do not consume
	// a backoff attempt.
	RestartDelay       time.Duration `toml:"restart_delay"`
	MaxRestarts        int           `toml:"max_restarts"`
	TerminalCloseCodes []int         `toml:"terminal_close_codes"`
	RestartCloseCodes  []int         `toml:"restart_close_codes"`
}

// PairingConfig controls pairing code exposure.
type PairingConfig struct {
	CodeTTL time.Duration `toml:"code_ttl"`
}

// NotifierConfig controls lifecycle callback delivery.
type NotifierConfig struct {
	BufferSize int  `toml:"buffer_size"`
	DropIfFull bool `toml:"drop_if_full"`
	// CallbackTimeout bounds the wait for one callback. A callback still
	// running after it overlaps the next callback of its session.
	CallbackTimeout time.Duration `toml:"callback_timeout"`
}

// DispatchConfig controls the per-session send queue.
type DispatchConfig struct {
	Concurrency  int           `toml:"concurrency"`
	MaxQueueSize int           `toml:"max_queue_size"`
	MaxAttempts  int           `toml:"max_attempts"`
	RetryDelay   time.Duration `toml:"retry_delay"`

	// RateLimit caps sends per session per RateWindow across every process
	// sharing the Redis deployment. Zero disables it.
	RateLimit  int           `toml:"rate_limit"`
	RateWindow time.Duration `toml:"rate_window"`
}

// AuthStateConfig controls credential persistence.
type AuthStateConfig struct {
	RedisPrefix string `toml:"redis_prefix"`
	// EncryptionKey, when set, must be 32 bytes.
	EncryptionKey []byte `toml:"-"`
}

// MessageConfig bounds outbound payloads.
type MessageConfig struct {
	MaxTextLength     int      `toml:"max_text_length"`
	MaxCaptionLength  int      `toml:"max_caption_length"`
	MaxImageBytes     int      `toml:"max_image_bytes"`
	AllowedImageTypes []string `toml:"allowed_image_types"`
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool `toml:"enabled"`
	EnableLatencyHistograms bool `toml:"enable_latency_histograms"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration Build uses when none is supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Connection: ConnectionConfig{
			ReconnectBase:        5 * time.Second,
			ReconnectCap:         5 * time.Minute,
			JitterRatio:          backoff.DefaultJitterRatio,
			MaxReconnectAttempts: 10,
			ConnectTimeout:       40 * time.Second,
			ReadySettleDelay:     0,
			RestartDelay:         10 * time.Second,
			MaxRestarts:          3,
			TerminalCloseCodes:   []int{protocol.CodeLoggedOut},
			RestartCloseCodes:    []int{protocol.CodeRestartRequired},
		},
		Pairing: PairingConfig{
			CodeTTL: 60 * time.Second,
		},
		Notifier: NotifierConfig{
			BufferSize:      256,
			DropIfFull:      true,
			CallbackTimeout: 30 * time.Second,
		},
		Dispatch: DispatchConfig{
			Concurrency:  1,
			MaxQueueSize: 100,
			MaxAttempts:  3,
			RetryDelay:   time.Second,
			RateWindow:   time.Minute,
		},
		AuthState: AuthStateConfig{
			RedisPrefix: "gosession:auth:",
		},
		Message: MessageConfig{
			MaxTextLength:     4096,
			MaxCaptionLength:  1024,
			MaxImageBytes:     16 << 20,
			AllowedImageTypes: []string{"image/jpeg", "image/png", "image/webp", "image/gif"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Connection.TerminalCloseCodes = cloneInts(cfg.Connection.TerminalCloseCodes)
	out.Connection.RestartCloseCodes = cloneInts(cfg.Connection.RestartCloseCodes)
	out.AuthState.EncryptionKey = cloneBytes(cfg.AuthState.EncryptionKey)
	if cfg.Message.AllowedImageTypes != nil {
		out.Message.AllowedImageTypes = append([]string(nil), cfg.Message.AllowedImageTypes...)
	}
	return out
}

func cloneInts(in []int) []int {
	if in == nil {
		return nil
	}
	return append([]int(nil), in...)
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Connection
	policy := c.backoffPolicy()
	if err := policy.Validate(); err != nil {
		return err
	}
	if c.Connection.ConnectTimeout < 0 {
		return errors.New("Connection ConnectTimeout must be >= 0")
	}
	if c.Connection.ReadySettleDelay < 0 {
		return errors.New("Connection ReadySettleDelay must be >= 0")
	}
	if c.Connection.RestartDelay < 0 {
		return errors.New("Connection RestartDelay must be >= 0")
	}
	if c.Connection.MaxRestarts < 0 {
		return errors.New("Connection MaxRestarts must be >= 0")
	}
	for _, code := range c.Connection.RestartCloseCodes {
		for _, terminal := range c.Connection.TerminalCloseCodes {
			if code == terminal {
				return errors.New("Connection close code cannot be both terminal and restart")
			}
		}
	}

	// Pairing
	if c.Pairing.CodeTTL <= 0 {
		return errors.New("Pairing CodeTTL must be > 0")
	}

	// Notifier
	if c.Notifier.BufferSize <= 0 {
		return errors.New("Notifier BufferSize must be > 0")
	}
	if c.Notifier.CallbackTimeout <= 0 {
		return errors.New("Notifier CallbackTimeout must be > 0")
	}

	// Dispatch
	if c.Dispatch.Concurrency < 1 {
		return errors.New("Dispatch Concurrency must be >= 1")
	}
	if c.Dispatch.MaxQueueSize < 1 {
		return errors.New("Dispatch MaxQueueSize must be >= 1")
	}
	if c.Dispatch.MaxAttempts < 1 {
		return errors.New("Dispatch MaxAttempts must be >= 1")
	}
	if c.Dispatch.RetryDelay < 0 {
		return errors.New("Dispatch RetryDelay must be >= 0")
	}
	if c.Dispatch.RateLimit < 0 {
		return errors.New("Dispatch RateLimit must be >= 0")
	}
	if c.Dispatch.RateLimit > 0 && c.Dispatch.RateWindow <= 0 {
		return errors.New("Dispatch RateWindow must be > 0 when RateLimit is set")
	}

	// Auth state
	if strings.TrimSpace(c.AuthState.RedisPrefix) == "" {
		return errors.New("AuthState RedisPrefix must not be empty")
	}
	if strings.ContainsAny(c.AuthState.RedisPrefix, "*?[]") {
		return errors.New("AuthState RedisPrefix must not contain glob characters")
	}
	if n := len(c.AuthState.EncryptionKey); n != 0 && n != 32 {
		return errors.New("AuthState EncryptionKey must be 32 bytes")
	}

	// Message
	if c.Message.MaxTextLength < 1 {
		return errors.New("Message MaxTextLength must be >= 1")
	}
	if c.Message.MaxCaptionLength < 0 {
		return errors.New("Message MaxCaptionLength must be >= 0")
	}
	if c.Message.MaxImageBytes < 1 {
		return errors.New("Message MaxImageBytes must be >= 1")
	}
	if len(c.Message.AllowedImageTypes) == 0 {
		return errors.New("Message AllowedImageTypes must not be empty")
	}

	return nil
}

func (c *Config) backoffPolicy() backoff.Policy {
	return backoff.Policy{
		Base:        c.Connection.ReconnectBase,
		Cap:         c.Connection.ReconnectCap,
		JitterRatio: c.Connection.JitterRatio,
		MaxAttempts: c.Connection.MaxReconnectAttempts,
	}
}
