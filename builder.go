package goSession

import (
	"errors"

	"github.com/MrEthical07/goSession/authstate"
	"github.com/MrEthical07/goSession/internal/clock"
	"github.com/MrEthical07/goSession/protocol"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Builder assembles a Manager.
//
// Builder instances are intended to be configured during initialization and
// used once.
type Builder struct {
	config  Config
	redis   redis.UniversalClient
	kv      authstate.KV
	factory protocol.Factory
	sink    MessageSink
	logger  zerolog.Logger
	clock   clock.Clock

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
		logger: zerolog.Nop(),
	}
}

// WithConfig replaces the whole configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing the auth state store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithKV sets the auth state backend directly. It takes precedence over
// WithRedis.
func (b *Builder) WithKV(kv authstate.KV) *Builder {
	b.kv = kv
	return b
}

// WithEngineFactory sets the protocol engine factory. It is required.
func (b *Builder) WithEngineFactory(f protocol.Factory) *Builder {
	b.factory = f
	return b
}

// WithMessageSink sets the sent-message history sink.
func (b *Builder) WithMessageSink(sink MessageSink) *Builder {
	b.sink = sink
	return b
}

// WithLogger sets the root logger. Components log through children of it.
func (b *Builder) WithLogger(l zerolog.Logger) *Builder {
	b.logger = l
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the send latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

func (b *Builder) withClock(c clock.Clock) *Builder {
	b.clock = c
	return b
}

// Build validates the configuration and returns a ready Manager.
//
// Build fails when the builder was already used, when no engine factory or
// storage backend is set, or when the configuration is invalid.
func (b *Builder) Build() (*Manager, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.factory == nil {
		return nil, errors.New("engine factory required")
	}

	kv := b.kv
	if kv == nil {
		if b.redis == nil {
			return nil, errors.New("redis client required")
		}
		kv = authstate.NewRedisKV(b.redis)
	}

	store, err := authstate.NewStore(kv, b.factory.GenerateCredentials, authstate.Options{
		Prefix:        cfg.AuthState.RedisPrefix,
		EncryptionKey: cloneBytes(cfg.AuthState.EncryptionKey),
		Logger:        b.logger,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Dispatch.RateLimit > 0 && b.redis == nil {
		return nil, errors.New("send rate limit requires a redis client")
	}

	c := b.clock
	if c == nil {
		c = clock.Real{}
	}

	m := newManager(cfg, managerDeps{
		factory: b.factory,
		store:   store,
		sink:    b.sink,
		redis:   b.redis,
		logger:  b.logger,
		clock:   c,
	})

	b.built = true

	return m, nil
}
