package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds limiter tuning parameters. A Limit of zero disables the
// limiter.
type Config struct {
	Limit  int
	Window time.Duration
	// Prefix namespaces the counter keys.
	Prefix string
}

// Limiter enforces a per-session send budget with Redis fixed-window
// counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Enabled reports whether the limiter enforces anything.
func (l *Limiter) Enabled() bool {
	return l != nil && l.redis != nil && l.config.Limit > 0
}

// Allow counts one send for sessionID and returns ErrRateLimited once the
// window budget is spent.
func (l *Limiter) Allow(ctx context.Context, sessionID string) error {
	if !l.Enabled() {
		return nil
	}
	count, err := l.incrementWithTTL(ctx, l.key(sessionID), l.config.Window)
	if err != nil {
		return err
	}
	if count > int64(l.config.Limit) {
		return ErrRateLimited
	}
	return nil
}

// Remaining returns the sends left in the current window.
func (l *Limiter) Remaining(ctx context.Context, sessionID string) (int, error) {
	if !l.Enabled() {
		return 0, nil
	}
	count, err := l.redis.Get(ctx, l.key(sessionID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return l.config.Limit, nil
		}
		return 0, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	if left := int64(l.config.Limit) - count; left > 0 {
		return int(left), nil
	}
	return 0, nil
}

// Reset clears the counter for sessionID.
func (l *Limiter) Reset(ctx context.Context, sessionID string) error {
	if !l.Enabled() {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) key(sessionID string) string {
	return l.config.Prefix + sessionID
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
