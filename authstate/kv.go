package authstate

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// KV is the storage surface the auth state store needs.
type KV interface {
	// Get returns the value for key; found is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// GetMany returns one entry per key, nil for absent keys.
	GetMany(ctx context.Context, keys []string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	// ScanPrefix lists every key beginning with prefix.
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)
}

// RedisKV implements KV on a go-redis client.
type RedisKV struct {
	redis redis.UniversalClient
}

// NewRedisKV wraps client.
func NewRedisKV(client redis.UniversalClient) *RedisKV {
	return &RedisKV{redis: client}
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (r *RedisKV) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	values, err := r.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		switch typed := v.(type) {
		case string:
			out[i] = []byte(typed)
		case []byte:
			out[i] = typed
		}
	}
	return out, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	return r.redis.Set(ctx, key, value, 0).Err()
}

func (r *RedisKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.redis.Del(ctx, keys...).Err()
}

func (r *RedisKV) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeGlob(prefix) + "*"
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := r.redis.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
