//go:build integration
// +build integration

package test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/protocol/fake"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testPrefix = "it:"

// backend is one Redis deployment the suite runs against. open returns a
// client on an empty keyspace; cleanup is registered on t.
type backend struct {
	name string
	open func(t *testing.T) redis.UniversalClient
}

// backends always includes miniredis. REDIS_ADDR adds a real standalone
// server and REDIS_SENTINEL_ADDRS (comma separated, with
// REDIS_SENTINEL_MASTER defaulting to "mymaster") adds a failover client.
func backends() []backend {
	out := []backend{{name: "miniredis", open: openMiniredis}}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		out = append(out, backend{
			name: "standalone:" + addr,
			open: func(t *testing.T) redis.UniversalClient {
				return openLive(t, redis.NewClient(&redis.Options{Addr: addr}))
			},
		})
	}

	if raw := os.Getenv("REDIS_SENTINEL_ADDRS"); raw != "" {
		master := os.Getenv("REDIS_SENTINEL_MASTER")
		if master == "" {
			master = "mymaster"
		}
		var sentinels []string
		for _, a := range strings.Split(raw, ",") {
			if a = strings.TrimSpace(a); a != "" {
				sentinels = append(sentinels, a)
			}
		}
		out = append(out, backend{
			name: "sentinel:" + master,
			open: func(t *testing.T) redis.UniversalClient {
				return openLive(t, redis.NewFailoverClient(&redis.FailoverOptions{
					MasterName:    master,
					SentinelAddrs: sentinels,
				}))
			},
		})
	}
	return out
}

func openMiniredis(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// openLive skips the test when the server is unreachable and flushes the
// database before and after use.
func openLive(t *testing.T, rdb redis.UniversalClient) redis.UniversalClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		t.Skipf("redis unreachable: %v", err)
	}
	rdb.FlushDB(ctx)
	t.Cleanup(func() {
		rdb.FlushDB(context.Background())
		_ = rdb.Close()
	})
	return rdb
}

// newManager builds a Manager on rdb with fast backoff and no dispatch
// retry delay.
func newManager(t *testing.T, rdb redis.UniversalClient, factory *fake.Factory) *goSession.Manager {
	t.Helper()
	cfg := goSession.DefaultConfig()
	cfg.AuthState.RedisPrefix = testPrefix
	cfg.Connection.ReconnectBase = 10 * time.Millisecond
	cfg.Connection.ReconnectCap = 50 * time.Millisecond
	cfg.Connection.JitterRatio = 0
	cfg.Dispatch.RetryDelay = 0

	m, err := goSession.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithEngineFactory(factory).
		Build()
	if err != nil {
		t.Fatalf("build manager: %v", err)
	}
	return m
}

// pairOnCode completes pairing as soon as a pairing code is delivered.
func pairOnCode(factory *fake.Factory) goSession.Callbacks {
	return goSession.Callbacks{
		OnPairingCode: func(_ context.Context, sessionID, _ string) error {
			if e := factory.Latest(sessionID); e != nil {
				e.Pair()
			}
			return nil
		},
	}
}

func waitReady(t *testing.T, m *goSession.Manager, id string) {
	t.Helper()
	waitFor(t, id+" ready", func() bool {
		rec, err := m.GetStatus(context.Background(), id)
		return err == nil && rec.Ready
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func keysWithPrefix(t *testing.T, rdb redis.UniversalClient, prefix string) []string {
	t.Helper()
	keys, err := rdb.Keys(context.Background(), prefix+"*").Result()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	return keys
}
