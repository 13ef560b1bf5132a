package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/msgstore"
	"github.com/MrEthical07/goSession/protocol/fake"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
)

type options struct {
	sessions    int
	concurrency int
	sends       int
	redisAddr   string
	configPath  string
	historyPath string
	logLevel    string
	readyWait   time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "gosession-loadtest",
		Short:         "Drive many fake sessions through pairing, sending and teardown",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.sessions <= 0 || opts.concurrency <= 0 || opts.sends <= 0 {
				return errors.New("sessions, concurrency, and sends must be > 0")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.sessions, "sessions", 200, "number of sessions to create")
	flags.IntVar(&opts.concurrency, "concurrency", 64, "number of concurrent workers")
	flags.IntVar(&opts.sends, "sends", 20000, "messages to send across all sessions")
	flags.StringVar(&opts.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	flags.StringVar(&opts.configPath, "config", "", "TOML file overlaid on the default config")
	flags.StringVar(&opts.historyPath, "history", "", "SQLite file that records sent messages")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "zerolog level")
	flags.DurationVar(&opts.readyWait, "ready-timeout", time.Minute, "how long to wait for every session to become ready")
	return cmd
}

func run(ctx context.Context, opts options) error {
	level, err := zerolog.ParseLevel(opts.logLevel)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Str("app", "gosession-loadtest").Logger()

	cfg := goSession.DefaultConfig()
	if opts.configPath != "" {
		cfg, err = goSession.LoadConfigFile(opts.configPath)
		if err != nil {
			return err
		}
	}
	cfg.Dispatch.MaxQueueSize = max(cfg.Dispatch.MaxQueueSize, opts.sends/opts.sessions+1)

	client, cleanup, err := openRedis(opts.redisAddr)
	if err != nil {
		return err
	}
	defer cleanup()

	factory := fake.NewFactory()
	builder := goSession.New().
		WithConfig(cfg).
		WithRedis(client).
		WithEngineFactory(factory).
		WithLogger(logger).
		WithMetricsEnabled(true).
		WithLatencyHistograms(true)

	var history *msgstore.SQLiteSink
	if opts.historyPath != "" {
		history, err = msgstore.Open(ctx, opts.historyPath)
		if err != nil {
			return err
		}
		defer history.Close()
		builder = builder.WithMessageSink(history)
	}

	mgr, err := builder.Build()
	if err != nil {
		return err
	}
	defer mgr.Close()

	ids := make([]string, opts.sessions)
	for i := range ids {
		ids[i] = fmt.Sprintf("lt-%05d", i)
	}

	pairStats, err := runPairPhase(ctx, mgr, factory, ids, opts)
	if err != nil {
		return err
	}
	sendStats := runSendPhase(ctx, mgr, ids, opts)
	deleteStats := runDeletePhase(ctx, mgr, ids, opts.concurrency)

	fmt.Println("---- results ----")
	printStats("pair", pairStats)
	printStats("send", sendStats)
	printStats("delete", deleteStats)

	snap := mgr.MetricsSnapshot()
	fmt.Printf("counters: connected=%d send_success=%d send_failure=%d send_rejected=%d notifier_dropped=%d\n",
		snap.Counters[goSession.MetricConnected],
		snap.Counters[goSession.MetricSendSuccess],
		snap.Counters[goSession.MetricSendFailure],
		snap.Counters[goSession.MetricSendRejected],
		mgr.NotifierDropped(),
	)
	return nil
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// runPairPhase creates every session and completes pairing from the pairing
// code callback. Latency runs from CreateSession to the first ready status.
func runPairPhase(ctx context.Context, mgr *goSession.Manager, factory *fake.Factory, ids []string, opts options) (phaseStats, error) {
	var (
		mu      sync.Mutex
		started = make(map[string]time.Time, len(ids))
		ready   = make(map[string]time.Duration, len(ids))
		fails   atomic.Int64
	)

	cb := goSession.Callbacks{
		OnPairingCode: func(_ context.Context, sessionID, _ string) error {
			if e := factory.Latest(sessionID); e != nil {
				e.Pair()
			}
			return nil
		},
		OnConnected: func(_ context.Context, sessionID string) error {
			mu.Lock()
			if t0, ok := started[sessionID]; ok {
				if _, seen := ready[sessionID]; !seen {
					ready[sessionID] = time.Since(t0)
				}
			}
			mu.Unlock()
			return nil
		},
	}

	start := time.Now()
	p := pool.New().WithMaxGoroutines(opts.concurrency)
	for _, id := range ids {
		p.Go(func() {
			mu.Lock()
			started[id] = time.Now()
			mu.Unlock()
			if _, err := mgr.CreateSession(ctx, id, goSession.Options{}, cb); err != nil {
				fails.Add(1)
			}
		})
	}
	p.Wait()

	deadline := time.Now().Add(opts.readyWait)
	for {
		if allReady(ctx, mgr, ids) {
			break
		}
		if time.Now().After(deadline) {
			return phaseStats{}, fmt.Errorf("sessions not ready after %s", opts.readyWait)
		}
		select {
		case <-ctx.Done():
			return phaseStats{}, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}

	mu.Lock()
	samples := make([]time.Duration, 0, len(ready))
	for _, d := range ready {
		samples = append(samples, d)
	}
	mu.Unlock()
	return computeStats(time.Since(start), samples, fails.Load()), nil
}

func allReady(ctx context.Context, mgr *goSession.Manager, ids []string) bool {
	for _, id := range ids {
		rec, err := mgr.GetStatus(ctx, id)
		if err != nil || !rec.Ready {
			return false
		}
	}
	return true
}

func runSendPhase(ctx context.Context, mgr *goSession.Manager, ids []string, opts options) phaseStats {
	var (
		mu        sync.Mutex
		failures  atomic.Int64
		latencies = make([]time.Duration, 0, opts.sends)
	)

	start := time.Now()
	p := pool.New().WithMaxGoroutines(opts.concurrency)
	for i := 0; i < opts.sends; i++ {
		p.Go(func() {
			id := ids[i%len(ids)]
			t0 := time.Now()
			_, err := mgr.Send(ctx, id, goSession.Payload{
				To:   fmt.Sprintf("1555%07d", i%10_000_000),
				Text: fmt.Sprintf("load message %d", i),
			})
			d := time.Since(t0)
			if err != nil {
				failures.Add(1)
			}
			mu.Lock()
			latencies = append(latencies, d)
			mu.Unlock()
		})
	}
	p.Wait()
	return computeStats(time.Since(start), latencies, failures.Load())
}

func runDeletePhase(ctx context.Context, mgr *goSession.Manager, ids []string, concurrency int) phaseStats {
	var (
		mu        sync.Mutex
		failures  atomic.Int64
		latencies = make([]time.Duration, 0, len(ids))
	)

	start := time.Now()
	p := pool.New().WithMaxGoroutines(concurrency)
	for _, id := range ids {
		p.Go(func() {
			t0 := time.Now()
			err := mgr.DeleteSession(ctx, id)
			d := time.Since(t0)
			if err != nil {
				failures.Add(1)
			}
			mu.Lock()
			latencies = append(latencies, d)
			mu.Unlock()
		})
	}
	p.Wait()
	return computeStats(time.Since(start), latencies, failures.Load())
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
