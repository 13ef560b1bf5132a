package otel

import (
	"context"
	"errors"
	"sync"
	"testing"

	goSession "github.com/MrEthical07/goSession"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot goSession.MetricsSnapshot
	dropped  uint64
	active   int
}

func (f *fakeSource) MetricsSnapshot() goSession.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := goSession.MetricsSnapshot{
		Counters:   make(map[goSession.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[goSession.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) NotifierDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func (f *fakeSource) ActiveSessions() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.active
}

func newMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func findInt64(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if len(data.DataPoints) > 0 {
					return data.DataPoints[0].Value, true
				}
			case metricdata.Gauge[int64]:
				if len(data.DataPoints) > 0 {
					return data.DataPoints[0].Value, true
				}
			}
		}
	}
	return 0, false
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newMeter()
	meter := provider.Meter("gosession-test")

	src := &fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters: map[goSession.MetricID]uint64{
				goSession.MetricSessionCreated: 3,
			},
			Histograms: map[goSession.MetricID][]uint64{
				goSession.MetricSendLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
		active:  2,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}

	checks := map[string]int64{
		"gosession_session_created_total":              3,
		"gosession_send_latency_seconds_count":         8,
		"gosession_send_latency_seconds_bucket_le_inf": 8,
		"gosession_notifier_dropped_total":             1,
		"gosession_sessions_active":                    2,
	}
	for name, want := range checks {
		got, ok := findInt64(rm, name)
		if !ok {
			t.Fatalf("metric %s not collected", name)
		}
		if got != want {
			t.Fatalf("metric %s = %d, want %d", name, got, want)
		}
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	_, provider := newMeter()
	meter := provider.Meter("gosession-test")

	if _, err := NewOTelExporterFromSource(meter, nil); !errors.Is(err, ErrNilSource) {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewOTelExporter(meter, nil); !errors.Is(err, ErrNilSource) {
		t.Fatalf("expected ErrNilSource for nil manager, got %v", err)
	}
	if _, err := NewOTelExporterFromSource(nil, &fakeSource{}); !errors.Is(err, ErrNilMeter) {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newMeter()
	meter := provider.Meter("gosession-test")

	src := &fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters: map[goSession.MetricID]uint64{
				goSession.MetricSendSuccess: 1,
			},
			Histograms: map[goSession.MetricID][]uint64{
				goSession.MetricSendLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[goSession.MetricSendSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
