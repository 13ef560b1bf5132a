package goSession

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter or histogram.
type MetricID uint16

const (
	MetricSessionCreated MetricID = iota
	MetricSessionDeleted
	MetricSessionRestored
	MetricConnected
	MetricDisconnected
	MetricFailed
	MetricReconnectScheduled
	MetricReconnectSuppressed
	MetricReconnectExhausted
	MetricRestartScheduled
	MetricConnectTimeout
	MetricEngineBuildFailed
	MetricCredentialsSaved
	MetricCredentialsSaveFailed
	MetricSendSuccess
	MetricSendFailure
	MetricSendRejected
	MetricMessageSinkFailure
	// MetricSendLatency is the only histogram.
	MetricSendLatency
	metricIDCount
)

// latencyBoundsMs are the inclusive upper bounds of the first seven send
// latency buckets. The eighth bucket takes everything slower.
var latencyBoundsMs = [...]int64{5, 10, 25, 50, 100, 250, 500}

const latencyBucketCount = len(latencyBoundsMs) + 1

// counterSlot keeps each counter on its own cache line.
type counterSlot struct {
	n uint64
	_ [56]byte
}

// Metrics is a fixed set of lock-free counters plus the send latency
// histogram.
type Metrics struct {
	on       bool
	latency  bool
	slots    [metricIDCount]counterSlot
	sendHist [latencyBucketCount]uint64
}

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics builds a Metrics. With Enabled false every call is a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{on: cfg.Enabled, latency: cfg.Enabled && cfg.EnableLatencyHistograms}
}

func (m *Metrics) Enabled() bool { return m != nil && m.on }

func (m *Metrics) LatencyEnabled() bool { return m != nil && m.latency }

// Inc adds one to counter id.
func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= MetricSendLatency {
		return
	}
	atomic.AddUint64(&m.slots[id].n, 1)
}

// Observe records d in the histogram of id. Only MetricSendLatency has one.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if id != MetricSendLatency || !m.LatencyEnabled() {
		return
	}
	atomic.AddUint64(&m.sendHist[latencyBucket(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricSendLatency {
		return 0
	}
	return atomic.LoadUint64(&m.slots[id].n)
}

// Snapshot copies every counter and, when enabled, the latency histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(MetricSendLatency)),
		Histograms: make(map[MetricID][]uint64, 1),
	}
	if !m.Enabled() {
		return snap
	}
	for id := MetricID(0); id < MetricSendLatency; id++ {
		snap.Counters[id] = atomic.LoadUint64(&m.slots[id].n)
	}
	if m.latency {
		hist := make([]uint64, latencyBucketCount)
		for i := range hist {
			hist[i] = atomic.LoadUint64(&m.sendHist[i])
		}
		snap.Histograms[MetricSendLatency] = hist
	}
	return snap
}

func latencyBucket(d time.Duration) int {
	ms := d.Milliseconds()
	for i, bound := range latencyBoundsMs {
		if ms <= bound {
			return i
		}
	}
	return len(latencyBoundsMs)
}
