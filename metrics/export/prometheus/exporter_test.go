package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goSession "github.com/MrEthical07/goSession"
)

type fakeSource struct {
	snapshot goSession.MetricsSnapshot
	dropped  uint64
	active   int
}

func (f fakeSource) MetricsSnapshot() goSession.MetricsSnapshot { return f.snapshot }
func (f fakeSource) NotifierDropped() uint64                    { return f.dropped }
func (f fakeSource) ActiveSessions() int                        { return f.active }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters:   map[goSession.MetricID]uint64{},
			Histograms: map[goSession.MetricID][]uint64{},
		},
		dropped: 0,
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderDeterministicIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters: map[goSession.MetricID]uint64{
				goSession.MetricSessionCreated: 7,
			},
			Histograms: map[goSession.MetricID][]uint64{
				goSession.MetricSendLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
		active:  5,
	})

	out := exp.Render()
	if !strings.Contains(out, "gosession_session_created_total 7") {
		t.Fatalf("expected session_created counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "gosession_send_latency_seconds_bucket{le=\"0.005\"} 1") {
		t.Fatalf("expected first histogram bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "gosession_send_latency_seconds_bucket{le=\"+Inf\"} 36") {
		t.Fatalf("expected +Inf cumulative bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "gosession_notifier_dropped_total 2") {
		t.Fatalf("expected notifier dropped counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "# TYPE gosession_sessions_active gauge\ngosession_sessions_active 5") {
		t.Fatalf("expected active sessions gauge in output, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters:   map[goSession.MetricID]uint64{goSession.MetricSendSuccess: 1},
			Histograms: map[goSession.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "gosession_send_success_total 1") {
		t.Fatalf("expected send counter in body, got:\n%s", rec.Body.String())
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters: map[goSession.MetricID]uint64{
				goSession.MetricSessionCreated:     1000,
				goSession.MetricConnected:          980,
				goSession.MetricDisconnected:       40,
				goSession.MetricReconnectScheduled: 38,
				goSession.MetricSendSuccess:        80000,
				goSession.MetricSendFailure:        12,
				goSession.MetricSendRejected:       3,
			},
			Histograms: map[goSession.MetricID][]uint64{
				goSession.MetricSendLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
		active: 1000,
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
