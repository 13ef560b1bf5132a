package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/metrics/export/internaldefs"
)

// MetricsSource is the read side of a goSession.Manager.
type MetricsSource interface {
	MetricsSnapshot() goSession.MetricsSnapshot
	NotifierDropped() uint64
	ActiveSessions() int
}

// PrometheusExporter renders goSession metrics in Prometheus text exposition format.
type PrometheusExporter struct {
	source MetricsSource
}

// NewPrometheusExporter creates a Prometheus exporter that reads from m.
func NewPrometheusExporter(m *goSession.Manager) *PrometheusExporter {
	return &PrometheusExporter{source: m}
}

// NewPrometheusExporterFromSource creates a Prometheus exporter from a
// custom [MetricsSource].
func NewPrometheusExporterFromSource(source MetricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render writes the current metrics in Prometheus text exposition format.
// It returns "" while metrics are disabled and nothing was dropped.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snap := p.source.MetricsSnapshot()
	dropped := p.source.NotifierDropped()
	if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var out strings.Builder
	out.Grow(8192)
	for _, def := range internaldefs.CounterDefs {
		family(&out, def.Name, def.Help, "counter")
		sample(&out, def.Name, strconv.FormatUint(snap.Counters[def.ID], 10))
	}
	for _, def := range internaldefs.HistogramDefs {
		cum := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[def.ID]))
		family(&out, def.Name, def.Help, "histogram")
		for i, le := range internaldefs.HistogramBounds {
			sample(&out, def.Name+`_bucket{le="`+le+`"}`, strconv.FormatUint(cum[i], 10))
		}
		sample(&out, def.Name+"_count", strconv.FormatUint(cum[len(cum)-1], 10))
		// Snapshots carry bucket counts only.
		sample(&out, def.Name+"_sum", "0")
	}

	const droppedName = "gosession_notifier_dropped_total"
	family(&out, droppedName, "Lifecycle events dropped because a callback buffer was full.", "counter")
	sample(&out, droppedName, strconv.FormatUint(dropped, 10))

	const activeName = "gosession_sessions_active"
	family(&out, activeName, "Registered sessions.", "gauge")
	sample(&out, activeName, strconv.Itoa(p.source.ActiveSessions()))

	return out.String()
}

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

func family(out *strings.Builder, name, help, kind string) {
	out.WriteString("# HELP " + name + " " + helpEscaper.Replace(help) + "\n")
	out.WriteString("# TYPE " + name + " " + kind + "\n")
}

func sample(out *strings.Builder, series, value string) {
	out.WriteString(series + " " + value + "\n")
}
