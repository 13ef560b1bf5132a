package otel

import (
	"context"
	"errors"
	"fmt"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

// Constructor errors.
var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// MetricsSource is the read side of a goSession.Manager.
type MetricsSource interface {
	MetricsSnapshot() goSession.MetricsSnapshot
	NotifierDropped() uint64
	ActiveSessions() int
}

type latencyInstruments struct {
	id      goSession.MetricID
	buckets [8]metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter publishes a Manager's metrics through observable instruments.
type OTelExporter struct {
	source       MetricsSource
	registration metric.Registration
	counters     map[goSession.MetricID]metric.Int64ObservableCounter
	latency      []latencyInstruments
	dropped      metric.Int64ObservableCounter
	active       metric.Int64ObservableGauge
}

// instruments creates instruments on one meter and remembers them for
// callback registration. The first failure sticks.
type instruments struct {
	meter metric.Meter
	all   []metric.Observable
	err   error
}

func (r *instruments) counter(name, help string) metric.Int64ObservableCounter {
	if r.err != nil {
		return nil
	}
	ins, err := r.meter.Int64ObservableCounter(name, metric.WithDescription(help))
	if err != nil {
		r.err = fmt.Errorf("create counter %s: %w", name, err)
		return nil
	}
	r.all = append(r.all, ins)
	return ins
}

func (r *instruments) gauge(name, help string) metric.Int64ObservableGauge {
	if r.err != nil {
		return nil
	}
	ins, err := r.meter.Int64ObservableGauge(name, metric.WithDescription(help))
	if err != nil {
		r.err = fmt.Errorf("create gauge %s: %w", name, err)
		return nil
	}
	r.all = append(r.all, ins)
	return ins
}

// NewOTelExporter registers instruments on meter that read from m.
func NewOTelExporter(meter metric.Meter, m *goSession.Manager) (*OTelExporter, error) {
	if m == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, m)
}

// NewOTelExporterFromSource registers instruments on meter that read from source.
func NewOTelExporterFromSource(meter metric.Meter, source MetricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	reg := &instruments{meter: meter}
	e := &OTelExporter{
		source:   source,
		counters: make(map[goSession.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
	}
	for _, def := range internaldefs.CounterDefs {
		e.counters[def.ID] = reg.counter(def.Name, def.Help)
	}
	for _, def := range internaldefs.HistogramDefs {
		li := latencyInstruments{id: def.ID}
		for i, suffix := range internaldefs.HistogramBoundSuffix {
			li.buckets[i] = reg.gauge(def.Name+"_bucket_le_"+suffix, "Cumulative histogram bucket count.")
		}
		li.count = reg.gauge(def.Name+"_count", "Histogram total sample count.")
		e.latency = append(e.latency, li)
	}
	e.dropped = reg.counter("gosession_notifier_dropped_total", "Lifecycle events dropped because a callback buffer was full.")
	e.active = reg.gauge("gosession_sessions_active", "Registered sessions.")
	if reg.err != nil {
		return nil, reg.err
	}

	registration, err := meter.RegisterCallback(e.observe, reg.all...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for id, ins := range e.counters {
		o.ObserveInt64(ins, int64(snap.Counters[id]))
	}
	for _, li := range e.latency {
		cum := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[li.id]))
		for i, ins := range li.buckets {
			o.ObserveInt64(ins, int64(cum[i]))
		}
		o.ObserveInt64(li.count, int64(cum[len(cum)-1]))
	}
	o.ObserveInt64(e.dropped, int64(e.source.NotifierDropped()))
	o.ObserveInt64(e.active, int64(e.source.ActiveSessions()))
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
