// Package otel binds goSession metrics to an OpenTelemetry meter.
//
// [NewOTelExporter] registers one Int64ObservableCounter per counter and one
// Int64ObservableGauge per cumulative histogram bucket. A single callback
// reads [goSession.Manager.MetricsSnapshot] on each collection cycle.
//
// The caller owns the MeterProvider; the exporter never mutates the Manager.
package otel
