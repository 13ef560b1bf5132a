// Package prometheus renders goSession metrics in the Prometheus text
// exposition format.
//
// [NewPrometheusExporter] reads a [goSession.Manager] and exposes an
// [http.Handler]. Counter names are prefixed gosession_*_total; the single
// histogram is gosession_send_latency_seconds.
//
// Nothing is registered in a global registry: callers mount the Handler.
package prometheus
