package internaldefs

import (
	goSession "github.com/MrEthical07/goSession"
)

// CounterDef binds a counter MetricID to its exported name.
type CounterDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// HistogramDef binds a histogram MetricID to its exported name.
type HistogramDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: goSession.MetricSessionCreated, Name: "gosession_session_created_total", Help: "Created sessions."},
	{ID: goSession.MetricSessionDeleted, Name: "gosession_session_deleted_total", Help: "Deleted sessions."},
	{ID: goSession.MetricSessionRestored, Name: "gosession_session_restored_total", Help: "Sessions restored from stored credentials."},
	{ID: goSession.MetricConnected, Name: "gosession_connected_total", Help: "Transitions into CONNECTED."},
	{ID: goSession.MetricDisconnected, Name: "gosession_disconnected_total", Help: "Transitions into DISCONNECTED."},
	{ID: goSession.MetricFailed, Name: "gosession_failed_total", Help: "Terminal closes that moved a session to FAILED."},
	{ID: goSession.MetricReconnectScheduled, Name: "gosession_reconnect_scheduled_total", Help: "Backoff reconnects scheduled."},
	{ID: goSession.MetricReconnectSuppressed, Name: "gosession_reconnect_suppressed_total", Help: "Reconnect requests ignored because one was already pending."},
	{ID: goSession.MetricReconnectExhausted, Name: "gosession_reconnect_exhausted_total", Help: "Sessions that used up their reconnect attempts."},
	{ID: goSession.MetricRestartScheduled, Name: "gosession_restart_scheduled_total", Help: "Restart-required reconnects scheduled."},
	{ID: goSession.MetricConnectTimeout, Name: "gosession_connect_timeout_total", Help: "Connection attempts that timed out."},
	{ID: goSession.MetricEngineBuildFailed, Name: "gosession_engine_build_failed_total", Help: "Failed protocol engine constructions."},
	{ID: goSession.MetricCredentialsSaved, Name: "gosession_credentials_saved_total", Help: "Credential updates persisted."},
	{ID: goSession.MetricCredentialsSaveFailed, Name: "gosession_credentials_save_failed_total", Help: "Credential updates that could not be persisted."},
	{ID: goSession.MetricSendSuccess, Name: "gosession_send_success_total", Help: "Messages sent."},
	{ID: goSession.MetricSendFailure, Name: "gosession_send_failure_total", Help: "Sends that failed after retries."},
	{ID: goSession.MetricSendRejected, Name: "gosession_send_rejected_total", Help: "Sends rejected because the session was not ready or its queue was full."},
	{ID: goSession.MetricMessageSinkFailure, Name: "gosession_message_sink_failure_total", Help: "Sent messages the history sink failed to save."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goSession.MetricSendLatency, Name: "gosession_send_latency_seconds", Help: "Send latency histogram, queueing and retries included."},
}

// HistogramBounds are the upper bounds, in seconds, of the eight latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix spells HistogramBounds for use in instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
