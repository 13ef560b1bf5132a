// Package supervisor drives the connection lifecycle of one session.
//
// Each [Supervisor] runs a single goroutine that owns the session's state:
// status, readiness, reconnect attempts and every timer. Engine events,
// timer expirations and caller requests all arrive as messages on one inbox,
// so no two transitions of a session ever race.
//
// # State machine
//
//	CONNECTING   -> CONNECTED      engine open
//	CONNECTING   -> DISCONNECTED   retryable close, connect timeout, build failure
//	CONNECTED    -> DISCONNECTED   retryable close
//	DISCONNECTED -> CONNECTING     reconnect timer, forced reconnect
//	CONNECTING   -> FAILED         terminal close
//	CONNECTED    -> FAILED         terminal close
//
// FAILED is terminal. Entering it purges the session's auth state.
//
// # Engine generations
//
// Every engine instance gets a generation number. Events, stream closures and
// timers carry the generation they were created for and are ignored once a
// newer engine exists or the supervisor has stopped.
package supervisor
