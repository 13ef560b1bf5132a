// Package notify delivers session lifecycle events to user callbacks.
//
// # Components
//
//   - [Handlers]: per-session callback set (pairing code, connected,
//     disconnected, error).
//   - [Notifier]: one buffered worker per registered session. Events of one
//     session are delivered in publish order; sessions never wait on each
//     other.
//   - [Event]: the record handed to callbacks.
//
// # Architecture boundaries
//
// This package owns buffering and callback invocation. It does NOT decide
// which events to publish; the connection supervisor does.
//
// Callback errors, panics and timeouts are logged and swallowed. A slow
// callback delays later events of its own session only.
//
// # What this package must NOT do
//
//   - Import goSession or any sibling internal package.
//   - Retry a failed callback.
package notify
