// Package goSession supervises many concurrent, long-lived sessions of an
// external messaging-protocol client, one per end-user account.
//
// A session pairs through a one-time code, persists opaque identity material
// in a Redis-backed auth state store, survives transport drops through
// capped exponential backoff and exposes ordered outbound delivery once it
// is ready.
//
// # Architecture boundaries
//
// goSession is the public surface. It exposes [Manager], [Builder], [Config]
// and value types ([SessionRecord], [Payload], [Error]). The connection
// supervisor, callback notifier, pairing coordinator and dispatch queue live
// under internal/. The wire protocol itself is not implemented here: callers
// plug an engine in through [protocol.Factory].
//
// # Concurrency
//
// Each session is owned by one supervisor goroutine that applies its events
// in order. Sessions share no locks beyond the registry map and the
// namespaced auth state store. Manager methods are safe for concurrent use
// after [Builder.Build].
//
// # Errors
//
// Every error returned by a Manager method is an [*Error] classified by
// [Kind]. Both errors.Is(err, ErrSession) and errors.Is(err,
// ErrSessionNotFound) hold for an unknown id.
package goSession
