// Package protocol defines the contract between goSession and the external
// messaging-protocol engine.
//
// The engine owns the wire protocol and its cryptography. goSession treats it
// as an event source plus a thin set of verbs: Connect, SendMessage and Close.
// Credentials and key records cross this boundary as opaque byte payloads.
//
// # What this package must NOT do
//
//   - Import goSession or any internal package.
//   - Interpret credential or key payloads.
package protocol
