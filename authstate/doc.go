// Package authstate persists per-session protocol identity material in a
// key-value store (Redis in production).
//
// # Layout
//
// Every session owns a namespace under the store prefix:
//
//	<prefix><sessionID>:creds              credentials blob
//	<prefix><sessionID>:key:<type>:<id>    one signal key record
//
// Each value is written with a single SET of a complete envelope, so a
// reader never observes a partially written record.
//
// # Envelope
//
// Values carry a one-byte format version. Version 1 stores the payload as is;
// version 2 seals it with XChaCha20-Poly1305, using the storage key as
// additional data so a sealed value cannot be replayed under another key.
//
// # What this package must NOT do
//
//   - Interpret credential or key payloads.
//   - Import goSession or the supervisor (no upward imports).
package authstate
