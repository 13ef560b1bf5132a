// Package internal holds the building blocks behind goSession.Manager.
//
// # Sub-packages
//
//   - backoff: reconnect delay policy
//   - clock: real and fake time sources
//   - dispatch: per-session FIFO send lanes with retry
//   - notify: per-session callback workers
//   - pairing: pairing code lifecycle
//   - rate: Redis fixed-window send rate limit
//   - supervisor: per-session connection state machine
package internal
