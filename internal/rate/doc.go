// Package rate implements the per-session send rate limit.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. One key per
// session, <Prefix><sessionID>. The counter lives in Redis so every process
// sharing a Redis deployment shares the budget.
package rate
