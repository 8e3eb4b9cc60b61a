// Package store provides SQLite-backed durable storage for rollcall.
//
// The store has two tables:
//   - kv: a string key/value table. The persistence gateway keeps the
//     session header labels and the mark table here, one key each.
//   - captures: an append-only log of applied capture events.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//
// Capture log queries are ordered by seq ASC, id ASC so listings are stable.
package store
