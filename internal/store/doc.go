// Package store provides SQLite-backed persistence for agentdeck.
//
// # Overview
//
// The store owns four concerns:
//
//   - the append-only hook event log, including the human-in-the-loop
//     response status carried on HITL-bearing events
//   - sticky avatar assignments keyed by agent key
//   - the theme/character roster that feeds avatar assignment
//   - a generic key/value settings table (active theme id)
//
// # Schema Evolution
//
// The schema is created with CREATE TABLE IF NOT EXISTS and evolved with
// idempotent column migrations (pragma_table_info check before ALTER TABLE).
// Restarting against an older database never fails: a column that already
// has the right shape is a no-op.
//
// # HITL Status Invariant
//
// A HITL request's status transitions pending -> responded at most once.
// RespondToEvent enforces this in SQL with a guarded UPDATE, so concurrent
// duplicate submissions cannot overwrite the first response.
package store
