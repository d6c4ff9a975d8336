// Package storage persists execution records.
//
// One table, executions, holds one row per accepted notification message.
// The message id is unique: inserting the same message twice is a no-op that
// reports false, which is what makes live ingestion and history backfill safe
// to run over the same messages at the same time.
//
// Drivers:
//   - sqlite (default): modernc.org/sqlite, pure Go
//   - postgres: pgx through database/sql
//   - file: dependency-free JSON Lines log, replayed into memory on open
package storage
