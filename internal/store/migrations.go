package store

import (
	"context"
	"database/sql"
)

// schema contains the DDL for all optrun tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS studies (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		algorithm    TEXT NOT NULL,
		trial_number INTEGER NOT NULL,
		num_workers  INTEGER NOT NULL,
		created_at   TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS trials (
		id         INTEGER PRIMARY KEY,
		state      TEXT NOT NULL DEFAULT 'ready',
		params     TEXT,
		objective  TEXT,
		error      TEXT NOT NULL DEFAULT '',
		started_at TEXT,
		ended_at   TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_trials_state ON trials(state)`,
}

// migrate applies the schema. Safe to call repeatedly.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
