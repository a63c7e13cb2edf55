package postgres

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		did TEXT PRIMARY KEY,
		handle TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		avatar TEXT NOT NULL DEFAULT '',
		followers INTEGER NOT NULL DEFAULT 0,
		following INTEGER NOT NULL DEFAULT 0,
		posts INTEGER NOT NULL DEFAULT 0,
		skip_snapshots BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS posts (
		uri TEXT PRIMARY KEY,
		did TEXT NOT NULL,
		likes INTEGER NOT NULL DEFAULT 0,
		replies INTEGER NOT NULL DEFAULT 0,
		quotes INTEGER NOT NULL DEFAULT 0,
		reposts INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS posts_did_created_at_idx ON posts (did, created_at)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		did TEXT NOT NULL,
		date DATE NOT NULL,
		followers INTEGER NOT NULL DEFAULT 0,
		following INTEGER NOT NULL DEFAULT 0,
		posts INTEGER NOT NULL DEFAULT 0,
		likes INTEGER NOT NULL DEFAULT 0,
		replies INTEGER NOT NULL DEFAULT 0,
		quotes INTEGER NOT NULL DEFAULT 0,
		reposts INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (did, date)
	)`,
	`CREATE TABLE IF NOT EXISTS snapshot_logs (
		id BIGSERIAL PRIMARY KEY,
		status TEXT NOT NULL,
		time_started TIMESTAMPTZ NOT NULL,
		time_completed TIMESTAMPTZ,
		duration_seconds DOUBLE PRECISION,
		total_users INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS activity_events (
		did TEXT NOT NULL,
		date DATE NOT NULL,
		events INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (did, date)
	)`,
	`CREATE TABLE IF NOT EXISTS cursors (
		service TEXT PRIMARY KEY,
		cursor_value BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

// InitSchema creates any missing tables and indexes. Safe to run on every
// startup.
func (r *Repository) InitSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
