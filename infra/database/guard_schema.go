package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema is applied in order. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS guard_decisions (
		id           BIGSERIAL PRIMARY KEY,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		entity_id    TEXT NULL,
		decision     VARCHAR(10) NOT NULL,
		confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
		model        TEXT NOT NULL,
		tokens       INTEGER NULL,
		latency_ms   INTEGER NULL,
		reasons      JSONB NOT NULL DEFAULT '[]'::jsonb,
		raw_response TEXT NOT NULL,
		error        TEXT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_guard_decisions_created_at ON guard_decisions (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_guard_decisions_decision ON guard_decisions (decision, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_guard_decisions_entity ON guard_decisions (entity_id) WHERE entity_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS guard_documents (
		id        TEXT PRIMARY KEY,
		title     TEXT NOT NULL DEFAULT '',
		body      TEXT NOT NULL DEFAULT '',
		published BOOLEAN NOT NULL DEFAULT false
	)`,
	`CREATE TABLE IF NOT EXISTS guard_settings (
		id         INTEGER PRIMARY KEY,
		document   JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
