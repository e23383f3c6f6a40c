package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the tables and indexes if they do not exist.
// The partial unique index on (chunk_id) WHERE is_latest backs the
// exactly-one-latest invariant at the database level; the store service is
// still the only writer allowed to flip the flag.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, tables *TableNames) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ` + tables.Books + ` (
		id TEXT PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		props JSONB NOT NULL DEFAULT '{}',
		is_locked BOOLEAN NOT NULL DEFAULT FALSE,
		job_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS ` + tables.Chunks + ` (
		chunk_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		book_id TEXT NOT NULL REFERENCES ` + tables.Books + `(id),
		is_latest BOOLEAN NOT NULL DEFAULT FALSE,
		type VARCHAR(64) NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		props JSONB NOT NULL DEFAULT '{}',
		sort_order DOUBLE PRECISION NOT NULL DEFAULT 0,
		chapter INTEGER NOT NULL DEFAULT 0,
		word_count INTEGER NOT NULL DEFAULT 0,
		is_locked BOOLEAN NOT NULL DEFAULT FALSE,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		job_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (chunk_id, version)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_` + tables.Chunks + `_one_latest
		ON ` + tables.Chunks + ` (chunk_id) WHERE is_latest;
	CREATE INDEX IF NOT EXISTS idx_` + tables.Chunks + `_book
		ON ` + tables.Chunks + ` (book_id) WHERE is_latest;
	CREATE INDEX IF NOT EXISTS idx_` + tables.Chunks + `_position
		ON ` + tables.Chunks + ` (book_id, chapter, sort_order) WHERE is_latest;

	CREATE TABLE IF NOT EXISTS ` + tables.Jobs + ` (
		id TEXT PRIMARY KEY,
		book_id TEXT NOT NULL REFERENCES ` + tables.Books + `(id),
		job_type VARCHAR(64) NOT NULL,
		props JSONB NOT NULL DEFAULT '{}',
		state VARCHAR(16) NOT NULL DEFAULT 'waiting',
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_` + tables.Jobs + `_state
		ON ` + tables.Jobs + ` (state, created_at);

	CREATE TABLE IF NOT EXISTS ` + tables.JobLogs + ` (
		job_id TEXT NOT NULL REFERENCES ` + tables.Jobs + `(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		level VARCHAR(8) NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (job_id, seq)
	);
	`

	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
