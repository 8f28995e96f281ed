package postgres

import (
	"context"
	"fmt"
)

// schema is applied statement by statement; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
	number        BIGINT PRIMARY KEY,
	url           TEXT NOT NULL,
	start_id      TEXT NOT NULL DEFAULT '',
	end_id        TEXT NOT NULL DEFAULT '',
	shard         INTEGER NOT NULL DEFAULT 0,
	priority      BOOLEAN NOT NULL DEFAULT FALSE,
	gpu           BOOLEAN NOT NULL DEFAULT FALSE,
	gpu_url       TEXT,
	pending       BOOLEAN NOT NULL DEFAULT FALSE,
	closed        BOOLEAN NOT NULL DEFAULT FALSE,
	claimant      TEXT,
	cpu_completor TEXT,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS jobs_claimable_idx ON jobs (gpu, priority DESC, number)
	WHERE NOT pending AND NOT closed`,
	`CREATE INDEX IF NOT EXISTS jobs_url_idx ON jobs (url)`,
	`CREATE TABLE IF NOT EXISTS workers (
	token          TEXT PRIMARY KEY,
	display_name   TEXT NOT NULL UNIQUE,
	class          TEXT NOT NULL,
	nickname       TEXT NOT NULL,
	job_number     BIGINT REFERENCES jobs (number) ON DELETE SET NULL,
	progress       TEXT NOT NULL DEFAULT '',
	jobs_completed BIGINT NOT NULL DEFAULT 0,
	first_seen     TIMESTAMPTZ NOT NULL,
	last_seen      TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS workers_last_seen_idx ON workers (last_seen)`,
	`CREATE TABLE IF NOT EXISTS leaderboard (
	nickname       TEXT PRIMARY KEY,
	jobs_completed BIGINT NOT NULL DEFAULT 0,
	pairs_scraped  BIGINT NOT NULL DEFAULT 0,
	cpu_jobs       BIGINT NOT NULL DEFAULT 0,
	gpu_jobs       BIGINT NOT NULL DEFAULT 0
)`,
}

// Migrate creates the coordinator tables and indexes if they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
