package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// migrate bootstraps the schema. All statements are idempotent and run in a
// single transaction, so a partially created schema cannot survive a crash.
func (s *Store) migrate(ctx context.Context) error {
	slog.Debug("Running store migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			session_id TEXT NOT NULL,
			cursor INTEGER NOT NULL,
			event_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			envelope BLOB NOT NULL,
			PRIMARY KEY (session_id, cursor)
		)`,
		`CREATE TABLE IF NOT EXISTS requests (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			prompt TEXT NOT NULL,
			priority TEXT NOT NULL,
			priority_rank INTEGER NOT NULL,
			queue_wait_budget_ms INTEGER NOT NULL,
			status TEXT NOT NULL,
			agent_id TEXT,
			result TEXT,
			error_message TEXT,
			enqueued_at INTEGER NOT NULL,
			claimed_at INTEGER,
			completed_at INTEGER,
			failed_at INTEGER,
			duration_ms INTEGER,
			queue_wait_ms INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_claim
			ON requests(status, priority_rank, enqueued_at)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			params TEXT NOT NULL,
			priority TEXT NOT NULL,
			priority_rank INTEGER NOT NULL,
			status TEXT NOT NULL,
			worker_id TEXT,
			summary TEXT,
			artifacts TEXT,
			error_message TEXT,
			message TEXT,
			detail TEXT,
			attempt_count INTEGER NOT NULL DEFAULT 1,
			enqueued_at INTEGER NOT NULL,
			claimed_at INTEGER,
			completed_at INTEGER,
			failed_at INTEGER,
			duration_ms INTEGER,
			queue_wait_ms INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_claim
			ON jobs(status, priority_rank, enqueued_at)`,
		`CREATE TABLE IF NOT EXISTS job_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			stream TEXT NOT NULL,
			seq INTEGER NOT NULL,
			message TEXT NOT NULL,
			ts INTEGER NOT NULL,
			UNIQUE (job_id, stream, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_logs_job ON job_logs(job_id, id)`,
		`CREATE TABLE IF NOT EXISTS workers (
			worker_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			current_job_id TEXT,
			poll_ms INTEGER NOT NULL DEFAULT 0,
			docker INTEGER NOT NULL DEFAULT 0,
			labels TEXT,
			executor TEXT,
			details TEXT,
			last_heartbeat_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workers_heartbeat
			ON workers(last_heartbeat_at)`,
		`CREATE TABLE IF NOT EXISTS completions (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			commit_sha TEXT NOT NULL,
			branch TEXT NOT NULL,
			message TEXT NOT NULL,
			pr_title TEXT,
			pr_body TEXT,
			status TEXT NOT NULL,
			pusher_id TEXT,
			error_message TEXT,
			enqueued_at INTEGER NOT NULL,
			claimed_at INTEGER,
			processed_at INTEGER,
			failed_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_completions_claim
			ON completions(status, enqueued_at)`,
		// One active pending completion per job. SQLite partial unique
		// index; the second pending enqueue for a job fails the INSERT.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_completions_job_pending
			ON completions(job_id) WHERE status = 'pending'`,
	}

	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		for i, stmt := range migrations {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %d failed: %w", i, err)
			}
		}
		return nil
	})
}
