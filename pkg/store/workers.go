package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pushpals/pushpals/pkg/models"
)

// UpsertWorker records a heartbeat, creating or refreshing the registry
// row and stamping lastHeartbeatAt = now.
func (s *Store) UpsertWorker(ctx context.Context, w models.WorkerInfo) error {
	labels, err := json.Marshal(w.Capabilities.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal worker labels: %w", err)
	}
	details, err := json.Marshal(w.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal worker details: %w", err)
	}

	docker := 0
	if w.Capabilities.Docker {
		docker = 1
	}

	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO workers (worker_id, status, current_job_id, poll_ms,
				docker, labels, executor, details, last_heartbeat_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(worker_id) DO UPDATE SET
				status = excluded.status,
				current_job_id = excluded.current_job_id,
				poll_ms = excluded.poll_ms,
				docker = excluded.docker,
				labels = excluded.labels,
				executor = excluded.executor,
				details = excluded.details,
				last_heartbeat_at = excluded.last_heartbeat_at`,
			w.WorkerID, w.Status, w.CurrentJobID, w.PollMs,
			docker, string(labels), w.Capabilities.Executor, string(details),
			toMillis(time.Now()),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert worker: %w", err)
		}
		return nil
	})
}

// ListWorkers returns every registry row with IsOnline derived from ttl.
func (s *Store) ListWorkers(ctx context.Context, ttl time.Duration) ([]models.WorkerInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT worker_id, status, current_job_id, poll_ms, docker, labels,
			executor, details, last_heartbeat_at
		 FROM workers ORDER BY worker_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var out []models.WorkerInfo
	for rows.Next() {
		var w models.WorkerInfo
		var currentJob, labels, executor, details sql.NullString
		var docker int
		var heartbeatMs int64
		if err := rows.Scan(&w.WorkerID, &w.Status, &currentJob, &w.PollMs,
			&docker, &labels, &executor, &details, &heartbeatMs); err != nil {
			return nil, fmt.Errorf("failed to scan worker row: %w", err)
		}

		w.CurrentJobID = currentJob.String
		w.Capabilities.Docker = docker != 0
		w.Capabilities.Executor = executor.String
		if labels.Valid && labels.String != "" {
			if err := json.Unmarshal([]byte(labels.String), &w.Capabilities.Labels); err != nil {
				slog.Warn("Corrupt worker labels, dropping",
					"worker_id", w.WorkerID, "error", err)
			}
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &w.Details); err != nil {
				slog.Warn("Corrupt worker details, dropping",
					"worker_id", w.WorkerID, "error", err)
			}
		}
		w.LastHeartbeatAt = fromMillis(heartbeatMs)
		w.IsOnline = now.Sub(w.LastHeartbeatAt) <= ttl
		out = append(out, w)
	}
	return out, rows.Err()
}
