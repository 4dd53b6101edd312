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

const jobColumns = `id, task_id, session_id, kind, params, priority, status,
	worker_id, summary, artifacts, error_message, message, detail, attempt_count,
	enqueued_at, claimed_at, completed_at, failed_at, duration_ms, queue_wait_ms`

// InsertJob persists a new pending job and returns its 1-based queue
// position among pending jobs.
func (s *Store) InsertJob(ctx context.Context, job models.Job) (int, error) {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal job params: %w", err)
	}

	position := 0
	err = s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (id, task_id, session_id, kind, params, priority,
				priority_rank, status, attempt_count, enqueued_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
			job.ID, job.TaskID, job.SessionID, job.Kind, string(params),
			string(job.Priority), job.Priority.Rank(), models.StatusPending,
			toMillis(job.EnqueuedAt),
		); err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}

		rank := job.Priority.Rank()
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM jobs
			 WHERE status = ?
			   AND (priority_rank < ?
			     OR (priority_rank = ? AND enqueued_at <= ?))`,
			models.StatusPending, rank, rank, toMillis(job.EnqueuedAt),
		).Scan(&position); err != nil {
			return fmt.Errorf("failed to compute queue position: %w", err)
		}
		return nil
	})
	return position, err
}

// ClaimJob atomically claims the head pending job for workerID. Returns
// nil when no job is pending. When two workers race, the status CAS lets
// exactly one win; the loser observes an empty queue.
func (s *Store) ClaimJob(ctx context.Context, workerID string) (*models.Job, error) {
	var claimed *models.Job
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM jobs WHERE status = ?
			 ORDER BY priority_rank ASC, enqueued_at ASC LIMIT 1`,
			models.StatusPending,
		).Scan(&id)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to query pending job: %w", err)
		}

		now := time.Now()
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, worker_id = ?, claimed_at = ?,
				queue_wait_ms = MAX(0, ? - enqueued_at)
			 WHERE id = ? AND status = ?`,
			models.StatusClaimed, workerID, toMillis(now), toMillis(now),
			id, models.StatusPending,
		)
		if err != nil {
			return fmt.Errorf("failed to claim job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}

		row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
		job, err := scanJob(row)
		if err != nil {
			return err
		}
		claimed = job
		return nil
	})
	return claimed, err
}

// CompleteJob moves a claimed job to completed. durationMs falls back to
// max(0, now − enqueuedAt) when the worker did not supply one.
func (s *Store) CompleteJob(ctx context.Context, id, summary string, artifacts []string, durationMs *int64) error {
	raw, err := json.Marshal(artifacts)
	if err != nil {
		return fmt.Errorf("failed to marshal artifacts: %w", err)
	}
	return s.terminalJobTransition(ctx, id, func(tx *sql.Tx, now time.Time) (sql.Result, error) {
		if durationMs != nil {
			return tx.ExecContext(ctx,
				`UPDATE jobs SET status = ?, summary = ?, artifacts = ?,
					completed_at = ?, duration_ms = ?
				 WHERE id = ? AND status = ?`,
				models.StatusCompleted, summary, string(raw),
				toMillis(now), *durationMs, id, models.StatusClaimed,
			)
		}
		return tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, summary = ?, artifacts = ?,
				completed_at = ?, duration_ms = MAX(0, ? - enqueued_at)
			 WHERE id = ? AND status = ?`,
			models.StatusCompleted, summary, string(raw),
			toMillis(now), toMillis(now), id, models.StatusClaimed,
		)
	})
}

// FailJob moves a claimed job to failed with compact message/detail text.
func (s *Store) FailJob(ctx context.Context, id, message, detail string, durationMs *int64) error {
	return s.terminalJobTransition(ctx, id, func(tx *sql.Tx, now time.Time) (sql.Result, error) {
		if durationMs != nil {
			return tx.ExecContext(ctx,
				`UPDATE jobs SET status = ?, error_message = ?, message = ?, detail = ?,
					failed_at = ?, duration_ms = ?
				 WHERE id = ? AND status = ?`,
				models.StatusFailed, message, message, detail,
				toMillis(now), *durationMs, id, models.StatusClaimed,
			)
		}
		return tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error_message = ?, message = ?, detail = ?,
				failed_at = ?, duration_ms = MAX(0, ? - enqueued_at)
			 WHERE id = ? AND status = ?`,
			models.StatusFailed, message, message, detail,
			toMillis(now), toMillis(now), id, models.StatusClaimed,
		)
	})
}

func (s *Store) terminalJobTransition(ctx context.Context, id string, update func(tx *sql.Tx, now time.Time) (sql.Result, error)) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := update(tx, time.Now())
		if err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n > 0 {
			return nil
		}
		var one int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, id).Scan(&one)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to query job: %w", err)
		}
		return ErrNotClaimed
	})
}

// GetJob returns a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return job, err
}

// PendingJobs returns up to limit pending jobs in claim order.
func (s *Store) PendingJobs(ctx context.Context, limit int) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ?
		 ORDER BY priority_rank ASC, enqueued_at ASC LIMIT ?`,
		models.StatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending jobs: %w", err)
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

// CountJobsByStatus returns row counts keyed by status.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	return s.countByStatus(ctx, "jobs")
}

// StaleJob identifies one claimed job whose worker is gone.
type StaleJob struct {
	JobID     string
	SessionID string
	WorkerID  string
}

// StaleClaimedJobs finds claimed jobs whose worker is unknown to the
// registry or has not heartbeat within ttl.
func (s *Store) StaleClaimedJobs(ctx context.Context, ttl time.Duration) ([]StaleJob, error) {
	threshold := toMillis(time.Now().Add(-ttl))
	rows, err := s.db.QueryContext(ctx,
		`SELECT j.id, j.session_id, COALESCE(j.worker_id, '')
		 FROM jobs j
		 LEFT JOIN workers w ON w.worker_id = j.worker_id
		 WHERE j.status = ?
		   AND (w.worker_id IS NULL OR w.last_heartbeat_at < ?)`,
		models.StatusClaimed, threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale claims: %w", err)
	}
	defer rows.Close()

	var out []StaleJob
	for rows.Next() {
		var sj StaleJob
		if err := rows.Scan(&sj.JobID, &sj.SessionID, &sj.WorkerID); err != nil {
			return nil, fmt.Errorf("failed to scan stale claim: %w", err)
		}
		out = append(out, sj)
	}
	return out, rows.Err()
}

// RecoverStaleJob returns a claimed job to pending, incrementing its
// attempt count. The status CAS guarantees at most one racer succeeds;
// the result reports whether this call did the transition.
func (s *Store) RecoverStaleJob(ctx context.Context, jobID string) (bool, error) {
	recovered := false
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, worker_id = NULL, claimed_at = NULL,
				queue_wait_ms = NULL, attempt_count = attempt_count + 1
			 WHERE id = ? AND status = ?`,
			models.StatusPending, jobID, models.StatusClaimed,
		)
		if err != nil {
			return fmt.Errorf("failed to recover stale job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		recovered = n > 0
		return nil
	})
	return recovered, err
}

// AppendJobLog stores one log line. Duplicate (jobId, stream, seq) rows are
// ignored. The per-job tail is trimmed to keep at most tailLimit rows.
func (s *Store) AppendJobLog(ctx context.Context, jobID, stream string, seq int64, message string, tailLimit int) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO job_logs (job_id, stream, seq, message, ts)
			 VALUES (?, ?, ?, ?, ?)`,
			jobID, stream, seq, message, toMillis(time.Now()),
		); err != nil {
			return fmt.Errorf("failed to append job log: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM job_logs WHERE job_id = ? AND id NOT IN (
				SELECT id FROM job_logs WHERE job_id = ?
				ORDER BY id DESC LIMIT ?)`,
			jobID, jobID, tailLimit,
		); err != nil {
			return fmt.Errorf("failed to trim job log tail: %w", err)
		}
		return nil
	})
}

// ListJobLogs returns the newest log rows for a job, newest first, up to
// limit. When afterID > 0 only rows with id < afterID are returned, which
// pages backwards through the tail.
func (s *Store) ListJobLogs(ctx context.Context, jobID string, limit int, afterID int64) ([]models.JobLog, error) {
	query := `SELECT id, job_id, stream, seq, message, ts FROM job_logs
		 WHERE job_id = ?`
	args := []any{jobID}
	if afterID > 0 {
		query += ` AND id < ?`
		args = append(args, afterID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query job logs: %w", err)
	}
	defer rows.Close()

	var out []models.JobLog
	for rows.Next() {
		var jl models.JobLog
		var tsMs int64
		if err := rows.Scan(&jl.ID, &jl.JobID, &jl.Stream, &jl.Seq, &jl.Message, &tsMs); err != nil {
			return nil, fmt.Errorf("failed to scan job log: %w", err)
		}
		jl.TS = fromMillis(tsMs)
		out = append(out, jl)
	}
	return out, rows.Err()
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var priority, params string
	var workerID, summary, artifacts, errMsg, message, detail sql.NullString
	var enqueuedMs int64
	var claimedMs, completedMs, failedMs, durationMs, queueWaitMs sql.NullInt64

	err := row.Scan(&job.ID, &job.TaskID, &job.SessionID, &job.Kind, &params,
		&priority, &job.Status, &workerID, &summary, &artifacts, &errMsg,
		&message, &detail, &job.AttemptCount, &enqueuedMs, &claimedMs,
		&completedMs, &failedMs, &durationMs, &queueWaitMs)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(params), &job.Params); err != nil {
		slog.Warn("Corrupt job params, substituting empty object",
			"job_id", job.ID, "error", err)
		job.Params = map[string]any{}
	}
	if artifacts.Valid && artifacts.String != "" {
		if err := json.Unmarshal([]byte(artifacts.String), &job.Artifacts); err != nil {
			slog.Warn("Corrupt job artifacts, dropping",
				"job_id", job.ID, "error", err)
		}
	}

	job.Priority = models.Priority(priority)
	job.WorkerID = workerID.String
	job.Summary = summary.String
	job.Error = errMsg.String
	job.Message = message.String
	job.Detail = detail.String
	job.EnqueuedAt = fromMillis(enqueuedMs)
	job.ClaimedAt = fromNullMillis(claimedMs)
	job.CompletedAt = fromNullMillis(completedMs)
	job.FailedAt = fromNullMillis(failedMs)
	if durationMs.Valid {
		job.DurationMs = &durationMs.Int64
	}
	if queueWaitMs.Valid {
		job.QueueWaitMs = &queueWaitMs.Int64
	}
	return &job, nil
}
