package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pushpals/pushpals/pkg/models"
)

const requestColumns = `id, session_id, prompt, priority, queue_wait_budget_ms, status,
	agent_id, result, error_message, enqueued_at, claimed_at, completed_at,
	failed_at, duration_ms, queue_wait_ms`

// InsertRequest persists a new pending request and returns its 1-based
// queue position among pending requests (priority rank, then FIFO).
func (s *Store) InsertRequest(ctx context.Context, req models.Request) (int, error) {
	position := 0
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO requests (id, session_id, prompt, priority, priority_rank,
				queue_wait_budget_ms, status, enqueued_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			req.ID, req.SessionID, req.Prompt, string(req.Priority), req.Priority.Rank(),
			req.QueueWaitBudgetMs, models.StatusPending, toMillis(req.EnqueuedAt),
		); err != nil {
			return fmt.Errorf("failed to insert request: %w", err)
		}

		// Position counts pending rows that would be claimed before or at
		// this one, including itself.
		rank := req.Priority.Rank()
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM requests
			 WHERE status = ?
			   AND (priority_rank < ?
			     OR (priority_rank = ? AND enqueued_at <= ?))`,
			models.StatusPending, rank, rank, toMillis(req.EnqueuedAt),
		).Scan(&position); err != nil {
			return fmt.Errorf("failed to compute queue position: %w", err)
		}
		return nil
	})
	return position, err
}

// ClaimRequest atomically claims the head pending request for agentID.
// Returns nil when the queue is empty.
func (s *Store) ClaimRequest(ctx context.Context, agentID string) (*models.Request, error) {
	var claimed *models.Request
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM requests WHERE status = ?
			 ORDER BY priority_rank ASC, enqueued_at ASC LIMIT 1`,
			models.StatusPending,
		).Scan(&id)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to query pending request: %w", err)
		}

		now := time.Now()
		res, err := tx.ExecContext(ctx,
			`UPDATE requests SET status = ?, agent_id = ?, claimed_at = ?,
				queue_wait_ms = MAX(0, ? - enqueued_at)
			 WHERE id = ? AND status = ?`,
			models.StatusClaimed, agentID, toMillis(now), toMillis(now),
			id, models.StatusPending,
		)
		if err != nil {
			return fmt.Errorf("failed to claim request: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			// Lost the CAS to a concurrent claimer; treat as empty queue.
			return nil
		}

		row := tx.QueryRowContext(ctx,
			`SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
		req, err := scanRequest(row)
		if err != nil {
			return err
		}
		claimed = req
		return nil
	})
	return claimed, err
}

// CompleteRequest moves a claimed request to completed, recording the
// result and durationMs = max(0, now − enqueuedAt).
func (s *Store) CompleteRequest(ctx context.Context, id, result string) error {
	return s.terminalRequestTransition(ctx, id, func(tx *sql.Tx, now time.Time) (sql.Result, error) {
		return tx.ExecContext(ctx,
			`UPDATE requests SET status = ?, result = ?, completed_at = ?,
				duration_ms = MAX(0, ? - enqueued_at)
			 WHERE id = ? AND status = ?`,
			models.StatusCompleted, result, toMillis(now), toMillis(now),
			id, models.StatusClaimed,
		)
	})
}

// FailRequest moves a claimed request to failed with an error message.
func (s *Store) FailRequest(ctx context.Context, id, message string) error {
	return s.terminalRequestTransition(ctx, id, func(tx *sql.Tx, now time.Time) (sql.Result, error) {
		return tx.ExecContext(ctx,
			`UPDATE requests SET status = ?, error_message = ?, failed_at = ?,
				duration_ms = MAX(0, ? - enqueued_at)
			 WHERE id = ? AND status = ?`,
			models.StatusFailed, message, toMillis(now), toMillis(now),
			id, models.StatusClaimed,
		)
	})
}

// terminalRequestTransition runs a conditional terminal UPDATE and maps a
// zero-row result to ErrNotFound or ErrNotClaimed without mutating.
func (s *Store) terminalRequestTransition(ctx context.Context, id string, update func(tx *sql.Tx, now time.Time) (sql.Result, error)) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := update(tx, time.Now())
		if err != nil {
			return fmt.Errorf("failed to update request: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n > 0 {
			return nil
		}
		var one int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM requests WHERE id = ?`, id).Scan(&one)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to query request: %w", err)
		}
		return ErrNotClaimed
	})
}

// GetRequest returns a request by id.
func (s *Store) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return req, err
}

// PendingRequests returns up to limit pending requests in claim order.
func (s *Store) PendingRequests(ctx context.Context, limit int) ([]models.Request, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE status = ?
		 ORDER BY priority_rank ASC, enqueued_at ASC LIMIT ?`,
		models.StatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending requests: %w", err)
	}
	defer rows.Close()

	var out []models.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

// CountRequestsByStatus returns row counts keyed by status.
func (s *Store) CountRequestsByStatus(ctx context.Context) (map[string]int, error) {
	return s.countByStatus(ctx, "requests")
}

// countByStatus is shared by the requests/jobs/completions count queries.
func (s *Store) countByStatus(ctx context.Context, table string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM `+table+` GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

// TerminalSample is one terminal row's latency measurements, used by the
// SLO summarizer.
type TerminalSample struct {
	Status      string
	DurationMs  int64
	QueueWaitMs int64
}

// TerminalRequestSamples returns terminal request rows whose terminal
// timestamp is at or after since.
func (s *Store) TerminalRequestSamples(ctx context.Context, since time.Time) ([]TerminalSample, error) {
	return s.terminalSamples(ctx, "requests", since)
}

// TerminalJobSamples returns terminal job rows whose terminal timestamp is
// at or after since.
func (s *Store) TerminalJobSamples(ctx context.Context, since time.Time) ([]TerminalSample, error) {
	return s.terminalSamples(ctx, "jobs", since)
}

func (s *Store) terminalSamples(ctx context.Context, table string, since time.Time) ([]TerminalSample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COALESCE(duration_ms, 0), COALESCE(queue_wait_ms, 0)
		 FROM `+table+`
		 WHERE status IN (?, ?)
		   AND COALESCE(completed_at, failed_at, 0) >= ?`,
		models.StatusCompleted, models.StatusFailed, toMillis(since),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query terminal %s: %w", table, err)
	}
	defer rows.Close()

	var out []TerminalSample
	for rows.Next() {
		var sm TerminalSample
		if err := rows.Scan(&sm.Status, &sm.DurationMs, &sm.QueueWaitMs); err != nil {
			return nil, fmt.Errorf("failed to scan terminal sample: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.Request, error) {
	var req models.Request
	var priority string
	var agentID, result, errMsg sql.NullString
	var enqueuedMs int64
	var claimedMs, completedMs, failedMs, durationMs, queueWaitMs sql.NullInt64

	err := row.Scan(&req.ID, &req.SessionID, &req.Prompt, &priority,
		&req.QueueWaitBudgetMs, &req.Status, &agentID, &result, &errMsg,
		&enqueuedMs, &claimedMs, &completedMs, &failedMs, &durationMs, &queueWaitMs)
	if err != nil {
		return nil, err
	}

	req.Priority = models.Priority(priority)
	req.AgentID = agentID.String
	req.Result = result.String
	req.Error = errMsg.String
	req.EnqueuedAt = fromMillis(enqueuedMs)
	req.ClaimedAt = fromNullMillis(claimedMs)
	req.CompletedAt = fromNullMillis(completedMs)
	req.FailedAt = fromNullMillis(failedMs)
	if durationMs.Valid {
		req.DurationMs = &durationMs.Int64
	}
	if queueWaitMs.Valid {
		req.QueueWaitMs = &queueWaitMs.Int64
	}
	return &req, nil
}
