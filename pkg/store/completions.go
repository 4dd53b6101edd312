package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pushpals/pushpals/pkg/models"
)

const completionColumns = `id, job_id, session_id, commit_sha, branch, message,
	pr_title, pr_body, status, pusher_id, error_message, enqueued_at, claimed_at,
	processed_at, failed_at`

// InsertCompletion persists a pending completion. A second pending row for
// the same job violates the partial unique index and returns
// ErrDuplicatePending.
func (s *Store) InsertCompletion(ctx context.Context, c models.Completion) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO completions (id, job_id, session_id, commit_sha, branch,
				message, pr_title, pr_body, status, enqueued_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.JobID, c.SessionID, c.CommitSha, c.Branch,
			c.Message, c.PRTitle, c.PRBody, models.StatusPending,
			toMillis(c.EnqueuedAt),
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return ErrDuplicatePending
			}
			return fmt.Errorf("failed to insert completion: %w", err)
		}
		return nil
	})
}

// ClaimCompletion atomically claims the oldest pending completion for
// pusherID. Returns nil when the queue is empty.
func (s *Store) ClaimCompletion(ctx context.Context, pusherID string) (*models.Completion, error) {
	var claimed *models.Completion
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM completions WHERE status = ?
			 ORDER BY enqueued_at ASC LIMIT 1`,
			models.StatusPending,
		).Scan(&id)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to query pending completion: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE completions SET status = ?, pusher_id = ?, claimed_at = ?
			 WHERE id = ? AND status = ?`,
			models.StatusClaimed, pusherID, toMillis(time.Now()),
			id, models.StatusPending,
		)
		if err != nil {
			return fmt.Errorf("failed to claim completion: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}

		row := tx.QueryRowContext(ctx,
			`SELECT `+completionColumns+` FROM completions WHERE id = ?`, id)
		c, err := scanCompletion(row)
		if err != nil {
			return err
		}
		claimed = c
		return nil
	})
	return claimed, err
}

// MarkCompletionProcessed moves a claimed completion to processed.
func (s *Store) MarkCompletionProcessed(ctx context.Context, id string) error {
	return s.terminalCompletionTransition(ctx, id, func(tx *sql.Tx, now time.Time) (sql.Result, error) {
		return tx.ExecContext(ctx,
			`UPDATE completions SET status = ?, processed_at = ?
			 WHERE id = ? AND status = ?`,
			models.StatusProcessed, toMillis(now), id, models.StatusClaimed,
		)
	})
}

// MarkCompletionFailed moves a claimed completion to failed with an error.
func (s *Store) MarkCompletionFailed(ctx context.Context, id, errMsg string) error {
	return s.terminalCompletionTransition(ctx, id, func(tx *sql.Tx, now time.Time) (sql.Result, error) {
		return tx.ExecContext(ctx,
			`UPDATE completions SET status = ?, error_message = ?, failed_at = ?
			 WHERE id = ? AND status = ?`,
			models.StatusFailed, errMsg, toMillis(now), id, models.StatusClaimed,
		)
	})
}

func (s *Store) terminalCompletionTransition(ctx context.Context, id string, update func(tx *sql.Tx, now time.Time) (sql.Result, error)) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		res, err := update(tx, time.Now())
		if err != nil {
			return fmt.Errorf("failed to update completion: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n > 0 {
			return nil
		}
		var one int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM completions WHERE id = ?`, id).Scan(&one)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to query completion: %w", err)
		}
		return ErrNotClaimed
	})
}

// GetCompletion returns a completion by id.
func (s *Store) GetCompletion(ctx context.Context, id string) (*models.Completion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+completionColumns+` FROM completions WHERE id = ?`, id)
	c, err := scanCompletion(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

// CountCompletionsByStatus returns row counts keyed by status.
func (s *Store) CountCompletionsByStatus(ctx context.Context) (map[string]int, error) {
	return s.countByStatus(ctx, "completions")
}

func scanCompletion(row rowScanner) (*models.Completion, error) {
	var c models.Completion
	var prTitle, prBody, pusherID, errMsg sql.NullString
	var enqueuedMs int64
	var claimedMs, processedMs, failedMs sql.NullInt64

	err := row.Scan(&c.ID, &c.JobID, &c.SessionID, &c.CommitSha, &c.Branch,
		&c.Message, &prTitle, &prBody, &c.Status, &pusherID, &errMsg,
		&enqueuedMs, &claimedMs, &processedMs, &failedMs)
	if err != nil {
		return nil, err
	}

	c.PRTitle = prTitle.String
	c.PRBody = prBody.String
	c.PusherID = pusherID.String
	c.Error = errMsg.String
	c.EnqueuedAt = fromMillis(enqueuedMs)
	c.ClaimedAt = fromNullMillis(claimedMs)
	c.ProcessedAt = fromNullMillis(processedMs)
	c.FailedAt = fromNullMillis(failedMs)
	return &c, nil
}
