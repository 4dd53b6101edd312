package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pushpals/pushpals/pkg/metrics"
	"github.com/pushpals/pushpals/pkg/models"
	"github.com/pushpals/pushpals/pkg/store"
)

// Completions is the FIFO of worker-produced commits awaiting integration
// by the source-control manager. No priorities; one active pending row per
// job.
type Completions struct {
	store *store.Store
}

// NewCompletions builds the completion queue service.
func NewCompletions(st *store.Store) *Completions {
	return &Completions{store: st}
}

// EnqueueCompletionInput is the worker-facing enqueue payload.
type EnqueueCompletionInput struct {
	JobID     string `json:"jobId"`
	SessionID string `json:"sessionId"`
	CommitSha string `json:"commitSha"`
	Branch    string `json:"branch"`
	Message   string `json:"message"`
	PRTitle   string `json:"prTitle"`
	PRBody    string `json:"prBody"`
}

// Enqueue persists a pending completion. A second pending completion for
// the same job returns store.ErrDuplicatePending.
func (q *Completions) Enqueue(ctx context.Context, in EnqueueCompletionInput) (*models.Completion, error) {
	if in.JobID == "" {
		return nil, fmt.Errorf("%w: jobId is required", ErrInvalid)
	}
	if in.SessionID == "" {
		return nil, fmt.Errorf("%w: sessionId is required", ErrInvalid)
	}
	if in.CommitSha == "" {
		return nil, fmt.Errorf("%w: commitSha is required", ErrInvalid)
	}
	if in.Branch == "" {
		return nil, fmt.Errorf("%w: branch is required", ErrInvalid)
	}

	c := models.Completion{
		ID:         uuid.New().String(),
		JobID:      in.JobID,
		SessionID:  in.SessionID,
		CommitSha:  in.CommitSha,
		Branch:     in.Branch,
		Message:    in.Message,
		PRTitle:    in.PRTitle,
		PRBody:     in.PRBody,
		Status:     models.StatusPending,
		EnqueuedAt: time.Now(),
	}
	if err := q.store.InsertCompletion(ctx, c); err != nil {
		return nil, err
	}
	metrics.QueueEnqueues.WithLabelValues("completions").Inc()
	return &c, nil
}

// Claim hands the oldest pending completion to pusherID, or nil when
// empty.
func (q *Completions) Claim(ctx context.Context, pusherID string) (*models.Completion, error) {
	if pusherID == "" {
		return nil, fmt.Errorf("%w: pusherId is required", ErrInvalid)
	}
	c, err := q.store.ClaimCompletion(ctx, pusherID)
	if err != nil {
		return nil, err
	}
	if c != nil {
		metrics.QueueClaims.WithLabelValues("completions").Inc()
	}
	return c, nil
}

// MarkProcessed moves a claimed completion to processed.
func (q *Completions) MarkProcessed(ctx context.Context, id string) error {
	return q.store.MarkCompletionProcessed(ctx, id)
}

// MarkFailed moves a claimed completion to failed.
func (q *Completions) MarkFailed(ctx context.Context, id, errMsg string) error {
	if errMsg == "" {
		errMsg = "integration failed"
	}
	return q.store.MarkCompletionFailed(ctx, id, errMsg)
}

// Get returns a completion by id.
func (q *Completions) Get(ctx context.Context, id string) (*models.Completion, error) {
	return q.store.GetCompletion(ctx, id)
}

// Counts returns row counts keyed by status.
func (q *Completions) Counts(ctx context.Context) (map[string]int, error) {
	return q.store.CountCompletionsByStatus(ctx)
}
