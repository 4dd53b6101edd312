// Package queue implements the three pipeline queues (requests, jobs,
// completions) on top of the durable store, plus the stale-claim sweeper
// and the SLO summarizer.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pushpals/pushpals/pkg/metrics"
	"github.com/pushpals/pushpals/pkg/models"
	"github.com/pushpals/pushpals/pkg/store"
)

// ErrInvalid marks enqueue inputs rejected before touching the store.
var ErrInvalid = errors.New("invalid input")

// MinQueueWaitBudgetMs is the floor applied to client-supplied budgets.
const MinQueueWaitBudgetMs = 1000

// Requests is the priority FIFO of user prompts, claimed by planners.
type Requests struct {
	store *store.Store
}

// NewRequests builds the request queue service.
func NewRequests(st *store.Store) *Requests {
	return &Requests{store: st}
}

// EnqueueRequestInput is the client-facing enqueue payload.
type EnqueueRequestInput struct {
	SessionID         string `json:"sessionId"`
	Prompt            string `json:"prompt"`
	Priority          string `json:"priority"`
	QueueWaitBudgetMs int64  `json:"queueWaitBudgetMs"`
}

// Receipt describes an accepted enqueue: position among pending rows and
// the advertised ETA derived from the priority's SLA slot.
type Receipt struct {
	ID            string          `json:"requestId"`
	Status        string          `json:"status"`
	Priority      models.Priority `json:"priority"`
	QueuePosition int             `json:"queuePosition"`
	EtaMs         int64           `json:"etaMs"`
}

// Enqueue validates and persists a new pending request.
func (q *Requests) Enqueue(ctx context.Context, in EnqueueRequestInput) (*Receipt, error) {
	if in.SessionID == "" {
		return nil, fmt.Errorf("%w: sessionId is required", ErrInvalid)
	}
	if in.Prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalid)
	}

	priority := models.NormalizePriority(in.Priority)
	budget := in.QueueWaitBudgetMs
	if budget <= 0 {
		budget = priority.SlotDuration().Milliseconds()
	}
	if budget < MinQueueWaitBudgetMs {
		budget = MinQueueWaitBudgetMs
	}

	req := models.Request{
		ID:                uuid.New().String(),
		SessionID:         in.SessionID,
		Prompt:            in.Prompt,
		Priority:          priority,
		QueueWaitBudgetMs: budget,
		Status:            models.StatusPending,
		EnqueuedAt:        time.Now(),
	}
	position, err := q.store.InsertRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	metrics.QueueEnqueues.WithLabelValues("requests").Inc()

	return &Receipt{
		ID:            req.ID,
		Status:        models.StatusPending,
		Priority:      priority,
		QueuePosition: position,
		EtaMs:         priority.SlotDuration().Milliseconds() * int64(position-1),
	}, nil
}

// Claim hands the head pending request to agentID, or nil when empty.
func (q *Requests) Claim(ctx context.Context, agentID string) (*models.Request, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agentId is required", ErrInvalid)
	}
	req, err := q.store.ClaimRequest(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if req != nil {
		metrics.QueueClaims.WithLabelValues("requests").Inc()
	}
	return req, nil
}

// Complete moves a claimed request to completed.
func (q *Requests) Complete(ctx context.Context, id, result string) error {
	return q.store.CompleteRequest(ctx, id, result)
}

// Fail moves a claimed request to failed. An optional detail is appended
// to the stored error text.
func (q *Requests) Fail(ctx context.Context, id, message, detail string) error {
	if message == "" {
		message = "request failed"
	}
	if detail != "" {
		message = message + ": " + detail
	}
	return q.store.FailRequest(ctx, id, message)
}

// Get returns a request by id.
func (q *Requests) Get(ctx context.Context, id string) (*models.Request, error) {
	return q.store.GetRequest(ctx, id)
}

// Pending returns up to limit pending requests in claim order.
func (q *Requests) Pending(ctx context.Context, limit int) ([]models.Request, error) {
	return q.store.PendingRequests(ctx, limit)
}

// Counts returns row counts keyed by status.
func (q *Requests) Counts(ctx context.Context) (map[string]int, error) {
	return q.store.CountRequestsByStatus(ctx)
}

// SLO summarizes terminal requests within the rolling window.
func (q *Requests) SLO(ctx context.Context, window time.Duration) (SLOSummary, error) {
	samples, err := q.store.TerminalRequestSamples(ctx, time.Now().Add(-window))
	if err != nil {
		return SLOSummary{}, err
	}
	return Summarize(samples), nil
}
