package models

import "time"

// Queue row status machine: pending → claimed → {completed, failed}.
// Stale-claim recovery is the only backward move (claimed → pending).
const (
	StatusPending   = "pending"
	StatusClaimed   = "claimed"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	// StatusProcessed is the success terminal for completions.
	StatusProcessed = "processed"
)

// Request is a queued user prompt awaiting a planner.
type Request struct {
	ID                string     `json:"id"`
	SessionID         string     `json:"sessionId"`
	Prompt            string     `json:"prompt"`
	Priority          Priority   `json:"priority"`
	QueueWaitBudgetMs int64      `json:"queueWaitBudgetMs"`
	Status            string     `json:"status"`
	AgentID           string     `json:"agentId,omitempty"`
	Result            string     `json:"result,omitempty"`
	Error             string     `json:"error,omitempty"`
	EnqueuedAt        time.Time  `json:"enqueuedAt"`
	ClaimedAt         *time.Time `json:"claimedAt,omitempty"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	FailedAt          *time.Time `json:"failedAt,omitempty"`
	DurationMs        *int64     `json:"durationMs,omitempty"`
	QueueWaitMs       *int64     `json:"queueWaitMs,omitempty"`
}
