package models

import "time"

// Completion is a worker-produced commit awaiting integration by the
// source-control manager. Status machine:
// pending → claimed → {processed, failed}.
type Completion struct {
	ID          string     `json:"id"`
	JobID       string     `json:"jobId"`
	SessionID   string     `json:"sessionId"`
	CommitSha   string     `json:"commitSha"`
	Branch      string     `json:"branch"`
	Message     string     `json:"message"`
	PRTitle     string     `json:"prTitle,omitempty"`
	PRBody      string     `json:"prBody,omitempty"`
	Status      string     `json:"status"`
	PusherID    string     `json:"pusherId,omitempty"`
	Error       string     `json:"error,omitempty"`
	EnqueuedAt  time.Time  `json:"enqueuedAt"`
	ClaimedAt   *time.Time `json:"claimedAt,omitempty"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	FailedAt    *time.Time `json:"failedAt,omitempty"`
}
