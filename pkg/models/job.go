package models

import "time"

// Job is an executable unit of work claimed by a worker daemon.
type Job struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"taskId"`
	SessionID string         `json:"sessionId"`
	Kind      string         `json:"kind"`
	Params    map[string]any `json:"params"`
	Priority  Priority       `json:"priority"`
	Status    string         `json:"status"`
	WorkerID  string         `json:"workerId,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Artifacts []string       `json:"artifacts,omitempty"`
	Error     string         `json:"error,omitempty"`
	Message   string         `json:"message,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	// AttemptCount starts at 1 and increments each time stale-claim
	// recovery returns the job to pending. Deliberately uncapped.
	AttemptCount int        `json:"attemptCount"`
	EnqueuedAt   time.Time  `json:"enqueuedAt"`
	ClaimedAt    *time.Time `json:"claimedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	FailedAt     *time.Time `json:"failedAt,omitempty"`
	DurationMs   *int64     `json:"durationMs,omitempty"`
	QueueWaitMs  *int64     `json:"queueWaitMs,omitempty"`
}

// Log streams.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// JobLog is one retained line of worker output. ID is monotonic per job;
// Seq is caller-supplied, monotonic per (job, stream).
type JobLog struct {
	ID      int64     `json:"id"`
	JobID   string    `json:"jobId"`
	Stream  string    `json:"stream"`
	Seq     int64     `json:"seq"`
	Message string    `json:"message"`
	TS      time.Time `json:"ts"`
}
