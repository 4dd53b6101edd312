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

// Compact bounds applied to worker-supplied failure text before storage.
const (
	maxFailMessageRunes = 300
	maxFailDetailRunes  = 2000
)

// logDedupeWindow suppresses identical successive log lines per
// (job, stream) arriving within this window.
const logDedupeWindow = time.Second

// Jobs is the priority FIFO of executable work claimed by workers, with
// the per-job log tail and the worker registry attached.
type Jobs struct {
	store     *store.Store
	tailLimit int
	dedupe    *deduper
}

// NewJobs builds the job queue service. tailLimit caps retained log rows
// per job.
func NewJobs(st *store.Store, tailLimit int) *Jobs {
	return &Jobs{
		store:     st,
		tailLimit: tailLimit,
		dedupe:    newDeduper(logDedupeWindow),
	}
}

// EnqueueJobInput is the planner-facing enqueue payload.
type EnqueueJobInput struct {
	SessionID string         `json:"sessionId"`
	TaskID    string         `json:"taskId"`
	Kind      string         `json:"kind"`
	Params    map[string]any `json:"params"`
	Priority  string         `json:"priority"`
}

// Enqueue validates and persists a new pending job.
func (q *Jobs) Enqueue(ctx context.Context, in EnqueueJobInput) (*Receipt, error) {
	if in.SessionID == "" {
		return nil, fmt.Errorf("%w: sessionId is required", ErrInvalid)
	}
	if in.Kind == "" {
		return nil, fmt.Errorf("%w: kind is required", ErrInvalid)
	}
	if in.Params == nil {
		in.Params = map[string]any{}
	}

	priority := models.NormalizePriority(in.Priority)
	job := models.Job{
		ID:         uuid.New().String(),
		TaskID:     in.TaskID,
		SessionID:  in.SessionID,
		Kind:       in.Kind,
		Params:     in.Params,
		Priority:   priority,
		Status:     models.StatusPending,
		EnqueuedAt: time.Now(),
	}
	position, err := q.store.InsertJob(ctx, job)
	if err != nil {
		return nil, err
	}
	metrics.QueueEnqueues.WithLabelValues("jobs").Inc()

	return &Receipt{
		ID:            job.ID,
		Status:        models.StatusPending,
		Priority:      priority,
		QueuePosition: position,
		EtaMs:         priority.SlotDuration().Milliseconds() * int64(position-1),
	}, nil
}

// Claim hands the head pending job to workerID, or nil when empty.
func (q *Jobs) Claim(ctx context.Context, workerID string) (*models.Job, error) {
	if workerID == "" {
		return nil, fmt.Errorf("%w: workerId is required", ErrInvalid)
	}
	job, err := q.store.ClaimJob(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if job != nil {
		metrics.QueueClaims.WithLabelValues("jobs").Inc()
	}
	return job, nil
}

// Complete moves a claimed job to completed.
func (q *Jobs) Complete(ctx context.Context, id, summary string, artifacts []string, durationMs *int64) error {
	return q.store.CompleteJob(ctx, id, summary, artifacts, durationMs)
}

// Fail moves a claimed job to failed, compacting the worker-supplied text.
func (q *Jobs) Fail(ctx context.Context, id, message, detail string, durationMs *int64) error {
	message = CompactError(message, maxFailMessageRunes)
	if message == "" {
		message = "job failed"
	}
	detail = CompactError(detail, maxFailDetailRunes)
	return q.store.FailJob(ctx, id, message, detail, durationMs)
}

// Get returns a job by id.
func (q *Jobs) Get(ctx context.Context, id string) (*models.Job, error) {
	return q.store.GetJob(ctx, id)
}

// Pending returns up to limit pending jobs in claim order.
func (q *Jobs) Pending(ctx context.Context, limit int) ([]models.Job, error) {
	return q.store.PendingJobs(ctx, limit)
}

// Counts returns row counts keyed by status.
func (q *Jobs) Counts(ctx context.Context) (map[string]int, error) {
	return q.store.CountJobsByStatus(ctx)
}

// SLO summarizes terminal jobs within the rolling window.
func (q *Jobs) SLO(ctx context.Context, window time.Duration) (SLOSummary, error) {
	samples, err := q.store.TerminalJobSamples(ctx, time.Now().Add(-window))
	if err != nil {
		return SLOSummary{}, err
	}
	return Summarize(samples), nil
}

// LogLine is one worker-supplied log entry. Seq must be monotonic per
// (job, stream); duplicates are ignored idempotently.
type LogLine struct {
	Seq     int64  `json:"seq"`
	Message string `json:"message"`
}

// AppendLogs runs each line through the sanitize pipeline (ANSI strip,
// whitespace collapse, progress-bar drop, 1 s duplicate suppression) and
// stores the survivors. Returns the stored lines.
func (q *Jobs) AppendLogs(ctx context.Context, jobID, stream string, lines []LogLine) ([]LogLine, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: jobId is required", ErrInvalid)
	}
	if stream != models.StreamStdout && stream != models.StreamStderr {
		return nil, fmt.Errorf("%w: stream must be stdout or stderr", ErrInvalid)
	}

	now := time.Now()
	var stored []LogLine
	for _, line := range lines {
		msg := CleanLine(line.Message)
		if msg == "" || IsProgressLine(msg) {
			continue
		}
		if !q.dedupe.allow(jobID, stream, msg, now) {
			continue
		}
		if err := q.store.AppendJobLog(ctx, jobID, stream, line.Seq, msg, q.tailLimit); err != nil {
			return stored, err
		}
		stored = append(stored, LogLine{Seq: line.Seq, Message: msg})
	}
	return stored, nil
}

// Logs returns the newest log rows for a job, newest first, plus the id
// of the last returned row for backward paging (0 when empty).
func (q *Jobs) Logs(ctx context.Context, jobID string, limit int, afterID int64) ([]models.JobLog, int64, error) {
	if limit <= 0 || limit > q.tailLimit {
		limit = q.tailLimit
	}
	logs, err := q.store.ListJobLogs(ctx, jobID, limit, afterID)
	if err != nil {
		return nil, 0, err
	}
	var lastID int64
	if len(logs) > 0 {
		lastID = logs[len(logs)-1].ID
	}
	return logs, lastID, nil
}

// Heartbeat upserts the worker registry row, stamping lastHeartbeatAt.
func (q *Jobs) Heartbeat(ctx context.Context, w models.WorkerInfo) error {
	if w.WorkerID == "" {
		return fmt.Errorf("%w: workerId is required", ErrInvalid)
	}
	if w.Status == "" {
		w.Status = models.WorkerStatusIdle
	}
	return q.store.UpsertWorker(ctx, w)
}

// Workers returns every registry row with liveness derived from ttl.
func (q *Jobs) Workers(ctx context.Context, ttl time.Duration) ([]models.WorkerInfo, error) {
	return q.store.ListWorkers(ctx, ttl)
}
