package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/pushpals/pushpals/pkg/events"
	"github.com/pushpals/pushpals/pkg/models"
	"github.com/pushpals/pushpals/pkg/queue"
)

// sweepAndAnnounce runs the stale-claim sweep and emits one job_failed
// event into each recovered job's session. Invoked opportunistically from
// claim/list/status endpoints; the sweeper rate-limits itself.
func (s *Server) sweepAndAnnounce(ctx context.Context) {
	recovered, err := s.sweeper.Sweep(ctx)
	if err != nil {
		slog.Error("Stale-claim sweep failed", "error", err)
		return
	}
	for _, sj := range recovered {
		_, err := s.buses.Bus(sj.SessionID).Emit(ctx, models.Envelope{
			SessionID: sj.SessionID,
			Type:      events.TypeJobFailed,
			From:      "server:stale-claim-recovery",
			Payload: map[string]any{
				"jobId":   sj.JobID,
				"message": "Worker disappeared during job execution",
				"detail":  "lost worker " + sj.WorkerID,
			},
		})
		if err != nil {
			slog.Error("Failed to announce stale-claim recovery",
				"job_id", sj.JobID, "session_id", sj.SessionID, "error", err)
		}
	}
}

// enqueueJobHandler handles POST /jobs/enqueue.
func (s *Server) enqueueJobHandler(c *echo.Context) error {
	var in queue.EnqueueJobInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	receipt, err := s.jobs.Enqueue(c.Request().Context(), in)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, receipt)
}

// ClaimJobBody identifies the claiming worker.
type ClaimJobBody struct {
	WorkerID string `json:"workerId"`
}

// claimJobHandler handles POST /jobs/claim. Sweeps stale claims first so
// a recovered job is immediately claimable.
func (s *Server) claimJobHandler(c *echo.Context) error {
	var body ClaimJobBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	s.sweepAndAnnounce(ctx)

	job, err := s.jobs.Claim(ctx, body.WorkerID)
	if err != nil {
		return mapServiceError(err)
	}
	if job == nil {
		return c.JSON(http.StatusOK, map[string]any{"job": nil})
	}
	return c.JSON(http.StatusOK, map[string]any{"job": job})
}

// CompleteJobBody is the worker's completion report.
type CompleteJobBody struct {
	Summary    string   `json:"summary"`
	Artifacts  []string `json:"artifacts"`
	DurationMs *int64   `json:"durationMs"`
}

// completeJobHandler handles POST /jobs/:id/complete.
func (s *Server) completeJobHandler(c *echo.Context) error {
	var body CompleteJobBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.jobs.Complete(c.Request().Context(), c.Param("id"), body.Summary, body.Artifacts, body.DurationMs); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

// FailJobBody is the worker's failure report.
type FailJobBody struct {
	Message    string `json:"message"`
	Detail     string `json:"detail"`
	DurationMs *int64 `json:"durationMs"`
}

// failJobHandler handles POST /jobs/:id/fail. The coordinator, not the
// worker, announces the failure on the session bus so subscribers learn
// of it even when the worker cannot reach them.
func (s *Server) failJobHandler(c *echo.Context) error {
	var body FailJobBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	jobID := c.Param("id")
	if err := s.jobs.Fail(ctx, jobID, body.Message, body.Detail, body.DurationMs); err != nil {
		return mapServiceError(err)
	}

	job, err := s.jobs.Get(ctx, jobID)
	if err == nil {
		_, emitErr := s.buses.Bus(job.SessionID).Emit(ctx, models.Envelope{
			SessionID: job.SessionID,
			Type:      events.TypeJobFailed,
			From:      "server",
			Payload: map[string]any{
				"jobId":   job.ID,
				"message": job.Message,
				"detail":  job.Detail,
			},
		})
		if emitErr != nil {
			slog.Error("Failed to announce job failure",
				"job_id", jobID, "session_id", job.SessionID, "error", emitErr)
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

// AppendLogBody carries a batch of worker log lines for one stream.
type AppendLogBody struct {
	Stream string          `json:"stream"`
	Lines  []queue.LogLine `json:"lines"`
}

// appendJobLogHandler handles POST /jobs/:id/log.
func (s *Server) appendJobLogHandler(c *echo.Context) error {
	var body AppendLogBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	stored, err := s.jobs.AppendLogs(c.Request().Context(), c.Param("id"), body.Stream, body.Lines)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"stored": len(stored)})
}

// listJobLogsHandler handles GET /jobs/:id/logs?limit=N&after=ID.
func (s *Server) listJobLogsHandler(c *echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	var afterID int64
	if v := c.QueryParam("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "after must be a non-negative integer")
		}
		afterID = n
	}

	logs, lastID, err := s.jobs.Logs(c.Request().Context(), c.Param("id"), limit, afterID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"logs":   logs,
		"lastId": lastID,
	})
}
