package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/pushpals/pushpals/pkg/models"
	"github.com/pushpals/pushpals/pkg/queue"
)

const pendingSnapshotLimit = 20

// WorkerCounts aggregates registry liveness for /system/status.
type WorkerCounts struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Offline int `json:"offline"`
}

// SystemStatusResponse is returned by GET /system/status.
type SystemStatusResponse struct {
	Workers          WorkerCounts        `json:"workers"`
	RequestCounts    map[string]int      `json:"requestCounts"`
	JobCounts        map[string]int      `json:"jobCounts"`
	CompletionCounts map[string]int      `json:"completionCounts"`
	PendingRequests  []models.Request    `json:"pendingRequests"`
	PendingJobs      []models.Job        `json:"pendingJobs"`
	RequestSLO       queue.SLOSummary    `json:"requestSlo"`
	JobSLO           queue.SLOSummary    `json:"jobSlo"`
	SLOWindowHours   float64             `json:"sloWindowHours"`
	WorkerList       []models.WorkerInfo `json:"workerList"`
}

// systemStatusHandler handles GET /system/status. Sweeps stale claims
// first so the reported queue state is current.
func (s *Server) systemStatusHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	s.sweepAndAnnounce(ctx)

	workers, err := s.jobs.Workers(ctx, s.cfg.WorkerOnlineTTL)
	if err != nil {
		return mapServiceError(err)
	}
	counts := WorkerCounts{Total: len(workers)}
	for _, w := range workers {
		if w.IsOnline {
			counts.Online++
		} else {
			counts.Offline++
		}
	}

	requestCounts, err := s.requests.Counts(ctx)
	if err != nil {
		return mapServiceError(err)
	}
	jobCounts, err := s.jobs.Counts(ctx)
	if err != nil {
		return mapServiceError(err)
	}
	completionCounts, err := s.completions.Counts(ctx)
	if err != nil {
		return mapServiceError(err)
	}

	pendingRequests, err := s.requests.Pending(ctx, pendingSnapshotLimit)
	if err != nil {
		return mapServiceError(err)
	}
	pendingJobs, err := s.jobs.Pending(ctx, pendingSnapshotLimit)
	if err != nil {
		return mapServiceError(err)
	}

	requestSLO, err := s.requests.SLO(ctx, s.cfg.SLOWindow)
	if err != nil {
		return mapServiceError(err)
	}
	jobSLO, err := s.jobs.SLO(ctx, s.cfg.SLOWindow)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, SystemStatusResponse{
		Workers:          counts,
		RequestCounts:    requestCounts,
		JobCounts:        jobCounts,
		CompletionCounts: completionCounts,
		PendingRequests:  pendingRequests,
		PendingJobs:      pendingJobs,
		RequestSLO:       requestSLO,
		JobSLO:           jobSLO,
		SLOWindowHours:   s.cfg.SLOWindow.Hours(),
		WorkerList:       workers,
	})
}
