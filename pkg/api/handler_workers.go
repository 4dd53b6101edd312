package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/pushpals/pushpals/pkg/models"
)

// HeartbeatRequest is the body for POST /workers/heartbeat.
type HeartbeatRequest struct {
	WorkerID     string                    `json:"workerId"`
	Status       string                    `json:"status"`
	CurrentJobID string                    `json:"currentJobId"`
	PollMs       int64                     `json:"pollMs"`
	Capabilities models.WorkerCapabilities `json:"capabilities"`
	Details      map[string]any            `json:"details"`
}

// heartbeatHandler handles POST /workers/heartbeat.
func (s *Server) heartbeatHandler(c *echo.Context) error {
	var req HeartbeatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	err := s.jobs.Heartbeat(c.Request().Context(), models.WorkerInfo{
		WorkerID:     req.WorkerID,
		Status:       req.Status,
		CurrentJobID: req.CurrentJobID,
		PollMs:       req.PollMs,
		Capabilities: req.Capabilities,
		Details:      req.Details,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

// listWorkersHandler handles GET /workers. Sweeps stale claims first so
// liveness and claim state agree in the response.
func (s *Server) listWorkersHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	s.sweepAndAnnounce(ctx)

	workers, err := s.jobs.Workers(ctx, s.cfg.WorkerOnlineTTL)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"workers": workers})
}
