package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/pushpals/pushpals/pkg/queue"
)

// enqueueRequestHandler handles POST /requests/enqueue.
func (s *Server) enqueueRequestHandler(c *echo.Context) error {
	var in queue.EnqueueRequestInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	receipt, err := s.requests.Enqueue(c.Request().Context(), in)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, receipt)
}

// ClaimRequestBody identifies the claiming planner.
type ClaimRequestBody struct {
	AgentID string `json:"agentId"`
}

// claimRequestHandler handles POST /requests/claim. Returns the claimed
// request or {request: null} when the queue is empty.
func (s *Server) claimRequestHandler(c *echo.Context) error {
	var body ClaimRequestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req, err := s.requests.Claim(c.Request().Context(), body.AgentID)
	if err != nil {
		return mapServiceError(err)
	}
	if req == nil {
		return c.JSON(http.StatusOK, map[string]any{"request": nil})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"request":     req,
		"queueWaitMs": req.QueueWaitMs,
	})
}

// CompleteRequestBody carries the planner's result text.
type CompleteRequestBody struct {
	Result string `json:"result"`
}

// completeRequestHandler handles POST /requests/:id/complete.
func (s *Server) completeRequestHandler(c *echo.Context) error {
	var body CompleteRequestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.requests.Complete(c.Request().Context(), c.Param("id"), body.Result); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

// FailRequestBody carries the planner's failure description.
type FailRequestBody struct {
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// failRequestHandler handles POST /requests/:id/fail.
func (s *Server) failRequestHandler(c *echo.Context) error {
	var body FailRequestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.requests.Fail(c.Request().Context(), c.Param("id"), body.Message, body.Detail); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}
