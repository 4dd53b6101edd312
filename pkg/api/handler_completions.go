package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/pushpals/pushpals/pkg/queue"
)

// enqueueCompletionHandler handles POST /completions/enqueue.
func (s *Server) enqueueCompletionHandler(c *echo.Context) error {
	var in queue.EnqueueCompletionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	completion, err := s.completions.Enqueue(c.Request().Context(), in)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, completion)
}

// ClaimCompletionBody identifies the claiming integration consumer.
type ClaimCompletionBody struct {
	PusherID string `json:"pusherId"`
}

// claimCompletionHandler handles POST /completions/claim.
func (s *Server) claimCompletionHandler(c *echo.Context) error {
	var body ClaimCompletionBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	completion, err := s.completions.Claim(c.Request().Context(), body.PusherID)
	if err != nil {
		return mapServiceError(err)
	}
	if completion == nil {
		return c.JSON(http.StatusOK, map[string]any{"completion": nil})
	}
	return c.JSON(http.StatusOK, map[string]any{"completion": completion})
}

// completionProcessedHandler handles POST /completions/:id/processed.
func (s *Server) completionProcessedHandler(c *echo.Context) error {
	if err := s.completions.MarkProcessed(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

// FailCompletionBody carries the integration failure description.
type FailCompletionBody struct {
	Error string `json:"error"`
}

// completionFailedHandler handles POST /completions/:id/fail.
func (s *Server) completionFailedHandler(c *echo.Context) error {
	var body FailCompletionBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.completions.MarkFailed(c.Request().Context(), c.Param("id"), body.Error); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}
