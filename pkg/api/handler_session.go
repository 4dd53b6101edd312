package api

import (
	"net/http"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/pushpals/pushpals/pkg/events"
	"github.com/pushpals/pushpals/pkg/models"
	"github.com/pushpals/pushpals/pkg/version"
)

// CreateSessionRequest is the body for POST /sessions.
type CreateSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// SessionResponse is returned by POST /sessions.
type SessionResponse struct {
	SessionID       string `json:"sessionId"`
	ProtocolVersion string `json:"protocolVersion"`
}

// createSessionHandler handles POST /sessions. Returns 201 for a new
// session and 200 when joining an existing one.
func (s *Server) createSessionHandler(c *echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}
	if !models.ValidSessionID(req.SessionID) {
		return echo.NewHTTPError(http.StatusBadRequest,
			"sessionId must match [a-zA-Z0-9._-]{1,64}")
	}

	created, err := s.store.CreateSession(c.Request().Context(), req.SessionID)
	if err != nil {
		return mapServiceError(err)
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, SessionResponse{
		SessionID:       req.SessionID,
		ProtocolVersion: version.ProtocolVersion,
	})
}

// listSessionsHandler handles GET /sessions.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	sessions, err := s.store.ListSessions(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": sessions})
}

// sessionTasksHandler handles GET /sessions/:id/tasks, returning the
// folded task projection.
func (s *Server) sessionTasksHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	exists, err := s.store.SessionExists(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	if !exists {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"tasks":     s.buses.Bus(sessionID).Tasks(),
	})
}

// MessageRequest is the body for POST /sessions/:id/message.
type MessageRequest struct {
	Text   string `json:"text"`
	Intent string `json:"intent"`
}

// EmitResponse reports the cursor assigned to an emitted event.
type EmitResponse struct {
	SessionID string `json:"sessionId"`
	Cursor    int64  `json:"cursor"`
}

// messageHandler handles POST /sessions/:id/message, emitting a client
// message event. The session is created implicitly if unknown.
func (s *Server) messageHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if !models.ValidSessionID(sessionID) {
		return echo.NewHTTPError(http.StatusBadRequest,
			"sessionId must match [a-zA-Z0-9._-]{1,64}")
	}

	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}

	payload := map[string]any{"text": req.Text}
	if req.Intent != "" {
		payload["intent"] = req.Intent
	}
	cursor, err := s.buses.Bus(sessionID).Emit(c.Request().Context(), models.Envelope{
		SessionID: sessionID,
		Type:      events.TypeMessage,
		From:      "client",
		Payload:   payload,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, EmitResponse{SessionID: sessionID, Cursor: cursor})
}
