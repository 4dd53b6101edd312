package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/pushpals/pushpals/pkg/events"
	"github.com/pushpals/pushpals/pkg/models"
	"github.com/pushpals/pushpals/pkg/queue"
)

// CommandRequest is the agent-facing ingest body for
// POST /sessions/:id/command.
type CommandRequest struct {
	Type          string         `json:"type"`
	From          string         `json:"from"`
	To            string         `json:"to"`
	CorrelationID string         `json:"correlationId"`
	ParentID      string         `json:"parentId"`
	TurnID        string         `json:"turnId"`
	Payload       map[string]any `json:"payload"`
}

// commandHandler handles POST /sessions/:id/command. Validates the
// command, emits the corresponding envelope, and applies side effects for
// the commands that have them.
func (s *Server) commandHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if !models.ValidSessionID(sessionID) {
		return echo.NewHTTPError(http.StatusBadRequest,
			"sessionId must match [a-zA-Z0-9._-]{1,64}")
	}

	var req CommandRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Type == "" || !events.KnownType(req.Type) {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown command type")
	}
	if req.Payload == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "payload must be an object")
	}

	// Worker-reported failures arrive as raw process output; store only
	// compact text.
	if req.Type == events.TypeJobFailed {
		if msg, ok := req.Payload["message"].(string); ok {
			req.Payload["message"] = queue.CompactError(msg, 300)
		}
		if detail, ok := req.Payload["detail"].(string); ok {
			req.Payload["detail"] = queue.CompactError(detail, 2000)
		}
	}

	ctx := c.Request().Context()
	bus := s.buses.Bus(sessionID)
	cursor, err := bus.Emit(ctx, models.Envelope{
		SessionID:     sessionID,
		Type:          req.Type,
		From:          req.From,
		To:            req.To,
		CorrelationID: req.CorrelationID,
		ParentID:      req.ParentID,
		TurnID:        req.TurnID,
		Payload:       req.Payload,
	})
	if err != nil {
		return mapServiceError(err)
	}

	// A tool_call gated on approval registers the gate and announces it.
	if req.Type == events.TypeToolCall {
		if gated, _ := req.Payload["requiresApproval"].(bool); gated {
			toolCallID, _ := req.Payload["toolCallId"].(string)
			action, _ := req.Payload["tool"].(string)
			summary, _ := req.Payload["summary"].(string)
			approval := s.approvals.Create(toolCallID, sessionID, action, summary, req.Payload, toolCallID)

			cursor, err = bus.Emit(ctx, models.Envelope{
				SessionID:     sessionID,
				Type:          events.TypeApprovalRequired,
				From:          "server",
				CorrelationID: req.CorrelationID,
				Payload: map[string]any{
					"approvalId": approval.ApprovalID,
					"action":     approval.Action,
					"summary":    approval.Summary,
				},
			})
			if err != nil {
				return mapServiceError(err)
			}
		}
	}

	return c.JSON(http.StatusOK, EmitResponse{SessionID: sessionID, Cursor: cursor})
}
