package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/pushpals/pushpals/pkg/approvals"
	"github.com/pushpals/pushpals/pkg/events"
	"github.com/pushpals/pushpals/pkg/models"
)

// DecisionRequest is the body for POST /approvals/:id.
type DecisionRequest struct {
	Decision string `json:"decision"`
}

// decideApprovalHandler handles POST /approvals/:id. The first decision
// resolves the approval and emits the matching event; any later decision
// finds nothing.
func (s *Server) decideApprovalHandler(c *echo.Context) error {
	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	approval, err := s.approvals.Decide(c.Param("id"), req.Decision)
	if err != nil {
		return mapServiceError(err)
	}

	eventType := events.TypeApproved
	if req.Decision == approvals.DecisionDeny {
		eventType = events.TypeDenied
	}
	cursor, err := s.buses.Bus(approval.SessionID).Emit(c.Request().Context(), models.Envelope{
		SessionID:     approval.SessionID,
		Type:          eventType,
		From:          "client",
		CorrelationID: approval.ToolCallID,
		Payload: map[string]any{
			"approvalId": approval.ApprovalID,
			"action":     approval.Action,
		},
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"approvalId": approval.ApprovalID,
		"decision":   req.Decision,
		"cursor":     cursor,
	})
}
