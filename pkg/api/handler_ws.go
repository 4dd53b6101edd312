package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	echo "github.com/labstack/echo/v5"

	"github.com/pushpals/pushpals/pkg/models"
)

const wsWriteTimeout = 10 * time.Second

// wsHandler handles GET /sessions/:id/ws. Upgrades to WebSocket and
// streams {envelope, cursor} frames, replay first then live.
func (s *Server) wsHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if !models.ValidSessionID(sessionID) {
		return echo.NewHTTPError(http.StatusBadRequest,
			"sessionId must match [a-zA-Z0-9._-]{1,64}")
	}
	after, err := parseAfterCursor(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	backlog, live, cancel, err := s.buses.Bus(sessionID).Subscribe(ctx, after)
	if err != nil {
		return mapServiceError(err)
	}
	defer cancel()

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// Local single-user service; browser clients connect from
		// arbitrary dev origins.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	send := func(ev models.BusEvent) error {
		writeCtx, cancelWrite := context.WithTimeout(ctx, wsWriteTimeout)
		defer cancelWrite()
		return wsjson.Write(writeCtx, conn, ev)
	}

	for _, ev := range backlog {
		if err := send(ev); err != nil {
			return nil
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-live:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "subscriber buffer overflow")
				return nil
			}
			if err := send(ev); err != nil {
				return nil
			}
		}
	}
}
