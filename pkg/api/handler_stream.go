package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/pushpals/pushpals/pkg/models"
)

// parseAfterCursor reads the ?after= query parameter, defaulting to 0.
func parseAfterCursor(c *echo.Context) (int64, error) {
	raw := c.QueryParam("after")
	if raw == "" {
		return 0, nil
	}
	after, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || after < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "after must be a non-negative integer")
	}
	return after, nil
}

// sseHandler handles GET /sessions/:id/events. Replays from the supplied
// cursor, then streams live events until the client disconnects.
func (s *Server) sseHandler(c *echo.Context) error {
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

	w := c.Response()
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-store")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	write := func(ev models.BusEvent) error {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("Failed to marshal bus event", "session_id", sessionID, "error", err)
			return nil
		}
		if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.Cursor, data); err != nil {
			return err
		}
		return rc.Flush()
	}

	// Initial keepalive so clients see the stream open immediately.
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return nil
	}
	if err := rc.Flush(); err != nil {
		return nil
	}

	for _, ev := range backlog {
		if err := write(ev); err != nil {
			return nil
		}
	}

	keepalive := time.NewTicker(s.cfg.SSEKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return nil
			}
			if err := rc.Flush(); err != nil {
				return nil
			}
		case ev, ok := <-live:
			if !ok {
				// Dropped on overflow; the client reconnects with its
				// last cursor.
				return nil
			}
			if err := write(ev); err != nil {
				return nil
			}
		}
	}
}
