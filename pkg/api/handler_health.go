package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/pushpals/pushpals/pkg/version"
)

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	OK              bool   `json:"ok"`
	ProtocolVersion string `json:"protocolVersion"`
	Store           string `json:"store"`
}

// healthHandler handles GET /healthz.
func (s *Server) healthHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{
			OK:              false,
			ProtocolVersion: version.ProtocolVersion,
			Store:           "unreachable",
		})
	}
	return c.JSON(http.StatusOK, HealthResponse{
		OK:              true,
		ProtocolVersion: version.ProtocolVersion,
		Store:           "ok",
	})
}
