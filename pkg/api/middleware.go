package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// corsMiddleware returns permissive CORS headers. The coordinator is a
// local single-user service; browser clients connect from arbitrary dev
// origins.
func corsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusNoContent)
			}
			return next(c)
		}
	}
}

// noStoreMiddleware disables caching on mutating endpoints.
func noStoreMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if c.Request().Method != http.MethodGet {
				c.Response().Header().Set("Cache-Control", "no-store")
			}
			return next(c)
		}
	}
}
