package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/pushpals/pushpals/pkg/approvals"
	"github.com/pushpals/pushpals/pkg/queue"
	"github.com/pushpals/pushpals/pkg/store"
)

// mapServiceError maps queue/store/approvals errors to HTTP error
// responses.
func mapServiceError(err error) *echo.HTTPError {
	if errors.Is(err, queue.ErrInvalid) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, store.ErrNotClaimed) {
		return echo.NewHTTPError(http.StatusBadRequest, "not in claimed state")
	}
	if errors.Is(err, store.ErrDuplicatePending) {
		return echo.NewHTTPError(http.StatusConflict, "a pending completion already exists for this job")
	}
	if errors.Is(err, approvals.ErrNotFound) {
		return echo.NewHTTPError(http.StatusBadRequest, "Approval not found")
	}
	if errors.Is(err, approvals.ErrBadDecision) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// Unexpected error, most likely storage.
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
