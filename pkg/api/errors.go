package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/agentchain-dev/agentchain/pkg/registry"
)

// mapError maps runtime errors to HTTP error responses.
func mapError(err error) *echo.HTTPError {
	if errors.Is(err, registry.ErrAgentNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "agent not found")
	}

	// Unexpected error
	slog.Error("Unexpected runtime error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
