package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/agentimmune/control-plane/pkg/orchestrator"
)

// mapOrchestratorError maps orchestrator-layer errors to HTTP error
// responses. The orchestrator's own error surface is small — most
// operations are idempotent or self-healing — so this mapping only needs
// to distinguish "agent not known to the approval workflow" from
// everything else.
func mapOrchestratorError(err error) *echo.HTTPError {
	if errors.Is(err, orchestrator.ErrNoPendingApproval) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	slog.Error("unexpected orchestrator error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
