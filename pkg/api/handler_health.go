package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentimmune/control-plane/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health. Returns a minimal, safe response
// suitable for unauthenticated access. When no store ping function is
// wired (in-memory-only deployments, §5 "no persistence configured"),
// the check is skipped and the control plane reports healthy based on
// process liveness alone.
func (s *Server) healthHandler(c *echo.Context) error {
	if s.dbPing == nil {
		return c.JSON(http.StatusOK, &HealthResponse{Status: healthStatusHealthy, Version: version.Full()})
	}

	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := s.dbPing(reqCtx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, &HealthResponse{Status: healthStatusUnhealthy, Version: version.Full()})
	}
	return c.JSON(http.StatusOK, &HealthResponse{Status: healthStatusHealthy, Version: version.Full()})
}
