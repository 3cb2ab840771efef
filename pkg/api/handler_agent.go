package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentimmune/control-plane/pkg/vitals"
)

// listAgentsHandler handles GET /api/v1/agents.
func (s *Server) listAgentsHandler(c *echo.Context) error {
	summaries := s.orch.ListAgents(c.Request().Context())
	out := make([]AgentResponse, 0, len(summaries))
	for _, a := range summaries {
		out = append(out, newAgentResponse(a))
	}
	return c.JSON(http.StatusOK, &AgentListResponse{Agents: out})
}

// registerAgentHandler handles POST /api/v1/agents/register.
//
// Registration is also implicit: an unknown agent_id on the first vitals
// ingestion auto-registers (§6 "Unknown agent ids auto-register a minimal
// agent entry"). This endpoint exists for callers that want to register
// up front, before any vitals have been collected.
func (s *Server) registerAgentHandler(c *echo.Context) error {
	var req RegisterAgentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.AgentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent_id is required")
	}

	info := s.orch.RegisterAgent(req.AgentID, req.AgentType, req.Model)
	return c.JSON(http.StatusCreated, &RegisterAgentResponse{
		AgentID:      info.AgentID,
		AgentType:    info.AgentType,
		Model:        info.Model,
		RegisteredAt: info.RegisteredAt,
	})
}

// ingestVitalsHandler handles POST /api/v1/ingest (§6 "Vitals ingestion").
func (s *Server) ingestVitalsHandler(c *echo.Context) error {
	var v vitals.Vitals
	if err := c.Bind(&v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if v.AgentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent_id is required")
	}

	if err := s.orch.Ingest(c.Request().Context(), v.Normalize(time.Now())); err != nil {
		return mapOrchestratorError(err)
	}
	return c.JSON(http.StatusAccepted, &AcceptedResponse{Status: "recorded"})
}

// statsHandler handles GET /api/v1/stats.
func (s *Server) statsHandler(c *echo.Context) error {
	stats := s.orch.Stats(c.Request().Context())
	return c.JSON(http.StatusOK, newStatsResponse(stats))
}

// recentActionsHandler handles GET /api/v1/actions/recent.
func (s *Server) recentActionsHandler(c *echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := parsePositiveInt(raw); err == nil {
			limit = n
		}
	}

	entries := s.orch.RecentActions(c.Request().Context(), limit)
	out := make([]ActionLogResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, newActionLogResponse(e))
	}
	return c.JSON(http.StatusOK, &RecentActionsResponse{Actions: out})
}
