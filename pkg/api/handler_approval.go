package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// pendingApprovalsHandler handles GET /api/v1/approvals/pending.
func (s *Server) pendingApprovalsHandler(c *echo.Context) error {
	evs := s.orch.PendingApprovals()
	out := make([]ApprovalResponse, 0, len(evs))
	for _, ev := range evs {
		out = append(out, newApprovalResponse(ev))
	}
	return c.JSON(http.StatusOK, &ApprovalListResponse{Approvals: out})
}

// rejectedApprovalsHandler handles GET /api/v1/approvals/rejected.
func (s *Server) rejectedApprovalsHandler(c *echo.Context) error {
	evs := s.orch.RejectedApprovals()
	out := make([]ApprovalResponse, 0, len(evs))
	for _, ev := range evs {
		out = append(out, newApprovalResponse(ev))
	}
	return c.JSON(http.StatusOK, &ApprovalListResponse{Approvals: out})
}

// approveHealingHandler handles POST /api/v1/agents/:id/approve-healing
// (§4.11 "approve-healing").
func (s *Server) approveHealingHandler(c *echo.Context) error {
	agentID := c.Param("id")
	if agentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent id is required")
	}

	var req ApproveHealingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.orch.ApproveHealing(c.Request().Context(), agentID, req.Approved); err != nil {
		return mapOrchestratorError(err)
	}
	return c.JSON(http.StatusOK, &AcceptedResponse{Status: "decision_recorded"})
}

// approveAllHandler handles POST /api/v1/approvals/approve-all (§4.11
// batch approve/reject across every pending approval).
func (s *Server) approveAllHandler(c *echo.Context) error {
	var req ApproveAllRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ids := s.orch.ApproveAll(c.Request().Context(), req.Approved)
	return c.JSON(http.StatusOK, newBatchApprovalResponse(ids))
}

// healExplicitlyHandler handles POST /api/v1/agents/:id/heal-explicitly
// (§4.11 "heal-now from rejected").
func (s *Server) healExplicitlyHandler(c *echo.Context) error {
	agentID := c.Param("id")
	if agentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent id is required")
	}

	if err := s.orch.HealExplicitly(c.Request().Context(), agentID); err != nil {
		return mapOrchestratorError(err)
	}
	return c.JSON(http.StatusOK, &AcceptedResponse{Status: "healing_started"})
}

// healAllRejectedHandler handles POST /api/v1/approvals/heal-all-rejected
// (§4.11 batch operation).
func (s *Server) healAllRejectedHandler(c *echo.Context) error {
	ids := s.orch.HealAllRejected(c.Request().Context())
	return c.JSON(http.StatusOK, newBatchApprovalResponse(ids))
}
