package api

import (
	"time"

	"github.com/agentimmune/control-plane/pkg/lifecycle"
	"github.com/agentimmune/control-plane/pkg/orchestrator"
	"github.com/agentimmune/control-plane/pkg/store"
	"github.com/agentimmune/control-plane/pkg/vitals"
)

// AgentResponse is the dashboard-facing view of one registered agent
// (§6 "list of agents with current phase, latest vitals summary,
// baseline-ready flag").
type AgentResponse struct {
	AgentID       string          `json:"agent_id"`
	AgentType     string          `json:"agent_type"`
	Model         string          `json:"model"`
	Phase         lifecycle.Phase `json:"phase"`
	BaselineReady bool            `json:"baseline_ready"`
	LatestVitals  *vitals.Vitals  `json:"latest_vitals,omitempty"`
}

func newAgentResponse(a orchestrator.AgentSummary) AgentResponse {
	return AgentResponse{
		AgentID:       a.AgentID,
		AgentType:     a.AgentType,
		Model:         a.Model,
		Phase:         a.Phase,
		BaselineReady: a.BaselineReady,
		LatestVitals:  a.LatestVitals,
	}
}

// AgentListResponse wraps GET /api/v1/agents.
type AgentListResponse struct {
	Agents []AgentResponse `json:"agents"`
}

// RegisterAgentResponse is returned by POST /api/v1/agents/register.
type RegisterAgentResponse struct {
	AgentID      string    `json:"agent_id"`
	AgentType    string    `json:"agent_type"`
	Model        string    `json:"model"`
	RegisteredAt time.Time `json:"registered_at"`
}

// StatsResponse wraps GET /api/v1/stats (§6 "stats").
type StatsResponse struct {
	TotalAgents        int     `json:"total_agents"`
	QuarantinedAgents  int     `json:"quarantined_agents"`
	HealthyAgents      int     `json:"healthy_agents"`
	TotalInfections    int     `json:"total_infections"`
	TotalHealings      int     `json:"total_healings"`
	HealingSuccessRate float64 `json:"healing_success_rate"`
	LearnedPatterns    int     `json:"learned_patterns"`
	PendingApprovals   int     `json:"pending_approvals"`
	RejectedApprovals  int     `json:"rejected_approvals"`
}

func newStatsResponse(s orchestrator.Stats) StatsResponse {
	return StatsResponse{
		TotalAgents:        s.TotalAgents,
		QuarantinedAgents:  s.QuarantinedAgents,
		HealthyAgents:      s.HealthyAgents,
		TotalInfections:    s.TotalInfections,
		TotalHealings:      s.TotalHealings,
		HealingSuccessRate: s.HealingSuccessRate,
		LearnedPatterns:    s.LearnedPatterns,
		PendingApprovals:   s.PendingApprovals,
		RejectedApprovals:  s.RejectedApprovals,
	}
}

// ApprovalResponse is one entry in a pending/rejected approval listing.
type ApprovalResponse struct {
	AgentID        string    `json:"agent_id"`
	Decision       string    `json:"decision"`
	InfectionKinds []string  `json:"infection_kinds,omitempty"`
	MaxDeviation   float64   `json:"max_deviation"`
	DiagnosisKind  string    `json:"diagnosis_kind"`
	Timestamp      time.Time `json:"timestamp"`
}

func newApprovalResponse(ev store.ApprovalEvent) ApprovalResponse {
	return ApprovalResponse{
		AgentID:        ev.AgentID,
		Decision:       string(ev.Decision),
		InfectionKinds: ev.InfectionKinds,
		MaxDeviation:   ev.MaxDeviation,
		DiagnosisKind:  ev.DiagnosisKind,
		Timestamp:      ev.Timestamp,
	}
}

// ApprovalListResponse wraps GET /api/v1/approvals/pending and
// GET /api/v1/approvals/rejected.
type ApprovalListResponse struct {
	Approvals []ApprovalResponse `json:"approvals"`
}

// BatchApprovalResponse is returned by the batch approve/reject/heal
// operations (§4.11), reporting which agents were affected.
type BatchApprovalResponse struct {
	AgentIDs []string `json:"agent_ids"`
	Count    int      `json:"count"`
}

func newBatchApprovalResponse(ids []string) BatchApprovalResponse {
	return BatchApprovalResponse{AgentIDs: ids, Count: len(ids)}
}

// ActionLogResponse is one entry in the recent-actions audit trail.
type ActionLogResponse struct {
	AgentID   string    `json:"agent_id"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newActionLogResponse(e store.ActionLogEntry) ActionLogResponse {
	return ActionLogResponse{
		AgentID:   e.AgentID,
		Action:    e.Action,
		Detail:    e.Detail,
		Timestamp: e.Timestamp,
	}
}

// RecentActionsResponse wraps GET /api/v1/actions/recent.
type RecentActionsResponse struct {
	Actions []ActionLogResponse `json:"actions"`
}

// AcceptedResponse is the generic status body for writes: returned with 202
// by vitals ingestion and feedback submission, and with 200 by the
// approve-healing and heal-explicitly operations.
type AcceptedResponse struct {
	Status string `json:"status"`
}

// HealthResponse is the body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
