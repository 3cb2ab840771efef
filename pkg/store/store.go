// Package store defines the abstract persistence interface the control
// plane consumes (§6 "Persistence store interface"). Concrete
// implementations live in subpackages: memstore (the in-memory default)
// and postgres (pgx-backed).
package store

import (
	"context"
	"time"
)

// VitalsRecord is a persisted telemetry point, matching §3 "Vitals".
type VitalsRecord struct {
	RunID        string
	AgentID      string
	AgentType    string
	Timestamp    time.Time
	LatencyMS    float64
	TotalTokens  int
	InputTokens  int
	OutputTokens int
	ToolCalls    int
	RetryCount   int
	Success      bool
	Cost         float64
	Model        string
	ErrorCategory string
	PromptHash   string
}

// BaselineSnapshot is a persisted baseline profile snapshot (§3 "Baseline
// profile").
type BaselineSnapshot struct {
	RunID           string
	AgentID         string
	SampleCount     int
	Means           map[string]float64
	Variances       map[string]float64
	DominantPrompt  string
	SavedAt         time.Time
}

// InfectionEvent records a single sentinel anomaly report being persisted.
type InfectionEvent struct {
	RunID        string
	AgentID      string
	Kinds        []string
	MaxDeviation float64
	Timestamp    time.Time
}

// QuarantineEvent records a DRAINING→QUARANTINED completion.
type QuarantineEvent struct {
	RunID     string
	AgentID   string
	Reason    string
	Timestamp time.Time
}

// ApprovalDecision is the operator decision recorded for an approval
// record (§3 "Approval record").
type ApprovalDecision string

// Approval decisions.
const (
	ApprovalPending  ApprovalDecision = "pending"
	ApprovalApproved ApprovalDecision = "approved"
	ApprovalRejected ApprovalDecision = "rejected"
	ApprovalHealNow  ApprovalDecision = "heal_now"
)

// ApprovalEvent is one write to the approval record for an agent.
type ApprovalEvent struct {
	RunID           string
	AgentID         string
	Decision        ApprovalDecision
	InfectionKinds  []string
	MaxDeviation    float64
	DiagnosisKind   string
	Timestamp       time.Time
}

// HealingEvent is one persisted healing attempt (§3 "Healing record").
type HealingEvent struct {
	RunID             string
	AgentID           string
	DiagnosisKind     string
	Action            string
	Success           bool
	ValidationPassed  bool
	Trigger           string
	Message           string
	Timestamp         time.Time
}

// ActionLogEntry is one free-form entry in the audit action log.
type ActionLogEntry struct {
	RunID     string
	AgentID   string
	Action    string
	Detail    string
	Timestamp time.Time
}

// PatternSummaryEntry is one diagnosis kind's best-known healing action.
type PatternSummaryEntry struct {
	DiagnosisKind string
	BestAction    string
	SuccessCount  int
}

// FeedbackEvent is a persisted operator correction on a past diagnosis
// (§4.5 operator feedback).
type FeedbackEvent struct {
	RunID     string
	Kind      string
	Label     string
	Notes     string
	Timestamp time.Time
}

// WSEventRow is one row replayed by a websocket catchup query: the
// backend-assigned cursor id and the originally published JSON payload.
// Only the postgres backend supports catchup (it is the only backend where
// more than one control-plane instance, and thus a client reconnecting to a
// different instance, is possible); memstore deployments are single-process
// and rely on the live broadcast only.
type WSEventRow struct {
	ID      int64
	Payload map[string]any
}

// Store is the abstract persistence surface the orchestrator and its
// subsystems consume (§6). All operations are implicitly scoped to a run
// id so multiple control-plane instances can share a backend without
// cross-contamination (SPEC_FULL supplement #3).
type Store interface {
	WriteVitals(ctx context.Context, v VitalsRecord) error
	RecentVitals(ctx context.Context, agentID string, window time.Duration) ([]VitalsRecord, error)
	AllVitals(ctx context.Context, agentID string) ([]VitalsRecord, error)
	LatestVitals(ctx context.Context, agentID string) (*VitalsRecord, error)
	ExecutionCount(ctx context.Context, agentID string) (int, error)
	TotalExecutions(ctx context.Context) (int, error)

	WriteBaseline(ctx context.Context, snap BaselineSnapshot) error
	GetBaseline(ctx context.Context, agentID string) (*BaselineSnapshot, error)
	CountBaselines(ctx context.Context) (int, error)

	WriteInfectionEvent(ctx context.Context, ev InfectionEvent) error
	WriteQuarantineEvent(ctx context.Context, ev QuarantineEvent) error

	WriteApprovalEvent(ctx context.Context, ev ApprovalEvent) error
	LatestApprovalState(ctx context.Context, agentID string) (*ApprovalEvent, error)
	PendingApprovals(ctx context.Context) ([]ApprovalEvent, error)
	RejectedApprovals(ctx context.Context) ([]ApprovalEvent, error)

	WriteHealingEvent(ctx context.Context, ev HealingEvent) error
	FailedHealingActions(ctx context.Context, agentID, diagnosisKind string) ([]string, error)
	TotalHealings(ctx context.Context) (int, error)
	HealingSuccessRate(ctx context.Context) (float64, error)
	PatternSummary(ctx context.Context) ([]PatternSummaryEntry, error)
	// HealingCounts returns, per diagnosis kind and action, the number of
	// successful and failed attempts recorded fleet-wide (§4.9 positive
	// learning).
	HealingCounts(ctx context.Context) (successes, failures map[string]map[string]int, err error)

	WriteFeedback(ctx context.Context, ev FeedbackEvent) error

	WriteActionLog(ctx context.Context, entry ActionLogEntry) error
	RecentActions(ctx context.Context, limit int) ([]ActionLogEntry, error)

	Close() error
}
