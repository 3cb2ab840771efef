package events

// AgentLifecyclePayload is the payload the Bridge uses for agent_registered,
// anomaly_detected, fleet_wide_resolved, approval_approved,
// approval_rejected, heal_now, healing_started, and healing_exhausted —
// every event that is just "something happened to this agent" with a
// free-form detail string.
type AgentLifecyclePayload struct {
	Type      string `json:"type"`
	AgentID   string `json:"agent_id"`
	Detail    string `json:"detail,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// AnomalyDetectedPayload is the payload for anomaly_detected events.
// Published when the sentinel flags a fresh deviation on an agent still in
// HEALTHY/SUSPECTED/DRAINING.
type AnomalyDetectedPayload struct {
	Type         string  `json:"type"`
	AgentID      string  `json:"agent_id"`
	MaxDeviation float64 `json:"max_deviation"`
	Timestamp    string  `json:"timestamp"`
}

// ApprovalPendingPayload is the payload for approval_pending events.
// Published when an infection's severity crosses the approval threshold
// and healing is held for operator sign-off (§4.11).
type ApprovalPendingPayload struct {
	Type          string `json:"type"`
	AgentID       string `json:"agent_id"`
	DiagnosisKind string `json:"diagnosis_kind"`
	Timestamp     string `json:"timestamp"`
}

// ApprovalDecisionPayload is the payload for approval_approved and
// approval_rejected events.
type ApprovalDecisionPayload struct {
	Type      string `json:"type"`
	AgentID   string `json:"agent_id"`
	Timestamp string `json:"timestamp"`
}

// QuarantinedPayload is the payload for quarantined events. Includes the
// correlator verdict string (agent_specific / partial_fleet / fleet_wide)
// as Verdict.
type QuarantinedPayload struct {
	Type      string `json:"type"`
	AgentID   string `json:"agent_id"`
	Verdict   string `json:"verdict"`
	Timestamp string `json:"timestamp"`
}

// HealingActionPayload is the payload for probation_started, healed, and
// probation_failed events — every ladder event carrying the action name.
type HealingActionPayload struct {
	Type      string `json:"type"`
	AgentID   string `json:"agent_id"`
	Action    string `json:"action,omitempty"`
	Timestamp string `json:"timestamp"`
}
