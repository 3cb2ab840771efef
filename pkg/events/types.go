// Package events delivers real-time control-plane events to dashboard
// clients via WebSocket, with PostgreSQL NOTIFY/LISTEN for cross-instance
// fan-out when more than one control-plane process shares a database.
//
// Two channel scopes exist:
//
//   - FleetChannel — fleet-wide notifications every dashboard view
//     subscribes to: a transient (not persisted) copy of each quarantined
//     and approval_pending event.
//   - AgentChannel(id) — per-agent detail events: every event type below
//     is published on the channel of the agent it concerns.
//
// Every event published on an agent channel is also persisted to the
// ws_events table so a client that reconnects mid-incident can catch up
// (see CatchupQuerier).
package events

// Event types — mirror the orchestrator's internal event kinds (see
// pkg/orchestrator's emit calls) one-for-one so the bridge can forward
// without renaming.
const (
	EventTypeAgentRegistered   = "agent_registered"
	EventTypeAnomalyDetected   = "anomaly_detected"
	EventTypeFleetWideResolved = "fleet_wide_resolved"
	EventTypeQuarantined       = "quarantined"
	EventTypeApprovalPending   = "approval_pending"
	EventTypeApprovalApproved  = "approval_approved"
	EventTypeApprovalRejected  = "approval_rejected"
	EventTypeHealNow           = "heal_now"
	EventTypeHealingStarted    = "healing_started"
	EventTypeHealingExhausted  = "healing_exhausted"
	EventTypeProbationStarted  = "probation_started"
	EventTypeHealed            = "healed"
	EventTypeProbationFailed   = "probation_failed"
)

// FleetChannel is the channel for fleet-wide events. The dashboard's agent
// list and stats panel subscribe here.
const FleetChannel = "fleet"

// AgentChannel returns the channel name for one agent's detail events.
// Format: "agent:{agent_id}"
func AgentChannel(agentID string) string {
	return "agent:" + agentID
}

// ClientMessage is the JSON structure for client -> server WebSocket
// messages (subscribe/unsubscribe/catchup/ping).
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`       // e.g. "fleet" or "agent:worker-3"
	LastEventID *int   `json:"last_event_id,omitempty"` // for catchup
}
