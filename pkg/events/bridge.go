package events

import (
	"context"
	"log/slog"

	"github.com/agentimmune/control-plane/pkg/orchestrator"
)

// Bridge forwards orchestrator.Event callbacks to an EventPublisher,
// turning each into the richer typed payload its event type calls for.
// Register it with orchestrator.Orchestrator.WithEventCallback(bridge.Forward).
type Bridge struct {
	publisher *EventPublisher
	ctx       context.Context
}

// NewBridge creates a Bridge. ctx bounds every publish call issued from the
// orchestrator's event callback, which itself has no per-call context.
func NewBridge(ctx context.Context, publisher *EventPublisher) *Bridge {
	return &Bridge{publisher: publisher, ctx: ctx}
}

// Forward is an orchestrator.Event callback. Publish failures are logged,
// not returned — a lost dashboard notification must never roll back or
// retry the orchestrator action that produced it.
func (b *Bridge) Forward(ev orchestrator.Event) {
	ts := ev.Timestamp.Format("2006-01-02T15:04:05.000000000Z07:00")

	var err error
	switch ev.Kind {
	case EventTypeQuarantined:
		err = b.publisher.PublishQuarantined(b.ctx, ev.AgentID, QuarantinedPayload{
			Type: ev.Kind, AgentID: ev.AgentID, Verdict: ev.Detail, Timestamp: ts,
		})
	case EventTypeApprovalPending:
		err = b.publisher.PublishApprovalPending(b.ctx, ev.AgentID, ApprovalPendingPayload{
			Type: ev.Kind, AgentID: ev.AgentID, DiagnosisKind: ev.Detail, Timestamp: ts,
		})
	case EventTypeProbationStarted, EventTypeHealed, EventTypeProbationFailed:
		err = b.publisher.PublishHealingAction(b.ctx, ev.AgentID, HealingActionPayload{
			Type: ev.Kind, AgentID: ev.AgentID, Action: ev.Detail, Timestamp: ts,
		})
	default:
		// agent_registered, anomaly_detected (carries max_deviation as a
		// formatted string, not worth a dedicated float field here),
		// fleet_wide_resolved, approval_approved, approval_rejected,
		// heal_now, healing_started, healing_exhausted.
		err = b.publisher.PublishAgentLifecycle(b.ctx, ev.AgentID, AgentLifecyclePayload{
			Type: ev.Kind, AgentID: ev.AgentID, Detail: ev.Detail, Timestamp: ts,
		})
	}

	if err != nil {
		slog.Warn("events: failed to publish orchestrator event", "kind", ev.Kind, "agent_id", ev.AgentID, "error", err)
	}
}
