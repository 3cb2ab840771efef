package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventPublisher publishes control-plane events for WebSocket delivery.
// Every event is persisted to the ws_events table then broadcast via
// pg_notify in the same transaction, so catchup queries and live delivery
// never disagree about what was published.
//
// Each public method accepts a specific typed payload struct — see
// payloads.go. Internally, payloads are marshaled to JSON and routed to
// the channel named by the call (fleet-wide or per-agent).
type EventPublisher struct {
	db *sql.DB
}

// NewEventPublisher creates a new EventPublisher. db should be the *sql.DB
// backing the control plane's postgres store.
func NewEventPublisher(db *sql.DB) *EventPublisher {
	return &EventPublisher{db: db}
}

// PublishAgentLifecycle persists and broadcasts any of the single-detail
// agent lifecycle events (agent_registered, heal_now, healing_started,
// healing_exhausted, fleet_wide_resolved, approval_approved,
// approval_rejected) to that agent's channel.
func (p *EventPublisher) PublishAgentLifecycle(ctx context.Context, agentID string, payload AgentLifecyclePayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal AgentLifecyclePayload: %w", err)
	}
	return p.persistAndNotify(ctx, AgentChannel(agentID), payloadJSON)
}

// PublishAnomalyDetected persists and broadcasts an anomaly_detected event
// to the agent's channel.
func (p *EventPublisher) PublishAnomalyDetected(ctx context.Context, agentID string, payload AnomalyDetectedPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal AnomalyDetectedPayload: %w", err)
	}
	return p.persistAndNotify(ctx, AgentChannel(agentID), payloadJSON)
}

// PublishApprovalPending persists an approval_pending event to the agent's
// channel and broadcasts a transient copy to the fleet channel so the
// pending-approvals panel updates without a per-agent subscription.
func (p *EventPublisher) PublishApprovalPending(ctx context.Context, agentID string, payload ApprovalPendingPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ApprovalPendingPayload: %w", err)
	}

	var firstErr error
	if err := p.persistAndNotify(ctx, AgentChannel(agentID), payloadJSON); err != nil {
		firstErr = err
	}
	if err := p.notifyOnly(ctx, FleetChannel, payloadJSON); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// PublishQuarantined persists and broadcasts a quarantined event on the
// agent's channel, and broadcasts a transient (not persisted) copy on the
// fleet channel (the agent list needs to flip this agent's status without
// a dedicated subscription).
func (p *EventPublisher) PublishQuarantined(ctx context.Context, agentID string, payload QuarantinedPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal QuarantinedPayload: %w", err)
	}

	var firstErr error
	if err := p.persistAndNotify(ctx, AgentChannel(agentID), payloadJSON); err != nil {
		firstErr = err
	}
	if err := p.notifyOnly(ctx, FleetChannel, payloadJSON); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// PublishHealingAction persists and broadcasts a ladder-progress event
// (probation_started, healed, probation_failed) to the agent's channel.
func (p *EventPublisher) PublishHealingAction(ctx context.Context, agentID string, payload HealingActionPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal HealingActionPayload: %w", err)
	}
	return p.persistAndNotify(ctx, AgentChannel(agentID), payloadJSON)
}

// --- Internal core methods ---

// persistAndNotify persists a pre-marshaled event to ws_events and
// broadcasts it via pg_notify in a single transaction (pg_notify is
// transactional — held until COMMIT).
func (p *EventPublisher) persistAndNotify(ctx context.Context, channel string, payloadJSON []byte) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var eventID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO ws_events (channel, payload, created_at) VALUES ($1, $2, $3) RETURNING id`,
		channel, payloadJSON, time.Now(),
	).Scan(&eventID)
	if err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	notifyPayload, err := injectDBEventIDAndTruncate(payloadJSON, eventID)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event transaction: %w", err)
	}
	return nil
}

// notifyOnly broadcasts a pre-marshaled event via pg_notify without
// persisting it — used for transient copies mirrored to the fleet channel.
func (p *EventPublisher) notifyOnly(ctx context.Context, channel string, payloadJSON []byte) error {
	notifyPayload, err := truncateIfNeeded(string(payloadJSON))
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// --- Internal helpers ---

// injectDBEventIDAndTruncate adds db_event_id to the JSON payload for NOTIFY
// delivery and applies truncation if the result exceeds PostgreSQL's limit.
func injectDBEventIDAndTruncate(payloadJSON []byte, dbEventID int64) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return "", fmt.Errorf("failed to unmarshal payload for db_event_id injection: %w", err)
	}
	m["db_event_id"] = dbEventID

	enrichedBytes, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal enriched NOTIFY payload: %w", err)
	}
	return truncateIfNeeded(string(enrichedBytes))
}

// truncateIfNeeded returns the payload string as-is if it fits within
// PostgreSQL's 8000-byte NOTIFY limit, otherwise returns a minimal
// truncation envelope with only routing fields.
func truncateIfNeeded(payloadStr string) (string, error) {
	if len(payloadStr) <= 7900 {
		return payloadStr, nil
	}
	return buildTruncatedPayload([]byte(payloadStr))
}

// buildTruncatedPayload creates a minimal truncation envelope from the full
// JSON payload bytes, extracting only the routing fields the client needs
// to fetch the complete event from the database.
func buildTruncatedPayload(payloadBytes []byte) (string, error) {
	var routing struct {
		Type      string `json:"type"`
		AgentID   string `json:"agent_id"`
		DBEventID *int64 `json:"db_event_id,omitempty"`
	}
	if err := json.Unmarshal(payloadBytes, &routing); err != nil {
		return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
	}

	truncated := map[string]any{
		"type":      routing.Type,
		"agent_id":  routing.AgentID,
		"truncated": true,
	}
	if routing.DBEventID != nil {
		truncated["db_event_id"] = *routing.DBEventID
	}

	truncBytes, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(truncBytes), nil
}
