package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/agentimmune/control-plane/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadVitals(t *testing.T) {
	m := New()
	ctx := context.Background()

	require.NoError(t, m.WriteVitals(ctx, store.VitalsRecord{AgentID: "a1", Timestamp: time.Now(), LatencyMS: 100}))
	require.NoError(t, m.WriteVitals(ctx, store.VitalsRecord{AgentID: "a1", Timestamp: time.Now(), LatencyMS: 200}))

	all, err := m.AllVitals(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	latest, err := m.LatestVitals(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 200.0, latest.LatencyMS)

	count, err := m.ExecutionCount(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	total, err := m.TotalExecutions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestLatestVitalsEmptyReturnsNil(t *testing.T) {
	m := New()
	latest, err := m.LatestVitals(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestRecentVitalsFiltersWindow(t *testing.T) {
	m := New()
	ctx := context.Background()
	require.NoError(t, m.WriteVitals(ctx, store.VitalsRecord{AgentID: "a1", Timestamp: time.Now().Add(-1 * time.Hour)}))
	require.NoError(t, m.WriteVitals(ctx, store.VitalsRecord{AgentID: "a1", Timestamp: time.Now()}))

	recent, err := m.RecentVitals(ctx, "a1", 5*time.Minute)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestBaselineRoundTrip(t *testing.T) {
	m := New()
	ctx := context.Background()
	require.NoError(t, m.WriteBaseline(ctx, store.BaselineSnapshot{AgentID: "a1", SampleCount: 20}))

	snap, err := m.GetBaseline(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 20, snap.SampleCount)

	count, err := m.CountBaselines(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGetBaselineMissingReturnsNil(t *testing.T) {
	m := New()
	snap, err := m.GetBaseline(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestApprovalLifecycle(t *testing.T) {
	m := New()
	ctx := context.Background()

	require.NoError(t, m.WriteApprovalEvent(ctx, store.ApprovalEvent{AgentID: "a1", Decision: store.ApprovalPending}))
	require.NoError(t, m.WriteApprovalEvent(ctx, store.ApprovalEvent{AgentID: "a2", Decision: store.ApprovalRejected}))

	pending, err := m.PendingApprovals(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, "a1", pending[0].AgentID)

	rejected, err := m.RejectedApprovals(ctx)
	require.NoError(t, err)
	assert.Len(t, rejected, 1)
	assert.Equal(t, "a2", rejected[0].AgentID)

	latest, err := m.LatestApprovalState(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, store.ApprovalPending, latest.Decision)

	// A later write for the same agent overwrites the prior state.
	require.NoError(t, m.WriteApprovalEvent(ctx, store.ApprovalEvent{AgentID: "a1", Decision: store.ApprovalApproved}))
	pending, err = m.PendingApprovals(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestHealingEventsAndSuccessRate(t *testing.T) {
	m := New()
	ctx := context.Background()

	require.NoError(t, m.WriteHealingEvent(ctx, store.HealingEvent{AgentID: "a1", DiagnosisKind: "prompt_drift", Action: "rollback_prompt", Success: true}))
	require.NoError(t, m.WriteHealingEvent(ctx, store.HealingEvent{AgentID: "a1", DiagnosisKind: "prompt_drift", Action: "reset_memory", Success: false}))

	total, err := m.TotalHealings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	rate, err := m.HealingSuccessRate(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, rate, 1e-9)

	failed, err := m.FailedHealingActions(ctx, "a1", "prompt_drift")
	require.NoError(t, err)
	assert.Equal(t, []string{"reset_memory"}, failed)
}

func TestHealingSuccessRateWithNoEventsIsZero(t *testing.T) {
	m := New()
	rate, err := m.HealingSuccessRate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rate)
}

func TestPatternSummaryPicksMostSuccessfulAction(t *testing.T) {
	m := New()
	ctx := context.Background()

	require.NoError(t, m.WriteHealingEvent(ctx, store.HealingEvent{AgentID: "a1", DiagnosisKind: "infinite_loop", Action: "revoke_tools", Success: true}))
	require.NoError(t, m.WriteHealingEvent(ctx, store.HealingEvent{AgentID: "a1", DiagnosisKind: "infinite_loop", Action: "revoke_tools", Success: true}))
	require.NoError(t, m.WriteHealingEvent(ctx, store.HealingEvent{AgentID: "a2", DiagnosisKind: "infinite_loop", Action: "reset_agent", Success: true}))

	summary, err := m.PatternSummary(ctx)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, "infinite_loop", summary[0].DiagnosisKind)
	assert.Equal(t, "revoke_tools", summary[0].BestAction)
	assert.Equal(t, 2, summary[0].SuccessCount)
}

func TestActionLogRecentOrdersNewestFirstAndRespectsLimit(t *testing.T) {
	m := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, m.WriteActionLog(ctx, store.ActionLogEntry{AgentID: "a1", Action: "tick"}))
	}

	recent, err := m.RecentActions(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	all, err := m.RecentActions(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestInfectionAndQuarantineEventsDoNotError(t *testing.T) {
	m := New()
	ctx := context.Background()
	assert.NoError(t, m.WriteInfectionEvent(ctx, store.InfectionEvent{AgentID: "a1", Kinds: []string{"token_spike"}}))
	assert.NoError(t, m.WriteQuarantineEvent(ctx, store.QuarantineEvent{AgentID: "a1", Reason: "fleet_wide"}))
}

func TestHealingCountsSplitsByOutcome(t *testing.T) {
	m := New()
	ctx := context.Background()
	require.NoError(t, m.WriteHealingEvent(ctx, store.HealingEvent{DiagnosisKind: "cost_overrun", Action: "reduce_autonomy", Success: true}))
	require.NoError(t, m.WriteHealingEvent(ctx, store.HealingEvent{DiagnosisKind: "cost_overrun", Action: "reduce_autonomy", Success: false}))

	successes, failures, err := m.HealingCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, successes["cost_overrun"]["reduce_autonomy"])
	assert.Equal(t, 1, failures["cost_overrun"]["reduce_autonomy"])
}

func TestWriteFeedbackDoesNotError(t *testing.T) {
	m := New()
	assert.NoError(t, m.WriteFeedback(context.Background(), store.FeedbackEvent{Kind: "prompt_drift", Label: "false_positive"}))
}

func TestClose(t *testing.T) {
	m := New()
	assert.NoError(t, m.Close())
}
