package memory

import (
	"context"
	"testing"

	"github.com/agentimmune/control-plane/pkg/diagnosis"
	"github.com/agentimmune/control-plane/pkg/healer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordHealing_PopulatesHistoryAndCounts(t *testing.T) {
	m := New()
	m.RecordHealing(context.Background(), "a1", diagnosis.KindPromptDrift, healer.ActionResetMemory, true)
	m.RecordHealing(context.Background(), "a1", diagnosis.KindPromptDrift, healer.ActionRollbackPrompt, false)

	assert.Equal(t, 2, m.TotalHealings())
	assert.InDelta(t, 0.5, m.OverallSuccessRate(), 1e-9)
	assert.Len(t, m.History("a1"), 2)
	assert.Empty(t, m.History("a2"))
}

func TestFailedActions_OnlyScopedToAgentAndDiagnosis(t *testing.T) {
	m := New()
	m.RecordHealing(context.Background(), "a1", diagnosis.KindPromptDrift, healer.ActionResetMemory, false)
	m.RecordHealing(context.Background(), "a1", diagnosis.KindCostOverrun, healer.ActionResetMemory, true)
	m.RecordHealing(context.Background(), "a2", diagnosis.KindPromptDrift, healer.ActionResetMemory, false)

	failed := m.FailedActions(context.Background(), "a1", diagnosis.KindPromptDrift)
	assert.True(t, failed[healer.ActionResetMemory])

	notFailed := m.FailedActions(context.Background(), "a1", diagnosis.KindCostOverrun)
	assert.False(t, notFailed[healer.ActionResetMemory])
}

func TestSuccessfulActions_OrderedByCountDescending(t *testing.T) {
	m := New()
	for i := 0; i < 3; i++ {
		m.RecordHealing(context.Background(), "a1", diagnosis.KindInfiniteLoop, healer.ActionResetMemory, true)
	}
	m.RecordHealing(context.Background(), "a2", diagnosis.KindInfiniteLoop, healer.ActionRevokeTools, true)

	actions := m.SuccessfulActions(diagnosis.KindInfiniteLoop)
	require.Len(t, actions, 2)
	assert.Equal(t, healer.ActionResetMemory, actions[0])
	assert.Equal(t, healer.ActionRevokeTools, actions[1])
}

func TestSuccessRate_ComputesAcrossFleet(t *testing.T) {
	m := New()
	m.RecordHealing(context.Background(), "a1", diagnosis.KindCostOverrun, healer.ActionReduceAutonomy, true)
	m.RecordHealing(context.Background(), "a2", diagnosis.KindCostOverrun, healer.ActionReduceAutonomy, true)
	m.RecordHealing(context.Background(), "a3", diagnosis.KindCostOverrun, healer.ActionReduceAutonomy, false)

	assert.InDelta(t, 2.0/3.0, m.SuccessRate(diagnosis.KindCostOverrun, healer.ActionReduceAutonomy), 1e-9)
	assert.Equal(t, 0.0, m.SuccessRate(diagnosis.KindCostOverrun, healer.ActionResetAgent))
}

func TestPatternSummary_BestActionPerDiagnosis(t *testing.T) {
	m := New()
	m.RecordHealing(context.Background(), "a1", diagnosis.KindPromptDrift, healer.ActionResetMemory, true)
	m.RecordHealing(context.Background(), "a2", diagnosis.KindPromptDrift, healer.ActionResetMemory, true)
	m.RecordHealing(context.Background(), "a3", diagnosis.KindPromptDrift, healer.ActionRollbackPrompt, true)

	summary := m.PatternSummary()
	entry, ok := summary[diagnosis.KindPromptDrift]
	require.True(t, ok)
	assert.Equal(t, healer.ActionResetMemory, entry.BestAction)
	assert.Equal(t, 2, entry.SuccessCount)
}

func TestPatternSummary_EmptyWhenNoSuccesses(t *testing.T) {
	m := New()
	m.RecordHealing(context.Background(), "a1", diagnosis.KindPromptDrift, healer.ActionResetMemory, false)
	assert.Empty(t, m.PatternSummary())
}

func TestHasLearning_TrueOnceAnyOutcomeRecorded(t *testing.T) {
	m := New()
	assert.False(t, m.HasLearning("a1", diagnosis.KindPromptDrift))
	m.RecordHealing(context.Background(), "a1", diagnosis.KindPromptDrift, healer.ActionResetMemory, true)
	assert.True(t, m.HasLearning("a1", diagnosis.KindPromptDrift))
}

func TestRecordFeedback_AccumulatesHistory(t *testing.T) {
	m := New()
	m.RecordFeedback(context.Background(), diagnosis.Feedback{Kind: diagnosis.KindCostOverrun, Label: diagnosis.FeedbackFalsePositive, Notes: "billing spike was a planned load test"})
	history := m.FeedbackHistory()
	require.Len(t, history, 1)
	assert.Equal(t, diagnosis.FeedbackFalsePositive, history[0].Label)
	assert.Equal(t, "billing spike was a planned load test", history[0].Notes)
}

type fakeStore struct {
	healingRecords []Record
	feedback       []diagnosis.Feedback
	failedByAgent  map[string][]healer.Action
}

func (f *fakeStore) WriteHealingRecord(ctx context.Context, r Record) error {
	f.healingRecords = append(f.healingRecords, r)
	return nil
}

func (f *fakeStore) WriteFeedback(ctx context.Context, fb diagnosis.Feedback) error {
	f.feedback = append(f.feedback, fb)
	return nil
}

func (f *fakeStore) FailedActions(ctx context.Context, agentID string, kind diagnosis.Kind) ([]healer.Action, error) {
	return f.failedByAgent[agentID], nil
}

func (f *fakeStore) HealingCounts(ctx context.Context) (map[diagnosis.Kind]map[healer.Action]int, map[diagnosis.Kind]map[healer.Action]int, error) {
	return nil, nil, nil
}

func TestWithStore_ReadsThroughForFailedActions(t *testing.T) {
	store := &fakeStore{failedByAgent: map[string][]healer.Action{"a1": {healer.ActionResetMemory}}}
	m := New().WithStore(store)

	failed := m.FailedActions(context.Background(), "a1", diagnosis.KindPromptDrift)
	assert.True(t, failed[healer.ActionResetMemory])
}

func TestWithStore_WritesThroughOnRecord(t *testing.T) {
	store := &fakeStore{}
	m := New().WithStore(store)
	m.RecordHealing(context.Background(), "a1", diagnosis.KindPromptDrift, healer.ActionResetMemory, true)
	m.RecordFeedback(context.Background(), diagnosis.Feedback{Kind: diagnosis.KindPromptDrift, Label: diagnosis.FeedbackWrongDiagnosis})

	require.Len(t, store.healingRecords, 1)
	require.Len(t, store.feedback, 1)
}
