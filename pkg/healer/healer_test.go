package healer

import (
	"context"
	"testing"

	"github.com/agentimmune/control-plane/pkg/diagnosis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLadder_PromptDriftOrder(t *testing.T) {
	l := Ladder(diagnosis.KindPromptDrift)
	assert.Equal(t, []Action{ActionResetMemory, ActionRollbackPrompt, ActionReduceAutonomy, ActionResetAgent}, l)
}

func TestLadder_EveryLadderEndsWithResetAgentAndHasNoDuplicates(t *testing.T) {
	kinds := []diagnosis.Kind{
		diagnosis.KindPromptDrift, diagnosis.KindPromptInjection, diagnosis.KindInfiniteLoop,
		diagnosis.KindToolInstability, diagnosis.KindMemoryCorruption, diagnosis.KindCostOverrun,
		diagnosis.KindExternalCause, diagnosis.KindUnknown,
	}
	for _, k := range kinds {
		l := Ladder(k)
		require.NotEmpty(t, l)
		assert.Equal(t, ActionResetAgent, l[len(l)-1], "ladder for %s must end with RESET_AGENT", k)

		seen := make(map[Action]bool)
		for _, a := range l {
			assert.False(t, seen[a], "duplicate action %s in ladder for %s", a, k)
			seen[a] = true
		}
	}
}

func TestLadder_UnknownKindFallsBackToUnknownLadder(t *testing.T) {
	l := Ladder(diagnosis.Kind("SOMETHING_NOT_IN_THE_TABLE"))
	assert.Equal(t, Ladder(diagnosis.KindUnknown), l)
}

func TestLadder_ReturnsACopyNotSharedMutableState(t *testing.T) {
	l := Ladder(diagnosis.KindCostOverrun)
	l[0] = ActionResetAgent
	l2 := Ladder(diagnosis.KindCostOverrun)
	assert.Equal(t, ActionReduceAutonomy, l2[0])
}

func TestNextAction_SkipsFailedSet(t *testing.T) {
	failed := map[Action]bool{ActionRevokeTools: true, ActionResetMemory: true}
	action, ok := NextAction(diagnosis.KindPromptInjection, failed, nil)
	require.True(t, ok)
	assert.Equal(t, ActionRollbackPrompt, action)
}

func TestNextAction_ExhaustedLadderReturnsFalse(t *testing.T) {
	failed := map[Action]bool{
		ActionRevokeTools: true, ActionResetMemory: true, ActionRollbackPrompt: true, ActionResetAgent: true,
	}
	_, ok := NextAction(diagnosis.KindPromptInjection, failed, nil)
	assert.False(t, ok)
}

type fakeMemory struct {
	successful []Action
}

func (f fakeMemory) SuccessfulActions(kind diagnosis.Kind) []Action { return f.successful }

func TestNextAction_ReordersBySuccessPreservingUntriedOrder(t *testing.T) {
	// PROMPT_DRIFT ladder: reset_memory, rollback_prompt, reduce_autonomy, reset_agent.
	// reduce_autonomy has the most recorded successes globally, so it should
	// be tried first; the remaining untried candidates keep relative order.
	mem := fakeMemory{successful: []Action{ActionReduceAutonomy}}
	action, ok := NextAction(diagnosis.KindPromptDrift, nil, mem)
	require.True(t, ok)
	assert.Equal(t, ActionReduceAutonomy, action)
}

func TestNextAction_NoSuccessHistoryPreservesLadderOrder(t *testing.T) {
	mem := fakeMemory{successful: nil}
	action, ok := NextAction(diagnosis.KindPromptDrift, nil, mem)
	require.True(t, ok)
	assert.Equal(t, ActionResetMemory, action)
}

func TestNextAction_FullReorderExample(t *testing.T) {
	// Ladder: revoke_tools, reduce_autonomy, reset_memory, reset_agent (INFINITE_LOOP).
	// Memory says reset_memory succeeded most, then revoke_tools.
	mem := fakeMemory{successful: []Action{ActionResetMemory, ActionRevokeTools}}
	action, ok := NextAction(diagnosis.KindInfiniteLoop, nil, mem)
	require.True(t, ok)
	assert.Equal(t, ActionResetMemory, action)
}

type stubExecutor struct {
	result Result
	err    error
}

func (s stubExecutor) Execute(ctx context.Context, agentID string, action Action) (Result, error) {
	return s.result, s.err
}

func TestHealer_ApplyDelegatesToExecutor(t *testing.T) {
	h := New(stubExecutor{result: Result{AgentID: "a1", Action: ActionResetMemory, Success: true, Message: "ok"}})
	res, err := h.Apply(context.Background(), "a1", ActionResetMemory)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestHealer_ApplyWithoutExecutorErrors(t *testing.T) {
	h := New(nil)
	_, err := h.Apply(context.Background(), "a1", ActionResetMemory)
	assert.Error(t, err)
}
