// Package healer holds the static per-diagnosis policy ladders and the
// next-action selection algorithm that weighs them against immune memory
// (§4.6).
package healer

import (
	"context"
	"fmt"

	"github.com/agentimmune/control-plane/pkg/diagnosis"
)

// Action identifies one step on a healing ladder.
type Action string

// Healing actions (§4.6), ordered here from least to most disruptive.
const (
	ActionResetMemory    Action = "RESET_MEMORY"
	ActionRollbackPrompt Action = "ROLLBACK_PROMPT"
	ActionReduceAutonomy Action = "REDUCE_AUTONOMY"
	ActionRevokeTools    Action = "REVOKE_TOOLS"
	ActionResetAgent     Action = "RESET_AGENT"
)

// ladders maps each diagnosis kind to its static, ordered policy ladder.
// Every ladder ends with ActionResetAgent and has no duplicates (§4.6).
var ladders = map[diagnosis.Kind][]Action{
	diagnosis.KindPromptDrift: {
		ActionResetMemory, ActionRollbackPrompt, ActionReduceAutonomy, ActionResetAgent,
	},
	diagnosis.KindPromptInjection: {
		ActionRevokeTools, ActionResetMemory, ActionRollbackPrompt, ActionResetAgent,
	},
	diagnosis.KindInfiniteLoop: {
		ActionRevokeTools, ActionReduceAutonomy, ActionResetMemory, ActionResetAgent,
	},
	diagnosis.KindToolInstability: {
		ActionReduceAutonomy, ActionRollbackPrompt, ActionResetAgent,
	},
	diagnosis.KindMemoryCorruption: {
		ActionResetMemory, ActionResetAgent,
	},
	diagnosis.KindCostOverrun: {
		ActionReduceAutonomy, ActionRollbackPrompt, ActionResetMemory, ActionResetAgent,
	},
	diagnosis.KindExternalCause: {
		ActionReduceAutonomy, ActionResetAgent,
	},
	diagnosis.KindUnknown: {
		ActionResetMemory, ActionReduceAutonomy, ActionResetAgent,
	},
}

// Ladder returns the static policy ladder for a diagnosis kind, falling
// back to the UNKNOWN ladder for any kind with no dedicated policy.
func Ladder(kind diagnosis.Kind) []Action {
	if l, ok := ladders[kind]; ok {
		return append([]Action(nil), l...)
	}
	return append([]Action(nil), ladders[diagnosis.KindUnknown]...)
}

// SuccessSource reports, for a diagnosis kind, the globally successful
// actions ordered by success count descending (§4.6 step 2). Implemented
// by the immune memory package; declared locally to avoid an import cycle.
type SuccessSource interface {
	SuccessfulActions(kind diagnosis.Kind) []Action
}

// NextAction implements the §4.6 selection algorithm: candidates are the
// ladder minus the failed set, reordered (stably) to place historically
// successful actions first while preserving relative order among the rest.
// Returns ("", false) when the ladder is exhausted.
func NextAction(kind diagnosis.Kind, failed map[Action]bool, memory SuccessSource) (Action, bool) {
	ladder := Ladder(kind)
	candidates := make([]Action, 0, len(ladder))
	for _, a := range ladder {
		if !failed[a] {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}

	if memory != nil {
		if successful := memory.SuccessfulActions(kind); len(successful) > 0 {
			rank := make(map[Action]int, len(successful))
			for i, a := range successful {
				rank[a] = i
			}
			candidates = reorderBySuccess(candidates, rank, len(successful))
		}
	}

	return candidates[0], true
}

// reorderBySuccess stably sorts candidates so that actions present in rank
// come first (in rank order), and untried actions keep their original
// relative order after them.
func reorderBySuccess(candidates []Action, rank map[Action]int, unrankedFallback int) []Action {
	type scored struct {
		action Action
		key    int
		orig   int
	}
	scoredList := make([]scored, len(candidates))
	for i, a := range candidates {
		key, ok := rank[a]
		if !ok {
			key = unrankedFallback
		}
		scoredList[i] = scored{action: a, key: key, orig: i}
	}
	for i := 1; i < len(scoredList); i++ {
		j := i
		for j > 0 && lessScored(scoredList[j], scoredList[j-1]) {
			scoredList[j], scoredList[j-1] = scoredList[j-1], scoredList[j]
			j--
		}
	}
	out := make([]Action, len(scoredList))
	for i, s := range scoredList {
		out[i] = s.action
	}
	return out
}

func lessScored(a, b struct {
	action Action
	key    int
	orig   int
}) bool {
	if a.key != b.key {
		return a.key < b.key
	}
	return a.orig < b.orig
}

// Result is the outcome of one applied healing action.
type Result struct {
	AgentID string
	Action  Action
	Success bool
	Message string
}

// Executor applies a healing action to a real or simulated agent (§4.8).
type Executor interface {
	Execute(ctx context.Context, agentID string, action Action) (Result, error)
}

// Healer applies healing actions through a pluggable executor backend.
type Healer struct {
	executor Executor
}

// New creates a Healer backed by the given executor.
func New(executor Executor) *Healer {
	return &Healer{executor: executor}
}

// Apply runs one healing action for an agent via the configured executor.
func (h *Healer) Apply(ctx context.Context, agentID string, action Action) (Result, error) {
	if h.executor == nil {
		return Result{}, fmt.Errorf("healer: no executor configured")
	}
	return h.executor.Execute(ctx, agentID, action)
}
