package store

import (
	"context"
	"time"

	"github.com/agentimmune/control-plane/pkg/baseline"
	"github.com/agentimmune/control-plane/pkg/diagnosis"
	"github.com/agentimmune/control-plane/pkg/healer"
	"github.com/agentimmune/control-plane/pkg/memory"
	"github.com/agentimmune/control-plane/pkg/vitals"
)

// VitalsAdapter wraps a Store so it satisfies vitals.Store, translating
// between vitals.Vitals and the store-native VitalsRecord.
type VitalsAdapter struct{ Store Store }

func (a VitalsAdapter) WriteVitals(ctx context.Context, v vitals.Vitals) error {
	return a.Store.WriteVitals(ctx, fromVitals(v))
}

func fromVitals(v vitals.Vitals) VitalsRecord {
	return VitalsRecord{
		AgentID:       v.AgentID,
		AgentType:     v.AgentType,
		Timestamp:     v.Timestamp,
		LatencyMS:     v.LatencyMS,
		TotalTokens:   v.TotalTokens,
		InputTokens:   v.InputTokens,
		OutputTokens:  v.OutputTokens,
		ToolCalls:     v.ToolCalls,
		RetryCount:    v.RetryCount,
		Success:       v.Success,
		Cost:          v.Cost,
		Model:         v.Model,
		ErrorCategory: v.ErrorCategory,
		PromptHash:    v.PromptHash,
	}
}

func toVitals(r VitalsRecord) vitals.Vitals {
	return vitals.Vitals{
		AgentID:       r.AgentID,
		AgentType:     r.AgentType,
		Timestamp:     r.Timestamp,
		LatencyMS:     r.LatencyMS,
		TotalTokens:   r.TotalTokens,
		InputTokens:   r.InputTokens,
		OutputTokens:  r.OutputTokens,
		ToolCalls:     r.ToolCalls,
		RetryCount:    r.RetryCount,
		Success:       r.Success,
		Cost:          r.Cost,
		Model:         r.Model,
		ErrorCategory: r.ErrorCategory,
		PromptHash:    r.PromptHash,
	}
}

func (a VitalsAdapter) RecentVitals(ctx context.Context, agentID string, window time.Duration) ([]vitals.Vitals, error) {
	recs, err := a.Store.RecentVitals(ctx, agentID, window)
	if err != nil {
		return nil, err
	}
	return toVitalsSlice(recs), nil
}

func (a VitalsAdapter) LatestVitals(ctx context.Context, agentID string) (*vitals.Vitals, error) {
	rec, err := a.Store.LatestVitals(ctx, agentID)
	if err != nil || rec == nil {
		return nil, err
	}
	v := toVitals(*rec)
	return &v, nil
}

func (a VitalsAdapter) ExecutionCount(ctx context.Context, agentID string) (int, error) {
	return a.Store.ExecutionCount(ctx, agentID)
}

func (a VitalsAdapter) TotalExecutions(ctx context.Context) (int, error) {
	return a.Store.TotalExecutions(ctx)
}

func toVitalsSlice(recs []VitalsRecord) []vitals.Vitals {
	out := make([]vitals.Vitals, len(recs))
	for i, r := range recs {
		out[i] = toVitals(r)
	}
	return out
}

// BaselineAdapter wraps a Store so it satisfies baseline.Store.
type BaselineAdapter struct{ Store Store }

func (a BaselineAdapter) WriteBaseline(ctx context.Context, snap baseline.Snapshot) error {
	means := make(map[string]float64, len(snap.Means))
	for k, v := range snap.Means {
		means[string(k)] = v
	}
	variances := make(map[string]float64, len(snap.Variances))
	for k, v := range snap.Variances {
		variances[string(k)] = v
	}
	return a.Store.WriteBaseline(ctx, BaselineSnapshot{
		AgentID:        snap.AgentID,
		SampleCount:    snap.SampleCnt,
		Means:          means,
		Variances:      variances,
		DominantPrompt: snap.Dominant,
		SavedAt:        time.Now(),
	})
}

// MemoryAdapter wraps a Store so it satisfies memory.Store.
type MemoryAdapter struct{ Store Store }

func (a MemoryAdapter) WriteHealingRecord(ctx context.Context, r memory.Record) error {
	return a.Store.WriteHealingEvent(ctx, HealingEvent{
		AgentID:       r.AgentID,
		DiagnosisKind: string(r.Diagnosis),
		Action:        string(r.Action),
		Success:       r.Success,
		Timestamp:     r.Timestamp,
	})
}

func (a MemoryAdapter) WriteFeedback(ctx context.Context, fb diagnosis.Feedback) error {
	return a.Store.WriteFeedback(ctx, FeedbackEvent{
		Kind:      string(fb.Kind),
		Label:     string(fb.Label),
		Notes:     fb.Notes,
		Timestamp: time.Now(),
	})
}

func (a MemoryAdapter) FailedActions(ctx context.Context, agentID string, kind diagnosis.Kind) ([]healer.Action, error) {
	names, err := a.Store.FailedHealingActions(ctx, agentID, string(kind))
	if err != nil {
		return nil, err
	}
	out := make([]healer.Action, len(names))
	for i, n := range names {
		out[i] = healer.Action(n)
	}
	return out, nil
}

func (a MemoryAdapter) HealingCounts(ctx context.Context) (successes, failures map[diagnosis.Kind]map[healer.Action]int, err error) {
	rawSucc, rawFail, err := a.Store.HealingCounts(ctx)
	if err != nil {
		return nil, nil, err
	}
	return convertCounts(rawSucc), convertCounts(rawFail), nil
}

func convertCounts(raw map[string]map[string]int) map[diagnosis.Kind]map[healer.Action]int {
	out := make(map[diagnosis.Kind]map[healer.Action]int, len(raw))
	for kind, actions := range raw {
		converted := make(map[healer.Action]int, len(actions))
		for action, count := range actions {
			converted[healer.Action(action)] = count
		}
		out[diagnosis.Kind(kind)] = converted
	}
	return out
}

var (
	_ vitals.Store   = VitalsAdapter{}
	_ baseline.Store = BaselineAdapter{}
	_ memory.Store   = MemoryAdapter{}
)
