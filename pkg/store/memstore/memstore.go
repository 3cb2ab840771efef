// Package memstore is the in-memory default implementation of store.Store,
// used when no external database is configured (§6 "local-first
// persistence").
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentimmune/control-plane/pkg/store"
)

// Memstore holds every persisted record in process memory, guarded by a
// single mutex. Suitable for a single control-plane instance; multi-
// instance deployments should use pkg/store/postgres instead.
type Memstore struct {
	mu sync.RWMutex

	vitals     map[string][]store.VitalsRecord
	execCounts map[string]int
	totalExecs int

	baselines map[string]store.BaselineSnapshot

	infections  []store.InfectionEvent
	quarantines []store.QuarantineEvent

	approvals map[string]store.ApprovalEvent

	healings       []store.HealingEvent
	healingTotal   int
	healingSuccess int

	feedback []store.FeedbackEvent

	actionLog []store.ActionLogEntry
}

// New creates an empty Memstore.
func New() *Memstore {
	return &Memstore{
		vitals:     make(map[string][]store.VitalsRecord),
		execCounts: make(map[string]int),
		baselines:  make(map[string]store.BaselineSnapshot),
		approvals:  make(map[string]store.ApprovalEvent),
	}
}

func (m *Memstore) WriteVitals(ctx context.Context, v store.VitalsRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vitals[v.AgentID] = append(m.vitals[v.AgentID], v)
	m.execCounts[v.AgentID]++
	m.totalExecs++
	return nil
}

func (m *Memstore) RecentVitals(ctx context.Context, agentID string, window time.Duration) ([]store.VitalsRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := timeNowMinus(window)
	var out []store.VitalsRecord
	for _, v := range m.vitals[agentID] {
		if v.Timestamp.After(cutoff) {
			out = append(out, v)
		}
	}
	return out, nil
}

// timeNowMinus exists so tests can reason about the cutoff without the
// package reaching for time.Now() in more than one place.
func timeNowMinus(window time.Duration) time.Time {
	return time.Now().Add(-window)
}

func (m *Memstore) AllVitals(ctx context.Context, agentID string) ([]store.VitalsRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]store.VitalsRecord, len(m.vitals[agentID]))
	copy(out, m.vitals[agentID])
	return out, nil
}

func (m *Memstore) LatestVitals(ctx context.Context, agentID string) (*store.VitalsRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.vitals[agentID]
	if len(recs) == 0 {
		return nil, nil
	}
	latest := recs[len(recs)-1]
	return &latest, nil
}

func (m *Memstore) ExecutionCount(ctx context.Context, agentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.execCounts[agentID], nil
}

func (m *Memstore) TotalExecutions(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalExecs, nil
}

func (m *Memstore) WriteBaseline(ctx context.Context, snap store.BaselineSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baselines[snap.AgentID] = snap
	return nil
}

func (m *Memstore) GetBaseline(ctx context.Context, agentID string) (*store.BaselineSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.baselines[agentID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (m *Memstore) CountBaselines(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.baselines), nil
}

func (m *Memstore) WriteInfectionEvent(ctx context.Context, ev store.InfectionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infections = append(m.infections, ev)
	return nil
}

func (m *Memstore) WriteQuarantineEvent(ctx context.Context, ev store.QuarantineEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quarantines = append(m.quarantines, ev)
	return nil
}

func (m *Memstore) WriteApprovalEvent(ctx context.Context, ev store.ApprovalEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[ev.AgentID] = ev
	return nil
}

func (m *Memstore) LatestApprovalState(ctx context.Context, agentID string) (*store.ApprovalEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.approvals[agentID]
	if !ok {
		return nil, nil
	}
	return &ev, nil
}

func (m *Memstore) PendingApprovals(ctx context.Context) ([]store.ApprovalEvent, error) {
	return m.approvalsByDecision(store.ApprovalPending)
}

func (m *Memstore) RejectedApprovals(ctx context.Context) ([]store.ApprovalEvent, error) {
	return m.approvalsByDecision(store.ApprovalRejected)
}

func (m *Memstore) approvalsByDecision(d store.ApprovalDecision) ([]store.ApprovalEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []store.ApprovalEvent
	for _, ev := range m.approvals {
		if ev.Decision == d {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (m *Memstore) WriteHealingEvent(ctx context.Context, ev store.HealingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healings = append(m.healings, ev)
	m.healingTotal++
	if ev.Success {
		m.healingSuccess++
	}
	return nil
}

func (m *Memstore) FailedHealingActions(ctx context.Context, agentID, diagnosisKind string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, ev := range m.healings {
		if ev.AgentID != agentID || ev.DiagnosisKind != diagnosisKind || ev.Success {
			continue
		}
		if !seen[ev.Action] {
			seen[ev.Action] = true
			out = append(out, ev.Action)
		}
	}
	return out, nil
}

func (m *Memstore) TotalHealings(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healingTotal, nil
}

func (m *Memstore) HealingSuccessRate(ctx context.Context) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.healingTotal == 0 {
		return 0, nil
	}
	return float64(m.healingSuccess) / float64(m.healingTotal), nil
}

func (m *Memstore) PatternSummary(ctx context.Context) ([]store.PatternSummaryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type tally struct {
		counts map[string]int
	}
	byKind := make(map[string]*tally)
	for _, ev := range m.healings {
		if !ev.Success {
			continue
		}
		t, ok := byKind[ev.DiagnosisKind]
		if !ok {
			t = &tally{counts: make(map[string]int)}
			byKind[ev.DiagnosisKind] = t
		}
		t.counts[ev.Action]++
	}

	var out []store.PatternSummaryEntry
	for kind, t := range byKind {
		var best string
		var bestCount int
		for action, count := range t.counts {
			if count > bestCount || (count == bestCount && action < best) {
				best = action
				bestCount = count
			}
		}
		out = append(out, store.PatternSummaryEntry{DiagnosisKind: kind, BestAction: best, SuccessCount: bestCount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DiagnosisKind < out[j].DiagnosisKind })
	return out, nil
}

func (m *Memstore) HealingCounts(ctx context.Context) (successes, failures map[string]map[string]int, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	successes = make(map[string]map[string]int)
	failures = make(map[string]map[string]int)
	for _, ev := range m.healings {
		bucket := failures
		if ev.Success {
			bucket = successes
		}
		if bucket[ev.DiagnosisKind] == nil {
			bucket[ev.DiagnosisKind] = make(map[string]int)
		}
		bucket[ev.DiagnosisKind][ev.Action]++
	}
	return successes, failures, nil
}

func (m *Memstore) WriteFeedback(ctx context.Context, ev store.FeedbackEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, ev)
	return nil
}

func (m *Memstore) WriteActionLog(ctx context.Context, entry store.ActionLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actionLog = append(m.actionLog, entry)
	return nil
}

func (m *Memstore) RecentActions(ctx context.Context, limit int) ([]store.ActionLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.actionLog) {
		limit = len(m.actionLog)
	}
	out := make([]store.ActionLogEntry, limit)
	start := len(m.actionLog) - limit
	copy(out, m.actionLog[start:])
	// most recent first, matching recent_actions(limit) dashboard ordering
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (m *Memstore) Close() error { return nil }

var _ store.Store = (*Memstore)(nil)
