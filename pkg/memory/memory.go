// Package memory is the control plane's adaptive immune memory: it
// remembers healing outcomes, learns which actions work globally, and
// stores operator feedback on past diagnoses (§4.9).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentimmune/control-plane/pkg/diagnosis"
	"github.com/agentimmune/control-plane/pkg/healer"
	"github.com/google/uuid"
)

// Record is one attempted healing action (§3 "Healing record").
type Record struct {
	ID            string
	AgentID       string
	Diagnosis     diagnosis.Kind
	Action        healer.Action
	Success       bool
	Timestamp     time.Time
}

// agentDiagnosisKey indexes negative learning by (agent, diagnosis) (§4.9).
type agentDiagnosisKey struct {
	agentID   string
	diagnosis diagnosis.Kind
}

// Store is the minimal persistence surface Memory reads through when a
// backing store is configured (§4.9 "read-through from the store").
type Store interface {
	WriteHealingRecord(ctx context.Context, r Record) error
	WriteFeedback(ctx context.Context, fb diagnosis.Feedback) error
	FailedActions(ctx context.Context, agentID string, kind diagnosis.Kind) ([]healer.Action, error)
	HealingCounts(ctx context.Context) (successes, failures map[diagnosis.Kind]map[healer.Action]int, err error)
}

// Memory is the orchestrator's negative/positive learning store.
type Memory struct {
	mu sync.RWMutex

	store Store

	records          []Record
	byAgentDiagnosis map[agentDiagnosisKey][]Record
	successes        map[diagnosis.Kind]map[healer.Action]int
	failures         map[diagnosis.Kind]map[healer.Action]int
	feedback         []diagnosis.Feedback
}

// New creates an in-memory Memory with no backing store.
func New() *Memory {
	return &Memory{
		byAgentDiagnosis: make(map[agentDiagnosisKey][]Record),
		successes:        make(map[diagnosis.Kind]map[healer.Action]int),
		failures:         make(map[diagnosis.Kind]map[healer.Action]int),
	}
}

// WithStore attaches a persistence store; negative and positive learning
// reads (FailedActions, SuccessfulActions) go through it once attached
// (§4.9). SuccessRate and PatternSummary use this instance's in-memory
// counts.
func (m *Memory) WithStore(s Store) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = s
	return m
}

// RecordHealing appends a healing outcome to history and updates the
// global success/failure pattern counts used for ladder reordering.
func (m *Memory) RecordHealing(ctx context.Context, agentID string, kind diagnosis.Kind, action healer.Action, success bool) Record {
	rec := Record{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Diagnosis: kind,
		Action:    action,
		Success:   success,
		Timestamp: time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store != nil {
		_ = m.store.WriteHealingRecord(ctx, rec)
	}

	m.records = append(m.records, rec)
	key := agentDiagnosisKey{agentID, kind}
	m.byAgentDiagnosis[key] = append(m.byAgentDiagnosis[key], rec)

	counts := m.failures
	if success {
		counts = m.successes
	}
	if counts[kind] == nil {
		counts[kind] = make(map[healer.Action]int)
	}
	counts[kind][action]++

	return rec
}

// RecordFeedback stores an operator correction for a past diagnosis.
func (m *Memory) RecordFeedback(ctx context.Context, fb diagnosis.Feedback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store != nil {
		_ = m.store.WriteFeedback(ctx, fb)
	}
	m.feedback = append(m.feedback, fb)
}

// FailedActions returns the actions known to have failed for this specific
// agent + diagnosis (negative learning, §4.9).
func (m *Memory) FailedActions(ctx context.Context, agentID string, kind diagnosis.Kind) map[healer.Action]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[healer.Action]bool)
	if m.store != nil {
		actions, err := m.store.FailedActions(ctx, agentID, kind)
		if err == nil {
			for _, a := range actions {
				out[a] = true
			}
			return out
		}
	}
	for _, r := range m.byAgentDiagnosis[agentDiagnosisKey{agentID, kind}] {
		if !r.Success {
			out[r.Action] = true
		}
	}
	return out
}

// SuccessfulActions returns the actions that have worked globally for this
// diagnosis, ordered by success count descending (positive learning, §4.6
// step 2). Ties preserve map iteration order, which callers must not rely
// on for stability beyond the count ordering.
func (m *Memory) SuccessfulActions(kind diagnosis.Kind) []healer.Action {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := m.successes[kind]
	if m.store != nil {
		if successes, _, err := m.store.HealingCounts(context.Background()); err == nil {
			counts = successes[kind]
		}
	}
	type kv struct {
		action healer.Action
		count  int
	}
	pairs := make([]kv, 0, len(counts))
	for a, c := range counts {
		pairs = append(pairs, kv{a, c})
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].count > pairs[j].count })

	out := make([]healer.Action, len(pairs))
	for i, p := range pairs {
		out[i] = p.action
	}
	return out
}

// SuccessRate returns the success rate for one action+diagnosis pair across
// the whole fleet, or 0 if it has never been attempted.
func (m *Memory) SuccessRate(kind diagnosis.Kind, action healer.Action) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.successes[kind][action]
	f := m.failures[kind][action]
	total := s + f
	if total == 0 {
		return 0
	}
	return float64(s) / float64(total)
}

// History returns every healing record for one agent, oldest first.
func (m *Memory) History(agentID string) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0)
	for _, r := range m.records {
		if r.AgentID == agentID {
			out = append(out, r)
		}
	}
	return out
}

// TotalHealings returns the total number of recorded healing attempts.
func (m *Memory) TotalHealings() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// OverallSuccessRate returns the fraction of all recorded healing attempts
// that succeeded.
func (m *Memory) OverallSuccessRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.records) == 0 {
		return 0
	}
	ok := 0
	for _, r := range m.records {
		if r.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(m.records))
}

// PatternEntry is one diagnosis's best-known healing action (SPEC_FULL
// supplement #1: "learned-patterns reporting").
type PatternEntry struct {
	BestAction    healer.Action
	SuccessCount  int
}

// PatternSummary returns, for every diagnosis kind with at least one
// recorded success, the action with the highest success count.
func (m *Memory) PatternSummary() map[diagnosis.Kind]PatternEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := make(map[diagnosis.Kind]PatternEntry)
	for kind, actions := range m.successes {
		if len(actions) == 0 {
			continue
		}
		var best healer.Action
		bestCount := -1
		for a, c := range actions {
			if c > bestCount {
				best, bestCount = a, c
			}
		}
		summary[kind] = PatternEntry{BestAction: best, SuccessCount: bestCount}
	}
	return summary
}

// HasLearning reports whether any outcome has been recorded for this agent
// and diagnosis, successful or not.
func (m *Memory) HasLearning(agentID string, kind diagnosis.Kind) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byAgentDiagnosis[agentDiagnosisKey{agentID, kind}]
	return ok
}

// FeedbackHistory returns every operator feedback entry recorded so far.
func (m *Memory) FeedbackHistory() []diagnosis.Feedback {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]diagnosis.Feedback, len(m.feedback))
	copy(out, m.feedback)
	return out
}
