// Package lifecycle is the formal 8-phase state machine governing an
// agent's status, guarding every transition against a fixed table and
// recording an immutable history (§4.7).
package lifecycle

import (
	"log/slog"
	"sync"
	"time"
)

// Phase is one of the eight lifecycle states.
type Phase string

// Phases (§4.7).
const (
	PhaseInitializing Phase = "INITIALIZING"
	PhaseHealthy       Phase = "HEALTHY"
	PhaseSuspected     Phase = "SUSPECTED"
	PhaseDraining      Phase = "DRAINING"
	PhaseQuarantined   Phase = "QUARANTINED"
	PhaseHealing       Phase = "HEALING"
	PhaseProbation     Phase = "PROBATION"
	PhaseExhausted     Phase = "EXHAUSTED"
)

// allowedTransitions is the fixed table of legal phase-to-phase moves
// (§4.7). Any transition not listed here is blocked and logged.
var allowedTransitions = map[Phase][]Phase{
	PhaseInitializing: {PhaseHealthy},
	PhaseHealthy:       {PhaseSuspected, PhaseDraining},
	PhaseSuspected:     {PhaseHealthy, PhaseDraining},
	PhaseDraining:      {PhaseQuarantined},
	PhaseQuarantined:   {PhaseHealing},
	PhaseHealing:       {PhaseProbation, PhaseExhausted},
	PhaseProbation:     {PhaseHealthy, PhaseHealing},
	PhaseExhausted:     {PhaseHealing},
}

// executionAllowed is the set of phases in which an agent may execute
// (§4.7).
var executionAllowed = map[Phase]bool{
	PhaseInitializing: true,
	PhaseHealthy:       true,
	PhaseSuspected:     true,
	PhaseProbation:     true,
}

func isAllowed(from, to Phase) bool {
	for _, p := range allowedTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Default tunables (§6 Configuration).
const (
	DefaultSuspectTicks   = 3
	DefaultDrainTimeout   = 30 * time.Second
	DefaultProbationTicks = 10
	DefaultSevereThreshold = 6.0
)

// TransitionEvent is an immutable record of one successful transition
// (§4.7 "Every successful transition emits an immutable event").
type TransitionEvent struct {
	AgentID   string
	From      Phase
	To        Phase
	Reason    string
	Timestamp time.Time
}

// agentState is the mutable per-agent lifecycle record (§3 "Lifecycle
// record").
type agentState struct {
	phase             Phase
	suspectTickCount  int
	drainStartedAt    time.Time
	probationTickCount int
	lastTransitionAt  time.Time
}

// Config tunes the escalation rules (§6 Configuration).
type Config struct {
	SuspectTicks    int
	DrainTimeout    time.Duration
	ProbationTicks  int
	SevereThreshold float64
}

// DefaultConfig returns the spec's default tunables.
func DefaultConfig() Config {
	return Config{
		SuspectTicks:    DefaultSuspectTicks,
		DrainTimeout:    DefaultDrainTimeout,
		ProbationTicks:  DefaultProbationTicks,
		SevereThreshold: DefaultSevereThreshold,
	}
}

// OnTransition is invoked after every successful transition, e.g. to push
// an event over the orchestrator's event bus.
type OnTransition func(TransitionEvent)

// Manager tracks lifecycle phase and transition history for every agent.
type Manager struct {
	cfg Config
	cb  OnTransition

	mu      sync.Mutex
	states  map[string]*agentState
	history []TransitionEvent
}

// New creates a Manager. cb may be nil.
func New(cfg Config, cb OnTransition) *Manager {
	return &Manager{cfg: cfg, cb: cb, states: make(map[string]*agentState)}
}

func (m *Manager) state(agentID string) *agentState {
	st, ok := m.states[agentID]
	if !ok {
		st = &agentState{phase: PhaseInitializing, lastTransitionAt: time.Now()}
		m.states[agentID] = st
	}
	return st
}

// Phase returns an agent's current phase, registering it in INITIALIZING
// if unseen.
func (m *Manager) Phase(agentID string) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(agentID).phase
}

// transition attempts a guarded phase change. Must be called with m.mu held.
func (m *Manager) transition(agentID string, target Phase, reason string) bool {
	st := m.state(agentID)
	if !isAllowed(st.phase, target) {
		slog.Warn("lifecycle: blocked transition",
			"agent_id", agentID, "from", st.phase, "to", target, "reason", reason)
		return false
	}

	event := TransitionEvent{AgentID: agentID, From: st.phase, To: target, Reason: reason, Timestamp: time.Now()}

	st.phase = target
	st.lastTransitionAt = event.Timestamp
	switch target {
	case PhaseSuspected:
		st.suspectTickCount = 1
	case PhaseDraining:
		st.drainStartedAt = event.Timestamp
	case PhaseProbation:
		st.probationTickCount = 0
	}

	m.history = append(m.history, event)
	slog.Info("lifecycle: transition", "agent_id", agentID, "from", event.From, "to", event.To, "reason", reason)

	if m.cb != nil {
		m.cb(event)
	}
	return true
}

// Transition attempts an arbitrary guarded phase change, for callers (and
// tests) that need to drive a transition not covered by a named helper —
// e.g. recovering a PROBATION agent to HEALING on failed validation.
func (m *Manager) Transition(agentID string, target Phase, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(agentID, target, reason)
}

// MarkBaselineReady transitions a freshly-warmed-up agent to HEALTHY.
func (m *Manager) MarkBaselineReady(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(agentID, PhaseHealthy, "baseline_ready")
}

// RecordAnomalyTick handles an anomaly-positive tick: HEALTHY escalates to
// SUSPECTED; SUSPECTED accumulates a streak and escalates to DRAINING once
// suspect_ticks is reached (§4.7 escalation rules). Returns the phase after
// the call.
func (m *Manager) RecordAnomalyTick(agentID string) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(agentID)

	switch st.phase {
	case PhaseHealthy:
		m.transition(agentID, PhaseSuspected, "anomaly_detected")
	case PhaseSuspected:
		st.suspectTickCount++
		if st.suspectTickCount >= m.cfg.SuspectTicks {
			m.transition(agentID, PhaseDraining, "anomaly_persisted")
		}
	}
	return st.phase
}

// RecordAnomalyResolved returns a SUSPECTED agent to HEALTHY on an
// anomaly-free tick, resetting its streak.
func (m *Manager) RecordAnomalyResolved(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(agentID)
	if st.phase == PhaseSuspected && m.transition(agentID, PhaseHealthy, "anomaly_resolved") {
		st.suspectTickCount = 0
		return true
	}
	return false
}

// ForceDrain takes a severe infection to DRAINING in a single call: a
// HEALTHY agent passes through SUSPECTED on the way, a SUSPECTED agent
// moves straight to DRAINING (§4.7 "takes a shortcut ... on the same tick").
func (m *Manager) ForceDrain(agentID, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(agentID)
	switch st.phase {
	case PhaseHealthy:
		m.transition(agentID, PhaseSuspected, reason)
		return m.transition(agentID, PhaseDraining, reason)
	case PhaseSuspected:
		return m.transition(agentID, PhaseDraining, reason)
	}
	return false
}

// DrainTimedOut reports whether a DRAINING agent has exceeded drain_timeout_s.
func (m *Manager) DrainTimedOut(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(agentID)
	if st.phase != PhaseDraining || st.drainStartedAt.IsZero() {
		return false
	}
	return time.Since(st.drainStartedAt) >= m.cfg.DrainTimeout
}

// CompleteDrain transitions a DRAINING agent to QUARANTINED.
func (m *Manager) CompleteDrain(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(agentID, PhaseQuarantined, "drain_complete")
}

// StartHealing transitions a QUARANTINED or EXHAUSTED agent to HEALING.
func (m *Manager) StartHealing(agentID, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reason == "" {
		reason = "healing_started"
	}
	return m.transition(agentID, PhaseHealing, reason)
}

// EnterProbation transitions a HEALING agent to PROBATION after a healing
// action is applied.
func (m *Manager) EnterProbation(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(agentID, PhaseProbation, "healing_action_applied")
}

// RecordProbationTick increments the probation tick counter and returns the
// new count.
func (m *Manager) RecordProbationTick(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(agentID)
	if st.phase == PhaseProbation {
		st.probationTickCount++
	}
	return st.probationTickCount
}

// ProbationComplete reports whether a PROBATION agent has accumulated
// probation_ticks.
func (m *Manager) ProbationComplete(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(agentID)
	return st.phase == PhaseProbation && st.probationTickCount >= m.cfg.ProbationTicks
}

// MarkHealthy transitions a PROBATION agent back to HEALTHY on successful
// validation.
func (m *Manager) MarkHealthy(agentID, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reason == "" {
		reason = "probation_passed"
	}
	return m.transition(agentID, PhaseHealthy, reason)
}

// BackToHealing returns a failed-probation agent to HEALING.
func (m *Manager) BackToHealing(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(agentID, PhaseHealing, "probation_failed")
}

// MarkExhausted transitions a HEALING agent to EXHAUSTED once its ladder is
// exhausted.
func (m *Manager) MarkExhausted(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(agentID, PhaseExhausted, "all_actions_exhausted")
}

// IsExecutionAllowed reports whether an agent's current phase permits it to
// execute (§4.7).
func (m *Manager) IsExecutionAllowed(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return executionAllowed[m.state(agentID).phase]
}

// IsBlocked is the negation of IsExecutionAllowed.
func (m *Manager) IsBlocked(agentID string) bool {
	return !m.IsExecutionAllowed(agentID)
}

// History returns the full transition history, or just one agent's if
// agentID is non-empty.
func (m *Manager) History(agentID string) []TransitionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if agentID == "" {
		out := make([]TransitionEvent, len(m.history))
		copy(out, m.history)
		return out
	}
	out := make([]TransitionEvent, 0)
	for _, e := range m.history {
		if e.AgentID == agentID {
			out = append(out, e)
		}
	}
	return out
}

// Reset removes all lifecycle state for an agent (§3 "reset on
// deregistration only").
func (m *Manager) Reset(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, agentID)
}

// SuspectStreak returns the current consecutive-anomaly-tick count for a
// SUSPECTED agent (0 otherwise); exposed for dashboards and tests.
func (m *Manager) SuspectStreak(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(agentID)
	if st.phase != PhaseSuspected {
		return 0
	}
	return st.suspectTickCount
}
