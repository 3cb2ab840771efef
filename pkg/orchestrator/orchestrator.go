// Package orchestrator ties together every subsystem into the tick loop
// and HITL approval workflow (§4.10, §4.11): it routes vitals to telemetry
// and baseline, runs the sentinel, advances lifecycle, correlates across
// the fleet, diagnoses, heals, and records everything to an audit trail.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentimmune/control-plane/pkg/baseline"
	"github.com/agentimmune/control-plane/pkg/correlator"
	"github.com/agentimmune/control-plane/pkg/diagnosis"
	"github.com/agentimmune/control-plane/pkg/enforcement"
	"github.com/agentimmune/control-plane/pkg/healer"
	"github.com/agentimmune/control-plane/pkg/lifecycle"
	"github.com/agentimmune/control-plane/pkg/memory"
	"github.com/agentimmune/control-plane/pkg/sentinel"
	"github.com/agentimmune/control-plane/pkg/store"
	"github.com/agentimmune/control-plane/pkg/vitals"
)

// Store is the narrow slice of the persistence interface the orchestrator
// writes audit and approval records through. Declared locally (rather than
// depending on store.Store wholesale) to keep this package's dependency on
// the concrete persistence layer as small as possible.
type Store interface {
	WriteInfectionEvent(ctx context.Context, ev store.InfectionEvent) error
	WriteQuarantineEvent(ctx context.Context, ev store.QuarantineEvent) error
	WriteApprovalEvent(ctx context.Context, ev store.ApprovalEvent) error
	WriteActionLog(ctx context.Context, entry store.ActionLogEntry) error
	RecentActions(ctx context.Context, limit int) ([]store.ActionLogEntry, error)
}

// Config tunes the orchestrator's own decisions; the rest of its tunables
// live on the subsystems it wires together (§6 Configuration).
type Config struct {
	SevereDeviation    float64
	ApprovalThreshold  float64
	HealingStepDelay   time.Duration
	BaselineAdaptTicks int
	RecentWindow       time.Duration
	DrainTimeout       time.Duration
	MaxActionLogSize   int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		SevereDeviation:    6.0,
		ApprovalThreshold:  5.0,
		HealingStepDelay:   1500 * time.Millisecond,
		BaselineAdaptTicks: 50,
		RecentWindow:       5 * time.Second,
		DrainTimeout:       30 * time.Second,
		MaxActionLogSize:   80,
	}
}

// AgentInfo is the static registration record for one agent (§6 "agents/register").
type AgentInfo struct {
	AgentID      string
	AgentType    string
	Model        string
	RegisteredAt time.Time
}

// AgentSummary is the dashboard-facing view of one agent (§6 "list of agents").
type AgentSummary struct {
	AgentID       string
	AgentType     string
	Model         string
	Phase         lifecycle.Phase
	BaselineReady bool
	LatestVitals  *vitals.Vitals
}

// Stats is the fleet-wide snapshot exposed to the dashboard (§6 "stats").
type Stats struct {
	TotalAgents        int
	QuarantinedAgents  int
	HealthyAgents      int
	TotalInfections    int
	TotalHealings      int
	HealingSuccessRate float64
	LearnedPatterns    int
	PendingApprovals   int
	RejectedApprovals  int
}

// ErrNoPendingApproval is returned by ApproveHealing when the named agent
// has no approval decision awaiting it.
var ErrNoPendingApproval = errors.New("orchestrator: no pending approval for agent")

// Event is pushed to any registered callback on every notable transition,
// for wiring into a pub/sub event bus.
type Event struct {
	Kind      string
	AgentID   string
	Detail    string
	Timestamp time.Time
}

// Orchestrator is the cooperative tick loop described in §4.10. A single
// instance owns the lifecycle, memory, baseline, telemetry, and
// enforcement/executor references for a fleet of agents (§3 Ownership).
type Orchestrator struct {
	cfg Config

	buf        *vitals.Buffer
	learner    *baseline.Learner
	sentinel   *sentinel.Sentinel
	correlator *correlator.Correlator
	diag       *diagnosis.Diagnostician
	mem        *memory.Memory
	healer     *healer.Healer
	lifecycle  *lifecycle.Manager
	enf        enforcement.Strategy
	store      Store

	onEvent func(Event)

	mu          sync.Mutex
	agents      map[string]*AgentInfo
	infections  int

	approvalMu sync.Mutex
	pending    map[string]store.ApprovalEvent
	rejected   map[string]store.ApprovalEvent

	actionMu  sync.Mutex
	actionLog []store.ActionLogEntry
}

// New wires an Orchestrator from its already-constructed subsystems. st may
// be nil, in which case audit writes are skipped (in-memory-only mode).
func New(
	cfg Config,
	buf *vitals.Buffer,
	learner *baseline.Learner,
	sent *sentinel.Sentinel,
	corr *correlator.Correlator,
	diag *diagnosis.Diagnostician,
	mem *memory.Memory,
	h *healer.Healer,
	lc *lifecycle.Manager,
	enf enforcement.Strategy,
	st Store,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		buf:        buf,
		learner:    learner,
		sentinel:   sent,
		correlator: corr,
		diag:       diag,
		mem:        mem,
		healer:     h,
		lifecycle:  lc,
		enf:        enf,
		store:      st,
		agents:     make(map[string]*AgentInfo),
		pending:    make(map[string]store.ApprovalEvent),
		rejected:   make(map[string]store.ApprovalEvent),
	}
}

// WithEventCallback registers a callback invoked on every notable event.
func (o *Orchestrator) WithEventCallback(cb func(Event)) *Orchestrator {
	o.onEvent = cb
	return o
}

func (o *Orchestrator) emit(kind, agentID, detail string) {
	if o.onEvent != nil {
		o.onEvent(Event{Kind: kind, AgentID: agentID, Detail: detail, Timestamp: time.Now()})
	}
}

// RegisterAgent records a new agent, or is a no-op if it is already known
// (§6 "Unknown agent ids auto-register a minimal agent entry").
func (o *Orchestrator) RegisterAgent(agentID, agentType, model string) *AgentInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	if a, ok := o.agents[agentID]; ok {
		return a
	}
	a := &AgentInfo{AgentID: agentID, AgentType: agentType, Model: model, RegisteredAt: time.Now()}
	o.agents[agentID] = a
	o.lifecycle.Phase(agentID) // registers lifecycle state as INITIALIZING
	o.emit("agent_registered", agentID, agentType)
	return a
}

func (o *Orchestrator) registeredAgentIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.agents))
	for id := range o.agents {
		out = append(out, id)
	}
	return out
}

func (o *Orchestrator) otherAgentIDs(agentID string) []string {
	ids := o.registeredAgentIDs()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != agentID {
			out = append(out, id)
		}
	}
	return out
}

// Ingest records one vitals point (§6 "Vitals ingestion"). Unknown agents
// auto-register; vitals arriving while an agent's execution is blocked
// (quarantined, healing, exhausted) are dropped rather than recorded.
func (o *Orchestrator) Ingest(ctx context.Context, v vitals.Vitals) error {
	o.RegisterAgent(v.AgentID, v.AgentType, v.Model)
	if !o.lifecycle.IsExecutionAllowed(v.AgentID) {
		return nil
	}
	if err := o.buf.Record(ctx, v); err != nil {
		return fmt.Errorf("orchestrator: record vitals: %w", err)
	}
	o.learner.Observe(ctx, v)
	return nil
}

// Tick runs one pass of the loop described in §4.10 over every registered
// agent. Intended to be called once per tick_interval by the caller's
// scheduler.
func (o *Orchestrator) Tick(ctx context.Context) {
	for _, id := range o.registeredAgentIDs() {
		o.tickAgent(ctx, id)
	}
}

func (o *Orchestrator) tickAgent(ctx context.Context, agentID string) {
	if o.lifecycle.Phase(agentID) == lifecycle.PhaseDraining {
		o.handleDraining(ctx, agentID)
		return
	}
	if !o.lifecycle.IsExecutionAllowed(agentID) {
		// QUARANTINED / HEALING / EXHAUSTED: no new telemetry, nothing to
		// evaluate until healing or an operator decision moves it on.
		return
	}
	if !o.learner.Ready(agentID) {
		return
	}
	recent, err := o.buf.Recent(ctx, agentID, o.cfg.RecentWindow)
	if err != nil || len(recent) == 0 {
		return
	}
	profile := o.learner.Profile(agentID)
	if profile == nil {
		return
	}
	report := o.sentinel.Evaluate(agentID, recent, profile)
	if report == nil || !report.Triggered() {
		o.lifecycle.RecordAnomalyResolved(agentID)
		return
	}

	o.mu.Lock()
	o.infections++
	o.mu.Unlock()
	o.emit("anomaly_detected", agentID, fmt.Sprintf("max_deviation=%.2f", report.MaxDeviation))

	if report.MaxDeviation >= o.cfg.SevereDeviation {
		o.lifecycle.ForceDrain(agentID, "severe_deviation")
	} else {
		o.lifecycle.RecordAnomalyTick(agentID)
	}

	if o.lifecycle.Phase(agentID) == lifecycle.PhaseDraining {
		o.handleDrainingWithReport(ctx, agentID, report)
	}
}

// handleDraining recomputes a report from the last-known telemetry window
// before correlating; used for agents reaching this method on a later tick
// than the one that put them in DRAINING (§5 drain_timeout fallback).
func (o *Orchestrator) handleDraining(ctx context.Context, agentID string) {
	var report *sentinel.Report
	if profile := o.learner.Profile(agentID); profile != nil {
		if recent, err := o.buf.Recent(ctx, agentID, o.cfg.RecentWindow); err == nil && len(recent) > 0 {
			report = o.sentinel.Evaluate(agentID, recent, profile)
		}
	}
	if report == nil {
		report = &sentinel.Report{AgentID: agentID, Deviations: map[sentinel.Kind]float64{}, Kinds: map[sentinel.Kind]bool{}}
	}
	o.handleDrainingWithReport(ctx, agentID, report)
}

// handleDrainingWithReport implements §4.10 step 3: correlate, resolve
// fleet-wide incidents without quarantine, otherwise complete the drain.
func (o *Orchestrator) handleDrainingWithReport(ctx context.Context, agentID string, report *sentinel.Report) {
	candidates := o.otherAgentIDs(agentID)
	result := o.correlator.Correlate(ctx, agentID, report, candidates)
	o.writeInfectionEvent(ctx, agentID, report, result)

	if result.Verdict == correlator.VerdictFleetWide {
		o.lifecycle.Transition(agentID, lifecycle.PhaseHealthy, "fleet_wide_external_cause")
		o.logAction(ctx, agentID, "resolved_fleet_wide", true,
			fmt.Sprintf("%.0f%% of fleet affected; treated as external cause", result.Fraction*100))
		o.emit("fleet_wide_resolved", agentID, "")
		return
	}

	drainResult := o.enf.Drain(ctx, agentID, o.cfg.DrainTimeout)
	if !o.lifecycle.CompleteDrain(agentID) {
		return
	}
	blockResult := o.enf.Block(ctx, agentID, "quarantined")
	o.writeQuarantineEvent(ctx, agentID, "anomaly_confirmed")
	o.logAction(ctx, agentID, "quarantine", blockResult.Success,
		fmt.Sprintf("drain=%v block=%v verdict=%s", drainResult.Success, blockResult.Success, result.Verdict))
	o.emit("quarantined", agentID, string(result.Verdict))

	diagResult := o.diag.Diagnose(report, result)

	if report.MaxDeviation >= o.cfg.ApprovalThreshold {
		o.createPendingApproval(ctx, agentID, report, diagResult)
		return
	}
	go o.runHealing(context.WithoutCancel(ctx), agentID, diagResult)
}

func (o *Orchestrator) writeInfectionEvent(ctx context.Context, agentID string, report *sentinel.Report, result correlator.Result) {
	if o.store == nil {
		return
	}
	kinds := make([]string, 0, len(report.Kinds))
	for k := range report.Kinds {
		kinds = append(kinds, string(k))
	}
	if err := o.store.WriteInfectionEvent(ctx, store.InfectionEvent{
		AgentID: agentID, Kinds: kinds, MaxDeviation: report.MaxDeviation, Timestamp: time.Now(),
	}); err != nil {
		slog.Warn("orchestrator: write infection event failed", "agent_id", agentID, "error", err)
	}
}

func (o *Orchestrator) writeQuarantineEvent(ctx context.Context, agentID, reason string) {
	if o.store == nil {
		return
	}
	if err := o.store.WriteQuarantineEvent(ctx, store.QuarantineEvent{
		AgentID: agentID, Reason: reason, Timestamp: time.Now(),
	}); err != nil {
		slog.Warn("orchestrator: write quarantine event failed", "agent_id", agentID, "error", err)
	}
}

// createPendingApproval implements §4.10 step 4 / §4.11: a severe
// infection halts automatic healing and waits for an operator decision.
func (o *Orchestrator) createPendingApproval(ctx context.Context, agentID string, report *sentinel.Report, diag diagnosis.Result) {
	kinds := make([]string, 0, len(report.Kinds))
	for k := range report.Kinds {
		kinds = append(kinds, string(k))
	}
	diagnosisKind := ""
	if primary := diag.Primary(); primary != nil {
		diagnosisKind = string(primary.Kind)
	}
	ev := store.ApprovalEvent{
		AgentID:        agentID,
		Decision:       store.ApprovalPending,
		InfectionKinds: kinds,
		MaxDeviation:   report.MaxDeviation,
		DiagnosisKind:  diagnosisKind,
		Timestamp:      time.Now(),
	}
	o.approvalMu.Lock()
	o.pending[agentID] = ev
	delete(o.rejected, agentID)
	o.approvalMu.Unlock()

	if o.store != nil {
		if err := o.store.WriteApprovalEvent(ctx, ev); err != nil {
			slog.Warn("orchestrator: write approval event failed", "agent_id", agentID, "error", err)
		}
	}
	o.logAction(ctx, agentID, "approval_pending", true,
		fmt.Sprintf("max_deviation=%.2f diagnosis=%s", report.MaxDeviation, diagnosisKind))
	o.emit("approval_pending", agentID, diagnosisKind)
}

func (o *Orchestrator) storedDiagnosis(agentID string, ev store.ApprovalEvent) diagnosis.Result {
	kind := diagnosis.Kind(ev.DiagnosisKind)
	if kind == "" {
		kind = diagnosis.KindUnknown
	}
	return diagnosis.Result{Hypotheses: []diagnosis.Hypothesis{{Kind: kind, Confidence: 1, Reasoning: "operator-approved from pending-approval snapshot"}}}
}

// ApproveHealing implements the `approve-healing` operation (§4.11):
// approve starts healing; reject leaves the agent quarantined and marks it
// EXHAUSTED pending an explicit heal-now.
func (o *Orchestrator) ApproveHealing(ctx context.Context, agentID string, approved bool) error {
	o.approvalMu.Lock()
	ev, ok := o.pending[agentID]
	if !ok {
		o.approvalMu.Unlock()
		return fmt.Errorf("%w %q", ErrNoPendingApproval, agentID)
	}
	delete(o.pending, agentID)
	if approved {
		ev.Decision = store.ApprovalApproved
	} else {
		ev.Decision = store.ApprovalRejected
		o.rejected[agentID] = ev
	}
	o.approvalMu.Unlock()

	if o.store != nil {
		if err := o.store.WriteApprovalEvent(ctx, ev); err != nil {
			slog.Warn("orchestrator: write approval decision failed", "agent_id", agentID, "error", err)
		}
	}

	if !approved {
		o.lifecycle.StartHealing(agentID, "approval_rejected")
		o.lifecycle.MarkExhausted(agentID)
		o.logAction(ctx, agentID, "approval_rejected", true, "")
		o.emit("approval_rejected", agentID, "")
		return nil
	}

	o.logAction(ctx, agentID, "approval_approved", true, "")
	o.emit("approval_approved", agentID, "")
	go o.runHealing(context.WithoutCancel(ctx), agentID, o.storedDiagnosis(agentID, ev))
	return nil
}

// ApproveAll applies the same decision to every currently pending approval
// (§4.11 "batch approve/reject ... across all pending").
func (o *Orchestrator) ApproveAll(ctx context.Context, approved bool) []string {
	o.approvalMu.Lock()
	ids := make([]string, 0, len(o.pending))
	for id := range o.pending {
		ids = append(ids, id)
	}
	o.approvalMu.Unlock()

	for _, id := range ids {
		if err := o.ApproveHealing(ctx, id, approved); err != nil {
			slog.Warn("orchestrator: approve-all failed for agent", "agent_id", id, "error", err)
		}
	}
	return ids
}

// HealExplicitly implements `heal-explicitly`: start healing an agent
// regardless of its approval state (§4.11 "heal-now from rejected").
func (o *Orchestrator) HealExplicitly(ctx context.Context, agentID string) error {
	o.approvalMu.Lock()
	ev, wasRejected := o.rejected[agentID]
	delete(o.rejected, agentID)
	delete(o.pending, agentID)
	if !wasRejected {
		ev = store.ApprovalEvent{AgentID: agentID}
	}
	ev.Decision = store.ApprovalHealNow
	o.approvalMu.Unlock()

	if o.store != nil {
		if err := o.store.WriteApprovalEvent(ctx, ev); err != nil {
			slog.Warn("orchestrator: write heal-now decision failed", "agent_id", agentID, "error", err)
		}
	}
	o.logAction(ctx, agentID, "heal_now", true, "")
	o.emit("heal_now", agentID, "")
	go o.runHealing(context.WithoutCancel(ctx), agentID, o.storedDiagnosis(agentID, ev))
	return nil
}

// HealAllRejected implements `heal-all-rejected` (§4.11 batch operation).
func (o *Orchestrator) HealAllRejected(ctx context.Context) []string {
	o.approvalMu.Lock()
	ids := make([]string, 0, len(o.rejected))
	for id := range o.rejected {
		ids = append(ids, id)
	}
	o.approvalMu.Unlock()

	for _, id := range ids {
		if err := o.HealExplicitly(ctx, id); err != nil {
			slog.Warn("orchestrator: heal-all-rejected failed for agent", "agent_id", id, "error", err)
		}
	}
	return ids
}

// PendingApprovals returns a snapshot of every agent awaiting a decision.
func (o *Orchestrator) PendingApprovals() []store.ApprovalEvent {
	o.approvalMu.Lock()
	defer o.approvalMu.Unlock()
	out := make([]store.ApprovalEvent, 0, len(o.pending))
	for _, ev := range o.pending {
		out = append(out, ev)
	}
	return out
}

// RejectedApprovals returns a snapshot of every agent rejected and awaiting
// an explicit heal-now.
func (o *Orchestrator) RejectedApprovals() []store.ApprovalEvent {
	o.approvalMu.Lock()
	defer o.approvalMu.Unlock()
	out := make([]store.ApprovalEvent, 0, len(o.rejected))
	for _, ev := range o.rejected {
		out = append(out, ev)
	}
	return out
}

// runHealing implements §4.10 step 5: transition to HEALING, walk the
// diagnosis hypotheses in order, and run the ladder for each until one
// succeeds or every hypothesis is exhausted.
func (o *Orchestrator) runHealing(ctx context.Context, agentID string, diag diagnosis.Result) {
	primary := diag.Primary()
	reason := "diagnosis:unknown"
	if primary != nil {
		reason = "diagnosis:" + string(primary.Kind)
	}
	o.lifecycle.StartHealing(agentID, reason)
	o.emit("healing_started", agentID, reason)

	healed := false
	for _, hyp := range diag.Hypotheses {
		if o.healLadder(ctx, agentID, hyp.Kind) {
			healed = true
			break
		}
	}
	if healed {
		return
	}
	o.lifecycle.MarkExhausted(agentID)
	o.logAction(ctx, agentID, "healing_exhausted", false, "all hypotheses and ladder actions exhausted")
	o.emit("healing_exhausted", agentID, "")
}

// healLadder walks one diagnosis kind's action ladder (§4.6) until an
// action both succeeds and survives probation, or the ladder empties.
func (o *Orchestrator) healLadder(ctx context.Context, agentID string, kind diagnosis.Kind) bool {
	for {
		failed := o.mem.FailedActions(ctx, agentID, kind)
		action, ok := healer.NextAction(kind, failed, o.mem)
		if !ok {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(o.cfg.HealingStepDelay):
		}

		result, err := o.healer.Apply(ctx, agentID, action)
		success := err == nil && result.Success
		o.mem.RecordHealing(ctx, agentID, kind, action, success)
		o.logAction(ctx, agentID, "heal:"+string(action), success, result.Message)

		if !success {
			continue
		}

		o.lifecycle.EnterProbation(agentID)
		o.enf.Unblock(ctx, agentID)
		o.emit("probation_started", agentID, string(action))

		if o.runProbation(ctx, agentID) {
			o.lifecycle.MarkHealthy(agentID, "probation_passed")
			o.learner.Accelerate(agentID, o.cfg.BaselineAdaptTicks)
			o.logAction(ctx, agentID, "healed", true, string(action))
			o.emit("healed", agentID, string(action))
			return true
		}

		// Validation failed during probation: record as an overall failure
		// for this action so the next pass of the ladder skips it, and
		// re-quarantine (§4.10 step 5 "on failure ... re-quarantine,
		// continue").
		o.mem.RecordHealing(ctx, agentID, kind, action, false)
		o.lifecycle.BackToHealing(agentID)
		o.enf.Block(ctx, agentID, "probation_failed")
		o.logAction(ctx, agentID, "probation_failed", false, string(action))
		o.emit("probation_failed", agentID, string(action))
	}
}

// runProbation blocks until the lifecycle manager's probation tick count is
// satisfied, returning false the moment a fresh anomaly reappears.
func (o *Orchestrator) runProbation(ctx context.Context, agentID string) bool {
	for !o.lifecycle.ProbationComplete(agentID) {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(o.cfg.HealingStepDelay):
		}

		profile := o.learner.Profile(agentID)
		recent, err := o.buf.Recent(ctx, agentID, o.cfg.RecentWindow)
		if err == nil && profile != nil && len(recent) > 0 {
			if report := o.sentinel.Evaluate(agentID, recent, profile); report.Triggered() {
				return false
			}
		}
		o.lifecycle.RecordProbationTick(agentID)
	}
	return true
}

// logAction appends to the bounded in-memory action log (§5 "bounded to
// ~80 entries in-memory fallback mode") and mirrors the write to the
// backing store when one is configured.
func (o *Orchestrator) logAction(ctx context.Context, agentID, action string, success bool, detail string) {
	entry := store.ActionLogEntry{AgentID: agentID, Action: action, Detail: detail, Timestamp: time.Now()}
	if !success {
		entry.Detail = "FAILED: " + detail
	}

	o.actionMu.Lock()
	o.actionLog = append(o.actionLog, entry)
	maxSize := o.cfg.MaxActionLogSize
	if maxSize <= 0 {
		maxSize = 80
	}
	if len(o.actionLog) > maxSize {
		o.actionLog = o.actionLog[len(o.actionLog)-maxSize:]
	}
	o.actionMu.Unlock()

	if o.store != nil {
		if err := o.store.WriteActionLog(ctx, entry); err != nil {
			slog.Warn("orchestrator: write action log failed", "agent_id", agentID, "error", err)
		}
	}
}

// RecentActions returns the most recent action-log entries, newest first,
// preferring the backing store when configured so multi-instance
// deployments see the full shared history (§6 "recent_actions(limit)").
func (o *Orchestrator) RecentActions(ctx context.Context, limit int) []store.ActionLogEntry {
	if o.store != nil {
		if entries, err := o.store.RecentActions(ctx, limit); err == nil {
			return entries
		}
	}
	o.actionMu.Lock()
	defer o.actionMu.Unlock()
	n := len(o.actionLog)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]store.ActionLogEntry, n)
	for i := 0; i < n; i++ {
		out[i] = o.actionLog[len(o.actionLog)-1-i]
	}
	return out
}

// ListAgents returns a dashboard-facing summary of every registered agent
// (§6 "list of agents with current phase, latest vitals summary,
// baseline-ready flag").
func (o *Orchestrator) ListAgents(ctx context.Context) []AgentSummary {
	ids := o.registeredAgentIDs()
	out := make([]AgentSummary, 0, len(ids))
	for _, id := range ids {
		o.mu.Lock()
		info := o.agents[id]
		o.mu.Unlock()
		if info == nil {
			continue
		}
		latest, _ := o.buf.Latest(ctx, id)
		out = append(out, AgentSummary{
			AgentID:       id,
			AgentType:     info.AgentType,
			Model:         info.Model,
			Phase:         o.lifecycle.Phase(id),
			BaselineReady: o.learner.Ready(id),
			LatestVitals:  latest,
		})
	}
	return out
}

// Stats computes the fleet-wide dashboard snapshot (§6 "stats").
func (o *Orchestrator) Stats(ctx context.Context) Stats {
	ids := o.registeredAgentIDs()
	s := Stats{TotalAgents: len(ids)}

	for _, id := range ids {
		switch o.lifecycle.Phase(id) {
		case lifecycle.PhaseQuarantined, lifecycle.PhaseHealing:
			s.QuarantinedAgents++
		case lifecycle.PhaseHealthy:
			s.HealthyAgents++
		}
	}

	o.mu.Lock()
	s.TotalInfections = o.infections
	o.mu.Unlock()

	s.TotalHealings = o.mem.TotalHealings()
	s.HealingSuccessRate = o.mem.OverallSuccessRate()
	s.LearnedPatterns = len(o.mem.PatternSummary())

	o.approvalMu.Lock()
	s.PendingApprovals = len(o.pending)
	s.RejectedApprovals = len(o.rejected)
	o.approvalMu.Unlock()

	return s
}

// SubmitFeedback records an operator correction on a past diagnosis kind
// (§4.5 "operator-feedback bias"), applying it both to the diagnostician's
// bias table and to immune memory's feedback history.
func (o *Orchestrator) SubmitFeedback(ctx context.Context, fb diagnosis.Feedback) {
	o.diag.ApplyFeedback(fb)
	o.mem.RecordFeedback(ctx, fb)
}
