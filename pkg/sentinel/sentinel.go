// Package sentinel compares an agent's recent telemetry window to its
// learned baseline and raises anomaly reports when metrics deviate beyond
// a configurable σ threshold (§4.3).
package sentinel

import (
	"math"

	"github.com/agentimmune/control-plane/pkg/baseline"
	"github.com/agentimmune/control-plane/pkg/vitals"
)

// Kind identifies one of the detectable anomaly signatures.
type Kind string

// Anomaly kinds and their metric sources (§4.3).
const (
	KindLatencySpike     Kind = "LATENCY_SPIKE"
	KindTokenSpike       Kind = "TOKEN_SPIKE"
	KindInputTokenSpike  Kind = "INPUT_TOKEN_SPIKE"
	KindOutputTokenSpike Kind = "OUTPUT_TOKEN_SPIKE"
	KindCostSpike        Kind = "COST_SPIKE"
	KindToolExplosion    Kind = "TOOL_EXPLOSION"
	KindHighRetryRate    Kind = "HIGH_RETRY_RATE"
	KindErrorRateSpike   Kind = "ERROR_RATE_SPIKE"
	KindPromptChange     Kind = "PROMPT_CHANGE"
)

// metricKinds maps each tracked baseline metric to the anomaly kind it can
// trigger; PROMPT_CHANGE has no metric source and is handled separately.
var metricKinds = map[baseline.Metric]Kind{
	baseline.MetricLatency:      KindLatencySpike,
	baseline.MetricTotalTokens:  KindTokenSpike,
	baseline.MetricInputTokens:  KindInputTokenSpike,
	baseline.MetricOutputTokens: KindOutputTokenSpike,
	baseline.MetricCost:         KindCostSpike,
	baseline.MetricToolCalls:    KindToolExplosion,
	baseline.MetricRetryRate:    KindHighRetryRate,
	baseline.MetricErrorRate:    KindErrorRateSpike,
}

// PromptChangeDeviation is the fixed deviation assigned to a PROMPT_CHANGE
// anomaly, which has no natural σ-multiple of its own (§4.3).
const PromptChangeDeviation = 10.0

// Config configures the sentinel's sensitivity (§6 Configuration).
type Config struct {
	Threshold        float64 // default 2.5σ
	StdDevFloorFactor float64 // default 0.05 (5% floor)
	SampleWindow      int     // default 5 — "last up-to-5 vitals"
}

// DefaultConfig returns the spec's default tunables.
func DefaultConfig() Config {
	return Config{Threshold: 2.5, StdDevFloorFactor: 0.05, SampleWindow: 5}
}

// Report is the result of one sentinel evaluation (§3 Anomaly report).
// It is ephemeral: produced fresh on each evaluation, never persisted as
// mutable state.
type Report struct {
	AgentID      string
	Deviations   map[Kind]float64
	Kinds        map[Kind]bool
	MaxDeviation float64
}

// Triggered reports whether any anomaly kind was raised.
func (r *Report) Triggered() bool {
	return r != nil && len(r.Kinds) > 0
}

// Has reports whether the given kind was raised in this report.
func (r *Report) Has(k Kind) bool {
	return r != nil && r.Kinds[k]
}

// Overlaps reports whether this report and other share at least one
// triggered kind — used by the fleet correlator (§4.4).
func (r *Report) Overlaps(other *Report) bool {
	if r == nil || other == nil {
		return false
	}
	for k := range r.Kinds {
		if other.Kinds[k] {
			return true
		}
	}
	return false
}

// Sentinel evaluates recent telemetry windows against baselines.
type Sentinel struct {
	cfg Config
}

// New creates a Sentinel with the given configuration.
func New(cfg Config) *Sentinel {
	return &Sentinel{cfg: cfg}
}

// safeDeviation computes |value - mean| / effective_stddev with a 5% floor
// (§4.3). ok is false when effective_stddev is 0 (constant, zero-mean
// baseline) — the metric is skipped rather than producing a division by
// zero or an infinite deviation.
func safeDeviation(value, mean, stddev, floorFactor float64) (deviation float64, ok bool) {
	effective := math.Max(stddev, math.Abs(mean)*floorFactor)
	if effective == 0 {
		return 0, false
	}
	return math.Abs(value-mean) / effective, true
}

// Evaluate compares up to the last cfg.SampleWindow points in recent against
// profile and produces an anomaly report. The caller must ensure profile is
// Ready(); Evaluate does not check warmup itself (§4.2 "the sentinel must
// not run for this agent" is an orchestrator-level gate, not the sentinel's
// own job, so it can be unit tested independently of warmup state).
func (s *Sentinel) Evaluate(agentID string, recent []vitals.Vitals, profile *baseline.Profile) *Report {
	if len(recent) == 0 || profile == nil {
		return nil
	}

	window := recent
	if len(window) > s.cfg.SampleWindow {
		window = window[len(window)-s.cfg.SampleWindow:]
	}

	report := &Report{
		AgentID:    agentID,
		Deviations: make(map[Kind]float64),
		Kinds:      make(map[Kind]bool),
	}

	values := map[baseline.Metric]float64{
		baseline.MetricLatency:      avgOf(window, func(v vitals.Vitals) float64 { return v.LatencyMS }),
		baseline.MetricTotalTokens:  avgOf(window, func(v vitals.Vitals) float64 { return float64(v.TotalTokens) }),
		baseline.MetricInputTokens:  avgOf(window, func(v vitals.Vitals) float64 { return float64(v.InputTokens) }),
		baseline.MetricOutputTokens: avgOf(window, func(v vitals.Vitals) float64 { return float64(v.OutputTokens) }),
		baseline.MetricCost:         avgOf(window, func(v vitals.Vitals) float64 { return v.Cost }),
		baseline.MetricToolCalls:    avgOf(window, func(v vitals.Vitals) float64 { return float64(v.ToolCalls) }),
		baseline.MetricRetryRate:    rateOf(window, func(v vitals.Vitals) bool { return v.Retried() }),
		baseline.MetricErrorRate:    rateOf(window, func(v vitals.Vitals) bool { return v.Errored() }),
	}

	for metric, kind := range metricKinds {
		v := values[metric]
		dev, ok := safeDeviation(v, profile.Mean(metric), profile.StdDev(metric), s.cfg.StdDevFloorFactor)
		if !ok {
			continue
		}
		// max_deviation tracks the max across ALL metrics, triggered or
		// not, so it always equals max(per-metric deviations) (§8).
		report.Deviations[kind] = dev
		if dev > report.MaxDeviation {
			report.MaxDeviation = dev
		}
		if dev > s.cfg.Threshold {
			report.Kinds[kind] = true
		}
	}

	if promptChanged(window, profile.DominantPromptHash()) {
		report.Deviations[KindPromptChange] = PromptChangeDeviation
		report.Kinds[KindPromptChange] = true
		if PromptChangeDeviation > report.MaxDeviation {
			report.MaxDeviation = PromptChangeDeviation
		}
	}

	if !report.Triggered() {
		return nil
	}
	return report
}

// avgOf computes the mean of get across window — every spike metric is
// averaged over the "last up-to-5 vitals" sample, not read off a single
// point, so one noisy sample can't trigger the same anomaly a sustained
// shift would (§4.3).
func avgOf(window []vitals.Vitals, get func(vitals.Vitals) float64) float64 {
	if len(window) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range window {
		sum += get(v)
	}
	return sum / float64(len(window))
}

// rateOf computes the fraction of window satisfying pred — the "retry
// indicator rate" / "non-empty error-type rate" metrics (§4.3).
func rateOf(window []vitals.Vitals, pred func(vitals.Vitals) bool) float64 {
	if len(window) == 0 {
		return 0
	}
	n := 0
	for _, v := range window {
		if pred(v) {
			n++
		}
	}
	return float64(n) / float64(len(window))
}

// promptChanged reports whether a strict majority of window carries a
// prompt hash different from the baseline's dominant hash (§4.3).
func promptChanged(window []vitals.Vitals, dominant string) bool {
	if dominant == "" {
		return false
	}
	different := 0
	total := 0
	for _, v := range window {
		if v.PromptHash == "" {
			continue
		}
		total++
		if v.PromptHash != dominant {
			different++
		}
	}
	if total == 0 {
		return false
	}
	return different*2 > total
}
