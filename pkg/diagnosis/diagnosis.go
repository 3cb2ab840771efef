// Package diagnosis maps anomaly reports plus fleet-correlation context to
// an ordered list of root-cause hypotheses (§4.5).
package diagnosis

import (
	"fmt"
	"sort"
	"sync"

	"github.com/agentimmune/control-plane/pkg/correlator"
	"github.com/agentimmune/control-plane/pkg/sentinel"
)

// Kind identifies a root-cause hypothesis.
type Kind string

// Diagnosis kinds (§4.5).
const (
	KindExternalCause    Kind = "EXTERNAL_CAUSE"
	KindPromptInjection  Kind = "PROMPT_INJECTION"
	KindPromptDrift      Kind = "PROMPT_DRIFT"
	KindCostOverrun      Kind = "COST_OVERRUN"
	KindInfiniteLoop     Kind = "INFINITE_LOOP"
	KindToolInstability  Kind = "TOOL_INSTABILITY"
	KindMemoryCorruption Kind = "MEMORY_CORRUPTION"
	KindUnknown          Kind = "UNKNOWN"
)

// Hypothesis is one ranked root-cause candidate (§3 Diagnosis result).
type Hypothesis struct {
	Kind       Kind
	Confidence float64
	Reasoning  string
}

// Result is the ordered list of hypotheses plus correlation context
// (§3 Diagnosis result). Hypotheses[0], if present, is the primary
// hypothesis.
type Result struct {
	Hypotheses []Hypothesis
	Verdict    correlator.Verdict
	Fraction   float64
}

// Primary returns the highest-confidence hypothesis, or nil if none.
func (r *Result) Primary() *Hypothesis {
	if len(r.Hypotheses) == 0 {
		return nil
	}
	return &r.Hypotheses[0]
}

// strongSignalThreshold is the σ above which a spike is treated as a
// strong (as opposed to merely triggered) signal for rules that require
// "> 3σ" (§4.5).
const strongSignalThreshold = 3.0

// Diagnostician applies the deterministic rule set and operator-feedback
// bias.
type Diagnostician struct {
	mu   sync.RWMutex
	bias map[Kind]float64 // additive bias per kind, from operator feedback
}

// New creates a Diagnostician with no bias applied.
func New() *Diagnostician {
	return &Diagnostician{bias: make(map[Kind]float64)}
}

// Diagnose produces an ordered, deduplicated hypothesis list from an
// anomaly report and fleet-correlation result (§4.5).
func (d *Diagnostician) Diagnose(report *sentinel.Report, correlation correlator.Result) Result {
	var hyps []Hypothesis

	if correlation.Verdict == correlator.VerdictFleetWide {
		hyps = append(hyps, Hypothesis{
			Kind:       KindExternalCause,
			Confidence: 0.90,
			Reasoning:  fmt.Sprintf("%.0f%% of monitored agents show overlapping anomalies; likely an external cause", correlation.Fraction*100),
		})
	}

	if report != nil {
		promptChanged := report.Has(sentinel.KindPromptChange)
		inputSpike := report.Has(sentinel.KindInputTokenSpike)
		inputDev := report.Deviations[sentinel.KindInputTokenSpike]

		switch {
		case promptChanged && inputSpike:
			hyps = append(hyps, Hypothesis{
				Kind:       KindPromptInjection,
				Confidence: 0.95,
				Reasoning:  "prompt hash changed alongside an input token spike",
			})
		case promptChanged:
			hyps = append(hyps, Hypothesis{
				Kind:       KindPromptInjection,
				Confidence: 0.80,
				Reasoning:  "prompt hash changed for a majority of recent executions",
			})
			hyps = append(hyps, Hypothesis{
				Kind:       KindPromptDrift,
				Confidence: 0.80 * 0.6,
				Reasoning:  "prompt change without a corresponding input token spike may be benign drift",
			})
		case inputSpike && inputDev > strongSignalThreshold:
			hyps = append(hyps, Hypothesis{
				Kind:       KindPromptInjection,
				Confidence: 0.85,
				Reasoning:  "input tokens spiked beyond 3σ without an observed prompt change",
			})
		}

		if dev := report.Deviations[sentinel.KindOutputTokenSpike]; report.Has(sentinel.KindOutputTokenSpike) && dev > strongSignalThreshold {
			hyps = append(hyps, Hypothesis{
				Kind:       KindPromptDrift,
				Confidence: 0.85,
				Reasoning:  "output tokens spiked beyond 3σ",
			})
		}
		if dev := report.Deviations[sentinel.KindTokenSpike]; report.Has(sentinel.KindTokenSpike) && dev > strongSignalThreshold {
			hyps = append(hyps, Hypothesis{
				Kind:       KindPromptDrift,
				Confidence: 0.85,
				Reasoning:  "total tokens spiked beyond 3σ",
			})
		}
		if report.Has(sentinel.KindCostSpike) {
			hyps = append(hyps, Hypothesis{
				Kind:       KindCostOverrun,
				Confidence: 0.80,
				Reasoning:  "cost per execution spiked beyond threshold",
			})
		}
		if dev := report.Deviations[sentinel.KindToolExplosion]; report.Has(sentinel.KindToolExplosion) && dev > strongSignalThreshold {
			hyps = append(hyps, Hypothesis{
				Kind:       KindInfiniteLoop,
				Confidence: 0.90,
				Reasoning:  "tool-call count spiked beyond 3σ, consistent with a tool-call loop",
			})
		}

		latency := report.Has(sentinel.KindLatencySpike)
		unstable := report.Has(sentinel.KindErrorRateSpike) || report.Has(sentinel.KindHighRetryRate)
		switch {
		case latency && unstable:
			hyps = append(hyps, Hypothesis{
				Kind:       KindToolInstability,
				Confidence: 0.75,
				Reasoning:  "latency spike co-occurring with elevated errors or retries",
			})
		case latency:
			hyps = append(hyps, Hypothesis{
				Kind:       KindToolInstability,
				Confidence: 0.60,
				Reasoning:  "isolated latency spike",
			})
		}

		if report.Has(sentinel.KindHighRetryRate) && len(report.Kinds) == 1 {
			hyps = append(hyps, Hypothesis{
				Kind:       KindMemoryCorruption,
				Confidence: 0.65,
				Reasoning:  "retry rate elevated with no other co-occurring anomaly",
			})
		}
	}

	if len(hyps) == 0 {
		hyps = append(hyps, Hypothesis{Kind: KindUnknown, Confidence: 0.30, Reasoning: "no rule matched the observed anomaly signature"})
	}

	hyps = d.applyBias(hyps)
	hyps = dedupeKeepHighest(hyps)
	sort.SliceStable(hyps, func(i, j int) bool { return hyps[i].Confidence > hyps[j].Confidence })

	return Result{Hypotheses: hyps, Verdict: correlation.Verdict, Fraction: correlation.Fraction}
}

func (d *Diagnostician) applyBias(hyps []Hypothesis) []Hypothesis {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Hypothesis, len(hyps))
	for i, h := range hyps {
		h.Confidence = clamp(h.Confidence+d.bias[h.Kind], 0.05, 1.0)
		out[i] = h
	}
	return out
}

func dedupeKeepHighest(hyps []Hypothesis) []Hypothesis {
	best := make(map[Kind]Hypothesis, len(hyps))
	order := make([]Kind, 0, len(hyps))
	for _, h := range hyps {
		existing, ok := best[h.Kind]
		if !ok {
			order = append(order, h.Kind)
			best[h.Kind] = h
			continue
		}
		if h.Confidence > existing.Confidence {
			best[h.Kind] = h
		}
	}
	out := make([]Hypothesis, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// FeedbackKind labels the operator's correction of a past diagnosis (§4.5).
type FeedbackKind string

// Feedback kinds.
const (
	FeedbackFalsePositive FeedbackKind = "false_positive"
	FeedbackWrongDiagnosis FeedbackKind = "wrong_diagnosis"
)

// Feedback records an operator's correction for a diagnosis kind, along
// with a free-text note (SPEC_FULL supplement: original_source carries a
// note field alongside the label).
type Feedback struct {
	Kind  Kind
	Label FeedbackKind
	Notes string
}

// ApplyFeedback adjusts the additive bias for a diagnosis kind (§4.5):
// false_positive decreases by 0.05, wrong_diagnosis by 0.03, clamped so the
// resulting confidence never drops to zero or invalid.
func (d *Diagnostician) ApplyFeedback(fb Feedback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch fb.Label {
	case FeedbackFalsePositive:
		d.bias[fb.Kind] -= 0.05
	case FeedbackWrongDiagnosis:
		d.bias[fb.Kind] -= 0.03
	}
}

// Bias returns the current additive bias for a diagnosis kind (for tests
// and the dashboard stats endpoint).
func (d *Diagnostician) Bias(k Kind) float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.bias[k]
}
