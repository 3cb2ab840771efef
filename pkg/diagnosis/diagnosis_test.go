package diagnosis

import (
	"testing"

	"github.com/agentimmune/control-plane/pkg/correlator"
	"github.com/agentimmune/control-plane/pkg/sentinel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reportWith(kinds map[sentinel.Kind]float64) *sentinel.Report {
	r := &sentinel.Report{Deviations: make(map[sentinel.Kind]float64), Kinds: make(map[sentinel.Kind]bool)}
	for k, dev := range kinds {
		r.Deviations[k] = dev
		r.Kinds[k] = true
	}
	return r
}

func TestDiagnose_FleetWidePrependsExternalCause(t *testing.T) {
	report := reportWith(map[sentinel.Kind]float64{sentinel.KindLatencySpike: 4.0})
	d := New()
	result := d.Diagnose(report, correlator.Result{Verdict: correlator.VerdictFleetWide, Fraction: 0.5})
	require.NotEmpty(t, result.Hypotheses)
	assert.Equal(t, KindExternalCause, result.Primary().Kind)
	assert.Equal(t, 0.90, result.Primary().Confidence)
}

func TestDiagnose_PromptChangeWithInputSpike(t *testing.T) {
	report := reportWith(map[sentinel.Kind]float64{sentinel.KindPromptChange: 10.0, sentinel.KindInputTokenSpike: 4.0})
	d := New()
	result := d.Diagnose(report, correlator.Result{Verdict: correlator.VerdictAgentSpecific})
	assert.Equal(t, KindPromptInjection, result.Primary().Kind)
	assert.Equal(t, 0.95, result.Primary().Confidence)
}

func TestDiagnose_PromptChangeAloneAlsoYieldsPromptDrift(t *testing.T) {
	report := reportWith(map[sentinel.Kind]float64{sentinel.KindPromptChange: 10.0})
	d := New()
	result := d.Diagnose(report, correlator.Result{Verdict: correlator.VerdictAgentSpecific})

	var injection, drift *Hypothesis
	for i := range result.Hypotheses {
		switch result.Hypotheses[i].Kind {
		case KindPromptInjection:
			injection = &result.Hypotheses[i]
		case KindPromptDrift:
			drift = &result.Hypotheses[i]
		}
	}
	require.NotNil(t, injection)
	require.NotNil(t, drift)
	assert.Equal(t, 0.80, injection.Confidence)
	assert.InDelta(t, 0.80*0.6, drift.Confidence, 1e-9)
}

func TestDiagnose_InputSpikeStrongWithoutPromptChange(t *testing.T) {
	report := reportWith(map[sentinel.Kind]float64{sentinel.KindInputTokenSpike: 3.5})
	d := New()
	result := d.Diagnose(report, correlator.Result{Verdict: correlator.VerdictAgentSpecific})
	assert.Equal(t, KindPromptInjection, result.Primary().Kind)
	assert.Equal(t, 0.85, result.Primary().Confidence)
}

func TestDiagnose_InputSpikeWeakIsIgnored(t *testing.T) {
	// Below the 3σ "strong" threshold and no prompt change: no prompt-related
	// hypothesis should be raised from this rule.
	report := reportWith(map[sentinel.Kind]float64{sentinel.KindInputTokenSpike: 2.6})
	d := New()
	result := d.Diagnose(report, correlator.Result{Verdict: correlator.VerdictAgentSpecific})
	for _, h := range result.Hypotheses {
		assert.NotEqual(t, KindPromptInjection, h.Kind)
	}
}

func TestDiagnose_OutputTokenSpikeStrong(t *testing.T) {
	report := reportWith(map[sentinel.Kind]float64{sentinel.KindOutputTokenSpike: 3.2})
	d := New()
	result := d.Diagnose(report, correlator.Result{Verdict: correlator.VerdictAgentSpecific})
	assert.Equal(t, KindPromptDrift, result.Primary().Kind)
	assert.Equal(t, 0.85, result.Primary().Confidence)
}

func TestDiagnose_TokenSpikeStrong(t *testing.T) {
	report := reportWith(map[sentinel.Kind]float64{sentinel.KindTokenSpike: 3.1})
	d := New()
	result := d.Diagnose(report, correlator.Result{Verdict: correlator.VerdictAgentSpecific})
	assert.Equal(t, KindPromptDrift, result.Primary().Kind)
}

func TestDiagnose_CostSpike(t *testing.T) {
	report := reportWith(map[sentinel.Kind]float64{sentinel.KindCostSpike: 2.6})
	d := New()
	result := d.Diagnose(report, correlator.Result{Verdict: correlator.VerdictAgentSpecific})
	assert.Equal(t, KindCostOverrun, result.Primary().Kind)
	assert.Equal(t, 0.80, result.Primary().Confidence)
}

func TestDiagnose_ToolExplosionStrong(t *testing.T) {
	report := reportWith(map[sentinel.Kind]float64{sentinel.KindToolExplosion: 3.3})
	d := New()
	result := d.Diagnose(report, correlator.Result{Verdict: correlator.VerdictAgentSpecific})
	assert.Equal(t, KindInfiniteLoop, result.Primary().Kind)
	assert.Equal(t, 0.90, result.Primary().Confidence)
}

func TestDiagnose_LatencyWithErrorRateIsToolInstability(t *testing.T) {
	report := reportWith(map[sentinel.Kind]float64{sentinel.KindLatencySpike: 2.6, sentinel.KindErrorRateSpike: 2.6})
	d := New()
	result := d.Diagnose(report, correlator.Result{Verdict: correlator.VerdictAgentSpecific})
	assert.Equal(t, KindToolInstability, result.Primary().Kind)
	assert.Equal(t, 0.75, result.Primary().Confidence)
}

func TestDiagnose_IsolatedLatencyIsLowerConfidenceToolInstability(t *testing.T) {
	report := reportWith(map[sentinel.Kind]float64{sentinel.KindLatencySpike: 2.6})
	d := New()
	result := d.Diagnose(report, correlator.Result{Verdict: correlator.VerdictAgentSpecific})
	assert.Equal(t, KindToolInstability, result.Primary().Kind)
	assert.Equal(t, 0.60, result.Primary().Confidence)
}

func TestDiagnose_LoneHighRetryRateIsMemoryCorruption(t *testing.T) {
	report := reportWith(map[sentinel.Kind]float64{sentinel.KindHighRetryRate: 2.6})
	d := New()
	result := d.Diagnose(report, correlator.Result{Verdict: correlator.VerdictAgentSpecific})
	assert.Equal(t, KindMemoryCorruption, result.Primary().Kind)
	assert.Equal(t, 0.65, result.Primary().Confidence)
}

func TestDiagnose_NoRuleMatchesYieldsUnknown(t *testing.T) {
	report := reportWith(map[sentinel.Kind]float64{})
	d := New()
	result := d.Diagnose(report, correlator.Result{Verdict: correlator.VerdictAgentSpecific})
	require.Len(t, result.Hypotheses, 1)
	assert.Equal(t, KindUnknown, result.Primary().Kind)
	assert.Equal(t, 0.30, result.Primary().Confidence)
}

func TestDiagnose_SortedByConfidenceDescending(t *testing.T) {
	report := reportWith(map[sentinel.Kind]float64{
		sentinel.KindHighRetryRate: 2.6,
		sentinel.KindLatencySpike:  2.6,
		sentinel.KindErrorRateSpike: 2.6,
	})
	d := New()
	result := d.Diagnose(report, correlator.Result{Verdict: correlator.VerdictFleetWide, Fraction: 0.4})
	for i := 1; i < len(result.Hypotheses); i++ {
		assert.GreaterOrEqual(t, result.Hypotheses[i-1].Confidence, result.Hypotheses[i].Confidence)
	}
	// EXTERNAL_CAUSE (0.90) must be first given the fleet-wide verdict.
	assert.Equal(t, KindExternalCause, result.Primary().Kind)
}

func TestDiagnose_DedupesKeepingHighestConfidence(t *testing.T) {
	// PROMPT_CHANGE alone raises PROMPT_DRIFT at 0.80*0.6, and a strong
	// OUTPUT_TOKEN_SPIKE raises PROMPT_DRIFT again at 0.85; only the 0.85
	// entry must survive.
	report := reportWith(map[sentinel.Kind]float64{sentinel.KindPromptChange: 10.0, sentinel.KindOutputTokenSpike: 3.2})
	d := New()
	result := d.Diagnose(report, correlator.Result{Verdict: correlator.VerdictAgentSpecific})
	assert.Equal(t, KindPromptDrift, result.Primary().Kind)
	assert.Equal(t, 0.85, result.Primary().Confidence)
	seen := make(map[Kind]int)
	for _, h := range result.Hypotheses {
		seen[h.Kind]++
	}
	for k, n := range seen {
		assert.Equal(t, 1, n, "kind %s appeared %d times", k, n)
	}
}

func TestApplyFeedback_FalsePositiveLowersBias(t *testing.T) {
	d := New()
	d.ApplyFeedback(Feedback{Kind: KindPromptInjection, Label: FeedbackFalsePositive, Notes: "was a real config rollout"})
	assert.InDelta(t, -0.05, d.Bias(KindPromptInjection), 1e-9)

	report := reportWith(map[sentinel.Kind]float64{sentinel.KindPromptChange: 10.0, sentinel.KindInputTokenSpike: 4.0})
	result := d.Diagnose(report, correlator.Result{Verdict: correlator.VerdictAgentSpecific})
	assert.InDelta(t, 0.90, result.Primary().Confidence, 1e-9)
}

func TestApplyFeedback_WrongDiagnosisLowersBiasLess(t *testing.T) {
	d := New()
	d.ApplyFeedback(Feedback{Kind: KindCostOverrun, Label: FeedbackWrongDiagnosis})
	assert.InDelta(t, -0.03, d.Bias(KindCostOverrun), 1e-9)
}

func TestApplyFeedback_ClampsToFloor(t *testing.T) {
	d := New()
	for i := 0; i < 50; i++ {
		d.ApplyFeedback(Feedback{Kind: KindUnknown, Label: FeedbackFalsePositive})
	}
	report := reportWith(map[sentinel.Kind]float64{})
	result := d.Diagnose(report, correlator.Result{Verdict: correlator.VerdictAgentSpecific})
	assert.GreaterOrEqual(t, result.Primary().Confidence, 0.05)
}

func TestApplyFeedback_ClampsToCeiling(t *testing.T) {
	d := New()
	for i := 0; i < 50; i++ {
		d.ApplyFeedback(Feedback{Kind: KindExternalCause, Label: FeedbackWrongDiagnosis})
	}
	d.bias[KindExternalCause] = 5.0 // force an out-of-range bias to exercise the ceiling clamp directly
	report := reportWith(map[sentinel.Kind]float64{sentinel.KindLatencySpike: 4.0})
	result := d.Diagnose(report, correlator.Result{Verdict: correlator.VerdictFleetWide, Fraction: 0.4})
	assert.LessOrEqual(t, result.Primary().Confidence, 1.0)
}
