package baseline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProfile_EWMAConvergence(t *testing.T) {
	// Scenario 1: 100 vitals at latency=100ms converge tightly around 100.
	p := newProfile(alphaFromSpan(50), 15, 200)
	for i := 0; i < 100; i++ {
		p.update(map[Metric]float64{MetricLatency: 100}, "")
	}
	assert.True(t, p.Ready())
	assert.InDelta(t, 100, p.Mean(MetricLatency), 1)
	assert.Less(t, p.StdDev(MetricLatency), 1.0)
}

func TestProfile_DriftAdaptation(t *testing.T) {
	// Scenario 2: 50 samples at 100ms then 50 at 200ms with a short span
	// converges to the new steady state.
	p := newProfile(alphaFromSpan(10), 15, 200)
	for i := 0; i < 50; i++ {
		p.update(map[Metric]float64{MetricLatency: 100}, "")
	}
	for i := 0; i < 50; i++ {
		p.update(map[Metric]float64{MetricLatency: 200}, "")
	}
	mean := p.Mean(MetricLatency)
	assert.GreaterOrEqual(t, mean, 195.0)
	assert.LessOrEqual(t, mean, 205.0)
}

func TestProfile_VarianceNeverNegative(t *testing.T) {
	p := newProfile(alphaFromSpan(50), 15, 200)
	for i := 0; i < 20; i++ {
		v := float64(100 + i%3)
		p.update(map[Metric]float64{MetricLatency: v}, "")
		assert.GreaterOrEqual(t, p.Variance(MetricLatency), 0.0)
	}
}

func TestProfile_NotReadyBeforeMinSamples(t *testing.T) {
	p := newProfile(alphaFromSpan(50), 15, 200)
	for i := 0; i < 14; i++ {
		p.update(map[Metric]float64{MetricLatency: 100}, "")
		assert.False(t, p.Ready())
	}
	p.update(map[Metric]float64{MetricLatency: 100}, "")
	assert.True(t, p.Ready())
}

func TestProfile_SampleCountMonotonic(t *testing.T) {
	p := newProfile(alphaFromSpan(50), 15, 200)
	last := 0
	for i := 0; i < 30; i++ {
		p.update(map[Metric]float64{MetricLatency: 100}, "")
		assert.GreaterOrEqual(t, p.SampleCount(), last)
		last = p.SampleCount()
	}
}

func TestProfile_PromptHashTracksDominant(t *testing.T) {
	p := newProfile(alphaFromSpan(50), 15, 200)
	p.update(map[Metric]float64{MetricLatency: 100}, "hash-a")
	assert.Equal(t, "hash-a", p.DominantPromptHash())
	p.update(map[Metric]float64{MetricLatency: 100}, "")
	assert.Equal(t, "hash-a", p.DominantPromptHash(), "empty hash must not overwrite the dominant one")
	p.update(map[Metric]float64{MetricLatency: 100}, "hash-b")
	assert.Equal(t, "hash-b", p.DominantPromptHash())
}

func TestProfile_ResetClearsState(t *testing.T) {
	p := newProfile(alphaFromSpan(50), 15, 200)
	for i := 0; i < 20; i++ {
		p.update(map[Metric]float64{MetricLatency: 100}, "hash-a")
	}
	assert.True(t, p.Ready())
	p.reset()
	assert.False(t, p.Ready())
	assert.Equal(t, 0, p.SampleCount())
	assert.Equal(t, "", p.DominantPromptHash())
}

func TestProfile_P95Approximation(t *testing.T) {
	p := newProfile(alphaFromSpan(50), 15, 200)
	for i := 1; i <= 100; i++ {
		p.update(map[Metric]float64{MetricLatency: float64(i)}, "")
	}
	p95 := p.P95(MetricLatency)
	assert.GreaterOrEqual(t, p95, 90.0)
	assert.LessOrEqual(t, p95, 100.0)
}
