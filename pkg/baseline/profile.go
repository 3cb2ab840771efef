// Package baseline maintains per-agent EWMA statistical profiles (§4.2):
// a running mean/variance per metric, a bounded sample for approximate
// p95, warmup gating, and post-heal adaptation.
package baseline

import "math"

// Metric identifies one of the tracked EWMA channels for an agent.
type Metric string

// The eight tracked metrics (§3 Baseline profile).
const (
	MetricLatency      Metric = "latency"
	MetricTotalTokens  Metric = "total_tokens"
	MetricInputTokens  Metric = "input_tokens"
	MetricOutputTokens Metric = "output_tokens"
	MetricToolCalls    Metric = "tool_calls"
	MetricCost         Metric = "cost"
	MetricRetryRate    Metric = "retry_rate"
	MetricErrorRate    Metric = "error_rate"
)

// AllMetrics lists every tracked metric, in a stable order used for
// deterministic iteration (e.g. when computing max_deviation).
var AllMetrics = []Metric{
	MetricLatency, MetricTotalTokens, MetricInputTokens, MetricOutputTokens,
	MetricToolCalls, MetricCost, MetricRetryRate, MetricErrorRate,
}

// ewma holds (mean, variance, count) for one metric, updated per §4.2:
//
//	count := count + 1
//	if count == 1: mean := v, variance := 0
//	else: diff := v - mean; mean := α·v + (1-α)·mean; variance := (1-α)·(variance + α·diff²)
type ewma struct {
	mean     float64
	variance float64
	count    int
}

func (e *ewma) update(v, alpha float64) {
	e.count++
	if e.count == 1 {
		e.mean = v
		e.variance = 0
		return
	}
	diff := v - e.mean
	e.mean = alpha*v + (1-alpha)*e.mean
	e.variance = (1 - alpha) * (e.variance + alpha*diff*diff)
	if e.variance < 0 {
		// Invariant violation (§8): floating point drift must never surface
		// a negative variance to callers.
		e.variance = 0
	}
}

func (e *ewma) stddev() float64 {
	return math.Sqrt(e.variance)
}

// sortedWindow is a bounded, insertion-sorted slice used for approximate
// p95. Capacity ≈ 200 per §4.2.
type sortedWindow struct {
	values []float64
	cap    int
}

func newSortedWindow(capacity int) *sortedWindow {
	return &sortedWindow{cap: capacity}
}

func (s *sortedWindow) insert(v float64) {
	i := sortSearch(s.values, v)
	s.values = append(s.values, 0)
	copy(s.values[i+1:], s.values[i:])
	s.values[i] = v
	if len(s.values) > s.cap {
		// Drop an arbitrary element once over capacity: the oldest insertion
		// order isn't tracked, so we drop from the dense middle to keep the
		// distribution's shape roughly intact rather than always trimming a
		// tail.
		mid := len(s.values) / 2
		s.values = append(s.values[:mid], s.values[mid+1:]...)
	}
}

func (s *sortedWindow) p95() float64 {
	if len(s.values) == 0 {
		return 0
	}
	idx := int(math.Ceil(0.95*float64(len(s.values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(s.values) {
		idx = len(s.values) - 1
	}
	return s.values[idx]
}

// sortSearch returns the insertion index keeping values sorted ascending.
func sortSearch(values []float64, v float64) int {
	lo, hi := 0, len(values)
	for lo < hi {
		mid := (lo + hi) / 2
		if values[mid] < v {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Profile is the per-agent statistical model of normal behavior (§3).
type Profile struct {
	metrics    map[Metric]*ewma
	windows    map[Metric]*sortedWindow
	minSamples int
	dominant   string // most recently observed non-empty prompt hash

	// fastAlphaTicksLeft counts down accelerated updates applied after a
	// heal (§4.2 Adaptation); when it hits 0 alpha reverts to the base span.
	fastAlphaTicksLeft int
	fastAlpha          float64
	baseAlpha          float64
}

func newProfile(baseAlpha float64, minSamples, windowCap int) *Profile {
	p := &Profile{
		metrics:    make(map[Metric]*ewma, len(AllMetrics)),
		windows:    make(map[Metric]*sortedWindow, len(AllMetrics)),
		minSamples: minSamples,
		baseAlpha:  baseAlpha,
	}
	for _, m := range AllMetrics {
		p.metrics[m] = &ewma{}
		p.windows[m] = newSortedWindow(windowCap)
	}
	return p
}

// Ready reports whether the profile has seen enough samples to be used by
// the sentinel (§4.2 Warmup). All metrics share the same sample count since
// every Vitals point updates every metric together.
func (p *Profile) Ready() bool {
	return p.metrics[MetricLatency].count >= p.minSamples
}

// SampleCount returns the number of updates applied to this profile.
func (p *Profile) SampleCount() int {
	return p.metrics[MetricLatency].count
}

// Mean returns the EWMA mean for metric m.
func (p *Profile) Mean(m Metric) float64 {
	return p.metrics[m].mean
}

// Variance returns the EWMA variance for metric m (always >= 0, §3 invariant).
func (p *Profile) Variance(m Metric) float64 {
	return p.metrics[m].variance
}

// StdDev returns sqrt(Variance(m)).
func (p *Profile) StdDev(m Metric) float64 {
	return p.metrics[m].stddev()
}

// P95 returns the approximate 95th percentile observed for metric m.
func (p *Profile) P95(m Metric) float64 {
	return p.windows[m].p95()
}

// DominantPromptHash returns the most recently observed non-empty prompt
// hash for this agent.
func (p *Profile) DominantPromptHash() string {
	return p.dominant
}

func (p *Profile) currentAlpha() float64 {
	if p.fastAlphaTicksLeft > 0 {
		return p.fastAlpha
	}
	return p.baseAlpha
}

func (p *Profile) update(values map[Metric]float64, promptHash string) {
	alpha := p.currentAlpha()
	for m, v := range values {
		p.metrics[m].update(v, alpha)
		p.windows[m].insert(v)
	}
	if promptHash != "" {
		p.dominant = promptHash
	}
	if p.fastAlphaTicksLeft > 0 {
		p.fastAlphaTicksLeft--
	}
}

// accelerate switches to fastAlpha (capped at 0.3) for the next ticks
// updates (§4.2 Adaptation after healing).
func (p *Profile) accelerate(fastAlpha float64, ticks int) {
	if fastAlpha > 0.3 {
		fastAlpha = 0.3
	}
	p.fastAlpha = fastAlpha
	p.fastAlphaTicksLeft = ticks
}

// reset clears all state so relearning starts fresh (§4.2 Adaptation).
func (p *Profile) reset() {
	for _, m := range AllMetrics {
		p.metrics[m] = &ewma{}
		p.windows[m] = newSortedWindow(p.windows[m].cap)
	}
	p.dominant = ""
	p.fastAlphaTicksLeft = 0
}
