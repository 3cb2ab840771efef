package baseline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/agentimmune/control-plane/pkg/vitals"
)

// Store is the subset of the persistence store the learner flushes
// snapshots to. Defined locally (not imported from pkg/store) to avoid a
// dependency cycle, mirroring pkg/vitals.Store.
type Store interface {
	WriteBaseline(ctx context.Context, snapshot Snapshot) error
}

// Snapshot is a serializable view of one agent's profile, written on warmup
// completion and periodically thereafter (§4.2 Persistence).
type Snapshot struct {
	AgentID    string             `json:"agent_id"`
	SampleCnt  int                `json:"sample_count"`
	Ready      bool               `json:"ready"`
	Dominant   string             `json:"dominant_prompt_hash"`
	Means      map[Metric]float64 `json:"means"`
	Variances  map[Metric]float64 `json:"variances"`
	P95Samples map[Metric]float64 `json:"p95"`
}

// Config configures the learner (§6 Configuration).
type Config struct {
	MinSamples     int // default 15
	Span           int // default 50, alpha = 2/(span+1)
	WindowCapacity int // default 200
	FlushEveryN    int // default 100 ticks
	FastSpan       int // default 10, used by Accelerate
}

// DefaultConfig returns the spec's default tunables.
func DefaultConfig() Config {
	return Config{
		MinSamples:     15,
		Span:           50,
		WindowCapacity: 200,
		FlushEveryN:    100,
		FastSpan:       10,
	}
}

func alphaFromSpan(span int) float64 {
	return 2.0 / (float64(span) + 1.0)
}

// Learner owns one Profile per agent and applies EWMA updates from incoming
// Vitals (§4.2).
type Learner struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
	cfg      Config
	store    Store
	log      *slog.Logger

	ticksSinceFlush map[string]int
}

// NewLearner creates a learner with the given configuration. log may be nil,
// in which case slog.Default() is used.
func NewLearner(cfg Config, log *slog.Logger) *Learner {
	if log == nil {
		log = slog.Default()
	}
	return &Learner{
		profiles:        make(map[string]*Profile),
		cfg:             cfg,
		log:             log,
		ticksSinceFlush: make(map[string]int),
	}
}

// WithStore attaches a persistence store for periodic snapshot flushes.
func (l *Learner) WithStore(s Store) *Learner {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.store = s
	return l
}

func (l *Learner) profileFor(agentID string) *Profile {
	p, ok := l.profiles[agentID]
	if !ok {
		p = newProfile(alphaFromSpan(l.cfg.Span), l.cfg.MinSamples, l.cfg.WindowCapacity)
		l.profiles[agentID] = p
	}
	return p
}

// Observe updates the named agent's profile from one Vitals point — created
// lazily on first observation (§3 Baseline profile). Transitioning from
// not-ready to ready, or crossing the flush-every-N boundary, triggers a
// persistence flush when a store is configured.
func (l *Learner) Observe(ctx context.Context, v vitals.Vitals) {
	values := map[Metric]float64{
		MetricLatency:      v.LatencyMS,
		MetricTotalTokens:  float64(v.TotalTokens),
		MetricInputTokens:  float64(v.InputTokens),
		MetricOutputTokens: float64(v.OutputTokens),
		MetricToolCalls:    float64(v.ToolCalls),
		MetricCost:         v.Cost,
		MetricRetryRate:    boolToFloat(v.Retried()),
		MetricErrorRate:    boolToFloat(v.Errored()),
	}

	l.mu.Lock()
	p := l.profileFor(v.AgentID)
	wasReady := p.Ready()
	p.update(values, v.PromptHash)
	nowReady := p.Ready()

	shouldFlush := false
	if nowReady && !wasReady {
		shouldFlush = true
	}
	l.ticksSinceFlush[v.AgentID]++
	if l.ticksSinceFlush[v.AgentID] >= l.cfg.FlushEveryN {
		shouldFlush = true
		l.ticksSinceFlush[v.AgentID] = 0
	}
	snap := snapshotOf(v.AgentID, p)
	store := l.store
	l.mu.Unlock()

	if shouldFlush && store != nil {
		if err := store.WriteBaseline(ctx, snap); err != nil {
			l.log.Warn("failed to flush baseline snapshot", "agent_id", v.AgentID, "error", err)
		}
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func snapshotOf(agentID string, p *Profile) Snapshot {
	means := make(map[Metric]float64, len(AllMetrics))
	variances := make(map[Metric]float64, len(AllMetrics))
	p95s := make(map[Metric]float64, len(AllMetrics))
	for _, m := range AllMetrics {
		means[m] = p.Mean(m)
		variances[m] = p.Variance(m)
		p95s[m] = p.P95(m)
	}
	return Snapshot{
		AgentID:    agentID,
		SampleCnt:  p.SampleCount(),
		Ready:      p.Ready(),
		Dominant:   p.DominantPromptHash(),
		Means:      means,
		Variances:  variances,
		P95Samples: p95s,
	}
}

// Profile returns the profile for agentID, or nil if no observation has
// been recorded for it yet.
func (l *Learner) Profile(agentID string) *Profile {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.profiles[agentID]
}

// Ready reports whether agentID's profile exists and has completed warmup.
func (l *Learner) Ready(agentID string) bool {
	p := l.Profile(agentID)
	return p != nil && p.Ready()
}

// Accelerate temporarily speeds up EWMA convergence for agentID for the
// next `ticks` updates (§4.2 Adaptation after healing). A no-op if the
// agent has no profile yet.
func (l *Learner) Accelerate(agentID string, ticks int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.profiles[agentID]
	if !ok {
		return
	}
	// fast span configures the accelerated alpha directly; it lands close
	// to "~5x base alpha" for the default span=50/fast_span=10 pair, but is
	// configured independently per §6.
	p.accelerate(alphaFromSpan(l.cfg.FastSpan), ticks)
}

// Reset clears all learned state for agentID so relearning starts fresh
// (§4.2 Adaptation after healing / §8 invariant).
func (l *Learner) Reset(agentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.profiles[agentID]; ok {
		p.reset()
	}
	l.ticksSinceFlush[agentID] = 0
}

// Agents returns every agent id the learner currently has a profile for.
func (l *Learner) Agents() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.profiles))
	for id := range l.profiles {
		out = append(out, id)
	}
	return out
}
