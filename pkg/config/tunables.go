package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Tunables holds every runtime knob the control plane's orchestrator loop,
// baseline learner, sentinel, and lifecycle manager consult (§6
// Configuration). Tunables is loaded directly from environment variables
// with sane defaults.
type Tunables struct {
	// Orchestrator tick cadence.
	TickInterval time.Duration

	// Baseline learner (§4.2).
	BaselineMinSamples int
	BaselineSpan       int
	BaselineFastSpan   int
	BaselineAdaptTicks int

	// Sentinel (§4.3).
	SentinelThreshold      float64
	SentinelFloorFactor    float64
	FleetWideThreshold     float64
	PartialThreshold       float64
	SevereDeviation        float64
	ApprovalThreshold      float64

	// Lifecycle manager (§4.7).
	SuspectTicks           int
	DrainTimeout           time.Duration
	ProbationTicks         int

	// Healer (§4.8).
	HealingStepDelay       time.Duration
	ShutdownDrainTimeout   time.Duration

	// Local cache (§6).
	CacheFlushInterval time.Duration
	CacheDir           string
}

// DefaultTunables returns the spec's documented defaults (§6 Configuration).
func DefaultTunables() Tunables {
	home, _ := os.UserHomeDir()
	return Tunables{
		TickInterval: time.Second,

		BaselineMinSamples: 15,
		BaselineSpan:       50,
		BaselineFastSpan:   10,
		BaselineAdaptTicks: 50,

		SentinelThreshold:   2.5,
		SentinelFloorFactor: 0.05,
		FleetWideThreshold:  0.30,
		PartialThreshold:    0.15,
		SevereDeviation:     6.0,
		ApprovalThreshold:   5.0,

		SuspectTicks:   3,
		DrainTimeout:   30 * time.Second,
		ProbationTicks: 10,

		HealingStepDelay:     1500 * time.Millisecond,
		ShutdownDrainTimeout: 120 * time.Second,

		CacheFlushInterval: 30 * time.Second,
		CacheDir:           home + "/.immune_cache",
	}
}

// LoadTunablesFromEnv overlays IMMUNE_* environment variables on top of
// DefaultTunables, validating the result.
func LoadTunablesFromEnv() (Tunables, error) {
	t := DefaultTunables()

	var err error
	if t.TickInterval, err = envDuration("IMMUNE_TICK_INTERVAL", t.TickInterval); err != nil {
		return Tunables{}, err
	}

	if t.BaselineMinSamples, err = envInt("IMMUNE_BASELINE_MIN_SAMPLES", t.BaselineMinSamples); err != nil {
		return Tunables{}, err
	}
	if t.BaselineSpan, err = envInt("IMMUNE_BASELINE_SPAN", t.BaselineSpan); err != nil {
		return Tunables{}, err
	}
	if t.BaselineFastSpan, err = envInt("IMMUNE_BASELINE_FAST_SPAN", t.BaselineFastSpan); err != nil {
		return Tunables{}, err
	}
	if t.BaselineAdaptTicks, err = envInt("IMMUNE_BASELINE_ADAPT_TICKS", t.BaselineAdaptTicks); err != nil {
		return Tunables{}, err
	}

	if t.SentinelThreshold, err = envFloat("IMMUNE_SENTINEL_THRESHOLD", t.SentinelThreshold); err != nil {
		return Tunables{}, err
	}
	if t.SentinelFloorFactor, err = envFloat("IMMUNE_SENTINEL_FLOOR_FACTOR", t.SentinelFloorFactor); err != nil {
		return Tunables{}, err
	}
	if t.FleetWideThreshold, err = envFloat("IMMUNE_FLEET_WIDE_THRESHOLD", t.FleetWideThreshold); err != nil {
		return Tunables{}, err
	}
	if t.PartialThreshold, err = envFloat("IMMUNE_PARTIAL_THRESHOLD", t.PartialThreshold); err != nil {
		return Tunables{}, err
	}
	if t.SevereDeviation, err = envFloat("IMMUNE_SEVERE_DEVIATION", t.SevereDeviation); err != nil {
		return Tunables{}, err
	}
	if t.ApprovalThreshold, err = envFloat("IMMUNE_APPROVAL_THRESHOLD", t.ApprovalThreshold); err != nil {
		return Tunables{}, err
	}

	if t.SuspectTicks, err = envInt("IMMUNE_SUSPECT_TICKS", t.SuspectTicks); err != nil {
		return Tunables{}, err
	}
	if t.DrainTimeout, err = envDuration("IMMUNE_DRAIN_TIMEOUT", t.DrainTimeout); err != nil {
		return Tunables{}, err
	}
	if t.ProbationTicks, err = envInt("IMMUNE_PROBATION_TICKS", t.ProbationTicks); err != nil {
		return Tunables{}, err
	}

	if t.HealingStepDelay, err = envDuration("IMMUNE_HEALING_STEP_DELAY", t.HealingStepDelay); err != nil {
		return Tunables{}, err
	}
	if t.ShutdownDrainTimeout, err = envDuration("IMMUNE_SHUTDOWN_DRAIN_TIMEOUT", t.ShutdownDrainTimeout); err != nil {
		return Tunables{}, err
	}

	if t.CacheFlushInterval, err = envDuration("IMMUNE_CACHE_FLUSH_INTERVAL", t.CacheFlushInterval); err != nil {
		return Tunables{}, err
	}
	t.CacheDir = getEnvOrDefaultTunable("IMMUNE_CACHE_DIR", t.CacheDir)

	if err := t.Validate(); err != nil {
		return Tunables{}, err
	}
	return t, nil
}

// Validate rejects nonsensical tunable combinations before the orchestrator
// starts ticking.
func (t Tunables) Validate() error {
	if t.TickInterval <= 0 {
		return fmt.Errorf("config: tick interval must be positive")
	}
	if t.BaselineMinSamples < 1 {
		return fmt.Errorf("config: baseline min samples must be at least 1")
	}
	if t.BaselineSpan < 1 {
		return fmt.Errorf("config: baseline span must be at least 1")
	}
	if t.FleetWideThreshold <= t.PartialThreshold {
		return fmt.Errorf("config: fleet-wide threshold (%.2f) must exceed partial threshold (%.2f)",
			t.FleetWideThreshold, t.PartialThreshold)
	}
	if t.SevereDeviation <= t.SentinelThreshold {
		return fmt.Errorf("config: severe deviation (%.2f) must exceed sentinel threshold (%.2f)",
			t.SevereDeviation, t.SentinelThreshold)
	}
	if t.SuspectTicks < 1 {
		return fmt.Errorf("config: suspect ticks must be at least 1")
	}
	return nil
}

func getEnvOrDefaultTunable(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
