// Package correlator distinguishes agent-specific failures from fleet-wide
// external incidents by checking whether an infection's anomaly signature
// also appears on other monitored agents (§4.4).
package correlator

import (
	"context"
	"time"

	"github.com/agentimmune/control-plane/pkg/baseline"
	"github.com/agentimmune/control-plane/pkg/sentinel"
	"github.com/agentimmune/control-plane/pkg/vitals"
)

// Verdict classifies the scope of an anomaly across the fleet.
type Verdict string

// Verdicts (§4.4), ordered from broadest to narrowest scope.
const (
	VerdictFleetWide     Verdict = "FLEET_WIDE"
	VerdictPartialFleet  Verdict = "PARTIAL_FLEET"
	VerdictAgentSpecific Verdict = "AGENT_SPECIFIC"
)

// Config configures the fleet and partial-fleet fraction thresholds (§6).
type Config struct {
	FleetWideThreshold    float64 // default 0.30
	PartialFleetThreshold float64 // default 0.15
	RecentWindow          time.Duration
}

// DefaultConfig returns the spec's default tunables.
func DefaultConfig() Config {
	return Config{FleetWideThreshold: 0.30, PartialFleetThreshold: 0.15, RecentWindow: 5 * time.Second}
}

// Result is the outcome of correlating one agent's infection against the
// rest of the fleet (§4.4).
type Result struct {
	Verdict         Verdict
	Fraction        float64
	IntersectKinds  map[sentinel.Kind]bool
	AffectedAgents  []string
	MonitoredAgents int
}

// BaselineSource provides ready baseline profiles by agent id.
type BaselineSource interface {
	Profile(agentID string) *baseline.Profile
}

// Correlator runs the sentinel against every other eligible agent to
// classify an infection's scope.
type Correlator struct {
	cfg       Config
	buf       *vitals.Buffer
	baselines BaselineSource
	sentinel  *sentinel.Sentinel
}

// New creates a Correlator wired to the shared telemetry buffer, baseline
// learner, and a sentinel instance (typically the orchestrator's own).
func New(cfg Config, buf *vitals.Buffer, baselines BaselineSource, s *sentinel.Sentinel) *Correlator {
	return &Correlator{cfg: cfg, buf: buf, baselines: baselines, sentinel: s}
}

// Correlate evaluates agentID's infection against every other agent with a
// ready baseline and recent telemetry (§4.4).
func (c *Correlator) Correlate(ctx context.Context, agentID string, infection *sentinel.Report, candidateAgents []string) Result {
	affected := make([]string, 0)
	intersect := make(map[sentinel.Kind]bool)
	monitored := 0

	for _, other := range candidateAgents {
		if other == agentID {
			continue
		}
		profile := c.baselines.Profile(other)
		if profile == nil || !profile.Ready() {
			continue
		}
		recent, err := c.buf.Recent(ctx, other, c.cfg.RecentWindow)
		if err != nil || len(recent) == 0 {
			continue
		}
		monitored++

		report := c.sentinel.Evaluate(other, recent, profile)
		if report == nil {
			continue
		}
		if report.Overlaps(infection) {
			affected = append(affected, other)
			for k := range report.Kinds {
				if infection.Kinds[k] {
					intersect[k] = true
				}
			}
		}
	}

	denom := monitored
	if denom < 1 {
		denom = 1
	}
	fraction := float64(len(affected)) / float64(denom)

	verdict := VerdictAgentSpecific
	switch {
	case fraction >= c.cfg.FleetWideThreshold:
		verdict = VerdictFleetWide
	case fraction >= c.cfg.PartialFleetThreshold:
		verdict = VerdictPartialFleet
	}

	return Result{
		Verdict:         verdict,
		Fraction:        fraction,
		IntersectKinds:  intersect,
		AffectedAgents:  affected,
		MonitoredAgents: monitored,
	}
}
