// Package collaborators declares the interfaces for the systems this
// control plane talks to but does not implement: the LLM reverse proxy
// that passively extracts vitals from live traffic, a chaos/demo harness
// that injects synthetic infections, and the simulated agent fleet used
// for demos. None of these have a concrete implementation here — they
// are out of scope for this exercise — but the seams they plug into
// (vitals ingestion, enforcement callbacks) are real and exercised by
// pkg/orchestrator and pkg/enforcement today.
package collaborators

import (
	"context"

	"github.com/agentimmune/control-plane/pkg/vitals"
)

// VitalsSource is implemented by anything that passively observes agent
// traffic and emits Vitals for ingestion — in production, a reverse
// proxy sitting in front of the LLM provider. Not implemented here:
// pkg/orchestrator.Orchestrator.Ingest is the real entry point and is
// called directly by pkg/api's vitals handler instead.
type VitalsSource interface {
	// Vitals returns a channel of observed Vitals, closed when the
	// source shuts down or ctx is cancelled.
	Vitals(ctx context.Context) (<-chan vitals.Vitals, error)
}

// EnforcementTarget is implemented by whatever the enforcement backends
// in pkg/enforcement actually act on — an LLM gateway blocking a
// prompt hash, a process manager pausing a worker, a container runtime
// scaling a deployment to zero. pkg/enforcement already defines and
// implements this surface directly (Gateway/Process/Container/
// Composite/NoOp); this alias documents that the proxy is one concrete
// instance of it, without adding a second implementation.
type EnforcementTarget interface {
	Block(ctx context.Context, agentID string) error
	Unblock(ctx context.Context, agentID string) error
}

// ChaosInjector is implemented by a demo/chaos harness that injects
// synthetic infections into a simulated fleet to exercise the detect →
// diagnose → quarantine → heal → validate loop end to end without live
// traffic. Not implemented here — a real harness would call
// pkg/orchestrator.Orchestrator.Ingest with crafted Vitals the same way
// a genuine VitalsSource does.
type ChaosInjector interface {
	// InjectInfection forces the named agent into an infected state of
	// the given kind (e.g. "token_explosion", "tool_loop",
	// "latency_spike", "high_retry_rate"), by emitting Vitals crafted
	// to trip pkg/sentinel's detection thresholds.
	InjectInfection(ctx context.Context, agentID, kind string) error
}

// SimulatedAgent is implemented by a demo fleet member standing in for
// a real LLM-driven agent: something that runs workloads and reports
// its own Vitals each tick. Not implemented here — pkg/vitals.Vitals is
// the wire contract any simulated or real agent must produce.
type SimulatedAgent interface {
	AgentID() string

	// Tick runs one unit of simulated work and returns the Vitals it
	// produced, for the harness to feed to a VitalsSource.
	Tick(ctx context.Context) (vitals.Vitals, error)
}
