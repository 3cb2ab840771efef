// Package enforcement provides pluggable backends that actually block,
// unblock, drain, and health-check agent execution in the real world
// (§4.8).
package enforcement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Result is the outcome of one enforcement call (§4.8 "Every call returns
// (success, detail)").
type Result struct {
	Success  bool
	Strategy string
	AgentID  string
	Action   string
	Detail   string
}

// HealthStatus is the reachability info returned by HealthCheck.
type HealthStatus struct {
	Strategy   string
	AgentID    string
	Registered bool
	Blocked    bool
	Detail     string
	SubChecks  map[string]HealthStatus
}

// Strategy realizes BLOCK / UNBLOCK / DRAIN / HEALTH_CHECK for agents
// (§4.8).
type Strategy interface {
	Name() string
	Block(ctx context.Context, agentID, reason string) Result
	Unblock(ctx context.Context, agentID string) Result
	Drain(ctx context.Context, agentID string, timeout time.Duration) Result
	HealthCheck(ctx context.Context, agentID string) HealthStatus
}

// PolicyEngine is the minimal gateway surface Gateway enforcement needs —
// add/remove a named blocking rule. Declared locally to avoid an import
// cycle with any future gateway package.
type PolicyEngine interface {
	AddBlockRule(agentID, ruleName string) error
	RemoveBlockRule(ruleName string) error
}

// Gateway blocks agent traffic by injecting policy rules into a request
// gateway (§4.8).
type Gateway struct {
	mu      sync.Mutex
	policy  PolicyEngine
	blocked map[string]string // agentID -> rule name
}

// NewGateway creates a Gateway strategy. policy may be attached later via
// SetPolicyEngine.
func NewGateway(policy PolicyEngine) *Gateway {
	return &Gateway{policy: policy, blocked: make(map[string]string)}
}

// SetPolicyEngine attaches the gateway's policy engine dynamically.
func (g *Gateway) SetPolicyEngine(p PolicyEngine) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.policy = p
}

func (g *Gateway) Name() string { return "gateway" }

func (g *Gateway) Block(ctx context.Context, agentID, reason string) Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.policy == nil {
		return Result{Strategy: g.Name(), AgentID: agentID, Action: "block", Detail: "no policy engine"}
	}
	ruleName := fmt.Sprintf("quarantine:%s", agentID)
	if err := g.policy.AddBlockRule(agentID, ruleName); err != nil {
		return Result{Strategy: g.Name(), AgentID: agentID, Action: "block", Detail: err.Error()}
	}
	g.blocked[agentID] = ruleName
	slog.Info("gateway block", "agent_id", agentID, "reason", reason)
	return Result{Success: true, Strategy: g.Name(), AgentID: agentID, Action: "block", Detail: ruleName}
}

func (g *Gateway) Unblock(ctx context.Context, agentID string) Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.policy == nil {
		return Result{Strategy: g.Name(), AgentID: agentID, Action: "unblock", Detail: "no policy engine"}
	}
	ruleName, ok := g.blocked[agentID]
	if !ok {
		ruleName = fmt.Sprintf("quarantine:%s", agentID)
	}
	delete(g.blocked, agentID)
	if err := g.policy.RemoveBlockRule(ruleName); err != nil {
		return Result{Strategy: g.Name(), AgentID: agentID, Action: "unblock", Detail: err.Error()}
	}
	slog.Info("gateway unblock", "agent_id", agentID)
	return Result{Success: true, Strategy: g.Name(), AgentID: agentID, Action: "unblock", Detail: ruleName}
}

func (g *Gateway) Drain(ctx context.Context, agentID string, timeout time.Duration) Result {
	g.Block(ctx, agentID, "draining")
	wait := timeout
	if wait > 5*time.Second {
		wait = 5 * time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
	return Result{Success: true, Strategy: g.Name(), AgentID: agentID, Action: "drain", Detail: fmt.Sprintf("timeout=%s", timeout)}
}

func (g *Gateway) HealthCheck(ctx context.Context, agentID string) HealthStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, blocked := g.blocked[agentID]
	return HealthStatus{Strategy: g.Name(), AgentID: agentID, Blocked: blocked}
}

// Process controls a registered OS process via stop/continue signals
// (§4.8).
type Process struct {
	mu   sync.Mutex
	pids map[string]int
}

// NewProcess creates a Process strategy with no agents registered.
func NewProcess() *Process {
	return &Process{pids: make(map[string]int)}
}

// RegisterPID associates an agent with the pid that must be signaled.
func (p *Process) RegisterPID(agentID string, pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pids[agentID] = pid
	slog.Info("process registered", "agent_id", agentID, "pid", pid)
}

// UnregisterPID removes an agent's pid association.
func (p *Process) UnregisterPID(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pids, agentID)
}

func (p *Process) getPID(agentID string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pid, ok := p.pids[agentID]
	return pid, ok
}

func (p *Process) Name() string { return "process" }

func (p *Process) Block(ctx context.Context, agentID, reason string) Result {
	pid, ok := p.getPID(agentID)
	if !ok {
		return Result{Strategy: p.Name(), AgentID: agentID, Action: "block", Detail: "pid_not_registered"}
	}
	if err := syscall.Kill(pid, syscall.SIGSTOP); err != nil {
		slog.Error("SIGSTOP failed", "pid", pid, "error", err)
		return Result{Strategy: p.Name(), AgentID: agentID, Action: "block", Detail: err.Error()}
	}
	slog.Info("process SIGSTOP", "agent_id", agentID, "pid", pid, "reason", reason)
	return Result{Success: true, Strategy: p.Name(), AgentID: agentID, Action: "block", Detail: fmt.Sprintf("SIGSTOP pid=%d", pid)}
}

func (p *Process) Unblock(ctx context.Context, agentID string) Result {
	pid, ok := p.getPID(agentID)
	if !ok {
		return Result{Strategy: p.Name(), AgentID: agentID, Action: "unblock", Detail: "pid_not_registered"}
	}
	if err := syscall.Kill(pid, syscall.SIGCONT); err != nil {
		slog.Error("SIGCONT failed", "pid", pid, "error", err)
		return Result{Strategy: p.Name(), AgentID: agentID, Action: "unblock", Detail: err.Error()}
	}
	slog.Info("process SIGCONT", "agent_id", agentID, "pid", pid)
	return Result{Success: true, Strategy: p.Name(), AgentID: agentID, Action: "unblock", Detail: fmt.Sprintf("SIGCONT pid=%d", pid)}
}

func (p *Process) Drain(ctx context.Context, agentID string, timeout time.Duration) Result {
	pid, ok := p.getPID(agentID)
	if !ok {
		return Result{Strategy: p.Name(), AgentID: agentID, Action: "drain", Detail: "pid_not_registered"}
	}
	_ = syscall.Kill(pid, syscall.SIGUSR1)
	wait := timeout
	if wait > 30*time.Second {
		wait = 30 * time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
	return p.Block(ctx, agentID, "drain_timeout")
}

func (p *Process) HealthCheck(ctx context.Context, agentID string) HealthStatus {
	pid, ok := p.getPID(agentID)
	if !ok {
		return HealthStatus{Strategy: p.Name(), AgentID: agentID, Registered: false}
	}
	alive := syscall.Kill(pid, 0) == nil
	return HealthStatus{Strategy: p.Name(), AgentID: agentID, Registered: true, Detail: fmt.Sprintf("pid=%d alive=%v", pid, alive)}
}

// containerRef is either a docker container id or a k8s deployment ref.
type containerRef struct {
	kind       string // "docker" or "k8s"
	id         string
	namespace  string
	deployment string
}

// commandRunner abstracts subprocess execution so tests can substitute a
// fake without shelling out to docker/kubectl.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (ok bool, stderr string, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (bool, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, string(out), nil
		}
		return false, "", err
	}
	return true, "", nil
}

// Container pauses/unpauses Docker containers or scales a Kubernetes
// deployment's replica count (§4.8).
type Container struct {
	mu      sync.Mutex
	refs    map[string]containerRef
	runner  commandRunner
}

// NewContainer creates a Container strategy shelling out to docker/kubectl.
func NewContainer() *Container {
	return &Container{refs: make(map[string]containerRef), runner: execRunner{}}
}

// RegisterContainer associates an agent with a Docker container id.
func (c *Container) RegisterContainer(agentID, containerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs[agentID] = containerRef{kind: "docker", id: containerID}
}

// RegisterK8s associates an agent with a Kubernetes deployment.
func (c *Container) RegisterK8s(agentID, namespace, deployment string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs[agentID] = containerRef{kind: "k8s", namespace: namespace, deployment: deployment}
}

func (c *Container) ref(agentID string) (containerRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.refs[agentID]
	return r, ok
}

func (c *Container) Name() string { return "container" }

func (c *Container) Block(ctx context.Context, agentID, reason string) Result {
	ref, ok := c.ref(agentID)
	if !ok {
		return Result{Strategy: c.Name(), AgentID: agentID, Action: "block", Detail: "not_registered"}
	}
	if ref.kind == "docker" {
		return c.dockerCmd(ctx, "pause", ref.id, agentID, "block")
	}
	return c.k8sScale(ctx, ref, 0, agentID, "block")
}

func (c *Container) Unblock(ctx context.Context, agentID string) Result {
	ref, ok := c.ref(agentID)
	if !ok {
		return Result{Strategy: c.Name(), AgentID: agentID, Action: "unblock", Detail: "not_registered"}
	}
	if ref.kind == "docker" {
		return c.dockerCmd(ctx, "unpause", ref.id, agentID, "unblock")
	}
	return c.k8sScale(ctx, ref, 1, agentID, "unblock")
}

func (c *Container) Drain(ctx context.Context, agentID string, timeout time.Duration) Result {
	wait := timeout
	if wait > 30*time.Second {
		wait = 30 * time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
	return c.Block(ctx, agentID, "drain_timeout")
}

func (c *Container) HealthCheck(ctx context.Context, agentID string) HealthStatus {
	ref, ok := c.ref(agentID)
	return HealthStatus{Strategy: c.Name(), AgentID: agentID, Registered: ok, Detail: fmt.Sprintf("%+v", ref)}
}

func (c *Container) dockerCmd(ctx context.Context, cmd, containerID, agentID, action string) Result {
	ok, stderr, err := c.runner.Run(ctx, "docker", cmd, containerID)
	if err != nil {
		return Result{Strategy: c.Name(), AgentID: agentID, Action: action, Detail: "docker_not_found"}
	}
	detail := fmt.Sprintf("docker %s %s", cmd, containerID)
	if !ok {
		detail += " stderr=" + stderr
	}
	slog.Info("container command", "cmd", cmd, "agent_id", agentID, "ok", ok)
	return Result{Success: ok, Strategy: c.Name(), AgentID: agentID, Action: action, Detail: detail}
}

func (c *Container) k8sScale(ctx context.Context, ref containerRef, replicas int, agentID, action string) Result {
	ok, stderr, err := c.runner.Run(ctx, "kubectl", "scale", fmt.Sprintf("--replicas=%d", replicas),
		"deployment/"+ref.deployment, "-n", ref.namespace)
	if err != nil {
		return Result{Strategy: c.Name(), AgentID: agentID, Action: action, Detail: "kubectl_not_found"}
	}
	detail := fmt.Sprintf("kubectl scale --replicas=%d deployment/%s -n %s", replicas, ref.deployment, ref.namespace)
	if !ok {
		detail += " stderr=" + stderr
	}
	slog.Info("k8s scale", "agent_id", agentID, "replicas", replicas, "ok", ok)
	return Result{Success: ok, Strategy: c.Name(), AgentID: agentID, Action: action, Detail: detail}
}

// Composite chains multiple strategies in priority order, stopping at the
// first success (§4.8).
type Composite struct {
	strategies []Strategy
}

// NewComposite creates a Composite strategy over the given ordered
// sub-strategies.
func NewComposite(strategies ...Strategy) *Composite {
	return &Composite{strategies: strategies}
}

// Add appends a sub-strategy to the end of the priority chain.
func (c *Composite) Add(s Strategy) { c.strategies = append(c.strategies, s) }

func (c *Composite) Name() string { return "composite" }

func (c *Composite) Block(ctx context.Context, agentID, reason string) Result {
	for _, s := range c.strategies {
		if r := s.Block(ctx, agentID, reason); r.Success {
			return r
		}
	}
	return Result{Strategy: c.Name(), AgentID: agentID, Action: "block", Detail: "all_strategies_failed"}
}

func (c *Composite) Unblock(ctx context.Context, agentID string) Result {
	for _, s := range c.strategies {
		if r := s.Unblock(ctx, agentID); r.Success {
			return r
		}
	}
	return Result{Strategy: c.Name(), AgentID: agentID, Action: "unblock", Detail: "all_strategies_failed"}
}

func (c *Composite) Drain(ctx context.Context, agentID string, timeout time.Duration) Result {
	for _, s := range c.strategies {
		if r := s.Drain(ctx, agentID, timeout); r.Success {
			return r
		}
	}
	return Result{Strategy: c.Name(), AgentID: agentID, Action: "drain", Detail: "all_strategies_failed"}
}

func (c *Composite) HealthCheck(ctx context.Context, agentID string) HealthStatus {
	sub := make(map[string]HealthStatus, len(c.strategies))
	for _, s := range c.strategies {
		sub[s.Name()] = s.HealthCheck(ctx, agentID)
	}
	return HealthStatus{Strategy: c.Name(), AgentID: agentID, SubChecks: sub}
}

// NoOp is an in-memory-only strategy for tests and simulations (§4.8).
type NoOp struct {
	mu      sync.Mutex
	blocked map[string]bool
}

// NewNoOp creates a NoOp strategy.
func NewNoOp() *NoOp { return &NoOp{blocked: make(map[string]bool)} }

func (n *NoOp) Name() string { return "noop" }

func (n *NoOp) Block(ctx context.Context, agentID, reason string) Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocked[agentID] = true
	return Result{Success: true, Strategy: n.Name(), AgentID: agentID, Action: "block", Detail: "simulated"}
}

func (n *NoOp) Unblock(ctx context.Context, agentID string) Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.blocked, agentID)
	return Result{Success: true, Strategy: n.Name(), AgentID: agentID, Action: "unblock", Detail: "simulated"}
}

func (n *NoOp) Drain(ctx context.Context, agentID string, timeout time.Duration) Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocked[agentID] = true
	return Result{Success: true, Strategy: n.Name(), AgentID: agentID, Action: "drain", Detail: "simulated"}
}

func (n *NoOp) HealthCheck(ctx context.Context, agentID string) HealthStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return HealthStatus{Strategy: n.Name(), AgentID: agentID, Blocked: n.blocked[agentID]}
}
