// Package executor provides pluggable backends that carry out healing
// actions against real or simulated agents (§4.8).
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/agentimmune/control-plane/pkg/healer"
)

// simulatedState is a demo-mode stand-in for an agent's mutable runtime
// state (§3 "agent state"), mutated in place by each healing action.
type simulatedState struct {
	promptVersion int
	temperature   float64
	maxTools      int
}

func newSimulatedState() *simulatedState {
	return &simulatedState{promptVersion: 1, temperature: 0.7, maxTools: 5}
}

func (s *simulatedState) resetMemory() {}

func (s *simulatedState) rollbackPrompt() {
	if s.promptVersion > 1 {
		s.promptVersion--
	}
}

func (s *simulatedState) reduceAutonomy() {
	s.temperature = max(0.1, s.temperature*0.5)
	s.maxTools = maxInt(1, s.maxTools-2)
}

func (s *simulatedState) revokeTools() { s.maxTools = 0 }

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Simulated mutates in-memory per-agent state; used for demos and tests
// (§4.8).
type Simulated struct {
	mu     sync.Mutex
	states map[string]*simulatedState
}

// NewSimulated creates a Simulated executor with no agents registered.
func NewSimulated() *Simulated {
	return &Simulated{states: make(map[string]*simulatedState)}
}

func (s *Simulated) state(agentID string) *simulatedState {
	st, ok := s.states[agentID]
	if !ok {
		st = newSimulatedState()
		s.states[agentID] = st
	}
	return st
}

func (s *Simulated) Execute(ctx context.Context, agentID string, action healer.Action) (healer.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(agentID)

	var msg string
	switch action {
	case healer.ActionResetMemory:
		st.resetMemory()
		msg = "memory cleared (simulated)"
	case healer.ActionRollbackPrompt:
		st.rollbackPrompt()
		msg = fmt.Sprintf("prompt rolled back to v%d (simulated)", st.promptVersion)
	case healer.ActionReduceAutonomy:
		st.reduceAutonomy()
		msg = fmt.Sprintf("autonomy reduced temp=%.2f tools=%d (simulated)", st.temperature, st.maxTools)
	case healer.ActionRevokeTools:
		st.revokeTools()
		msg = "tools revoked (simulated)"
	case healer.ActionResetAgent:
		s.states[agentID] = newSimulatedState()
		msg = "agent reset to clean state (simulated)"
	default:
		return healer.Result{AgentID: agentID, Action: action}, fmt.Errorf("executor: unknown healing action %q", action)
	}

	return healer.Result{AgentID: agentID, Action: action, Success: true, Message: msg}, nil
}

// PolicyEngine is the minimal gateway surface the Gateway executor needs.
// Declared locally to avoid an import cycle.
type PolicyEngine interface {
	AddRule(name string) error
}

// Gateway applies healing through gateway policy changes (§4.8).
type Gateway struct {
	policy PolicyEngine
}

// NewGateway creates a Gateway executor. policy may be attached later via
// SetPolicyEngine.
func NewGateway(policy PolicyEngine) *Gateway {
	return &Gateway{policy: policy}
}

// SetPolicyEngine attaches the gateway's policy engine dynamically.
func (g *Gateway) SetPolicyEngine(p PolicyEngine) { g.policy = p }

func (g *Gateway) Execute(ctx context.Context, agentID string, action healer.Action) (healer.Result, error) {
	if g.policy == nil {
		return healer.Result{AgentID: agentID, Action: action}, errors.New("executor: no policy engine configured")
	}

	var msg string
	switch action {
	case healer.ActionReduceAutonomy:
		if err := g.policy.AddRule(fmt.Sprintf("heal:throttle:%s", agentID)); err != nil {
			return healer.Result{AgentID: agentID, Action: action}, err
		}
		msg = "rate limit injected (2 req/min, 500 tok/req)"
	case healer.ActionRevokeTools:
		if err := g.policy.AddRule(fmt.Sprintf("heal:no-tools:%s", agentID)); err != nil {
			return healer.Result{AgentID: agentID, Action: action}, err
		}
		msg = "tool-calling models blocked via gateway policy"
	case healer.ActionResetMemory:
		msg = "context-clear header injected (supported providers will clear context)"
		slog.Info("gateway heal reset_memory", "agent_id", agentID)
	case healer.ActionRollbackPrompt:
		msg = "prompt rollback requires an external prompt registry — operator alerted"
		slog.Warn("gateway heal rollback_prompt needs manual action", "agent_id", agentID)
	case healer.ActionResetAgent:
		if err := g.policy.AddRule(fmt.Sprintf("heal:block:%s", agentID)); err != nil {
			return healer.Result{AgentID: agentID, Action: action}, err
		}
		msg = "agent fully blocked at gateway — operator must restart the agent process"
		slog.Warn("gateway heal reset_agent applied full block", "agent_id", agentID)
	default:
		return healer.Result{AgentID: agentID, Action: action}, fmt.Errorf("executor: unknown healing action %q", action)
	}

	slog.Info("gateway executor", "agent_id", agentID, "action", action)
	return healer.Result{AgentID: agentID, Action: action, Success: true, Message: msg}, nil
}

// controlEndpoints maps each healing action to its agent control path
// (§4.8 "POST to the agent's control endpoints").
var controlEndpoints = map[healer.Action]string{
	healer.ActionResetMemory:    "/control/reset-memory",
	healer.ActionRollbackPrompt: "/control/rollback-prompt",
	healer.ActionReduceAutonomy: "/control/reduce-autonomy",
	healer.ActionRevokeTools:    "/control/revoke-tools",
	healer.ActionResetAgent:     "/control/restart",
}

// httpPoster abstracts the HTTP client so tests can substitute a fake.
type httpPoster interface {
	Post(ctx context.Context, url string) (statusCode int, err error)
}

type realPoster struct{ client *http.Client }

func (p realPoster) Post(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// Process heals agents via an HTTP control API exposed by the agent
// process itself (§4.8).
type Process struct {
	mu          sync.Mutex
	controlURLs map[string]string
	poster      httpPoster
}

// NewProcess creates a Process executor with a 10s HTTP client timeout.
func NewProcess() *Process {
	return &Process{
		controlURLs: make(map[string]string),
		poster:      realPoster{client: &http.Client{Timeout: 10 * time.Second}},
	}
}

// RegisterControlURL associates an agent with its control-API base URL.
func (p *Process) RegisterControlURL(agentID, baseURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.controlURLs[agentID] = baseURL
}

func (p *Process) Execute(ctx context.Context, agentID string, action healer.Action) (healer.Result, error) {
	p.mu.Lock()
	base, ok := p.controlURLs[agentID]
	p.mu.Unlock()
	if !ok {
		return healer.Result{AgentID: agentID, Action: action}, errors.New("executor: no control url registered")
	}

	path, ok := controlEndpoints[action]
	if !ok {
		return healer.Result{AgentID: agentID, Action: action}, fmt.Errorf("executor: unmapped healing action %q", action)
	}

	status, err := p.poster.Post(ctx, base+path)
	if err != nil {
		return healer.Result{AgentID: agentID, Action: action, Message: err.Error()}, nil
	}
	if status < 200 || status >= 400 {
		return healer.Result{AgentID: agentID, Action: action, Message: fmt.Sprintf("control API returned HTTP %d", status)}, nil
	}
	return healer.Result{AgentID: agentID, Action: action, Success: true, Message: fmt.Sprintf("control API %s succeeded (HTTP %d)", action, status)}, nil
}

// containerRef identifies a docker container or k8s deployment to restart.
type containerRef struct {
	kind       string
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

// Container heals agents via container orchestration commands, restarting
// on RESET_AGENT and delegating every other action to a fallback executor
// (§4.8).
type Container struct {
	mu         sync.Mutex
	containers map[string]containerRef
	fallback   healer.Executor
	runner     commandRunner
}

// NewContainer creates a Container executor with an optional fallback for
// actions it does not itself handle.
func NewContainer(fallback healer.Executor) *Container {
	return &Container{containers: make(map[string]containerRef), fallback: fallback, runner: execRunner{}}
}

// RegisterContainer associates an agent with a Docker container id.
func (c *Container) RegisterContainer(agentID, containerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.containers[agentID] = containerRef{kind: "docker", id: containerID}
}

// RegisterK8s associates an agent with a Kubernetes deployment.
func (c *Container) RegisterK8s(agentID, namespace, deployment string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.containers[agentID] = containerRef{kind: "k8s", namespace: namespace, deployment: deployment}
}

func (c *Container) Execute(ctx context.Context, agentID string, action healer.Action) (healer.Result, error) {
	c.mu.Lock()
	ref, ok := c.containers[agentID]
	c.mu.Unlock()

	if !ok {
		if c.fallback != nil {
			return c.fallback.Execute(ctx, agentID, action)
		}
		return healer.Result{AgentID: agentID, Action: action, Message: "not_registered"}, nil
	}

	if action == healer.ActionResetAgent {
		if ref.kind == "docker" {
			return c.dockerRestart(ctx, ref.id, agentID)
		}
		return c.k8sRestart(ctx, ref, agentID)
	}

	if c.fallback != nil {
		return c.fallback.Execute(ctx, agentID, action)
	}
	return healer.Result{AgentID: agentID, Action: action, Message: fmt.Sprintf("no container handler for %s", action)}, nil
}

func (c *Container) dockerRestart(ctx context.Context, containerID, agentID string) (healer.Result, error) {
	ok, stderr, err := c.runner.Run(ctx, "docker", "restart", containerID)
	if err != nil {
		return healer.Result{AgentID: agentID, Action: healer.ActionResetAgent, Message: "docker_not_found"}, nil
	}
	msg := fmt.Sprintf("docker restart %s", containerID)
	if !ok {
		msg += " err=" + stderr
	}
	return healer.Result{AgentID: agentID, Action: healer.ActionResetAgent, Success: ok, Message: msg}, nil
}

func (c *Container) k8sRestart(ctx context.Context, ref containerRef, agentID string) (healer.Result, error) {
	ok, stderr, err := c.runner.Run(ctx, "kubectl", "rollout", "restart",
		"deployment/"+ref.deployment, "-n", ref.namespace)
	if err != nil {
		return healer.Result{AgentID: agentID, Action: healer.ActionResetAgent, Message: "kubectl_not_found"}, nil
	}
	msg := fmt.Sprintf("kubectl rollout restart deployment/%s -n %s", ref.deployment, ref.namespace)
	if !ok {
		msg += " err=" + stderr
	}
	return healer.Result{AgentID: agentID, Action: healer.ActionResetAgent, Success: ok, Message: msg}, nil
}
