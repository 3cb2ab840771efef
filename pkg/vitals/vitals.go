// Package vitals defines the telemetry record produced by the LLM reverse
// proxy for every agent execution, and the bounded per-agent buffer that
// holds recent history for the baseline learner and sentinel.
package vitals

import "time"

// Vitals is one immutable telemetry point for a single agent execution.
// Mandatory fields are AgentID, Timestamp, LatencyMS, and Success; every
// other field defaults to its zero value when the collaborator omits it.
type Vitals struct {
	Timestamp     time.Time `json:"timestamp"`
	AgentID       string    `json:"agent_id"`
	AgentType     string    `json:"agent_type,omitempty"`
	LatencyMS     float64   `json:"latency_ms"`
	TotalTokens   int       `json:"total_tokens,omitempty"`
	InputTokens   int       `json:"input_tokens,omitempty"`
	OutputTokens  int       `json:"output_tokens,omitempty"`
	ToolCalls     int       `json:"tool_calls,omitempty"`
	RetryCount    int       `json:"retry_count,omitempty"`
	Success       bool      `json:"success"`
	Cost          float64   `json:"cost,omitempty"`
	Model         string    `json:"model,omitempty"`
	ErrorCategory string    `json:"error_category,omitempty"`
	PromptHash    string    `json:"prompt_hash,omitempty"`
}

// Normalize fills in a zero Timestamp with now, so callers that ingest raw
// JSON without a timestamp still get ordered, queryable points.
func (v Vitals) Normalize(now time.Time) Vitals {
	if v.Timestamp.IsZero() {
		v.Timestamp = now
	}
	return v
}

// Retried reports whether this execution needed at least one retry — the
// binary signal the baseline learner averages into a retry rate.
func (v Vitals) Retried() bool {
	return v.RetryCount > 0
}

// Errored reports whether this execution carries a non-empty error
// category — the binary signal the baseline learner averages into an
// error rate.
func (v Vitals) Errored() bool {
	return v.ErrorCategory != ""
}
