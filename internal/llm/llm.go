// Package llm defines the provider-agnostic LLM Adapter contract (spec
// §6): a single call(messages, options) -> {content, toolCalls}
// surface that every concrete provider adapter (anthropic, openai,
// bedrock) implements, plus two optional capability probes.
// Planner.CreatePlan checks for PlanCreator; no code in this module
// checks for StructuredCapable.
package llm

import "context"

// Message is one turn of conversation history sent to an adapter.
type Message struct {
	Role       string
	Content    string
	ToolCallID string
	Name       string
}

// ToolDefinition describes one callable tool offered to the model.
// InputSchema is a JSON Schema document (as `any`, typically
// map[string]any) — the schema language is intentionally pluggable
// per spec §6.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema any
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// CallOptions configures a single Adapter.Call.
type CallOptions struct {
	Model              string
	Temperature        float64
	MaxTokens          int
	MaxReasoningTokens int
	StopSequences      []string
	Tools              []ToolDefinition
}

// Response is an adapter's reply: assistant text, requested tool
// calls, or both (a model may narrate while also calling a tool).
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// Adapter is the mandatory capability every provider implements.
type Adapter interface {
	Call(ctx context.Context, messages []Message, opts CallOptions) (Response, error)
}

// PlanCreator is an optional capability probe: adapters that can
// produce an upfront plan (for ReWOO/Plan-Execute) implement this;
// its absence is not an error — Planner.CreatePlan then falls back to
// a single Adapter.Call.
type PlanCreator interface {
	CreatePlan(ctx context.Context, goal, strategyKind string) (Response, error)
}

// StructuredCapable is an optional capability probe for adapters that
// support constrained/structured generation.
type StructuredCapable interface {
	SupportsStructuredGeneration() bool
}
