package llm

import (
	"context"
	"fmt"

	"github.com/kodustech/agent-kernel/internal/idgen"
	"github.com/kodustech/agent-kernel/internal/strategy"
)

// Planner adapts an Adapter into a strategy.Planner (spec §2: "the
// pipeline uses the Agent/Strategy stack as a sub-component for LLM
// work"; spec §4.7's Think/CreatePlan are explicitly planner-driven).
// Each Think call is one Adapter.Call; a response carrying tool calls
// decodes into a tool_call Step, otherwise into a final_answer Step
// built from the response's text. CreatePlan prefers the adapter's
// optional PlanCreator capability and otherwise falls back to a single
// Adapter.Call, chaining any returned tool calls into a dependent Step
// sequence terminated by a final_answer step.
type Planner struct {
	Adapter     Adapter
	Model       string
	Temperature float64
	MaxTokens   int
	Tools       []ToolDefinition
	// StrategyKind is passed to the adapter's optional PlanCreator
	// capability so it can tailor its upfront plan to ReWOO vs.
	// Plan-Execute; empty is a valid value for adapters that ignore it.
	StrategyKind string
}

func (p *Planner) Think(ctx context.Context, state *strategy.ExecutionState) (*strategy.Step, error) {
	resp, err := p.Adapter.Call(ctx, toLLMMessages(state.Messages), p.callOptions())
	if err != nil {
		return nil, fmt.Errorf("llm planner: think: %w", err)
	}
	return p.decodeStep(resp), nil
}

func (p *Planner) CreatePlan(ctx context.Context, state *strategy.ExecutionState) (*strategy.Plan, error) {
	goal := ""
	if n := len(state.Messages); n > 0 {
		goal = state.Messages[n-1].Content
	}

	var (
		resp Response
		err  error
	)
	if pc, ok := p.Adapter.(PlanCreator); ok {
		resp, err = pc.CreatePlan(ctx, goal, p.StrategyKind)
	} else {
		resp, err = p.Adapter.Call(ctx, toLLMMessages(state.Messages), p.callOptions())
	}
	if err != nil {
		return nil, fmt.Errorf("llm planner: create plan: %w", err)
	}

	return &strategy.Plan{
		ID:     idgen.NewWithPrefix("plan"),
		Goal:   goal,
		Status: strategy.PlanPending,
		Steps:  p.decodePlanSteps(resp),
	}, nil
}

func (p *Planner) callOptions() CallOptions {
	return CallOptions{Model: p.Model, Temperature: p.Temperature, MaxTokens: p.MaxTokens, Tools: p.Tools}
}

// decodeStep implements the single-Step decoding ReAct needs per
// iteration: the first requested tool call, or a final answer.
func (p *Planner) decodeStep(resp Response) *strategy.Step {
	if len(resp.ToolCalls) > 0 {
		tc := resp.ToolCalls[0]
		id := tc.ID
		if id == "" {
			id = idgen.New()
		}
		return &strategy.Step{
			ID:     id,
			Type:   strategy.StepToolCall,
			Inputs: map[string]any{"name": tc.Name, "payload": tc.Arguments},
		}
	}
	return &strategy.Step{
		ID:     idgen.New(),
		Type:   strategy.StepFinalAnswer,
		Inputs: map[string]any{"message": resp.Content},
	}
}

// decodePlanSteps turns every requested tool call into a Step chained
// by DependsOn (so executePlan runs them in the order the model
// returned them), followed by a final_answer step carrying the
// response's text.
func (p *Planner) decodePlanSteps(resp Response) []*strategy.Step {
	if len(resp.ToolCalls) == 0 {
		return []*strategy.Step{{
			ID:     idgen.New(),
			Type:   strategy.StepFinalAnswer,
			Inputs: map[string]any{"message": resp.Content},
		}}
	}

	steps := make([]*strategy.Step, 0, len(resp.ToolCalls)+1)
	var prevID string
	for _, tc := range resp.ToolCalls {
		id := tc.ID
		if id == "" {
			id = idgen.New()
		}
		step := &strategy.Step{
			ID:     id,
			Type:   strategy.StepToolCall,
			Inputs: map[string]any{"name": tc.Name, "payload": tc.Arguments},
		}
		if prevID != "" {
			step.DependsOn = []string{prevID}
		}
		steps = append(steps, step)
		prevID = id
	}

	final := &strategy.Step{
		ID:     idgen.New(),
		Type:   strategy.StepFinalAnswer,
		Inputs: map[string]any{"message": resp.Content},
	}
	if prevID != "" {
		final.DependsOn = []string{prevID}
	}
	return append(steps, final)
}

func toLLMMessages(msgs []strategy.Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = Message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name}
	}
	return out
}
