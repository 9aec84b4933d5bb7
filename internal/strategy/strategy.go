// Package strategy implements the agent Think/Act/Observe loop (ReAct,
// ReWOO, Plan-Execute) that drives a Planner through a sequence of
// actions against a ToolCaller, terminating on a final answer,
// stagnation, or a configured stop condition.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StepType enumerates the action kinds a Planner may request.
type StepType string

const (
	StepToolCall     StepType = "tool_call"
	StepFinalAnswer  StepType = "final_answer"
	StepNeedMoreInfo StepType = "need_more_info"
	StepDelegate     StepType = "delegate"
	StepExecutePlan  StepType = "execute_plan"
)

// Step is a single planned action. Inputs carries type-specific
// arguments (e.g. tool name/payload for tool_call, a nested *Plan for
// execute_plan). Raw string values in Inputs may reference earlier
// steps' results via "${stepID}" or "${stepID.field.path}" placeholders,
// resolved by resolveArgs before execution.
type Step struct {
	ID                 string
	Type               StepType
	Inputs             map[string]any
	DependsOn          []string
	PassPreviousResult bool

	// Populated once the step has been executed.
	Result   any
	Err      error
	Executed bool
}

// PlanStatus tracks a Plan's overall progress.
type PlanStatus string

const (
	PlanPending   PlanStatus = "pending"
	PlanRunning   PlanStatus = "running"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
)

// Plan is an upfront (ReWOO) or nested (Plan-Execute) sequence of steps.
type Plan struct {
	ID       string
	Goal     string
	Strategy Kind
	Steps    []*Step
	Status   PlanStatus
	Signals  map[string]any
}

// Kind selects which loop variant drives a Plan/Step sequence.
type Kind string

const (
	KindReAct       Kind = "react"
	KindReWOO       Kind = "rewoo"
	KindPlanExecute Kind = "plan_execute"
)

// Message mirrors one turn of conversation history fed to the Planner.
type Message struct {
	Role       string
	Content    string
	ToolCallID string
	Name       string
}

// ExecutionState is the mutable loop state threaded through Think/Act/
// Observe iterations. History accumulates every executed step for
// stagnation detection and for placeholder resolution in resolveArgs.
type ExecutionState struct {
	ExecutionID string
	Messages    []Message
	Iteration   int
	ToolCalls   int
	StartedAt   time.Time
	History     []*Step
}

func newState(executionID string, messages []Message) *ExecutionState {
	return &ExecutionState{
		ExecutionID: executionID,
		Messages:    messages,
		StartedAt:   time.Now(),
	}
}

// Observation is the outcome the loop reasons over after executing an
// action: whether the run is complete, whether to keep iterating, and
// the raw result or error from the action.
type Observation struct {
	Result         any
	Err            error
	IsComplete     bool
	ShouldContinue bool
}

// ToolResult is the outcome of a single tool invocation.
type ToolResult struct {
	Output any
	Err    error
}

// ToolCaller executes a named tool call. Implemented by the Tool Engine.
type ToolCaller interface {
	Call(ctx context.Context, name string, input map[string]any) (ToolResult, error)
}

// Delegator hands a sub-task off to another agent or kernel namespace.
// Implemented by the Agent Core / Multi-Kernel Manager integration.
type Delegator interface {
	Delegate(ctx context.Context, target string, payload any) (any, error)
}

// Planner is the decision-making core: ReAct calls Think once per
// iteration; ReWOO and Plan-Execute call CreatePlan once upfront (or
// once per nested sub-plan).
type Planner interface {
	Think(ctx context.Context, state *ExecutionState) (*Step, error)
	CreatePlan(ctx context.Context, state *ExecutionState) (*Plan, error)
}

// FinalResponder is an optional Planner capability probe (spec §4.7):
// its absence, or a failure when present, is not an error — the loop
// falls back to the raw result's textual form.
type FinalResponder interface {
	CreateFinalResponse(ctx context.Context, state *ExecutionState, raw any) (string, error)
}

// Config bounds a strategy run. Zero values are replaced by Default()
// at construction time.
type Config struct {
	MaxThinkingIterations int
	MaxPlanSteps          int
	MaxToolCalls          int
	MaxExecutionTime      time.Duration
}

// Default returns the stop-condition defaults used when a Config field
// is left at its zero value.
func Default() Config {
	return Config{
		MaxThinkingIterations: 10,
		MaxPlanSteps:          50,
		MaxToolCalls:          50,
		MaxExecutionTime:      5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := Default()
	if c.MaxThinkingIterations <= 0 {
		c.MaxThinkingIterations = d.MaxThinkingIterations
	}
	if c.MaxPlanSteps <= 0 {
		c.MaxPlanSteps = d.MaxPlanSteps
	}
	if c.MaxToolCalls <= 0 {
		c.MaxToolCalls = d.MaxToolCalls
	}
	if c.MaxExecutionTime <= 0 {
		c.MaxExecutionTime = d.MaxExecutionTime
	}
	return c
}

// Result is a strategy run's terminal outcome.
type Result struct {
	Output     string
	Structured any
	Steps      []*Step
	StopReason string
}

// Strategy is the polymorphic capability set every loop variant
// implements: execute the loop, and optionally synthesize a final
// response from the raw terminal result.
type Strategy interface {
	Execute(ctx context.Context, messages []Message) (*Result, error)
}

var (
	// ErrMaxIterationsExceeded names the MaxThinkingIterations stop
	// condition. ReAct ends such a run with StopReason "max_iterations"
	// and a nil error; it does not return this value.
	ErrMaxIterationsExceeded = errors.New("strategy: max thinking iterations exceeded")
	// ErrStagnationDetected means the loop is not making progress.
	ErrStagnationDetected = errors.New("strategy: stagnation detected")
	// ErrExecutionTimeout means MaxExecutionTime elapsed before termination.
	ErrExecutionTimeout = errors.New("strategy: execution time limit exceeded")
	// ErrUnresolvedPlaceholder means resolveArgs could not find a referenced step.
	ErrUnresolvedPlaceholder = errors.New("strategy: unresolved step placeholder")
	// ErrMaxToolCallsExceeded means MaxToolCalls was reached, mid-plan or
	// in the ReAct loop.
	ErrMaxToolCallsExceeded = errors.New("strategy: max tool calls exceeded")
)

// deps groups the collaborators every loop variant needs. Planner is
// mandatory; Tools and Delegate may be nil if the deployment never
// reaches those step types.
type deps struct {
	planner  Planner
	tools    ToolCaller
	delegate Delegator
	cfg      Config
}

// New constructs a Strategy for kind, wired to planner and the given
// collaborators. cfg's zero fields are replaced with Default().
func New(kind Kind, planner Planner, tools ToolCaller, delegate Delegator, cfg Config) (Strategy, error) {
	if planner == nil {
		return nil, errors.New("strategy: planner is required")
	}
	d := deps{planner: planner, tools: tools, delegate: delegate, cfg: cfg.withDefaults()}
	switch kind {
	case KindReAct:
		return &reactStrategy{deps: d}, nil
	case KindReWOO:
		return &rewooStrategy{deps: d}, nil
	case KindPlanExecute:
		return &planExecuteStrategy{deps: d}, nil
	default:
		return nil, fmt.Errorf("strategy: unknown kind %q", kind)
	}
}

// executeStep dispatches a single step to the collaborator matching its
// type, recording the outcome on the step itself.
func (d deps) executeStep(ctx context.Context, step *Step) (any, error) {
	switch step.Type {
	case StepToolCall:
		if d.tools == nil {
			return nil, errors.New("strategy: no ToolCaller configured for tool_call step")
		}
		name, _ := step.Inputs["name"].(string)
		payload, _ := step.Inputs["payload"].(map[string]any)
		res, err := d.tools.Call(ctx, name, payload)
		if err != nil {
			return nil, err
		}
		return res.Output, res.Err
	case StepFinalAnswer:
		return step.Inputs["message"], nil
	case StepNeedMoreInfo:
		return step.Inputs["question"], nil
	case StepDelegate:
		if d.delegate == nil {
			return nil, errors.New("strategy: no Delegator configured for delegate step")
		}
		target, _ := step.Inputs["target"].(string)
		return d.delegate.Delegate(ctx, target, step.Inputs["payload"])
	case StepExecutePlan:
		plan, ok := step.Inputs["plan"].(*Plan)
		if !ok || plan == nil {
			return nil, errors.New("strategy: execute_plan step missing nested plan")
		}
		return d.executePlan(ctx, plan)
	default:
		return nil, fmt.Errorf("strategy: unknown step type %q", step.Type)
	}
}

// executePlan walks plan's steps honoring dependsOn ordering and
// placeholder resolution, shared by ReWOO and Plan-Execute.
func (d deps) executePlan(ctx context.Context, plan *Plan) (any, error) {
	executed := make(map[string]*Step, len(plan.Steps))
	byID := make(map[string]*Step, len(plan.Steps))
	for _, s := range plan.Steps {
		byID[s.ID] = s
	}

	plan.Status = PlanRunning
	remaining := append([]*Step(nil), plan.Steps...)
	toolCalls := 0

	for len(remaining) > 0 {
		progressed := false
		var next []*Step
		for _, step := range remaining {
			if !dependenciesSatisfied(step, executed) {
				next = append(next, step)
				continue
			}
			progressed = true

			resolved, err := resolveArgs(step.Inputs, executed)
			if err != nil {
				step.Err = err
				plan.Status = PlanFailed
				return nil, fmt.Errorf("strategy: step %s: %w", step.ID, err)
			}
			step.Inputs = resolved

			if step.Type == StepToolCall {
				toolCalls++
				if d.cfg.MaxToolCalls > 0 && toolCalls > d.cfg.MaxToolCalls {
					plan.Status = PlanFailed
					return nil, ErrMaxToolCallsExceeded
				}
			}

			result, err := d.executeStep(ctx, step)
			step.Result, step.Err, step.Executed = result, err, true
			executed[step.ID] = step

			if step.Type == StepFinalAnswer || step.Type == StepNeedMoreInfo {
				plan.Status = PlanCompleted
				return result, err
			}
			if err != nil {
				plan.Status = PlanFailed
				return nil, err
			}
		}
		if !progressed {
			plan.Status = PlanFailed
			return nil, errors.New("strategy: plan has unsatisfiable step dependencies")
		}
		remaining = next
	}

	plan.Status = PlanCompleted
	if n := len(plan.Steps); n > 0 {
		return plan.Steps[n-1].Result, nil
	}
	return nil, nil
}

func dependenciesSatisfied(step *Step, executed map[string]*Step) bool {
	for _, dep := range step.DependsOn {
		if _, ok := executed[dep]; !ok {
			return false
		}
	}
	return true
}

// synthesize invokes the Planner's optional FinalResponder capability;
// absence or failure falls back to raw's textual form (spec §4.7).
func synthesize(ctx context.Context, planner Planner, state *ExecutionState, raw any) string {
	if fr, ok := planner.(FinalResponder); ok {
		if out, err := fr.CreateFinalResponse(ctx, state, raw); err == nil {
			return out
		}
	}
	if s, ok := raw.(string); ok {
		return s
	}
	return fmt.Sprint(raw)
}
