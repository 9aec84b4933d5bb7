package strategy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodustech/agent-kernel/internal/strategy"
)

// scriptedPlanner returns a fixed sequence of Think steps and/or a
// fixed plan, regardless of state, for deterministic loop tests.
type scriptedPlanner struct {
	thinks []*strategy.Step
	plans  []*strategy.Plan
	calls  int
}

func (p *scriptedPlanner) Think(ctx context.Context, state *strategy.ExecutionState) (*strategy.Step, error) {
	i := p.calls
	p.calls++
	if i >= len(p.thinks) {
		return p.thinks[len(p.thinks)-1], nil
	}
	return p.thinks[i], nil
}

func (p *scriptedPlanner) CreatePlan(ctx context.Context, state *strategy.ExecutionState) (*strategy.Plan, error) {
	i := p.calls
	p.calls++
	if i >= len(p.plans) {
		return &strategy.Plan{Steps: nil}, nil
	}
	return p.plans[i], nil
}

type echoTools struct{ calls int }

func (e *echoTools) Call(ctx context.Context, name string, input map[string]any) (strategy.ToolResult, error) {
	e.calls++
	return strategy.ToolResult{Output: map[string]any{"tool": name, "n": e.calls}}, nil
}

func TestReActStopsOnFinalAnswer(t *testing.T) {
	planner := &scriptedPlanner{thinks: []*strategy.Step{
		{ID: "s1", Type: strategy.StepToolCall, Inputs: map[string]any{"name": "search", "payload": map[string]any{}}},
		{ID: "s2", Type: strategy.StepFinalAnswer, Inputs: map[string]any{"message": "done"}},
	}}
	s, err := strategy.New(strategy.KindReAct, planner, &echoTools{}, nil, strategy.Config{})
	require.NoError(t, err)

	res, err := s.Execute(context.Background(), []strategy.Message{{Role: "user", Content: "go"}})
	require.NoError(t, err)
	assert.Equal(t, "final_answer", res.StopReason)
	assert.Equal(t, "done", res.Output)
	assert.Len(t, res.Steps, 2)
}

func TestReActDetectsStagnationOnRepeatedIdenticalAction(t *testing.T) {
	repeated := map[string]any{"name": "search", "payload": map[string]any{"q": "x"}}
	planner := &scriptedPlanner{thinks: []*strategy.Step{
		{ID: "s1", Type: strategy.StepToolCall, Inputs: repeated},
		{ID: "s2", Type: strategy.StepToolCall, Inputs: repeated},
		{ID: "s3", Type: strategy.StepToolCall, Inputs: repeated},
	}}
	s, err := strategy.New(strategy.KindReAct, planner, &echoTools{}, nil, strategy.Config{MaxThinkingIterations: 10})
	require.NoError(t, err)

	res, err := s.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "stagnation", res.StopReason)
}

func TestReActStopsOnMaxIterations(t *testing.T) {
	planner := &scriptedPlanner{thinks: []*strategy.Step{
		{ID: "s1", Type: strategy.StepToolCall, Inputs: map[string]any{"name": "a", "payload": map[string]any{"i": 0}}},
		{ID: "s2", Type: strategy.StepToolCall, Inputs: map[string]any{"name": "b", "payload": map[string]any{"i": 1}}},
		{ID: "s3", Type: strategy.StepToolCall, Inputs: map[string]any{"name": "c", "payload": map[string]any{"i": 2}}},
	}}
	s, err := strategy.New(strategy.KindReAct, planner, &echoTools{}, nil, strategy.Config{MaxThinkingIterations: 2})
	require.NoError(t, err)

	res, err := s.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "max_iterations", res.StopReason)
}

func TestReWOOResolvesDependentStepPlaceholders(t *testing.T) {
	plan := &strategy.Plan{
		Steps: []*strategy.Step{
			{ID: "fetch", Type: strategy.StepToolCall, Inputs: map[string]any{"name": "fetch", "payload": map[string]any{}}},
			{ID: "use", Type: strategy.StepFinalAnswer, DependsOn: []string{"fetch"},
				Inputs: map[string]any{"message": "${fetch.n}"}},
		},
	}
	planner := &scriptedPlanner{plans: []*strategy.Plan{plan}}
	s, err := strategy.New(strategy.KindReWOO, planner, &echoTools{}, nil, strategy.Config{})
	require.NoError(t, err)

	res, err := s.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "plan_completed", res.StopReason)
	assert.Equal(t, "1", res.Output, "placeholder should resolve to the fetch tool's numeric result")
}

func TestReWOOAbortsOnUnresolvedPlaceholder(t *testing.T) {
	plan := &strategy.Plan{
		Steps: []*strategy.Step{
			{ID: "use", Type: strategy.StepFinalAnswer, Inputs: map[string]any{"message": "${missing.field}"}},
		},
	}
	planner := &scriptedPlanner{plans: []*strategy.Plan{plan}}
	s, err := strategy.New(strategy.KindReWOO, planner, &echoTools{}, nil, strategy.Config{})
	require.NoError(t, err)

	_, err = s.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, strategy.ErrUnresolvedPlaceholder)
}

func TestPlanExecuteRecursesIntoNestedSubPlan(t *testing.T) {
	nested := &strategy.Plan{
		Steps: []*strategy.Step{
			{ID: "inner-final", Type: strategy.StepFinalAnswer, Inputs: map[string]any{"message": "nested-done"}},
		},
	}
	outer := &strategy.Plan{
		Steps: []*strategy.Step{
			{ID: "delegate-step", Type: strategy.StepExecutePlan, Inputs: map[string]any{"plan": nested}},
		},
	}
	planner := &scriptedPlanner{plans: []*strategy.Plan{outer}}
	s, err := strategy.New(strategy.KindPlanExecute, planner, &echoTools{}, nil, strategy.Config{})
	require.NoError(t, err)

	res, err := s.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "nested-done", res.Output)
}
