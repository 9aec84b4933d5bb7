package tools_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodustech/agent-kernel/internal/telemetry"
	"github.com/kodustech/agent-kernel/internal/tools"
)

func newRegistry(t *testing.T, cfg tools.CircuitConfig) *tools.Registry {
	t.Helper()
	return tools.NewRegistry(telemetry.NewNoop(), cfg)
}

func TestRegisterToolRejectsDuplicateName(t *testing.T) {
	r := newRegistry(t, tools.CircuitConfig{})
	def := tools.Definition{Name: "echo", Execute: func(ctx context.Context, input map[string]any) (any, error) { return input, nil }}
	require.NoError(t, r.RegisterTool(def))

	err := r.RegisterTool(def)
	assert.ErrorIs(t, err, tools.ErrDuplicateTool)
}

func TestExecuteCallValidatesInputSchema(t *testing.T) {
	r := newRegistry(t, tools.CircuitConfig{})
	schema := map[string]any{
		"type":     "object",
		"required": []any{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
	}
	require.NoError(t, r.RegisterTool(tools.Definition{
		Name:        "greet",
		InputSchema: schema,
		Execute:     func(ctx context.Context, input map[string]any) (any, error) { return "hi " + input["name"].(string), nil },
	}))

	_, err := r.ExecuteCall(context.Background(), "greet", map[string]any{}, nil)
	require.Error(t, err)
	var classified *tools.ClassifiedError
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, tools.ErrClassValidation, classified.Class)

	out, err := r.ExecuteCall(context.Background(), "greet", map[string]any{"name": "ada"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi ada", out)
}

func TestExecuteCallClassifiesErrorsBySubstring(t *testing.T) {
	r := newRegistry(t, tools.CircuitConfig{})
	require.NoError(t, r.RegisterTool(tools.Definition{
		Name:    "flaky",
		Execute: func(ctx context.Context, input map[string]any) (any, error) { return nil, errors.New("upstream request timed out") },
	}))

	_, err := r.ExecuteCall(context.Background(), "flaky", nil, nil)
	var classified *tools.ClassifiedError
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, tools.ErrClassTimeout, classified.Class)
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	r := newRegistry(t, tools.CircuitConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour})
	require.NoError(t, r.RegisterTool(tools.Definition{
		Name:    "boom",
		Execute: func(ctx context.Context, input map[string]any) (any, error) { return nil, errors.New("server_error: boom") },
	}))

	_, _ = r.ExecuteCall(context.Background(), "boom", nil, nil)
	_, _ = r.ExecuteCall(context.Background(), "boom", nil, nil)

	state, ok := r.BreakerState("boom")
	require.True(t, ok)
	assert.Equal(t, tools.StateOpen, state)

	_, err := r.ExecuteCall(context.Background(), "boom", nil, nil)
	require.Error(t, err)
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := tools.NewCircuitBreaker(tools.CircuitConfig{FailureThreshold: 1, RecoveryTimeout: time.Millisecond, SuccessThreshold: 1})
	cb.RecordFailure()
	assert.Equal(t, tools.StateOpen, cb.State())

	time.Sleep(5 * time.Millisecond)
	assert.True(t, cb.Allow())
	assert.Equal(t, tools.StateHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, tools.StateClosed, cb.State())
}

func TestExecuteCallRespectsOperationTimeout(t *testing.T) {
	r := newRegistry(t, tools.CircuitConfig{OperationTimeout: 5 * time.Millisecond})
	require.NoError(t, r.RegisterTool(tools.Definition{
		Name: "slow",
		Execute: func(ctx context.Context, input map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))

	_, err := r.ExecuteCall(context.Background(), "slow", nil, nil)
	require.Error(t, err)
}

func TestAggregateModesCombineMergeAndSummarize(t *testing.T) {
	outcomes := []tools.CallOutcome{
		{ToolName: "search_docs", Result: map[string]any{"hits": 3}},
		{ToolName: "validate_input", Result: map[string]any{"ok": true}},
		{ToolName: "broken", Err: errors.New("network: connection refused")},
	}

	combined, summary, _, _ := tools.Aggregate(tools.ModeCombine, outcomes)
	m := combined.(map[string]any)
	assert.Equal(t, map[string]any{"hits": 3}, m["search_docs"])
	assert.Equal(t, 2, summary.Successful)
	assert.Equal(t, 1, summary.Failed)

	merged, _, _, _ := tools.Aggregate(tools.ModeMerge, outcomes)
	mm := merged.(map[string]any)
	assert.Equal(t, 3, mm["hits"])
	assert.Equal(t, true, mm["ok"])

	narrative, _, _, _ := tools.Aggregate(tools.ModeSummarize, outcomes)
	assert.Contains(t, narrative.(string), "2/3 tools succeeded")
}

func TestAggregateAggregateModeGroupsByHeuristicCategory(t *testing.T) {
	outcomes := []tools.CallOutcome{
		{ToolName: "search_web", Result: "result-a"},
		{ToolName: "generate_summary", Result: "result-b"},
	}
	agg, _, _, metadata := tools.Aggregate(tools.ModeAggregate, outcomes)
	grouped := agg.(map[string]any)
	assert.Contains(t, grouped, "retrieval")
	assert.Contains(t, grouped, "generation")
	cats := metadata["categories"].(map[string]string)
	assert.Equal(t, "retrieval", cats["search_web"])
}
