package agentcore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodustech/agent-kernel/internal/agentcore"
	"github.com/kodustech/agent-kernel/internal/agentcore/session"
	"github.com/kodustech/agent-kernel/internal/agentcore/session/inmem"
	"github.com/kodustech/agent-kernel/internal/strategy"
	"github.com/kodustech/agent-kernel/internal/telemetry"
)

type fixedStrategy struct {
	result *strategy.Result
	err    error
}

func (f *fixedStrategy) Execute(ctx context.Context, messages []strategy.Message) (*strategy.Result, error) {
	return f.result, f.err
}

func resolverFor(s strategy.Strategy) agentcore.StrategyResolver {
	return func(strategy.Kind) (strategy.Strategy, error) { return s, nil }
}

func TestRunSynthesizesSessionIDFromThreadIDWhenUnset(t *testing.T) {
	threads := agentcore.NewInMemoryThreadStore()
	sessions := inmem.New()
	strat := &fixedStrategy{result: &strategy.Result{Output: "done", StopReason: "final_answer"}}
	core := agentcore.New(threads, sessions, resolverFor(strat), telemetry.NewNoop())

	res, err := core.Run(context.Background(), agentcore.AgentDefinition{StrategyKind: strategy.KindReAct}, "hello", agentcore.Options{ThreadID: "th-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.PlaceholderMessageID)
	assert.Equal(t, "done", res.StrategyResult.Output)

	thread, err := threads.Load(context.Background(), "th-1")
	require.NoError(t, err)
	assert.Equal(t, "th-1", thread.Runtime.SessionID, "sessionId should synthesize from threadId when options carry no sessionId")

	loaded, err := sessions.LoadSession(context.Background(), "th-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, loaded.Status)
}

func TestRunFailsWhenNoThreadIDResolvable(t *testing.T) {
	core := agentcore.New(nil, nil, resolverFor(&fixedStrategy{}), telemetry.NewNoop())
	_, err := core.Run(context.Background(), agentcore.AgentDefinition{}, "hello", agentcore.Options{})
	assert.ErrorIs(t, err, agentcore.ErrThreadIDRequired)
}

func TestPlaceholderMessageMutatesToCompletedOnSuccess(t *testing.T) {
	threads := agentcore.NewInMemoryThreadStore()
	strat := &fixedStrategy{result: &strategy.Result{Output: "final text", StopReason: "final_answer"}}
	core := agentcore.New(threads, nil, resolverFor(strat), telemetry.NewNoop())

	res, err := core.Run(context.Background(), agentcore.AgentDefinition{}, "hi", agentcore.Options{ThreadID: "th-2", SessionID: "sess-2"})
	require.NoError(t, err)

	thread, err := threads.Load(context.Background(), "th-2")
	require.NoError(t, err)
	require.Len(t, thread.Messages, 2, "user message + placeholder assistant message")

	placeholder := thread.Messages[1]
	assert.Equal(t, res.PlaceholderMessageID, placeholder.ID)
	assert.Equal(t, agentcore.StatusCompleted, placeholder.Status)
	assert.Equal(t, "final text", placeholder.Content)
}

func TestPlaceholderMessageMutatesToErrorOnStrategyFailure(t *testing.T) {
	threads := agentcore.NewInMemoryThreadStore()
	boom := errors.New("planner exploded")
	strat := &fixedStrategy{err: boom}
	core := agentcore.New(threads, nil, resolverFor(strat), telemetry.NewNoop())

	_, err := core.Run(context.Background(), agentcore.AgentDefinition{}, "hi", agentcore.Options{ThreadID: "th-3", SessionID: "sess-3"})
	require.ErrorIs(t, err, boom)

	thread, loadErr := threads.Load(context.Background(), "th-3")
	require.NoError(t, loadErr)
	placeholder := thread.Messages[1]
	assert.Equal(t, agentcore.StatusError, placeholder.Status)
	assert.Contains(t, placeholder.Content, "planner exploded")
}

func TestRunTruncatesOversizedErrorInPlaceholderErrorContent(t *testing.T) {
	threads := agentcore.NewInMemoryThreadStore()
	longErr := errors.New(string(make([]byte, 2000)))
	strat := &fixedStrategy{err: longErr}
	core := agentcore.New(threads, nil, resolverFor(strat), telemetry.NewNoop())

	_, err := core.Run(context.Background(), agentcore.AgentDefinition{}, "hi", agentcore.Options{ThreadID: "th-4", SessionID: "sess-4"})
	require.Error(t, err)

	thread, loadErr := threads.Load(context.Background(), "th-4")
	require.NoError(t, loadErr)
	placeholder := thread.Messages[1]
	assert.LessOrEqual(t, len(placeholder.Content), 1003, "sanitizeContent caps logged/stored error content at 1000 chars plus ellipsis")
}
