package multikernel_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodustech/agent-kernel/internal/multikernel"
	"github.com/kodustech/agent-kernel/internal/queue"
	"github.com/kodustech/agent-kernel/internal/queue/redisqueue"
	"github.com/kodustech/agent-kernel/internal/runtime"
	"github.com/kodustech/agent-kernel/internal/telemetry"
)

func TestBridgeRoutesMatchingEventsAcrossNamespaces(t *testing.T) {
	obs := telemetry.NewNoop()
	mgr := multikernel.New(obs)
	ctx := context.Background()

	src := mgr.Spawn(multikernel.KernelSpec{KernelID: "src", Namespace: "agent"})
	dst := mgr.Spawn(multikernel.KernelSpec{KernelID: "dst", Namespace: "pipeline"})

	_, err := src.Initialize(ctx, "init-src")
	require.NoError(t, err)
	_, err = dst.Initialize(ctx, "init-dst")
	require.NoError(t, err)

	mgr.AddBridge(multikernel.Bridge{
		FromNamespace: "agent",
		ToNamespace:   "pipeline",
		Pattern:       "agent.*",
	})

	var receivedCorrelation string
	dst.Runtime().On("agent.tool.completed", func(ctx context.Context, ev queue.Event) error {
		receivedCorrelation = ev.Metadata.CorrelationID
		return nil
	})

	src.Runtime().Emit(ctx, "agent.tool.completed", nil, queue.Metadata{CorrelationID: "corr-1"}, runtime.EmitOptions{})
	src.Runtime().Process(ctx) // drains src, triggering the bridge handler
	dst.Runtime().Process(ctx) // drains the bridged event into dst's handler

	assert.Equal(t, "corr-1", receivedCorrelation, "correlationId must be preserved end to end")
}

func TestBridgeDoesNotMatchNonPrefixedPattern(t *testing.T) {
	obs := telemetry.NewNoop()
	mgr := multikernel.New(obs)
	ctx := context.Background()

	src := mgr.Spawn(multikernel.KernelSpec{KernelID: "src2", Namespace: "agent"})
	dst := mgr.Spawn(multikernel.KernelSpec{KernelID: "dst2", Namespace: "pipeline"})
	_, _ = src.Initialize(ctx, "i1")
	_, _ = dst.Initialize(ctx, "i2")
	dst.Runtime().Process(ctx) // drain dst's own kernel.started event first

	mgr.AddBridge(multikernel.Bridge{FromNamespace: "agent", ToNamespace: "pipeline", Pattern: "workflow.*"})

	received := false
	dst.Runtime().On("*", func(ctx context.Context, ev queue.Event) error {
		received = true
		return nil
	})

	src.Runtime().Emit(ctx, "agent.tool.completed", nil, queue.Metadata{}, runtime.EmitOptions{})
	src.Runtime().Process(ctx)
	dst.Runtime().Process(ctx)

	assert.False(t, received)
}

func TestRemoteBridgePublishesAndPumpDeliversIntoLocalKernel(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	senderTransport, err := redisqueue.New(redisqueue.Options{Client: client, Key: "bridge:agent-to-pipeline"})
	require.NoError(t, err)

	sender := multikernel.New(telemetry.NewNoop())
	ctx := context.Background()
	src := sender.Spawn(multikernel.KernelSpec{KernelID: "src", Namespace: "agent"})
	_, err = src.Initialize(ctx, "init-src")
	require.NoError(t, err)

	sender.AddBridge(multikernel.Bridge{
		FromNamespace: "agent",
		ToNamespace:   "pipeline",
		Pattern:       "agent.*",
		Remote:        senderTransport,
	})

	src.Runtime().Emit(ctx, "agent.tool.completed", []byte("payload"), queue.Metadata{CorrelationID: "corr-2"}, runtime.EmitOptions{})
	src.Runtime().Process(ctx) // drains src, publishing the bridged event to Redis

	receiverTransport, err := redisqueue.New(redisqueue.Options{Client: client, Key: "bridge:agent-to-pipeline"})
	require.NoError(t, err)

	receiver := multikernel.New(telemetry.NewNoop())
	dst := receiver.Spawn(multikernel.KernelSpec{KernelID: "dst", Namespace: "pipeline"})
	_, err = dst.Initialize(ctx, "init-dst")
	require.NoError(t, err)

	var receivedCorrelation string
	dst.Runtime().On("agent.tool.completed", func(ctx context.Context, ev queue.Event) error {
		receivedCorrelation = ev.Metadata.CorrelationID
		return nil
	})

	pumpCtx, cancel := context.WithTimeout(ctx, 120*time.Millisecond)
	defer cancel()
	_ = receiver.PumpRemote(pumpCtx, "pipeline", receiverTransport, 20*time.Millisecond)

	dst.Runtime().Process(ctx)

	assert.Equal(t, "corr-2", receivedCorrelation)
}

func TestPauseAllOnlySnapshotsKernelsThatNeedIt(t *testing.T) {
	obs := telemetry.NewNoop()
	mgr := multikernel.New(obs)
	ctx := context.Background()

	persisted := mgr.Spawn(multikernel.KernelSpec{KernelID: "p", Namespace: "persisted", NeedsSnapshots: true})
	ephemeral := mgr.Spawn(multikernel.KernelSpec{KernelID: "e", Namespace: "ephemeral", NeedsSnapshots: false})
	_, _ = persisted.Initialize(ctx, "i1")
	_, _ = ephemeral.Initialize(ctx, "i2")

	mgr.PauseAll(ctx, "shutdown")

	require.Equal(t, "paused", string(persisted.Status()))
	require.Equal(t, "paused", string(ephemeral.Status()))
	assert.NotEmpty(t, persisted.LastOperationHash())
	assert.Empty(t, ephemeral.LastOperationHash())
}
