package kernel_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodustech/agent-kernel/internal/kernel"
	"github.com/kodustech/agent-kernel/internal/persistor"
	"github.com/kodustech/agent-kernel/internal/telemetry"
)

func newTestKernel(t *testing.T, cfg kernel.Config) *kernel.Kernel {
	t.Helper()
	cfg.Obs = telemetry.NewNoop()
	return kernel.New(cfg)
}

func TestInitializeIsIdempotentWhileRunning(t *testing.T) {
	k := newTestKernel(t, kernel.Config{ID: "k1", TenantID: "t1"})
	ctx := context.Background()

	wc1, err := k.Initialize(ctx, "op-1")
	require.NoError(t, err)

	wc2, err := k.Initialize(ctx, "op-2")
	require.NoError(t, err)

	assert.Same(t, wc1, wc2, "second Initialize while running must return the same workflow context")
	assert.Equal(t, kernel.StatusRunning, k.Status())
}

func TestAtomicOperationRejectsDuplicateOperationID(t *testing.T) {
	k := newTestKernel(t, kernel.Config{ID: "k2", TenantID: "t1"})
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		_, err := k.RunAtomic(ctx, "shared-op", time.Second, func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return nil, nil
		})
		errCh <- err
	}()

	<-started
	_, err := k.RunAtomic(ctx, "shared-op", time.Second, func(ctx context.Context) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, kernel.ErrOperationInFlight)

	close(release)
	require.NoError(t, <-errCh)
}

func TestAtomicOperationRejectsOverConcurrencyBudget(t *testing.T) {
	k := newTestKernel(t, kernel.Config{ID: "k2b", TenantID: "t1", MaxConcurrentOperations: 1})
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = k.RunAtomic(ctx, "op-a", time.Second, func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return nil, nil
		})
	}()

	<-started
	_, err := k.RunAtomic(ctx, "op-b", time.Second, func(ctx context.Context) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, kernel.ErrTooManyOperations)
	close(release)
}

func TestAtomicOperationTimesOutAndReleasesID(t *testing.T) {
	k := newTestKernel(t, kernel.Config{ID: "k2c", TenantID: "t1"})
	ctx := context.Background()

	_, err := k.RunAtomic(ctx, "slow-op", 10*time.Millisecond, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, kernel.ErrOperationTimeout)

	// The operation id must be released on timeout so a later call with
	// the same id is accepted, not rejected as in-flight.
	_, err = k.RunAtomic(ctx, "slow-op", time.Second, func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
}

func TestPauseResumeCompleteLifecycle(t *testing.T) {
	k := newTestKernel(t, kernel.Config{ID: "k3", TenantID: "t1"})
	ctx := context.Background()
	_, err := k.Initialize(ctx, "op-1")
	require.NoError(t, err)

	require.NoError(t, k.Pause(ctx, "manual"))
	assert.Equal(t, kernel.StatusPaused, k.Status())

	require.NoError(t, k.Resume(ctx))
	assert.Equal(t, kernel.StatusRunning, k.Status())

	require.NoError(t, k.Complete(ctx))
	assert.Equal(t, kernel.StatusCompleted, k.Status())
}

func TestResetIsTolerantOfFailure(t *testing.T) {
	k := newTestKernel(t, kernel.Config{ID: "k4", TenantID: "t1"})
	k.Fail(context.Background(), assertErr("boom"))
	assert.Equal(t, kernel.StatusFailed, k.Status())

	k.Reset()
	assert.Equal(t, kernel.StatusInitialized, k.Status())
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestContextGetSetRoundTrip(t *testing.T) {
	k := newTestKernel(t, kernel.Config{ID: "k5", TenantID: "t1", TenantIsolation: true})
	ctx := context.Background()

	k.SetContext(ctx, "ns", "key", "value", "thread-1")
	v, ok := k.GetContext("ns", "key", "thread-1")
	require.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestTenantIsolationPreventsCrossTenantReads(t *testing.T) {
	kA := newTestKernel(t, kernel.Config{ID: "kA", TenantID: "A", TenantIsolation: true})
	kB := newTestKernel(t, kernel.Config{ID: "kB", TenantID: "B", TenantIsolation: true})
	ctx := context.Background()

	kA.SetContext(ctx, "ns", "key", "secretA", "")
	kB.SetContext(ctx, "ns", "key", "secretB", "")

	vA, _ := kA.GetContext("ns", "key", "")
	vB, _ := kB.GetContext("ns", "key", "")
	assert.Equal(t, "secretA", vA)
	assert.Equal(t, "secretB", vB)
	assert.NotEqual(t, vA, vB)
}

func TestBatchedWritesLastWriteWinsOnFlush(t *testing.T) {
	k := newTestKernel(t, kernel.Config{
		ID: "k6", TenantID: "t1", BatchedWrites: true, FlushDebounce: 10 * time.Millisecond,
	})
	ctx := context.Background()

	k.SetContext(ctx, "ns", "key", "v1", "")
	k.SetContext(ctx, "ns", "key", "v2", "")

	k.FlushPendingWrites(ctx)

	v, ok := k.GetContext("ns", "key", "")
	require.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestSnapshotAndRestoreRoundTrip(t *testing.T) {
	store := persistor.NewMemory()
	k := newTestKernel(t, kernel.Config{ID: "k7", TenantID: "t1", Persistor: store})
	ctx := context.Background()

	k.SetContext(ctx, "ns", "key", "value", "")
	require.NoError(t, k.Snapshot(ctx))

	k.Reset()
	_, ok := k.GetContext("ns", "key", "")
	require.False(t, ok, "reset should clear in-memory context")

	hash := k.LastOperationHash()
	require.NotEmpty(t, hash)
	require.NoError(t, k.Restore(ctx, hash))

	v, ok := k.GetContext("ns", "key", "")
	require.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestEventCountMonotonicWithinRunningSpan(t *testing.T) {
	k := newTestKernel(t, kernel.Config{ID: "k8", TenantID: "t1"})
	ctx := context.Background()
	_, err := k.Initialize(ctx, "op-1")
	require.NoError(t, err)

	k.RecordEvent(ctx)
	k.RecordEvent(ctx)
	k.RecordEvent(ctx)
	assert.Equal(t, int64(3), k.EventCount())
}

func TestMaxEventsQuotaPausesKernel(t *testing.T) {
	k := newTestKernel(t, kernel.Config{
		ID: "k9", TenantID: "t1",
		Quotas: kernel.Quotas{MaxEvents: 2},
	})
	ctx := context.Background()
	_, err := k.Initialize(ctx, "op-1")
	require.NoError(t, err)

	k.RecordEvent(ctx)
	k.RecordEvent(ctx)

	assert.Equal(t, kernel.StatusPaused, k.Status())
}
