package persistor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodustech/agent-kernel/internal/persistor"
)

func TestAppendAndGetByHashRoundTrip(t *testing.T) {
	p := persistor.NewMemory()
	ctx := context.Background()

	snap := persistor.Snapshot{
		ExecutionContextID: "exec-1",
		Timestamp:          time.Now(),
		State:              map[string]any{"b": 2, "a": 1},
	}
	snap.Hash = persistor.Hash(snap.State)

	require.NoError(t, p.Append(ctx, snap, persistor.AppendOptions{}))

	got, err := p.GetByHash(ctx, snap.Hash)
	require.NoError(t, err)
	assert.Equal(t, snap.State, got.State)
	assert.Equal(t, snap.Hash, got.Hash)
}

func TestHashIsOrderIndependent(t *testing.T) {
	a := map[string]any{"x": 1, "y": "hi", "z": true}
	b := map[string]any{"z": true, "x": 1, "y": "hi"}
	assert.Equal(t, persistor.Hash(a), persistor.Hash(b))
}

func TestDeltaReconstructsFullState(t *testing.T) {
	p := persistor.NewMemory()
	ctx := context.Background()

	base := persistor.Snapshot{
		ExecutionContextID: "exec-2",
		Timestamp:          time.Now(),
		State:              map[string]any{"count": 1, "name": "alpha"},
	}
	base.Hash = persistor.Hash(base.State)
	require.NoError(t, p.Append(ctx, base, persistor.AppendOptions{}))

	next := persistor.Snapshot{
		ExecutionContextID: "exec-2",
		Timestamp:          time.Now(),
		State:              map[string]any{"count": 2, "name": "alpha", "extra": "new"},
	}
	next.Hash = persistor.Hash(next.State)
	require.NoError(t, p.Append(ctx, next, persistor.AppendOptions{UseDelta: true}))

	got, err := p.GetByHash(ctx, next.Hash)
	require.NoError(t, err)
	assert.Equal(t, next.State, got.State)
}

func TestGetByHashNotFound(t *testing.T) {
	p := persistor.NewMemory()
	_, err := p.GetByHash(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, persistor.ErrNotFound)
}
