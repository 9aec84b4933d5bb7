package redisqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodustech/agent-kernel/internal/queue"
)

func newTestTransport(t *testing.T) *Transport {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tr, err := New(Options{Client: client, Key: "bridge:test"})
	require.NoError(t, err)
	return tr
}

func TestPublishThenReceiveRoundTripsEvent(t *testing.T) {
	tr := newTestTransport(t)
	ctx := context.Background()

	in := queue.Event{ID: "ev-1", Type: "kernel.completed", Data: []byte("payload"), Metadata: queue.Metadata{TenantID: "t1"}}
	require.NoError(t, tr.Publish(ctx, in))

	out, ok, err := tr.Receive(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Type, out.Type)
	assert.Equal(t, in.Data, out.Data)
	assert.Equal(t, in.Metadata.TenantID, out.Metadata.TenantID)
}

func TestReceiveTimesOutWhenNothingPublished(t *testing.T) {
	tr := newTestTransport(t)
	_, ok, err := tr.Receive(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLenReflectsPendingEvents(t *testing.T) {
	tr := newTestTransport(t)
	ctx := context.Background()

	n, err := tr.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	require.NoError(t, tr.Publish(ctx, queue.Event{ID: "a"}))
	require.NoError(t, tr.Publish(ctx, queue.Event{ID: "b"}))

	n, err = tr.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestNewRequiresClientAndKey(t *testing.T) {
	_, err := New(Options{Key: "k"})
	assert.Error(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err = New(Options{Client: client})
	assert.Error(t, err)
}
