package queue_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kodustech/agent-kernel/internal/queue"
)

func TestEnqueueRejectsAtCapacity(t *testing.T) {
	cfg := queue.DefaultConfig()
	cfg.MaxQueueDepth = 2
	cfg.HighWatermark = 10
	cfg.LowWatermark = 0
	q := queue.New(cfg)
	ctx := context.Background()

	r1 := q.Enqueue(ctx, "evt.a", nil, queue.Metadata{}, queue.EnqueueOptions{})
	r2 := q.Enqueue(ctx, "evt.b", nil, queue.Metadata{}, queue.EnqueueOptions{})
	r3 := q.Enqueue(ctx, "evt.c", nil, queue.Metadata{}, queue.EnqueueOptions{})

	assert.True(t, r1.Success)
	assert.True(t, r2.Success)
	assert.False(t, r3.Success, "queue at maxQueueDepth should reject non-critical producers")
}

func TestBackpressureWatermarks(t *testing.T) {
	cfg := queue.DefaultConfig()
	cfg.MaxQueueDepth = 100
	cfg.HighWatermark = 3
	cfg.LowWatermark = 1
	q := queue.New(cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		q.Enqueue(ctx, "evt", nil, queue.Metadata{}, queue.EnqueueOptions{})
	}
	assert.True(t, q.BackpressureActive())

	q.NextBatch(3)
	assert.False(t, q.BackpressureActive())
}

func TestBackpressureScenario700Events(t *testing.T) {
	cfg := queue.DefaultConfig()
	cfg.MaxQueueDepth = 500
	cfg.BatchSize = 100
	cfg.HighWatermark = 400
	cfg.LowWatermark = 100
	q := queue.New(cfg)
	ctx := context.Background()

	successes := 0
	for i := 0; i < 700; i++ {
		if q.Enqueue(ctx, "evt", nil, queue.Metadata{}, queue.EnqueueOptions{}).Success {
			successes++
		}
	}
	assert.LessOrEqual(t, successes, 500)
	assert.True(t, q.BackpressureActive())

	for q.Depth() > 0 {
		q.NextBatch(cfg.BatchSize)
	}
	assert.Equal(t, 0, q.Depth())
}

func TestPriorityOrdering(t *testing.T) {
	q := queue.New(queue.DefaultConfig())
	ctx := context.Background()
	q.Enqueue(ctx, "low", nil, queue.Metadata{}, queue.EnqueueOptions{Priority: 10})
	q.Enqueue(ctx, "high", nil, queue.Metadata{}, queue.EnqueueOptions{Priority: 1})

	batch := q.NextBatch(10)
	require.Len(t, batch, 2)
	assert.Equal(t, "high", batch[0].Type)
	assert.Equal(t, "low", batch[1].Type)
}

func TestFlushCriticalShortCircuits(t *testing.T) {
	cfg := queue.DefaultConfig()
	cfg.BatchSize = 10
	q := queue.New(cfg)
	ctx := context.Background()
	q.Enqueue(ctx, "normal.a", nil, queue.Metadata{}, queue.EnqueueOptions{Priority: 5})
	q.Enqueue(ctx, "normal.b", nil, queue.Metadata{}, queue.EnqueueOptions{Priority: 5})
	q.Enqueue(ctx, "kernel.failed", nil, queue.Metadata{}, queue.EnqueueOptions{Priority: 5})

	batch := q.NextBatch(10)
	require.Len(t, batch, 1)
	assert.Equal(t, "kernel.failed", batch[0].Type)
}

func TestAckNackAndDLQ(t *testing.T) {
	cfg := queue.DefaultConfig()
	cfg.MaxRetries = 1
	q := queue.New(cfg)
	ctx := context.Background()

	res := q.Enqueue(ctx, "evt", nil, queue.Metadata{}, queue.EnqueueOptions{Guarantee: queue.AtLeastOnce})
	require.True(t, res.Success)

	batch := q.NextBatch(10)
	require.Len(t, batch, 1)
	q.Nack(batch[0].ID, errors.New("transient"))

	// re-enqueued for a second attempt
	batch2 := q.NextBatch(10)
	require.Len(t, batch2, 1)
	q.Nack(batch2[0].ID, errors.New("still failing"))

	dlq := q.DLQ(queue.DLQCriteria{})
	require.Len(t, dlq, 1)
	assert.Equal(t, 2, dlq[0].Attempts)

	assert.Empty(t, q.NextBatch(10))
}

func TestCompressionOfLargePayloads(t *testing.T) {
	cfg := queue.DefaultConfig()
	cfg.LargeEventThreshold = 16
	q := queue.New(cfg)
	ctx := context.Background()

	payload := make([]byte, 1024)
	for i := range payload {
		payload[i] = byte(i % 7)
	}
	res := q.Enqueue(ctx, "evt.large", payload, queue.Metadata{}, queue.EnqueueOptions{})
	require.True(t, res.Success)

	batch := q.NextBatch(1)
	require.Len(t, batch, 1)
	assert.True(t, batch[0].Metadata.Compressed)

	decoded, err := queue.Decompress(batch[0])
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}
