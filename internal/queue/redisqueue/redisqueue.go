// Package redisqueue is an optional Redis-list-backed transport for
// bridging kernel events across processes, used by the Multi-Kernel
// Manager when a subordinate kernel runs in a different process than
// its parent (spec §4.2/§4.4). It is deliberately not a distributed
// reimplementation of queue.Queue's priority heap: it carries an
// event's wire-visible fields (id, type, data, metadata) across the
// process boundary, and the receiving side re-applies its own local
// priority/delivery-guarantee policy via queue.Queue.Enqueue.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kodustech/agent-kernel/internal/queue"
)

// Options configures a Transport.
type Options struct {
	// Client is the Redis connection used to back the bridge list.
	// Required.
	Client *redis.Client
	// Key is the Redis list key events are pushed to and popped from.
	// Required.
	Key string
}

// Transport bridges queue.Event values to and from a Redis list.
type Transport struct {
	client *redis.Client
	key    string
}

// New constructs a Transport backed by opts.Client.
func New(opts Options) (*Transport, error) {
	if opts.Client == nil {
		return nil, errors.New("redisqueue: redis client is required")
	}
	if opts.Key == "" {
		return nil, errors.New("redisqueue: key is required")
	}
	return &Transport{client: opts.Client, key: opts.Key}, nil
}

// wireEvent is the JSON representation carried over the Redis list.
type wireEvent struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Data     []byte         `json:"data"`
	Metadata queue.Metadata `json:"metadata"`
}

// Publish pushes ev onto the bridge list for delivery to a remote kernel.
func (t *Transport) Publish(ctx context.Context, ev queue.Event) error {
	payload, err := json.Marshal(wireEvent{ID: ev.ID, Type: ev.Type, Data: ev.Data, Metadata: ev.Metadata})
	if err != nil {
		return fmt.Errorf("redisqueue: marshal event: %w", err)
	}
	if err := t.client.RPush(ctx, t.key, payload).Err(); err != nil {
		return fmt.Errorf("redisqueue: rpush: %w", err)
	}
	return nil
}

// Receive blocks up to timeout for the next bridged event. ok is false
// with a nil error when nothing arrived before timeout elapsed.
func (t *Transport) Receive(ctx context.Context, timeout time.Duration) (ev queue.Event, ok bool, err error) {
	res, err := t.client.BLPop(ctx, timeout, t.key).Result()
	if errors.Is(err, redis.Nil) {
		return queue.Event{}, false, nil
	}
	if err != nil {
		return queue.Event{}, false, fmt.Errorf("redisqueue: blpop: %w", err)
	}
	if len(res) < 2 {
		return queue.Event{}, false, fmt.Errorf("redisqueue: unexpected blpop reply shape %v", res)
	}

	var w wireEvent
	if err := json.Unmarshal([]byte(res[1]), &w); err != nil {
		return queue.Event{}, false, fmt.Errorf("redisqueue: unmarshal event: %w", err)
	}
	return queue.Event{ID: w.ID, Type: w.Type, Data: w.Data, Metadata: w.Metadata}, true, nil
}

// Len reports how many events are currently queued for bridging.
func (t *Transport) Len(ctx context.Context) (int64, error) {
	n, err := t.client.LLen(ctx, t.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redisqueue: llen: %w", err)
	}
	return n, nil
}
