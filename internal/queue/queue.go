// Package queue implements the bounded priority Event Queue described in
// spec §4.3: enqueue with backpressure, priority+FIFO ordering, batched
// draining with flush-critical short-circuiting, in-place compression of
// large payloads, ack/nack with retry (RetryDelay reports an
// exponential-backoff delay per attempt), and a dead-letter queue for
// exhausted events.
package queue

import (
	"bytes"
	"compress/gzip"
	"container/heap"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/kodustech/agent-kernel/internal/backoff"
	"github.com/kodustech/agent-kernel/internal/idgen"
)

// DeliveryGuarantee selects at-most-once or at-least-once semantics for an
// enqueued event.
type DeliveryGuarantee int

const (
	AtMostOnce DeliveryGuarantee = iota
	AtLeastOnce
)

// flushCritical lists the event types that short-circuit batching and run
// immediately, per spec §4.3.
var flushCritical = map[string]bool{
	"kernel.completed":    true,
	"kernel.failed":       true,
	"workflow.completed":  true,
	"workflow.failed":     true,
}

type (
	// Metadata accompanies every event.
	Metadata struct {
		CorrelationID string
		TenantID      string
		OperationID   string
		Timestamp     time.Time
		Compressed    bool
	}

	// Event is a unit of work flowing through the queue.
	Event struct {
		ID       string
		Type     string
		Data     []byte
		Metadata Metadata

		priority   int
		guarantee  DeliveryGuarantee
		critical   bool
		seq        int64 // tie-breaker preserving FIFO within (priority, correlationID)
	}

	// EnqueueOptions configures a single Enqueue call.
	EnqueueOptions struct {
		Priority   int // lower value = higher priority
		Guarantee  DeliveryGuarantee
		// Critical marks the producer itself as allowed to bypass
		// backpressure rejection (distinct from a flush-critical event
		// type, which always bypasses batching regardless of this flag).
		Critical bool
	}

	// EnqueueResult reports the outcome of Enqueue.
	EnqueueResult struct {
		Success bool
		Queued  bool
		EventID string
	}

	// DLQEntry is a failed event retained for later reprocessing.
	DLQEntry struct {
		Event          Event
		FirstFailureTs time.Time
		Attempts       int
		LastError      string
	}

	// DLQCriteria filters DLQ reprocessing.
	DLQCriteria struct {
		MaxAge    time.Duration // 0 means unbounded
		Limit     int           // 0 means unbounded
		EventType string        // empty means any type
	}

	// Config tunes queue behavior.
	Config struct {
		MaxQueueDepth       int
		HighWatermark       int
		LowWatermark        int
		BatchSize           int
		LargeEventThreshold int // bytes; payloads above this are compressed
		MaxRetries          int
		RetryBackoff        backoff.Config
	}
)

// DefaultConfig returns sane defaults matching spec §4.3/§8 scenarios.
func DefaultConfig() Config {
	return Config{
		MaxQueueDepth:       1000,
		HighWatermark:       800,
		LowWatermark:        400,
		BatchSize:           100,
		LargeEventThreshold: 10 * 1024,
		MaxRetries:          5,
		RetryBackoff:        backoff.Default(),
	}
}

// Queue is a bounded, priority-ordered event queue with backpressure,
// batching, compression, ack/nack, and a DLQ. It is safe for concurrent
// use.
type Queue struct {
	cfg Config

	mu                 sync.Mutex
	heapData           eventHeap
	seqCounter         int64
	backpressureActive bool

	pending map[string]*pendingEntry // at-least-once events awaiting ack
	dlq     []DLQEntry
}

type pendingEntry struct {
	event      Event
	attempts   int
	firstFail  time.Time
}

// New constructs a Queue.
func New(cfg Config) *Queue {
	q := &Queue{cfg: cfg, pending: make(map[string]*pendingEntry)}
	heap.Init(&q.heapData)
	return q
}

// Enqueue adds data as a new event of the given type under opts. It
// returns success=false (without queuing) when the queue is at capacity
// and the caller has not marked itself critical, unless the event type is
// itself flush-critical.
func (q *Queue) Enqueue(_ context.Context, eventType string, data []byte, meta Metadata, opts EnqueueOptions) EnqueueResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	critical := opts.Critical || flushCritical[eventType]

	if len(q.heapData) >= q.cfg.MaxQueueDepth && !critical {
		return EnqueueResult{Success: false, Queued: false}
	}

	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	if len(data) > q.cfg.LargeEventThreshold && q.cfg.LargeEventThreshold > 0 {
		if compressed, err := compress(data); err == nil {
			data = compressed
			meta.Compressed = true
		}
	}

	ev := Event{
		ID:        idgen.New(),
		Type:      eventType,
		Data:      data,
		Metadata:  meta,
		priority:  opts.Priority,
		guarantee: opts.Guarantee,
		critical:  flushCritical[eventType],
		seq:       q.nextSeqLocked(),
	}
	heap.Push(&q.heapData, &ev)

	q.updateBackpressureLocked()

	return EnqueueResult{Success: true, Queued: true, EventID: ev.ID}
}

func (q *Queue) nextSeqLocked() int64 {
	q.seqCounter++
	return q.seqCounter
}

func (q *Queue) updateBackpressureLocked() {
	depth := len(q.heapData)
	if depth >= q.cfg.HighWatermark {
		q.backpressureActive = true
	} else if depth < q.cfg.LowWatermark {
		q.backpressureActive = false
	}
}

// BackpressureActive reports whether the high watermark has been crossed
// and not yet relieved below the low watermark.
func (q *Queue) BackpressureActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.backpressureActive
}

// Depth returns the current number of events awaiting dispatch.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heapData)
}

// NextBatch pops up to batchSize events honoring priority and FIFO
// ordering within (priority, correlationID). Flush-critical events, if
// present, are returned alone (short-circuiting the rest of the batch).
func (q *Queue) NextBatch(batchSize int) []Event {
	if batchSize <= 0 {
		batchSize = q.cfg.BatchSize
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heapData) == 0 {
		return nil
	}

	crit := -1
	for i, ev := range q.heapData {
		if ev.critical && (crit < 0 || q.heapData.Less(i, crit)) {
			crit = i
		}
	}
	if crit >= 0 {
		ev := heap.Remove(&q.heapData, crit).(*Event)
		q.updateBackpressureLocked()
		return []Event{*ev}
	}

	batch := make([]Event, 0, batchSize)
	for len(batch) < batchSize && len(q.heapData) > 0 {
		top := q.heapData[0]
		if top.critical && len(batch) > 0 {
			// Don't fold a flush-critical event into a larger batch; let
			// it be picked up alone on the next call.
			break
		}
		ev := heap.Pop(&q.heapData).(*Event)
		batch = append(batch, *ev)
		if ev.critical {
			break
		}
	}
	q.updateBackpressureLocked()

	if q.cfg.MaxRetries > 0 {
		for _, ev := range batch {
			if ev.guarantee != AtLeastOnce {
				continue
			}
			// A redelivered event keeps its entry so attempts accumulate.
			if _, tracked := q.pending[ev.ID]; !tracked {
				q.pending[ev.ID] = &pendingEntry{event: ev, firstFail: time.Time{}}
			}
		}
	}

	return batch
}

// Ack confirms successful processing of an at-least-once event,
// releasing it from the pending set.
func (q *Queue) Ack(eventID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, eventID)
}

// Nack reports a processing failure for an at-least-once event. The
// event is re-enqueued at once, keeping its attempt count, until
// MaxRetries is exhausted, at which point it moves to the DLQ. The queue
// does not hold a re-enqueued event back, so NextBatch can return it
// immediately; RetryDelay reports the exponential-backoff delay for the
// event's current attempt.
func (q *Queue) Nack(eventID string, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	p, ok := q.pending[eventID]
	if !ok {
		return
	}
	p.attempts++
	if p.firstFail.IsZero() {
		p.firstFail = time.Now()
	}

	if p.attempts > q.cfg.MaxRetries {
		delete(q.pending, eventID)
		q.dlq = append(q.dlq, DLQEntry{
			Event:          p.event,
			FirstFailureTs: p.firstFail,
			Attempts:       p.attempts,
			LastError:      cause.Error(),
		})
		return
	}

	// Re-enqueue at once. Neither NextBatch nor runtime.Process waits
	// cfg.RetryBackoff.Delay(attempts) before the event is dispatched
	// again.
	delete(q.pending, eventID)
	ev := p.event
	ev.seq = q.nextSeqLocked()
	heap.Push(&q.heapData, &ev)
	q.pending[eventID] = p
}

// RetryDelay returns how long a caller should wait before redispatching a
// nacked event, based on its current attempt count.
func (q *Queue) RetryDelay(eventID string) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.pending[eventID]
	if !ok {
		return 0
	}
	return q.cfg.RetryBackoff.Delay(p.attempts)
}

// DLQ returns entries matching criteria, most-recently-failed first,
// honoring Limit and MaxAge.
func (q *Queue) DLQ(criteria DLQCriteria) []DLQEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]DLQEntry, 0, len(q.dlq))
	cutoff := time.Time{}
	if criteria.MaxAge > 0 {
		cutoff = time.Now().Add(-criteria.MaxAge)
	}
	for _, e := range q.dlq {
		if criteria.EventType != "" && e.Event.Type != criteria.EventType {
			continue
		}
		if !cutoff.IsZero() && e.FirstFailureTs.Before(cutoff) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FirstFailureTs.After(out[j].FirstFailureTs)
	})
	if criteria.Limit > 0 && len(out) > criteria.Limit {
		out = out[:criteria.Limit]
	}
	return out
}

// Reprocess removes DLQ entries matching criteria and re-enqueues them,
// returning the ids re-enqueued.
func (q *Queue) Reprocess(criteria DLQCriteria) []string {
	q.mu.Lock()
	matched := q.dlq
	q.mu.Unlock()

	toRetry := q.DLQ(criteria)
	matchedIDs := make(map[string]bool, len(toRetry))
	for _, e := range toRetry {
		matchedIDs[e.Event.ID] = true
	}

	q.mu.Lock()
	remaining := matched[:0:0]
	for _, e := range q.dlq {
		if !matchedIDs[e.Event.ID] {
			remaining = append(remaining, e)
		}
	}
	q.dlq = remaining
	var ids []string
	for _, e := range toRetry {
		ev := e.Event
		ev.seq = q.nextSeqLocked()
		heap.Push(&q.heapData, &ev)
		ids = append(ids, ev.ID)
	}
	q.updateBackpressureLocked()
	q.mu.Unlock()

	return ids
}

// Decompress transparently reverses the in-place compression applied by
// Enqueue, returning data unchanged if it was not compressed.
func Decompress(ev Event) ([]byte, error) {
	if !ev.Metadata.Compressed {
		return ev.Data, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(ev.Data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// eventHeap implements container/heap.Interface ordering by (priority
// ascending, seq ascending) so lower priority values drain first and
// ties preserve FIFO order within the same priority.
type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(*Event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
