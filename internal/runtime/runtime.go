// Package runtime implements the Runtime component (spec §4.4): event
// dispatch to handlers through a middleware chain, emit/emitAsync,
// batched processing, tenant-scoped views, and lazy event streams.
package runtime

import (
	"context"
	"sync"

	"github.com/kodustech/agent-kernel/internal/queue"
	"github.com/kodustech/agent-kernel/internal/telemetry"
)

type (
	// Handler reacts to a dispatched event. A returned error causes the
	// Runtime to Nack the event (when it carries an at-least-once
	// guarantee); a nil return causes Ack.
	Handler func(ctx context.Context, ev queue.Event) error

	// Middleware wraps a Handler, e.g. to add observability or recover
	// from panics. Middleware runs in registration order with the
	// observability middleware first.
	Middleware func(next Handler) Handler

	// ProcessStats summarizes one Process call.
	ProcessStats struct {
		Processed int
		Acked     int
		Failed    int
	}
)

// Runtime wraps a Queue with handler dispatch.
type Runtime struct {
	q    *queue.Queue
	obs  telemetry.Observability
	mw   []Middleware

	mu       sync.RWMutex
	handlers map[string][]Handler // event type -> handlers; "*" matches all
}

// New constructs a Runtime over q. The observability middleware (tracing
// spans per dispatch) is installed first, ahead of any caller-supplied
// middleware, per spec §4.4.
func New(q *queue.Queue, obs telemetry.Observability) *Runtime {
	r := &Runtime{
		q:        q,
		obs:      obs,
		handlers: make(map[string][]Handler),
	}
	r.mw = []Middleware{observabilityMiddleware(obs)}
	return r
}

// Use appends middleware to the chain, applied after the built-in
// observability middleware.
func (r *Runtime) Use(mw Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mw = append(r.mw, mw)
}

// On registers handler for eventType. "*" subscribes to every event.
func (r *Runtime) On(eventType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = append(r.handlers[eventType], handler)
}

// Off removes a previously registered handler. Handlers are compared by
// identity via reflection is avoided; callers that need precise removal
// should wrap their handler in a struct and close over a cancel flag
// instead. Off here removes all handlers for eventType, matching the
// common "unsubscribe everything for this type" usage.
func (r *Runtime) Off(eventType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, eventType)
}

// EmitOptions configures Emit/EmitAsync.
type EmitOptions struct {
	Priority  int
	Guarantee queue.DeliveryGuarantee
	Critical  bool
}

// Emit synchronously enqueues an event of the given type.
func (r *Runtime) Emit(ctx context.Context, eventType string, data []byte, meta queue.Metadata, opts EmitOptions) queue.EnqueueResult {
	return r.q.Enqueue(ctx, eventType, data, meta, queue.EnqueueOptions{
		Priority:  opts.Priority,
		Guarantee: opts.Guarantee,
		Critical:  opts.Critical,
	})
}

// EmitAsync enqueues an event for batched dispatch and returns immediately
// with the enqueue outcome; it may be folded into a future batch by
// Process.
func (r *Runtime) EmitAsync(ctx context.Context, eventType string, data []byte, meta queue.Metadata, opts EmitOptions) queue.EnqueueResult {
	return r.Emit(ctx, eventType, data, meta, opts)
}

// Process drains the queue: it pulls batches, dispatches each event to
// its matching handlers under the middleware chain, and Acks/Nacks based
// on handler outcome. It stops when an empty batch is observed.
func (r *Runtime) Process(ctx context.Context) ProcessStats {
	var stats ProcessStats
	for {
		batch := r.q.NextBatch(0)
		if len(batch) == 0 {
			return stats
		}
		for _, ev := range batch {
			stats.Processed++
			if err := r.dispatch(ctx, ev); err != nil {
				stats.Failed++
				// Nack is a no-op for events without an at-least-once
				// guarantee (queue.Queue only tracks those as pending),
				// so it is always safe to call here regardless of
				// whether the event carries an OperationID.
				r.q.Nack(ev.ID, err)
				continue
			}
			stats.Acked++
			r.q.Ack(ev.ID)
		}
	}
}

func (r *Runtime) dispatch(ctx context.Context, ev queue.Event) error {
	r.mu.RLock()
	handlers := make([]Handler, 0, len(r.handlers[ev.Type])+len(r.handlers["*"]))
	handlers = append(handlers, r.handlers[ev.Type]...)
	handlers = append(handlers, r.handlers["*"]...)
	chain := append([]Middleware(nil), r.mw...)
	r.mu.RUnlock()

	for _, h := range handlers {
		wrapped := h
		for i := len(chain) - 1; i >= 0; i-- {
			wrapped = chain[i](wrapped)
		}
		if err := wrapped(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func observabilityMiddleware(obs telemetry.Observability) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev queue.Event) error {
			ctx, span := obs.StartSpan(ctx, "runtime.dispatch."+ev.Type)
			defer span.End()
			err := next(ctx, ev)
			if err != nil {
				obs.Log().Error("handler failed", "event_type", ev.Type, "error", err)
			}
			return err
		}
	}
}

// TenantView pre-filters producers and consumers to a single tenant.
type TenantView struct {
	rt       *Runtime
	tenantID string
}

// ForTenant returns a view scoped to tenantID: Emit stamps the tenant id
// onto Metadata, and On/Off operate against a tenant-prefixed event type
// namespace so handlers registered through one tenant's view never fire
// for another tenant's events.
func (r *Runtime) ForTenant(tenantID string) *TenantView {
	return &TenantView{rt: r, tenantID: tenantID}
}

func (v *TenantView) scopedType(eventType string) string {
	if eventType == "*" {
		return "*"
	}
	return v.tenantID + "::" + eventType
}

// Emit enqueues an event scoped to this tenant.
func (v *TenantView) Emit(ctx context.Context, eventType string, data []byte, meta queue.Metadata, opts EmitOptions) queue.EnqueueResult {
	meta.TenantID = v.tenantID
	return v.rt.Emit(ctx, v.scopedType(eventType), data, meta, opts)
}

// On registers a handler scoped to this tenant's namespace.
func (v *TenantView) On(eventType string, handler Handler) {
	v.rt.On(v.scopedType(eventType), handler)
}

// Stream is a lazy, single-consumer sequence of events produced by a
// generator function. Consumption does not auto-ack; callers that need
// at-least-once semantics must Ack/Nack explicitly against the owning
// Runtime's Queue.
type Stream struct {
	next func() (queue.Event, bool)
}

// CreateStream wraps generator in a Stream. generator should return
// ok=false once exhausted.
func (r *Runtime) CreateStream(generator func() (queue.Event, bool)) *Stream {
	return &Stream{next: generator}
}

// Next returns the next event from the stream, or ok=false when
// exhausted.
func (s *Stream) Next() (queue.Event, bool) {
	return s.next()
}
