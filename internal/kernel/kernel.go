// Package kernel implements the Execution Kernel (spec §4.5): an
// isolated, quota-bounded, snapshot-capable event processor with its own
// LRU context cache, batched context writes, dead-letter reprocessing,
// and an atomic-operation gate guaranteeing idempotency and bounded
// concurrency for every externally observable operation.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kodustech/agent-kernel/internal/idgen"
	"github.com/kodustech/agent-kernel/internal/lru"
	"github.com/kodustech/agent-kernel/internal/persistor"
	"github.com/kodustech/agent-kernel/internal/queue"
	"github.com/kodustech/agent-kernel/internal/runtime"
	"github.com/kodustech/agent-kernel/internal/telemetry"
)

// Status is a KernelState lifecycle state.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusRunning     Status = "running"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Errors surfaced by the atomic-operation gate and state machine.
var (
	// ErrOperationInFlight is returned when an operationId is already
	// executing (idempotency rejection).
	ErrOperationInFlight = errors.New("kernel: operation already in flight")
	// ErrTooManyOperations is returned when maxConcurrentOperations is
	// reached.
	ErrTooManyOperations = errors.New("kernel: concurrent operation limit reached")
	// ErrOperationTimeout is a distinct timeout error from the
	// atomic-operation gate.
	ErrOperationTimeout = errors.New("kernel: atomic operation timed out")
	// ErrInvalidTransition is returned on an illegal state transition.
	ErrInvalidTransition = errors.New("kernel: invalid state transition")
	// ErrKernelFailed is returned when an operation is attempted on a
	// failed kernel; only Reset is accepted in that state.
	ErrKernelFailed = errors.New("kernel: kernel is in failed state, call Reset")
)

// Quotas bounds kernel execution.
type Quotas struct {
	MaxEvents    int64
	MaxDuration  time.Duration
	MaxMemoryMiB int64 // 0 disables the memory quota
}

// Config configures a Kernel.
type Config struct {
	ID       string
	TenantID string
	JobID    string

	Quotas Quotas

	MaxConcurrentOperations int
	DefaultOperationTimeout time.Duration
	LongOperationTimeout    time.Duration // used by init/processEvents (>=120s per spec)

	CacheSize int

	TenantIsolation bool

	BatchedWrites  bool
	FlushDebounce  time.Duration
	SnapshotEvery  int64 // auto-snapshot after this many events since last flush
	SnapshotPeriod time.Duration

	Persistor persistor.Persistor
	Obs       telemetry.Observability
}

// WorkflowContext is the caller-visible handle returned by Initialize. A
// second Initialize call while running returns the same instance.
type WorkflowContext struct {
	KernelID  string
	StartedAt time.Time
}

// Kernel is the Execution Kernel.
type Kernel struct {
	cfg Config
	obs telemetry.Observability

	cache     *lru.Cache
	persistor persistor.Persistor
	queue     *queue.Queue
	runtime   *runtime.Runtime

	mu               sync.Mutex
	status           Status
	startTime        time.Time
	eventCount       int64
	pendingOps       map[string]struct{}
	lastOperationHash string
	workflowCtx      *WorkflowContext

	// contextData[tenantContextKey][namespace][key] = value
	contextData map[string]map[string]map[string]any
	// pendingWrites mirrors contextData writes awaiting a debounced flush,
	// keyed identically, each entry recording its write timestamp.
	pendingWrites   map[string]map[string]map[string]pendingWrite
	lastFlush       time.Time
	eventsSinceFlush int64
	flushTimer      *time.Timer

	dlqRecovery recoveryTracker
}

type pendingWrite struct {
	value     any
	timestamp time.Time
}

// New constructs a Kernel in the Initialized state.
func New(cfg Config) *Kernel {
	if cfg.MaxConcurrentOperations <= 0 {
		cfg.MaxConcurrentOperations = 16
	}
	if cfg.DefaultOperationTimeout <= 0 {
		cfg.DefaultOperationTimeout = 30 * time.Second
	}
	if cfg.LongOperationTimeout <= 0 {
		cfg.LongOperationTimeout = 120 * time.Second
	}
	if cfg.FlushDebounce <= 0 {
		cfg.FlushDebounce = 200 * time.Millisecond
	}
	if cfg.Persistor == nil {
		cfg.Persistor = persistor.NewMemory()
	}

	q := queue.New(queue.DefaultConfig())
	k := &Kernel{
		cfg:           cfg,
		obs:           cfg.Obs,
		cache:         lru.New(cfg.CacheSize),
		persistor:     cfg.Persistor,
		queue:         q,
		runtime:       runtime.New(q, cfg.Obs),
		status:        StatusInitialized,
		pendingOps:    make(map[string]struct{}),
		contextData:   make(map[string]map[string]map[string]any),
		pendingWrites: make(map[string]map[string]map[string]pendingWrite),
		dlqRecovery:   newRecoveryTracker(),
	}
	return k
}

// Status returns the kernel's current lifecycle state.
func (k *Kernel) Status() Status {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.status
}

// EventCount returns the monotonic event count for the current running
// span.
func (k *Kernel) EventCount() int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.eventCount
}

// LastOperationHash returns the content hash of the most recently taken
// snapshot, or "" if none has been taken yet.
func (k *Kernel) LastOperationHash() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lastOperationHash
}

// Runtime exposes the kernel's Runtime for handler registration and
// direct event emission.
func (k *Kernel) Runtime() *runtime.Runtime { return k.runtime }

// Queue exposes the kernel's underlying Queue, e.g. to inspect its depth
// or DLQ entries.
func (k *Kernel) Queue() *queue.Queue { return k.queue }

// RunAtomic exposes the atomic-operation gate directly for callers (such
// as the Multi-Kernel Manager's bridge delivery) that need to
// fence an arbitrary operation through the same idempotency and
// concurrency-budget rules as init/pause/resume/processEvents.
func (k *Kernel) RunAtomic(ctx context.Context, operationID string, timeout time.Duration, body func(ctx context.Context) (any, error)) (any, error) {
	if timeout <= 0 {
		timeout = k.cfg.DefaultOperationTimeout
	}
	return k.atomicOperation(ctx, operationID, timeout, body)
}

// atomicOperation implements the gate described in spec §4.5: rejects
// duplicate or over-budget operationIds, tracks the id for the duration
// of body, and guarantees its release on every exit path.
func (k *Kernel) atomicOperation(ctx context.Context, operationID string, timeout time.Duration, body func(ctx context.Context) (any, error)) (any, error) {
	if operationID == "" {
		operationID = idgen.New()
	}

	k.mu.Lock()
	if _, inFlight := k.pendingOps[operationID]; inFlight {
		k.mu.Unlock()
		return nil, ErrOperationInFlight
	}
	if len(k.pendingOps) >= k.cfg.MaxConcurrentOperations {
		k.mu.Unlock()
		return nil, ErrTooManyOperations
	}
	k.pendingOps[operationID] = struct{}{}
	k.mu.Unlock()

	defer func() {
		k.mu.Lock()
		delete(k.pendingOps, operationID)
		k.mu.Unlock()
	}()

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val any
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := body(opCtx)
		done <- result{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-opCtx.Done():
		return nil, ErrOperationTimeout
	}
}

// Initialize transitions the kernel from Initialized (or a second call
// while Running, idempotently) into Running, returning a WorkflowContext.
// Any error inside the body performs a full rollback: status=failed,
// runtime and context cleared.
func (k *Kernel) Initialize(ctx context.Context, operationID string) (*WorkflowContext, error) {
	v, err := k.atomicOperation(ctx, operationID, k.cfg.LongOperationTimeout, func(ctx context.Context) (any, error) {
		k.mu.Lock()
		if k.status == StatusRunning {
			wc := k.workflowCtx
			k.mu.Unlock()
			return wc, nil
		}
		if k.status == StatusFailed {
			k.mu.Unlock()
			return nil, ErrKernelFailed
		}
		k.mu.Unlock()

		wc := &WorkflowContext{KernelID: k.cfg.ID, StartedAt: time.Now()}

		k.mu.Lock()
		k.status = StatusRunning
		k.startTime = wc.StartedAt
		k.eventCount = 0
		k.workflowCtx = wc
		k.mu.Unlock()

		k.emitLifecycle(ctx, "kernel.started")
		return wc, nil
	})
	if err != nil {
		k.rollbackToFailed()
		return nil, err
	}
	return v.(*WorkflowContext), nil
}

func (k *Kernel) rollbackToFailed() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.status = StatusFailed
	k.runtime = nil
	k.contextData = make(map[string]map[string]map[string]any)
	k.pendingWrites = make(map[string]map[string]map[string]pendingWrite)
}

// Pause transitions Running -> Paused, flushing pending writes first.
func (k *Kernel) Pause(ctx context.Context, reason string) error {
	k.mu.Lock()
	if k.status != StatusRunning {
		k.mu.Unlock()
		return fmt.Errorf("%w: pause requires running, got %s", ErrInvalidTransition, k.status)
	}
	k.mu.Unlock()

	k.FlushPendingWrites(ctx)
	k.mu.Lock()
	k.status = StatusPaused
	k.mu.Unlock()
	k.obs.Log().Info("kernel paused", "kernel_id", k.cfg.ID, "reason", reason)
	return nil
}

// Resume transitions Paused -> Running.
func (k *Kernel) Resume(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.status != StatusPaused {
		return fmt.Errorf("%w: resume requires paused, got %s", ErrInvalidTransition, k.status)
	}
	k.status = StatusRunning
	return nil
}

// Complete transitions Running -> Completed.
func (k *Kernel) Complete(ctx context.Context) error {
	k.mu.Lock()
	if k.status != StatusRunning {
		k.mu.Unlock()
		return fmt.Errorf("%w: complete requires running, got %s", ErrInvalidTransition, k.status)
	}
	k.mu.Unlock()

	k.FlushPendingWrites(ctx)
	k.mu.Lock()
	k.status = StatusCompleted
	k.mu.Unlock()
	k.emitLifecycle(ctx, "kernel.completed")
	return nil
}

// Fail transitions any state -> Failed, e.g. on unrecoverable error.
func (k *Kernel) Fail(ctx context.Context, cause error) {
	k.mu.Lock()
	k.status = StatusFailed
	k.mu.Unlock()
	k.emitLifecycle(ctx, "kernel.failed")
	k.obs.Log().Error("kernel failed", "kernel_id", k.cfg.ID, "error", cause)
}

// Reset forces status=initialized and clears all in-memory collaborators.
// It is tolerant of any prior status, including failed.
func (k *Kernel) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.status = StatusInitialized
	k.eventCount = 0
	k.pendingOps = make(map[string]struct{})
	k.contextData = make(map[string]map[string]map[string]any)
	k.pendingWrites = make(map[string]map[string]map[string]pendingWrite)
	k.workflowCtx = nil
	k.cache.Clear()
}

func (k *Kernel) emitLifecycle(ctx context.Context, eventType string) {
	k.runtime.Emit(ctx, eventType, nil, queue.Metadata{TenantID: k.cfg.TenantID}, runtime.EmitOptions{Critical: true})
}

// RecordEvent increments the monotonic event counter for the current
// running span and checks quotas, pausing the kernel if any are
// exceeded.
func (k *Kernel) RecordEvent(ctx context.Context) {
	k.mu.Lock()
	k.eventCount++
	k.eventsSinceFlush++
	count := k.eventCount
	started := k.startTime
	k.mu.Unlock()

	k.checkQuotas(ctx, count, started)
}
