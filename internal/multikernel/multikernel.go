// Package multikernel implements the Multi-Kernel Manager (spec §4.6):
// spawns namespaced kernels from KernelSpecs and routes events between
// them through pattern-matched, optionally-transforming bridges.
package multikernel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kodustech/agent-kernel/internal/kernel"
	"github.com/kodustech/agent-kernel/internal/queue"
	"github.com/kodustech/agent-kernel/internal/queue/redisqueue"
	"github.com/kodustech/agent-kernel/internal/runtime"
	"github.com/kodustech/agent-kernel/internal/telemetry"
)

type (
	// KernelSpec declares one managed kernel.
	KernelSpec struct {
		KernelID         string
		Namespace        string
		NeedsPersistence bool
		NeedsSnapshots   bool
		Quotas           kernel.Quotas
		RuntimeConfig    kernel.Config
	}

	// TransformFunc rewrites an event's payload as it crosses a bridge.
	// A nil TransformFunc behaves as identity.
	TransformFunc func(eventType string, data []byte) []byte

	// Bridge forwards events from one namespace to another when the
	// event type matches Pattern (literal, "prefix.*", or "*").
	Bridge struct {
		FromNamespace string
		ToNamespace   string
		Pattern       string
		Transform     TransformFunc
		EnableLogging bool
		// Remote, when set, delivers across a process boundary instead
		// of to a local kernel: ToNamespace names the remote side for
		// logging only, and deliver publishes to Remote rather than
		// looking up a local kernel (spec §4.2/§4.4's cross-process
		// subordinate kernels).
		Remote *redisqueue.Transport
	}
)

// ErrTargetNotRunning is returned when a bridge's destination kernel is
// not in the running state.
var ErrTargetNotRunning = errors.New("multikernel: target kernel is not running")

// ErrUnknownNamespace is returned when a bridge references a namespace
// with no registered kernel.
var ErrUnknownNamespace = errors.New("multikernel: unknown namespace")

// Manager owns a set of namespaced kernels and the bridges between them.
type Manager struct {
	obs telemetry.Observability

	mu      sync.RWMutex
	kernels map[string]*kernel.Kernel // namespace -> kernel
	specs   map[string]KernelSpec
	bridges []Bridge
}

// New constructs an empty Manager.
func New(obs telemetry.Observability) *Manager {
	return &Manager{
		obs:     obs,
		kernels: make(map[string]*kernel.Kernel),
		specs:   make(map[string]KernelSpec),
	}
}

// Spawn creates and registers a kernel for spec, wiring a runtime handler
// that evaluates every bridge whose FromNamespace matches spec.Namespace.
func (m *Manager) Spawn(spec KernelSpec) *kernel.Kernel {
	cfg := spec.RuntimeConfig
	cfg.ID = spec.KernelID
	cfg.Quotas = spec.Quotas
	k := kernel.New(cfg)

	m.mu.Lock()
	m.kernels[spec.Namespace] = k
	m.specs[spec.Namespace] = spec
	m.mu.Unlock()

	k.Runtime().On("*", func(ctx context.Context, ev queue.Event) error {
		return m.routeFromNamespace(ctx, spec.Namespace, ev)
	})

	return k
}

// AddBridge registers a bridge rule.
func (m *Manager) AddBridge(b Bridge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bridges = append(m.bridges, b)
}

// Kernel returns the kernel registered for namespace, if any.
func (m *Manager) Kernel(namespace string) (*kernel.Kernel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.kernels[namespace]
	return k, ok
}

func (m *Manager) routeFromNamespace(ctx context.Context, fromNamespace string, ev queue.Event) error {
	m.mu.RLock()
	bridges := append([]Bridge(nil), m.bridges...)
	m.mu.RUnlock()

	for _, b := range bridges {
		if b.FromNamespace != fromNamespace {
			continue
		}
		if !matchPattern(b.Pattern, ev.Type) {
			continue
		}
		if err := m.deliver(ctx, b, ev); err != nil && m.obs.Log() != nil {
			m.obs.Log().Warn("bridge delivery failed",
				"from", b.FromNamespace, "to", b.ToNamespace, "event_type", ev.Type, "error", err)
		}
	}
	return nil
}

func (m *Manager) deliver(ctx context.Context, b Bridge, ev queue.Event) error {
	data := ev.Data
	if b.Transform != nil {
		data = b.Transform(ev.Type, data)
	}
	meta := ev.Metadata

	var err error
	if b.Remote != nil {
		err = b.Remote.Publish(ctx, queue.Event{ID: ev.ID, Type: ev.Type, Data: data, Metadata: meta})
	} else {
		err = m.deliverLocal(ctx, b, ev.Type, data, meta)
	}
	if b.EnableLogging && err == nil {
		m.obs.Log().Info("bridged event", "from", b.FromNamespace, "to", b.ToNamespace, "event_type", ev.Type)
	}
	return err
}

func (m *Manager) deliverLocal(ctx context.Context, b Bridge, eventType string, data []byte, meta queue.Metadata) error {
	target, ok := m.Kernel(b.ToNamespace)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNamespace, b.ToNamespace)
	}
	if target.Status() != kernel.StatusRunning {
		return fmt.Errorf("%w: %s", ErrTargetNotRunning, b.ToNamespace)
	}

	// correlationId is preserved end to end, per spec §4.6.
	_, err := target.RunAtomic(ctx, "", 30*time.Second, func(ctx context.Context) (any, error) {
		res := target.Runtime().Emit(ctx, eventType, data, meta, runtime.EmitOptions{})
		if !res.Success {
			return nil, errors.New("multikernel: target enqueue rejected")
		}
		return res, nil
	})
	return err
}

// PumpRemote polls tr for events bridged in from another process and
// emits each one into namespace's local kernel, until ctx is canceled.
// Callers run this in a goroutine for every namespace fed by a remote
// Bridge (spec §4.2/§4.4: a subordinate kernel running out-of-process).
func (m *Manager) PumpRemote(ctx context.Context, namespace string, tr *redisqueue.Transport, pollTimeout time.Duration) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ev, ok, err := tr.Receive(ctx, pollTimeout)
		if err != nil {
			return fmt.Errorf("multikernel: pump remote: %w", err)
		}
		if !ok {
			continue
		}
		if err := m.EmitToNamespace(ctx, namespace, ev.Type, ev.Data, ev.Metadata); err != nil && m.obs.Log() != nil {
			m.obs.Log().Warn("remote bridge delivery failed", "namespace", namespace, "event_type", ev.Type, "error", err)
		}
	}
}

// matchPattern implements the literal / "prefix.*" / "*" matching rules
// from spec §4.6.
func matchPattern(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(eventType, prefix)
	}
	return pattern == eventType
}

// EmitToNamespace emits an event directly into namespace's kernel,
// aborting if the target kernel is paused (spec §4.6). Callers that want
// a resume-then-retry policy should Resume the kernel first.
func (m *Manager) EmitToNamespace(ctx context.Context, namespace, eventType string, data []byte, meta queue.Metadata) error {
	k, ok := m.Kernel(namespace)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNamespace, namespace)
	}
	if k.Status() == kernel.StatusPaused {
		return fmt.Errorf("%w: %s is paused", ErrTargetNotRunning, namespace)
	}
	res := k.Runtime().Emit(ctx, eventType, data, meta, runtime.EmitOptions{})
	if !res.Success {
		return errors.New("multikernel: enqueue rejected")
	}
	return nil
}

// PauseAll snapshots kernels with NeedsSnapshots=true and merely quiesces
// (pauses without snapshotting) the rest.
func (m *Manager) PauseAll(ctx context.Context, reason string) {
	m.mu.RLock()
	specs := make(map[string]KernelSpec, len(m.specs))
	kernels := make(map[string]*kernel.Kernel, len(m.kernels))
	for ns, s := range m.specs {
		specs[ns] = s
	}
	for ns, k := range m.kernels {
		kernels[ns] = k
	}
	m.mu.RUnlock()

	for ns, k := range kernels {
		if k.Status() != kernel.StatusRunning {
			continue
		}
		_ = k.Pause(ctx, reason)
		if specs[ns].NeedsSnapshots {
			_ = k.Snapshot(ctx)
		}
	}
}

// ResumeAll resumes every managed kernel currently paused.
func (m *Manager) ResumeAll(ctx context.Context) {
	m.mu.RLock()
	kernels := make([]*kernel.Kernel, 0, len(m.kernels))
	for _, k := range m.kernels {
		kernels = append(kernels, k)
	}
	m.mu.RUnlock()

	for _, k := range kernels {
		if k.Status() == kernel.StatusPaused {
			_ = k.Resume(ctx)
		}
	}
}

// Status aggregates the status of every managed kernel by namespace.
func (m *Manager) Status() map[string]kernel.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]kernel.Status, len(m.kernels))
	for ns, k := range m.kernels {
		out[ns] = k.Status()
	}
	return out
}
