package kernel

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// checkQuotas evaluates maxEvents/maxDuration/maxMemory against the
// current running span and pauses the kernel with a
// "quota-exceeded-<kind>" reason on the first violation found.
func (k *Kernel) checkQuotas(ctx context.Context, eventCount int64, started time.Time) {
	q := k.cfg.Quotas

	if q.MaxEvents > 0 && eventCount >= q.MaxEvents {
		k.triggerQuotaPause(ctx, "events")
		return
	}
	if q.MaxDuration > 0 && !started.IsZero() && time.Since(started) >= q.MaxDuration {
		k.triggerQuotaPause(ctx, "duration")
		return
	}
	if q.MaxMemoryMiB > 0 && heapMiB() >= q.MaxMemoryMiB {
		k.memoryCleanup(ctx)
		k.triggerQuotaPause(ctx, "memory")
	}
}

func (k *Kernel) triggerQuotaPause(ctx context.Context, kind string) {
	reason := fmt.Sprintf("quota-exceeded-%s", kind)
	if err := k.Pause(ctx, reason); err != nil {
		// Already paused/not running: nothing further to do.
		return
	}
	if err := k.Snapshot(ctx); err != nil {
		k.obs.Log().Warn("quota pause snapshot failed", "kernel_id", k.cfg.ID, "error", err)
	}
}

// memoryCleanup trims cached context and runs an optional GC hint,
// matching the "memory-quota hit additionally runs a memory-cleanup
// pass" behavior in spec §4.5.
func (k *Kernel) memoryCleanup(ctx context.Context) {
	k.FlushPendingWrites(ctx)
	k.cache.Clear()
	runtime.GC()
}

func heapMiB() int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int64(m.HeapAlloc / (1024 * 1024))
}
