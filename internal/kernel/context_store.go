package kernel

import (
	"context"
	"strings"
	"time"

	"github.com/kodustech/agent-kernel/internal/lru"
	"github.com/kodustech/agent-kernel/internal/persistor"
)

// tenantContextKey computes the authoritative-map key for a tenant, and
// optionally a thread, per spec §4.5: "tenant:<t>[:thread:<th>]" when
// tenant isolation is enabled, otherwise a single shared namespace.
func (k *Kernel) tenantContextKey(threadID string) string {
	if !k.cfg.TenantIsolation {
		return "shared"
	}
	if threadID == "" {
		return "tenant:" + k.cfg.TenantID
	}
	return "tenant:" + k.cfg.TenantID + ":thread:" + threadID
}

// GetContext consults the LRU cache first; on a miss it descends into
// the authoritative contextData map and backfills the cache.
func (k *Kernel) GetContext(namespace, key, threadID string) (any, bool) {
	cacheKey := lru.Key(k.cfg.TenantID, threadID, namespace, key)
	if v, ok := k.cache.Get(cacheKey); ok {
		return v, true
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	tck := k.tenantContextKey(threadID)
	ns, ok := k.contextData[tck]
	if !ok {
		return nil, false
	}
	v, ok := ns[namespace][key]
	if !ok {
		return nil, false
	}
	k.cache.Set(cacheKey, v)
	return v, true
}

// SetContext always updates the authoritative map; when batched writes
// are enabled it additionally enqueues the write into the pending map
// and schedules a debounced flush.
func (k *Kernel) SetContext(ctx context.Context, namespace, key string, value any, threadID string) {
	tck := k.tenantContextKey(threadID)

	k.mu.Lock()
	if _, ok := k.contextData[tck]; !ok {
		k.contextData[tck] = make(map[string]map[string]any)
	}
	if _, ok := k.contextData[tck][namespace]; !ok {
		k.contextData[tck][namespace] = make(map[string]any)
	}
	k.contextData[tck][namespace][key] = value

	if k.cfg.BatchedWrites {
		if _, ok := k.pendingWrites[tck]; !ok {
			k.pendingWrites[tck] = make(map[string]map[string]pendingWrite)
		}
		if _, ok := k.pendingWrites[tck][namespace]; !ok {
			k.pendingWrites[tck][namespace] = make(map[string]pendingWrite)
		}
		// Last write to this tuple before flush wins (spec §5).
		k.pendingWrites[tck][namespace][key] = pendingWrite{value: value, timestamp: time.Now()}
		k.scheduleFlushLocked(ctx)
		k.mu.Unlock()
		return
	}
	k.mu.Unlock()

	cacheKey := lru.Key(k.cfg.TenantID, threadID, namespace, key)
	k.cache.Set(cacheKey, value)
}

// scheduleFlushLocked arms a debounced flush timer. Callers must hold
// k.mu.
func (k *Kernel) scheduleFlushLocked(ctx context.Context) {
	if k.flushTimer != nil {
		k.flushTimer.Stop()
	}
	k.flushTimer = time.AfterFunc(k.cfg.FlushDebounce, func() {
		k.FlushPendingWrites(ctx)
	})
}

// FlushPendingWrites drains the pending-write map into the LRU cache and
// may trigger an auto-snapshot by elapsed time or event count.
func (k *Kernel) FlushPendingWrites(ctx context.Context) {
	k.mu.Lock()
	pending := k.pendingWrites
	k.pendingWrites = make(map[string]map[string]map[string]pendingWrite)
	tenantID := k.cfg.TenantID
	k.mu.Unlock()

	for tck, namespaces := range pending {
		threadID := threadFromTenantContextKey(tck)
		for namespace, keys := range namespaces {
			for key, w := range keys {
				cacheKey := lru.Key(tenantID, threadID, namespace, key)
				k.cache.Set(cacheKey, w.value)
			}
		}
	}

	k.mu.Lock()
	now := time.Now()
	periodElapsed := k.cfg.SnapshotPeriod > 0 && !k.lastFlush.IsZero() && now.Sub(k.lastFlush) >= k.cfg.SnapshotPeriod
	k.lastFlush = now
	shouldSnapshot := periodElapsed || (k.cfg.SnapshotEvery > 0 && k.eventsSinceFlush >= k.cfg.SnapshotEvery)
	k.eventsSinceFlush = 0
	k.mu.Unlock()

	if shouldSnapshot {
		if err := k.Snapshot(ctx); err != nil {
			k.obs.Log().Warn("auto-snapshot failed", "kernel_id", k.cfg.ID, "error", err)
		}
	}
}

// threadFromTenantContextKey extracts the thread component from a
// "tenant:<t>:thread:<th>" key, or "" for keys without one.
func threadFromTenantContextKey(tck string) string {
	const marker = ":thread:"
	idx := strings.Index(tck, marker)
	if idx < 0 {
		return ""
	}
	return tck[idx+len(marker):]
}

// Snapshot persists the kernel's current contextData as a content-hashed
// Snapshot. Persistence failures are logged as warnings; the kernel
// continues running regardless (spec §7 "recovered locally").
func (k *Kernel) Snapshot(ctx context.Context) error {
	k.mu.Lock()
	state := flattenContextData(k.contextData)
	k.mu.Unlock()

	hash := persistor.Hash(state)
	snap := persistor.Snapshot{
		ExecutionContextID: k.cfg.ID,
		Timestamp:          time.Now(),
		State:              state,
		Hash:               hash,
	}
	if err := k.persistor.Append(ctx, snap, persistor.AppendOptions{UseDelta: true}); err != nil {
		k.obs.Log().Warn("snapshot persistence failed", "kernel_id", k.cfg.ID, "error", err)
		return err
	}

	k.mu.Lock()
	k.lastOperationHash = hash
	k.mu.Unlock()
	return nil
}

// Restore reconstructs contextData from the snapshot stored under hash.
func (k *Kernel) Restore(ctx context.Context, hash string) error {
	snap, err := k.persistor.GetByHash(ctx, hash)
	if err != nil {
		return err
	}

	k.mu.Lock()
	k.contextData = unflattenContextData(snap.State)
	k.lastOperationHash = snap.Hash
	k.mu.Unlock()
	k.cache.Clear()
	return nil
}

// flattenContextData serializes the nested contextData map into a single
// map[string]any suitable for Hash/Persistor storage.
func flattenContextData(data map[string]map[string]map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for tck, namespaces := range data {
		nsOut := make(map[string]any, len(namespaces))
		for ns, keys := range namespaces {
			keysOut := make(map[string]any, len(keys))
			for k, v := range keys {
				keysOut[k] = v
			}
			nsOut[ns] = keysOut
		}
		out[tck] = nsOut
	}
	return out
}

func unflattenContextData(state map[string]any) map[string]map[string]map[string]any {
	out := make(map[string]map[string]map[string]any, len(state))
	for tck, nsAny := range state {
		nsMap, ok := nsAny.(map[string]any)
		if !ok {
			continue
		}
		out[tck] = make(map[string]map[string]any, len(nsMap))
		for ns, keysAny := range nsMap {
			keysMap, ok := keysAny.(map[string]any)
			if !ok {
				continue
			}
			out[tck][ns] = keysMap
		}
	}
	return out
}
