// Package persistor implements the append-only snapshot store described
// in spec §4.2: content-hashed snapshots, optional delta encoding against
// the latest full snapshot, and retrieval by hash. Append must be durable
// once it returns; the in-memory implementation here is durable for the
// lifetime of the process and is the backing for tests and the
// "inmemory" storage kind. A MongoDB-backed implementation lives in the
// mongostore subpackage.
package persistor

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a hash has no corresponding snapshot.
var ErrNotFound = errors.New("persistor: snapshot not found")

type (
	// Snapshot is a content-addressed capture of execution context state.
	Snapshot struct {
		ExecutionContextID string
		Timestamp          time.Time
		State              map[string]any
		Hash               string
		// BaseHash and Patch are set when this snapshot was stored as a
		// delta against an earlier full snapshot.
		BaseHash string
		Patch    map[string]any
	}

	// AppendOptions controls how Append stores a snapshot.
	AppendOptions struct {
		// UseDelta, when true and a previous full snapshot exists for the
		// same ExecutionContextID, stores a reversible patch against the
		// latest base instead of the full state.
		UseDelta bool
	}

	// Persistor is the append-only snapshot store contract.
	Persistor interface {
		// Append durably stores snapshot. It is durable once it returns
		// without error.
		Append(ctx context.Context, snapshot Snapshot, opts AppendOptions) error
		// GetByHash retrieves the snapshot stored under hash, reconstructing
		// it from its base if it was stored as a delta. Returns ErrNotFound
		// if hash is unknown.
		GetByHash(ctx context.Context, hash string) (Snapshot, error)
		// CleanupOldSnapshots removes snapshots that are no longer reachable
		// as a base for any retained delta, if the implementation supports
		// retention policies. Implementations for which this is a no-op
		// (e.g. unbounded in-memory stores used in tests) may return nil
		// unconditionally.
		CleanupOldSnapshots(ctx context.Context) error
	}
)

// Memory is an in-memory Persistor. It is durable for the life of the
// process and is the backing for the "inmemory" storage kind named in
// spec §6.
type Memory struct {
	mu         sync.RWMutex
	byHash     map[string]Snapshot
	latestBase map[string]string // executionContextID -> hash of latest full snapshot
}

// NewMemory constructs an empty in-memory Persistor.
func NewMemory() *Memory {
	return &Memory{
		byHash:     make(map[string]Snapshot),
		latestBase: make(map[string]string),
	}
}

// Append implements Persistor.
func (m *Memory) Append(_ context.Context, snapshot Snapshot, opts AppendOptions) error {
	if snapshot.Hash == "" {
		snapshot.Hash = Hash(snapshot.State)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if opts.UseDelta {
		if baseHash, ok := m.latestBase[snapshot.ExecutionContextID]; ok {
			base, ok := m.byHash[baseHash]
			if ok {
				patch := Diff(base.State, snapshot.State)
				stored := snapshot
				stored.BaseHash = baseHash
				stored.Patch = patch
				stored.State = nil
				m.byHash[stored.Hash] = stored
				return nil
			}
		}
	}

	// Full snapshot: store as-is and record it as the new delta base.
	stored := snapshot
	stored.BaseHash = ""
	stored.Patch = nil
	m.byHash[stored.Hash] = stored
	m.latestBase[snapshot.ExecutionContextID] = stored.Hash
	return nil
}

// GetByHash implements Persistor, walking back to the base for delta
// snapshots.
func (m *Memory) GetByHash(_ context.Context, hash string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reconstructLocked(hash, 0)
}

func (m *Memory) reconstructLocked(hash string, depth int) (Snapshot, error) {
	const maxDepth = 64 // guards against a corrupted base-hash cycle
	if depth > maxDepth {
		return Snapshot{}, errors.New("persistor: delta base chain too deep")
	}

	s, ok := m.byHash[hash]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	if s.BaseHash == "" {
		return s, nil
	}

	base, err := m.reconstructLocked(s.BaseHash, depth+1)
	if err != nil {
		return Snapshot{}, err
	}
	merged := s
	merged.State = ApplyPatch(base.State, s.Patch)
	return merged, nil
}

// CleanupOldSnapshots implements Persistor. The in-memory store is
// unbounded; it retains every snapshot so that delta chains always
// resolve, which is appropriate for tests but not production use.
func (m *Memory) CleanupOldSnapshots(_ context.Context) error {
	return nil
}

// Diff produces a shallow reversible patch: every key in next whose value
// differs from (or is absent in) base, plus a tombstone list for keys
// removed from base. This matches the "reversible patch against the
// latest full snapshot" contract in spec §4.2 without requiring a
// structural diff library.
func Diff(base, next map[string]any) map[string]any {
	patch := make(map[string]any)
	changed := make(map[string]any)
	for k, v := range next {
		if bv, ok := base[k]; !ok || Hash(bv) != Hash(v) {
			changed[k] = v
		}
	}
	var removed []string
	for k := range base {
		if _, ok := next[k]; !ok {
			removed = append(removed, k)
		}
	}
	patch["set"] = changed
	if len(removed) > 0 {
		patch["removed"] = removed
	}
	return patch
}

// ApplyPatch applies a patch produced by Diff to base, returning the
// reconstructed state.
func ApplyPatch(base map[string]any, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	if set, ok := patch["set"].(map[string]any); ok {
		for k, v := range set {
			out[k] = v
		}
	}
	if removed, ok := patch["removed"].([]string); ok {
		for _, k := range removed {
			delete(out, k)
		}
	}
	return out
}
