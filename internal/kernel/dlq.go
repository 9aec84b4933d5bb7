package kernel

import (
	"context"
	"sync"
	"time"

	"github.com/kodustech/agent-kernel/internal/queue"
)

const (
	defaultRecoveryCap    = 5
	recoveryResetInterval = time.Hour
)

// recoveryTracker caps DLQ recovery attempts and resets hourly.
type recoveryTracker struct {
	mu        sync.Mutex
	attempts  int
	windowEnd time.Time
}

func newRecoveryTracker() recoveryTracker {
	return recoveryTracker{windowEnd: time.Now().Add(recoveryResetInterval)}
}

func (r *recoveryTracker) allow(cap int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cap <= 0 {
		cap = defaultRecoveryCap
	}
	if time.Now().After(r.windowEnd) {
		r.attempts = 0
		r.windowEnd = time.Now().Add(recoveryResetInterval)
	}
	if r.attempts >= cap {
		return false
	}
	r.attempts++
	return true
}

func (r *recoveryTracker) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// ReprocessDLQ pulls DLQ items by criteria and re-enqueues them on the
// kernel's queue, honoring a recovery-attempt cap (default 5, resetting
// hourly). Under high memory pressure, callers should shorten criteria's
// horizon and limit (see ReprocessOptions); this method focuses on
// "agent.error" events when recovery attempts are low, matching spec
// §4.5's DLQ orchestration contract.
func (k *Kernel) ReprocessDLQ(ctx context.Context, opts ReprocessOptions) []string {
	if !k.dlqRecovery.allow(opts.RecoveryCap) {
		return nil
	}

	criteria := queue.DLQCriteria{MaxAge: opts.MaxAge, Limit: opts.Limit}
	if k.dlqRecovery.count() <= 1 {
		criteria.EventType = "agent.error"
	}
	if opts.HighMemoryPressure {
		if criteria.MaxAge == 0 || criteria.MaxAge > 10*time.Minute {
			criteria.MaxAge = 10 * time.Minute
		}
		if criteria.Limit == 0 || criteria.Limit > 10 {
			criteria.Limit = 10
		}
	}

	return k.queue.Reprocess(criteria)
}

// ReprocessOptions configures a single ReprocessDLQ call.
type ReprocessOptions struct {
	MaxAge             time.Duration
	Limit              int
	RecoveryCap        int
	HighMemoryPressure bool
}

// StartDLQReprocessTimer launches a periodic timer that calls
// ReprocessDLQ every interval until ctx is done. It returns a stop
// function.
func (k *Kernel) StartDLQReprocessTimer(ctx context.Context, interval time.Duration, opts ReprocessOptions) (stop func()) {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				k.ReprocessDLQ(ctx, opts)
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
