package agentcore

import (
	"context"
	"errors"
	"time"

	"github.com/kodustech/agent-kernel/internal/strategy"
)

// AgentIdentity describes the agent instance an ExecutionContext is
// built for.
type AgentIdentity struct {
	ID          string
	Name        string
	Description string
}

// Limits bounds one execution.
type Limits struct {
	MaxIterations int
	Timeout       time.Duration
}

// Options is caller-supplied input to Core.Run, reconciled against the
// thread's stored RuntimeContext by the session-consistency rule (spec
// §4.9 step 4).
type Options struct {
	TenantID     string
	ThreadID     string
	SessionID    string
	StrategyKind strategy.Kind
	Limits       Limits
	Metadata     map[string]any
}

// ExecutionContext is the immutable-identifiers-plus-mutable-metadata
// bundle assembled once per invocation (spec §3).
type ExecutionContext struct {
	ExecutionID   string
	CorrelationID string
	TenantID      string
	ThreadID      string
	SessionID     string

	Input         string
	PriorMessages []strategy.Message
	Identity      AgentIdentity

	Cancel context.CancelFunc
	ctx    context.Context

	StrategyKind strategy.Kind
	Limits       Limits

	// Metadata is mutable; it always carries "placeholderMessageId" once
	// BuildExecutionContext returns successfully.
	Metadata map[string]any
}

// Context returns the per-execution context carrying the cancellation
// signal assembled for this run.
func (ec *ExecutionContext) Context() context.Context { return ec.ctx }

// ErrThreadIDRequired is returned when no threadId can be resolved from
// either the runtime context or Options (spec §3 invariant).
var ErrThreadIDRequired = errors.New("agentcore: threadId must be non-empty")

// ErrThreadIDMismatch is returned when an externally supplied threadId
// conflicts with the kernel-resolved one (spec §3 invariant).
var ErrThreadIDMismatch = errors.New("agentcore: externally supplied threadId does not match kernel-resolved threadId")

// ErrSessionUnresolvable is returned when the session-consistency rule
// (spec §4.9 step 4) cannot derive a sessionId from the runtime context
// or Options.
var ErrSessionUnresolvable = errors.New("agentcore: cannot resolve sessionId from runtime context or options")

// reconcileSessionConsistency implements spec §4.9 step 4: if the
// runtime context carries both sessionId and threadId, they win; if
// only Options carries threadId, synthesize sessionId from Options
// (falling back to threadId); otherwise fail.
func reconcileSessionConsistency(rc RuntimeContext, opts Options) (sessionID, threadID string, err error) {
	threadID = opts.ThreadID
	if rc.ThreadID != "" {
		if threadID != "" && threadID != rc.ThreadID {
			return "", "", ErrThreadIDMismatch
		}
		threadID = rc.ThreadID
	}
	if threadID == "" {
		return "", "", ErrThreadIDRequired
	}

	if rc.SessionID != "" && rc.ThreadID != "" {
		return rc.SessionID, threadID, nil
	}
	if opts.ThreadID != "" {
		sessionID = opts.SessionID
		if sessionID == "" {
			sessionID = opts.ThreadID
		}
		return sessionID, threadID, nil
	}
	return "", "", ErrSessionUnresolvable
}
