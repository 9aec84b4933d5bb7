// Package agentcore implements the Agent Core (spec §4.9): assembling
// an ExecutionContext from an agent definition, input, and options,
// persisting the placeholder-assistant-message lifecycle around a
// Strategy invocation, and reconciling session/thread identifiers
// against the session store.
//
// Grounded on goadesign-goa-ai/runtime/agent/runtime's session
// lifecycle surface (CreateSession/DeleteSession, session-scoped run
// cancellation) and runtime/agent/engine's workflow-context assembly,
// adapted to the spec's explicit ExecutionContext data model and
// session-consistency rule.
package agentcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kodustech/agent-kernel/internal/agentcore/session"
	"github.com/kodustech/agent-kernel/internal/idgen"
	"github.com/kodustech/agent-kernel/internal/strategy"
	"github.com/kodustech/agent-kernel/internal/telemetry"
)

// StrategyResolver selects the Strategy implementation for a given
// kind. Wiring (which Planner, which ToolCaller/Delegator back it) is
// the caller's concern — the Agent Core only needs to invoke Execute.
type StrategyResolver func(kind strategy.Kind) (strategy.Strategy, error)

// AgentDefinition is the static description of the agent being run.
type AgentDefinition struct {
	Identity     AgentIdentity
	StrategyKind strategy.Kind
}

// Core is the Agent Core component.
type Core struct {
	Threads  ThreadStore
	Sessions session.Store
	Resolve  StrategyResolver
	Obs      telemetry.Observability
}

// New constructs a Core. threads defaults to an in-memory ThreadStore
// when nil; sessions is not defaulted, and a nil sessions store skips
// all session bookkeeping.
func New(threads ThreadStore, sessions session.Store, resolve StrategyResolver, obs telemetry.Observability) *Core {
	if threads == nil {
		threads = NewInMemoryThreadStore()
	}
	if resolve == nil {
		resolve = func(strategy.Kind) (strategy.Strategy, error) {
			return nil, errors.New("agentcore: no strategy resolver configured")
		}
	}
	return &Core{Threads: threads, Sessions: sessions, Resolve: resolve, Obs: obs}
}

// RunResult is the outcome of one Agent Core invocation.
type RunResult struct {
	ExecutionID          string
	PlaceholderMessageID string
	StrategyResult       *strategy.Result
}

// Run builds an ExecutionContext from def/input/opts, persists the
// placeholder-assistant-message lifecycle, invokes the selected
// Strategy, and reconciles the placeholder to its terminal state (spec
// §4.9).
func (c *Core) Run(ctx context.Context, def AgentDefinition, input string, opts Options) (RunResult, error) {
	ec, err := c.buildExecutionContext(ctx, def, input, opts)
	if err != nil {
		return RunResult{}, err
	}
	defer ec.Cancel()

	strat, err := c.Resolve(ec.StrategyKind)
	if err != nil {
		c.failPlaceholder(ec.Context(), ec, err)
		return RunResult{ExecutionID: ec.ExecutionID, PlaceholderMessageID: ec.Metadata["placeholderMessageId"].(string)}, err
	}

	result, err := strat.Execute(ec.Context(), ec.PriorMessages)
	placeholderID, _ := ec.Metadata["placeholderMessageId"].(string)
	if err != nil {
		c.failPlaceholder(ec.Context(), ec, err)
		return RunResult{ExecutionID: ec.ExecutionID, PlaceholderMessageID: placeholderID}, err
	}

	if updErr := c.Threads.UpdateMessage(ec.Context(), ec.ThreadID, placeholderID, func(m *Message) {
		m.Content = result.Output
		m.Status = StatusCompleted
	}); updErr != nil {
		c.logWarn(ctx, "agent core: update placeholder message failed", updErr, "thread_id", ec.ThreadID)
	}
	c.recordRun(ec, session.RunStatusCompleted)

	return RunResult{ExecutionID: ec.ExecutionID, PlaceholderMessageID: placeholderID, StrategyResult: result}, nil
}

// buildExecutionContext implements spec §4.9 steps 1-5.
func (c *Core) buildExecutionContext(ctx context.Context, def AgentDefinition, input string, opts Options) (*ExecutionContext, error) {
	thread, err := c.Threads.Load(ctx, opts.ThreadID)
	if err != nil && !errors.Is(err, ErrThreadNotFound) {
		return nil, fmt.Errorf("agentcore: load thread: %w", err)
	}

	sessionID, threadID, err := reconcileSessionConsistency(thread.Runtime, opts)
	if err != nil {
		return nil, err
	}

	if c.Sessions != nil {
		if _, sErr := c.Sessions.CreateSession(ctx, sessionID, time.Now()); sErr != nil && !errors.Is(sErr, session.ErrSessionEnded) {
			c.logWarn(ctx, "agent core: create session failed", sErr, "session_id", sessionID)
		}
	}
	if setErr := c.Threads.SetRuntimeContext(ctx, threadID, RuntimeContext{SessionID: sessionID, ThreadID: threadID}); setErr != nil {
		c.logWarn(ctx, "agent core: persist runtime context failed", setErr, "thread_id", threadID)
	}

	now := time.Now()
	userMsg := Message{ID: idgen.New(), Role: "user", Content: input, Timestamp: now, Status: StatusCompleted}
	if appendErr := c.Threads.AppendMessage(ctx, threadID, userMsg); appendErr != nil {
		c.logWarn(ctx, "agent core: append user message failed", appendErr, "thread_id", threadID)
	}

	placeholder := Message{
		ID:        idgen.New(),
		Role:      "assistant",
		Content:   "Processing your request...",
		Timestamp: now,
		Status:    StatusProcessing,
	}
	if appendErr := c.Threads.AppendMessage(ctx, threadID, placeholder); appendErr != nil {
		c.logWarn(ctx, "agent core: append placeholder message failed", appendErr, "thread_id", threadID)
	}

	priorMessages := make([]strategy.Message, 0, len(thread.Messages)+1)
	for _, m := range thread.Messages {
		priorMessages = append(priorMessages, strategy.Message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name})
	}
	priorMessages = append(priorMessages, strategy.Message{Role: "user", Content: input})

	limits := opts.Limits
	timeout := limits.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)

	strategyKind := opts.StrategyKind
	if strategyKind == "" {
		strategyKind = def.StrategyKind
	}

	metadata := make(map[string]any, len(opts.Metadata)+1)
	for k, v := range opts.Metadata {
		metadata[k] = v
	}
	metadata["placeholderMessageId"] = placeholder.ID

	ec := &ExecutionContext{
		ExecutionID:   idgen.New(),
		CorrelationID: idgen.New(),
		TenantID:      opts.TenantID,
		ThreadID:      threadID,
		SessionID:     sessionID,
		Input:         input,
		PriorMessages: priorMessages,
		Identity:      def.Identity,
		Cancel:        cancel,
		ctx:           execCtx,
		StrategyKind:  strategyKind,
		Limits:        limits,
		Metadata:      metadata,
	}
	c.recordRun(ec, "")
	return ec, nil
}

// failPlaceholder implements the never-leave-a-processing-placeholder
// rule: any Strategy or resolution failure mutates the placeholder to
// its terminal error state (spec §4.9).
func (c *Core) failPlaceholder(ctx context.Context, ec *ExecutionContext, cause error) {
	placeholderID, _ := ec.Metadata["placeholderMessageId"].(string)
	if placeholderID == "" {
		return
	}
	updErr := c.Threads.UpdateMessage(ctx, ec.ThreadID, placeholderID, func(m *Message) {
		m.Content = sanitizeContent(cause.Error())
		m.Status = StatusError
	})
	if updErr != nil {
		c.logWarn(ctx, "agent core: update placeholder to error state failed", updErr, "thread_id", ec.ThreadID)
	}
	c.recordRun(ec, session.RunStatusError)
}

func (c *Core) recordRun(ec *ExecutionContext, status session.RunStatus) {
	if c.Sessions == nil {
		return
	}
	if status == "" {
		status = session.RunStatusProcessing
	}
	run := session.RunMeta{
		AgentID:   ec.Identity.ID,
		RunID:     ec.ExecutionID,
		SessionID: ec.SessionID,
		ThreadID:  ec.ThreadID,
		Status:    status,
		Metadata:  sanitizeMetadata(ec.Metadata),
	}
	if err := c.Sessions.UpsertRun(ec.ctx, run); err != nil {
		c.logWarn(ec.ctx, "agent core: upsert run metadata failed", err, "run_id", ec.ExecutionID)
	}
}

func (c *Core) logWarn(ctx context.Context, msg string, err error, kv ...any) {
	args := append([]any{"error", err}, kv...)
	c.Obs.Log().WarnContext(ctx, msg, args...)
}
