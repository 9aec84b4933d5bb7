// Package session defines the durable session-lifecycle and run-metadata
// primitives the Agent Core reconciles against when assembling an
// ExecutionContext.
//
// A Session is the first-class conversational container keyed by
// sessionId; runs (one per strategy invocation) belong to a session.
// Session lifecycle is explicit: sessions are created and ended
// independently of run lifecycle.
package session

import (
	"context"
	"errors"
	"time"
)

type (
	// Session captures durable session lifecycle state.
	Session struct {
		ID        string
		Status    Status
		CreatedAt time.Time
		EndedAt   *time.Time
	}

	// RunMeta captures persistent metadata associated with one strategy
	// invocation (one Agent Core Run call).
	RunMeta struct {
		AgentID   string
		RunID     string
		SessionID string
		ThreadID  string
		Status    RunStatus
		StartedAt time.Time
		UpdatedAt time.Time
		Labels    map[string]string
		Metadata  map[string]any
	}

	// Store persists session lifecycle state and run metadata. Failures
	// are surfaced to callers — the Agent Core treats session write
	// failures as logged-and-continue per spec §7, never as a fatal
	// execution error.
	Store interface {
		// CreateSession creates (or returns) an active session.
		// Idempotent for active sessions. Returns ErrSessionEnded when the
		// session exists but is terminal.
		CreateSession(ctx context.Context, sessionID string, createdAt time.Time) (Session, error)
		// LoadSession loads an existing session. Returns ErrSessionNotFound
		// when absent.
		LoadSession(ctx context.Context, sessionID string) (Session, error)
		// EndSession ends a session. Idempotent.
		EndSession(ctx context.Context, sessionID string, endedAt time.Time) (Session, error)

		// UpsertRun inserts or updates run metadata.
		UpsertRun(ctx context.Context, run RunMeta) error
		// LoadRun loads run metadata. Returns ErrRunNotFound when missing.
		LoadRun(ctx context.Context, runID string) (RunMeta, error)
	}

	// Status is a session's lifecycle state.
	Status string

	// RunStatus is a run's lifecycle state.
	RunStatus string
)

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"

	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusError      RunStatus = "error"
)

var (
	// ErrSessionNotFound indicates a session does not exist in the store.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionEnded indicates a session exists but is ended; no new
	// runs may start under it.
	ErrSessionEnded = errors.New("session: ended")
	// ErrRunNotFound indicates run metadata does not exist in the store.
	ErrRunNotFound = errors.New("session: run not found")
)
