// Package inmem provides an in-memory session.Store for tests and local
// development.
package inmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kodustech/agent-kernel/internal/agentcore/session"
)

// Store is a concurrency-safe in-memory session.Store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
	runs     map[string]session.RunMeta
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[string]session.Session),
		runs:     make(map[string]session.RunMeta),
	}
}

// CreateSession implements session.Store.
func (s *Store) CreateSession(_ context.Context, sessionID string, createdAt time.Time) (session.Session, error) {
	if sessionID == "" {
		return session.Session{}, errors.New("inmem: session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[sessionID]; ok {
		if existing.Status == session.StatusEnded {
			return session.Session{}, session.ErrSessionEnded
		}
		return existing, nil
	}
	out := session.Session{ID: sessionID, Status: session.StatusActive, CreatedAt: createdAt.UTC()}
	s.sessions[sessionID] = out
	return out, nil
}

// LoadSession implements session.Store.
func (s *Store) LoadSession(_ context.Context, sessionID string) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing, ok := s.sessions[sessionID]
	if !ok {
		return session.Session{}, session.ErrSessionNotFound
	}
	return existing, nil
}

// EndSession implements session.Store.
func (s *Store) EndSession(_ context.Context, sessionID string, endedAt time.Time) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[sessionID]
	if !ok {
		return session.Session{}, session.ErrSessionNotFound
	}
	if existing.Status == session.StatusEnded {
		return existing, nil
	}
	at := endedAt.UTC()
	existing.Status = session.StatusEnded
	existing.EndedAt = &at
	s.sessions[sessionID] = existing
	return existing, nil
}

// UpsertRun implements session.Store.
func (s *Store) UpsertRun(_ context.Context, run session.RunMeta) error {
	if run.RunID == "" {
		return errors.New("inmem: run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run.UpdatedAt = time.Now().UTC()
	if existing, ok := s.runs[run.RunID]; ok && run.StartedAt.IsZero() {
		run.StartedAt = existing.StartedAt
	} else if run.StartedAt.IsZero() {
		run.StartedAt = run.UpdatedAt
	}
	s.runs[run.RunID] = run
	return nil
}

// LoadRun implements session.Store.
func (s *Store) LoadRun(_ context.Context, runID string) (session.RunMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return session.RunMeta{}, session.ErrRunNotFound
	}
	return run, nil
}
