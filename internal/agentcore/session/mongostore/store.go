// Package mongostore implements session.Store backed by MongoDB,
// following the same direct mongo-driver style as
// internal/persistor/mongostore.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/kodustech/agent-kernel/internal/agentcore/session"
)

const (
	defaultSessionsColl = "agent_sessions"
	defaultRunsColl     = "agent_runs"
	defaultOpTimeout    = 5 * time.Second
)

// Options configures the Mongo-backed store.
type Options struct {
	Client       *mongo.Client
	Database     string
	SessionsColl string
	RunsColl     string
	Timeout      time.Duration
}

// Store is a session.Store backed by two collections: one document per
// session, one document per run.
type Store struct {
	sessions *mongo.Collection
	runs     *mongo.Collection
	timeout  time.Duration
}

type sessionDoc struct {
	ID        string     `bson:"_id"`
	Status    string     `bson:"status"`
	CreatedAt time.Time  `bson:"created_at"`
	EndedAt   *time.Time `bson:"ended_at,omitempty"`
}

type runDoc struct {
	RunID     string            `bson:"_id"`
	AgentID   string            `bson:"agent_id"`
	SessionID string            `bson:"session_id"`
	ThreadID  string            `bson:"thread_id,omitempty"`
	Status    string            `bson:"status"`
	StartedAt time.Time         `bson:"started_at"`
	UpdatedAt time.Time         `bson:"updated_at"`
	Labels    map[string]string `bson:"labels,omitempty"`
	Metadata  map[string]any    `bson:"metadata,omitempty"`
}

// New constructs a Store and ensures the session-lookup index exists.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongostore: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongostore: database is required")
	}
	sessionsColl := opts.SessionsColl
	if sessionsColl == "" {
		sessionsColl = defaultSessionsColl
	}
	runsColl := opts.RunsColl
	if runsColl == "" {
		runsColl = defaultRunsColl
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	db := opts.Client.Database(opts.Database)
	runs := db.Collection(runsColl)

	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := runs.Indexes().CreateOne(ictx, mongo.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index(),
	})
	if err != nil {
		return nil, err
	}

	return &Store{sessions: db.Collection(sessionsColl), runs: runs, timeout: timeout}, nil
}

// CreateSession implements session.Store.
func (s *Store) CreateSession(ctx context.Context, sessionID string, createdAt time.Time) (session.Session, error) {
	if sessionID == "" {
		return session.Session{}, errors.New("mongostore: session id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var existing sessionDoc
	err := s.sessions.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&existing)
	switch {
	case err == nil:
		if existing.Status == string(session.StatusEnded) {
			return session.Session{}, session.ErrSessionEnded
		}
		return toSession(existing), nil
	case errors.Is(err, mongo.ErrNoDocuments):
		doc := sessionDoc{ID: sessionID, Status: string(session.StatusActive), CreatedAt: createdAt.UTC()}
		if _, err := s.sessions.InsertOne(ctx, doc); err != nil {
			return session.Session{}, err
		}
		return toSession(doc), nil
	default:
		return session.Session{}, err
	}
}

// LoadSession implements session.Store.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (session.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var doc sessionDoc
	err := s.sessions.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return session.Session{}, session.ErrSessionNotFound
	}
	if err != nil {
		return session.Session{}, err
	}
	return toSession(doc), nil
}

// EndSession implements session.Store.
func (s *Store) EndSession(ctx context.Context, sessionID string, endedAt time.Time) (session.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	at := endedAt.UTC()
	var doc sessionDoc
	err := s.sessions.FindOneAndUpdate(ctx,
		bson.M{"_id": sessionID, "status": bson.M{"$ne": string(session.StatusEnded)}},
		bson.M{"$set": bson.M{"status": string(session.StatusEnded), "ended_at": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return s.LoadSession(ctx, sessionID)
	}
	if err != nil {
		return session.Session{}, err
	}
	return toSession(doc), nil
}

// UpsertRun implements session.Store.
func (s *Store) UpsertRun(ctx context.Context, run session.RunMeta) error {
	if run.RunID == "" {
		return errors.New("mongostore: run id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := time.Now().UTC()
	doc := runDoc{
		RunID:     run.RunID,
		AgentID:   run.AgentID,
		SessionID: run.SessionID,
		ThreadID:  run.ThreadID,
		Status:    string(run.Status),
		StartedAt: run.StartedAt,
		UpdatedAt: now,
		Labels:    run.Labels,
		Metadata:  run.Metadata,
	}
	if doc.StartedAt.IsZero() {
		doc.StartedAt = now
	}
	_, err := s.runs.UpdateOne(ctx,
		bson.M{"_id": run.RunID},
		bson.M{
			"$set":         bson.M{"agent_id": doc.AgentID, "session_id": doc.SessionID, "thread_id": doc.ThreadID, "status": doc.Status, "updated_at": doc.UpdatedAt, "labels": doc.Labels, "metadata": doc.Metadata},
			"$setOnInsert": bson.M{"started_at": doc.StartedAt},
		},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

// LoadRun implements session.Store.
func (s *Store) LoadRun(ctx context.Context, runID string) (session.RunMeta, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var doc runDoc
	err := s.runs.FindOne(ctx, bson.M{"_id": runID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return session.RunMeta{}, session.ErrRunNotFound
	}
	if err != nil {
		return session.RunMeta{}, err
	}
	return session.RunMeta{
		AgentID:   doc.AgentID,
		RunID:     doc.RunID,
		SessionID: doc.SessionID,
		ThreadID:  doc.ThreadID,
		Status:    session.RunStatus(doc.Status),
		StartedAt: doc.StartedAt,
		UpdatedAt: doc.UpdatedAt,
		Labels:    doc.Labels,
		Metadata:  doc.Metadata,
	}, nil
}

func toSession(doc sessionDoc) session.Session {
	return session.Session{ID: doc.ID, Status: session.Status(doc.Status), CreatedAt: doc.CreatedAt, EndedAt: doc.EndedAt}
}
