// Package mongostore implements persistor.Persistor backed by MongoDB,
// mirroring the teacher's store-delegates-to-client shape
// (features/session/mongo). It is the concrete backend for the
// "mongodb" storage kind named in spec §6.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/kodustech/agent-kernel/internal/persistor"
)

const (
	defaultCollection = "agent_snapshots"
	defaultOpTimeout   = 5 * time.Second
)

// Options configures the Mongo-backed store.
type Options struct {
	Client     *mongo.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store is a persistor.Persistor backed by a single append-only
// collection, indexed by content hash.
type Store struct {
	coll    *mongo.Collection
	timeout time.Duration
}

type document struct {
	ExecutionContextID string         `bson:"execution_context_id"`
	Timestamp          time.Time      `bson:"timestamp"`
	Hash               string         `bson:"hash"`
	BaseHash           string         `bson:"base_hash,omitempty"`
	State              map[string]any `bson:"state,omitempty"`
	Patch              map[string]any `bson:"patch,omitempty"`
}

// New constructs a Store and ensures the hash index used by GetByHash
// exists.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongostore: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongostore: database is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	coll := opts.Client.Database(opts.Database).Collection(collName)
	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := coll.Indexes().CreateOne(ictx, mongo.IndexModel{
		Keys:    bson.D{{Key: "hash", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, err
	}
	return &Store{coll: coll, timeout: timeout}, nil
}

// Append implements persistor.Persistor.
func (s *Store) Append(ctx context.Context, snap persistor.Snapshot, opts persistor.AppendOptions) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if opts.UseDelta {
		base, err := s.latestBase(ctx, snap.ExecutionContextID)
		if err == nil {
			// Reuse the same reversible shallow patch shape as the
			// in-memory store so the two backends behave identically.
			patch := persistor.Diff(base.State, snap.State)
			doc := document{
				ExecutionContextID: snap.ExecutionContextID,
				Timestamp:          snap.Timestamp,
				Hash:               snap.Hash,
				BaseHash:           base.Hash,
				Patch:              patch,
			}
			_, err := s.coll.InsertOne(ctx, doc)
			return err
		}
		if !errors.Is(err, persistor.ErrNotFound) {
			return err
		}
	}

	doc := document{
		ExecutionContextID: snap.ExecutionContextID,
		Timestamp:          snap.Timestamp,
		Hash:               snap.Hash,
		State:              snap.State,
	}
	_, err := s.coll.InsertOne(ctx, doc)
	return err
}

// GetByHash implements persistor.Persistor, walking back to the base
// document for delta snapshots.
func (s *Store) GetByHash(ctx context.Context, hash string) (persistor.Snapshot, error) {
	return s.reconstruct(ctx, hash, 0)
}

func (s *Store) reconstruct(ctx context.Context, hash string, depth int) (persistor.Snapshot, error) {
	const maxDepth = 64
	if depth > maxDepth {
		return persistor.Snapshot{}, errors.New("mongostore: delta base chain too deep")
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var doc document
	err := s.coll.FindOne(cctx, bson.M{"hash": hash}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return persistor.Snapshot{}, persistor.ErrNotFound
	}
	if err != nil {
		return persistor.Snapshot{}, err
	}

	if doc.BaseHash == "" {
		return persistor.Snapshot{
			ExecutionContextID: doc.ExecutionContextID,
			Timestamp:          doc.Timestamp,
			State:              doc.State,
			Hash:               doc.Hash,
		}, nil
	}

	base, err := s.reconstruct(ctx, doc.BaseHash, depth+1)
	if err != nil {
		return persistor.Snapshot{}, err
	}
	return persistor.Snapshot{
		ExecutionContextID: doc.ExecutionContextID,
		Timestamp:          doc.Timestamp,
		Hash:               doc.Hash,
		BaseHash:           doc.BaseHash,
		Patch:              doc.Patch,
		State:              persistor.ApplyPatch(base.State, doc.Patch),
	}, nil
}

func (s *Store) latestBase(ctx context.Context, executionContextID string) (persistor.Snapshot, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	var doc document
	err := s.coll.FindOne(cctx, bson.M{
		"execution_context_id": executionContextID,
		"base_hash":            bson.M{"$exists": false},
	}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return persistor.Snapshot{}, persistor.ErrNotFound
	}
	if err != nil {
		return persistor.Snapshot{}, err
	}
	return persistor.Snapshot{
		ExecutionContextID: doc.ExecutionContextID,
		Timestamp:          doc.Timestamp,
		State:              doc.State,
		Hash:               doc.Hash,
	}, nil
}

// CleanupOldSnapshots implements persistor.Persistor. It removes full
// snapshots older than 30 days that are not referenced as a base by any
// retained delta, freeing space in long-running deployments. Real
// retention windows are configurable by operators via the collection's
// TTL index; this pass handles the base-chain-safety concern the TTL
// index alone cannot.
func (s *Store) CleanupOldSnapshots(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	referenced, err := s.coll.Distinct(cctx, "base_hash", bson.M{"base_hash": bson.M{"$exists": true}})
	if err != nil {
		return err
	}
	_, err = s.coll.DeleteMany(cctx, bson.M{
		"timestamp": bson.M{"$lt": cutoff},
		"hash":      bson.M{"$nin": referenced},
	})
	return err
}
