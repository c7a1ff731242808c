// Package mongostore keeps sync snapshots in MongoDB, one document per
// owner.
package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mafiapanel/internal/domain"
	"mafiapanel/internal/replication"
	"mafiapanel/internal/syncserver"
)

type tombstoneDoc struct {
	ID        string    `bson:"id"`
	DeletedAt time.Time `bson:"deletedAt"`
}

// Sessions are stored as their JSON encoding so the wire format stays the
// single source of truth for field names.
type snapshotDoc struct {
	Owner     string         `bson:"_id"`
	Sessions  []string       `bson:"sessions"`
	Deleted   []tombstoneDoc `bson:"deleted"`
	UpdatedAt time.Time      `bson:"updatedAt"`
}

// Store is a MongoDB snapshot backend
type Store struct {
	collection *mongo.Collection
}

// New creates a backend over the snapshots collection of db
func New(db *mongo.Database) *Store {
	return &Store{collection: db.Collection("sync_snapshots")}
}

// Load reads the snapshot of owner.
func (s *Store) Load(ctx context.Context, owner string) (replication.Snapshot, error) {
	var doc snapshotDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": owner}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return replication.Snapshot{}, syncserver.ErrNotFound
		}
		return replication.Snapshot{}, fmt.Errorf("find snapshot: %w", err)
	}

	snap := replication.Snapshot{}
	for _, payload := range doc.Sessions {
		var session domain.Session
		if err := json.Unmarshal([]byte(payload), &session); err != nil || session.ID == "" {
			continue
		}
		snap.Sessions = append(snap.Sessions, session)
	}
	for _, t := range doc.Deleted {
		snap.Deleted = append(snap.Deleted, domain.Tombstone{ID: t.ID, DeletedAt: t.DeletedAt.UTC()})
	}
	return snap, nil
}

// Save upserts the snapshot of owner.
func (s *Store) Save(ctx context.Context, owner string, snap replication.Snapshot) error {
	doc := snapshotDoc{
		Owner:     owner,
		Sessions:  make([]string, 0, len(snap.Sessions)),
		Deleted:   make([]tombstoneDoc, 0, len(snap.Deleted)),
		UpdatedAt: time.Now().UTC(),
	}
	for _, session := range snap.Sessions {
		data, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("encode session %s: %w", session.ID, err)
		}
		doc.Sessions = append(doc.Sessions, string(data))
	}
	for _, t := range snap.Deleted {
		doc.Deleted = append(doc.Deleted, tombstoneDoc{ID: t.ID, DeletedAt: t.DeletedAt})
	}

	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": owner}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
