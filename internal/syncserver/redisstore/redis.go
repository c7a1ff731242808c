// Package redisstore keeps sync snapshots in Redis: a hash of session
// payloads and a sorted set of tombstones scored by deletion time.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mafiapanel/internal/domain"
	"mafiapanel/internal/replication"
)

// Store is a Redis snapshot backend
type Store struct {
	client *redis.Client
	prefix string
}

// New creates a Redis backend. Keys are namespaced under prefix.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "mafiapanel"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) sessionsKey(owner string) string {
	return s.prefix + ":sync:" + owner + ":sessions"
}

func (s *Store) tombstonesKey(owner string) string {
	return s.prefix + ":sync:" + owner + ":tombstones"
}

// Load reads the snapshot of owner. Payloads that fail to decode keep only
// their id.
func (s *Store) Load(ctx context.Context, owner string) (replication.Snapshot, error) {
	var snap replication.Snapshot

	data, err := s.client.HGetAll(ctx, s.sessionsKey(owner)).Result()
	if err != nil {
		return snap, fmt.Errorf("read sessions: %w", err)
	}
	for id, payload := range data {
		var session domain.Session
		if err := json.Unmarshal([]byte(payload), &session); err != nil {
			session = domain.Session{}
		}
		session.ID = id
		snap.Sessions = append(snap.Sessions, session)
	}

	members, err := s.client.ZRangeWithScores(ctx, s.tombstonesKey(owner), 0, -1).Result()
	if err != nil {
		return snap, fmt.Errorf("read tombstones: %w", err)
	}
	for _, m := range members {
		id, ok := m.Member.(string)
		if !ok {
			continue
		}
		snap.Deleted = append(snap.Deleted, domain.Tombstone{
			ID:        id,
			DeletedAt: time.UnixMilli(int64(m.Score)).UTC(),
		})
	}
	return snap, nil
}

// Save replaces the snapshot of owner in one transaction.
func (s *Store) Save(ctx context.Context, owner string, snap replication.Snapshot) error {
	fields := make(map[string]interface{}, len(snap.Sessions))
	for _, session := range snap.Sessions {
		data, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("encode session %s: %w", session.ID, err)
		}
		fields[session.ID] = data
	}
	members := make([]redis.Z, 0, len(snap.Deleted))
	for _, t := range snap.Deleted {
		members = append(members, redis.Z{Score: float64(t.DeletedAt.UnixMilli()), Member: t.ID})
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionsKey(owner), s.tombstonesKey(owner))
		if len(fields) > 0 {
			pipe.HSet(ctx, s.sessionsKey(owner), fields)
		}
		if len(members) > 0 {
			pipe.ZAdd(ctx, s.tombstonesKey(owner), members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
