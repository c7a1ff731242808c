// Package store keeps the device-local set of sessions and tombstones. The
// in-memory index is authoritative for reads; a Backend persists it.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"mafiapanel/internal/clock"
	"mafiapanel/internal/domain"
)

// SyncState is how a local session relates to the remote store as of the
// last sync cycle. Local edits between cycles keep the state.
type SyncState string

const (
	StateLocalOnly SyncState = "local_only" // Not on the remote yet
	StateSynced    SyncState = "synced"
	StateStale     SyncState = "stale" // Remote copy diverged, not pushed back yet
	StateDeleted   SyncState = "deleted"
)

// Record is a session together with its sync state
type Record struct {
	Session domain.Session
	State   SyncState
}

// Backend persists records and tombstones
type Backend interface {
	LoadSessions(ctx context.Context) ([]Record, error)
	SaveSession(ctx context.Context, rec Record) error
	DeleteSession(ctx context.Context, id string) error
	LoadTombstones(ctx context.Context) ([]domain.Tombstone, error)
	SaveTombstone(ctx context.Context, t domain.Tombstone) error
	DeleteTombstone(ctx context.Context, id string) error
}

// Options bounds what the store keeps
type Options struct {
	MaxSessions  int
	SessionTTL   time.Duration // Measured from creation
	TombstoneTTL time.Duration
}

// DefaultOptions returns the default store bounds
func DefaultOptions() Options {
	return Options{
		MaxSessions:  20,
		SessionTTL:   7 * 24 * time.Hour,
		TombstoneTTL: 24 * time.Hour,
	}
}

// Store is the local session store
type Store struct {
	mu         sync.RWMutex
	backend    Backend
	clock      clock.Clock
	opts       Options
	logger     *slog.Logger
	records    map[string]*Record
	tombstones map[string]domain.Tombstone
}

// New opens the store and loads everything the backend holds. A nil backend
// keeps state in memory only.
func New(ctx context.Context, backend Backend, clk clock.Clock, opts Options, logger *slog.Logger) (*Store, error) {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		backend:    backend,
		clock:      clk,
		opts:       opts,
		logger:     logger,
		records:    make(map[string]*Record),
		tombstones: make(map[string]domain.Tombstone),
	}

	recs, err := backend.LoadSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	for _, rec := range recs {
		rec := rec
		rec.Session = rec.Session.Normalized()
		if rec.State == "" {
			rec.State = StateLocalOnly
		}
		s.records[rec.Session.ID] = &rec
	}

	tombs, err := backend.LoadTombstones(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tombstones: %w", err)
	}
	for _, t := range tombs {
		s.tombstones[t.ID] = t
	}

	s.mu.Lock()
	s.pruneLocked(ctx, clk.Now())
	s.mu.Unlock()

	logger.Info("Session store loaded", "sessions", len(s.records), "tombstones", len(s.tombstones))
	return s, nil
}

// Get returns a session by id.
func (s *Store) Get(id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.tombstones[id]; ok {
		return domain.Session{}, domain.ErrSessionDeleted
	}
	rec, ok := s.records[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return rec.Session, nil
}

// State returns the sync state of a session. Tombstoned ids report deleted.
func (s *Store) State(id string) (SyncState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.tombstones[id]; ok {
		return StateDeleted, true
	}
	rec, ok := s.records[id]
	if !ok {
		return "", false
	}
	return rec.State, true
}

// List returns all sessions, most recently updated first.
func (s *Store) List() []domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Session, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Session)
	}
	sortByUpdated(out)
	return out
}

// Put stores a local change of a session.
func (s *Store) Put(ctx context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tombstones[session.ID]; ok {
		return domain.ErrSessionDeleted
	}

	state := StateLocalOnly
	if prev, ok := s.records[session.ID]; ok {
		state = prev.State
	}
	rec := &Record{Session: session, State: state}
	if err := s.backend.SaveSession(ctx, *rec); err != nil {
		return fmt.Errorf("save session %s: %w", session.ID, err)
	}
	s.records[session.ID] = rec
	s.evictLocked(ctx)
	return nil
}

// Delete removes a session and tombstones its id.
func (s *Store) Delete(ctx context.Context, id string) (domain.Tombstone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := domain.Tombstone{ID: id, DeletedAt: s.clock.Now()}
	if err := s.backend.SaveTombstone(ctx, t); err != nil {
		return domain.Tombstone{}, fmt.Errorf("save tombstone %s: %w", id, err)
	}
	s.tombstones[id] = t
	s.dropLocked(ctx, id)
	return t, nil
}

// Snapshot returns the sessions and live tombstones for replication.
func (s *Store) Snapshot() ([]domain.Session, []domain.Tombstone) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]domain.Session, 0, len(s.records))
	for _, rec := range s.records {
		sessions = append(sessions, rec.Session)
	}
	sortByUpdated(sessions)

	tombs := make([]domain.Tombstone, 0, len(s.tombstones))
	for _, t := range s.tombstones {
		tombs = append(tombs, t)
	}
	sort.Slice(tombs, func(i, j int) bool { return tombs[i].ID < tombs[j].ID })
	return sessions, tombs
}

// Apply installs the result of a sync. A merged session replaces the local
// copy unless that changed after the snapshot was taken. Each kept copy is
// compared with the pulled remote one: equal is synced, different is stale,
// absent is local_only. Sessions the merge does not mention are left alone;
// tombstoned ids are dropped.
func (s *Store) Apply(ctx context.Context, sessions []domain.Session, tombstones []domain.Tombstone, remote []domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	remoteAt := make(map[string]time.Time, len(remote))
	for _, r := range remote {
		remoteAt[r.ID] = r.UpdatedAt
	}

	for _, t := range tombstones {
		if cur, ok := s.tombstones[t.ID]; ok && !t.DeletedAt.After(cur.DeletedAt) {
			continue
		}
		if err := s.backend.SaveTombstone(ctx, t); err != nil {
			return fmt.Errorf("save tombstone %s: %w", t.ID, err)
		}
		s.tombstones[t.ID] = t
	}
	for id := range s.tombstones {
		s.dropLocked(ctx, id)
	}

	for _, session := range sessions {
		if _, dead := s.tombstones[session.ID]; dead {
			continue
		}
		kept := session.Normalized()
		if cur, ok := s.records[session.ID]; ok && cur.Session.UpdatedAt.After(session.UpdatedAt) {
			kept = cur.Session
		}
		rec := &Record{Session: kept, State: stateAgainst(kept, remoteAt)}
		if err := s.backend.SaveSession(ctx, *rec); err != nil {
			return fmt.Errorf("save session %s: %w", session.ID, err)
		}
		s.records[session.ID] = rec
	}

	s.pruneLocked(ctx, s.clock.Now())
	return nil
}

func stateAgainst(session domain.Session, remoteAt map[string]time.Time) SyncState {
	at, ok := remoteAt[session.ID]
	switch {
	case !ok:
		return StateLocalOnly
	case at.Equal(session.UpdatedAt):
		return StateSynced
	default:
		return StateStale
	}
}

// MarkSynced records a successful push of sessions. Copies edited since the
// push keep their state.
func (s *Store) MarkSynced(ctx context.Context, sessions []domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, session := range sessions {
		rec, ok := s.records[session.ID]
		if !ok || rec.State == StateSynced || !rec.Session.UpdatedAt.Equal(session.UpdatedAt) {
			continue
		}
		next := &Record{Session: rec.Session, State: StateSynced}
		if err := s.backend.SaveSession(ctx, *next); err != nil {
			return fmt.Errorf("save session %s: %w", session.ID, err)
		}
		s.records[session.ID] = next
	}
	return nil
}

// Prune drops expired sessions and tombstones.
func (s *Store) Prune(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(ctx, s.clock.Now())
}

func (s *Store) pruneLocked(ctx context.Context, now time.Time) {
	for id, t := range s.tombstones {
		if t.Expired(now, s.opts.TombstoneTTL) {
			if err := s.backend.DeleteTombstone(ctx, id); err != nil {
				s.logger.Warn("Failed to delete expired tombstone", "sessionID", id, "error", err)
				continue
			}
			delete(s.tombstones, id)
		}
	}
	if s.opts.SessionTTL > 0 {
		for id, rec := range s.records {
			if now.Sub(rec.Session.CreatedAt) > s.opts.SessionTTL {
				s.logger.Info("Session expired", "sessionID", id)
				s.dropLocked(ctx, id)
			}
		}
	}
	s.evictLocked(ctx)
}

func (s *Store) evictLocked(ctx context.Context) {
	if s.opts.MaxSessions <= 0 || len(s.records) <= s.opts.MaxSessions {
		return
	}
	all := make([]domain.Session, 0, len(s.records))
	for _, rec := range s.records {
		all = append(all, rec.Session)
	}
	sortByUpdated(all)
	for _, session := range all[s.opts.MaxSessions:] {
		s.logger.Info("Evicting session", "sessionID", session.ID)
		s.dropLocked(ctx, session.ID)
	}
}

func (s *Store) dropLocked(ctx context.Context, id string) {
	if _, ok := s.records[id]; !ok {
		return
	}
	if err := s.backend.DeleteSession(ctx, id); err != nil {
		s.logger.Warn("Failed to delete session", "sessionID", id, "error", err)
	}
	delete(s.records, id)
}

func sortByUpdated(sessions []domain.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
}
