package store

import (
	"context"
	"sync"

	"mafiapanel/internal/domain"
)

// MemoryBackend keeps records in process memory
type MemoryBackend struct {
	mu         sync.RWMutex
	sessions   map[string]Record
	tombstones map[string]domain.Tombstone
}

// NewMemoryBackend creates an empty memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		sessions:   make(map[string]Record),
		tombstones: make(map[string]domain.Tombstone),
	}
}

func (b *MemoryBackend) LoadSessions(ctx context.Context) ([]Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Record, 0, len(b.sessions))
	for _, rec := range b.sessions {
		out = append(out, Record{Session: rec.Session.Clone(), State: rec.State})
	}
	return out, nil
}

func (b *MemoryBackend) SaveSession(ctx context.Context, rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[rec.Session.ID] = Record{Session: rec.Session.Clone(), State: rec.State}
	return nil
}

func (b *MemoryBackend) DeleteSession(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, id)
	return nil
}

func (b *MemoryBackend) LoadTombstones(ctx context.Context) ([]domain.Tombstone, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Tombstone, 0, len(b.tombstones))
	for _, t := range b.tombstones {
		out = append(out, t)
	}
	return out, nil
}

func (b *MemoryBackend) SaveTombstone(ctx context.Context, t domain.Tombstone) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tombstones[t.ID] = t
	return nil
}

func (b *MemoryBackend) DeleteTombstone(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tombstones, id)
	return nil
}
