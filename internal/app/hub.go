package app

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"mafiapanel/internal/clock"
	"mafiapanel/internal/domain"
	"mafiapanel/internal/replication"
	"mafiapanel/internal/store"
)

const (
	// DefaultIdleTimeout is how long an engine without spectators stays in
	// memory after its last change
	DefaultIdleTimeout = 2 * time.Hour

	cleanupInterval = 10 * time.Minute
)

var ErrSessionExists = errors.New("session already exists")

// SessionSummary is a row of the session list
type SessionSummary struct {
	ID          string          `json:"id"`
	SeriesID    string          `json:"seriesId,omitempty"`
	Mode        domain.Mode     `json:"mode"`
	TableNumber int             `json:"tableNumber"`
	GameNumber  int             `json:"gameNumber"`
	Phase       domain.Phase    `json:"phase"`
	Players     int             `json:"players"`
	SyncState   store.SyncState `json:"syncState"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// HubOptions configure a SessionHub
type HubOptions struct {
	Rules       domain.Rules
	IdleTimeout time.Duration
	Seed        int64 // zero seeds from the clock
}

// SessionHub manages the live engines of the sessions in the store
type SessionHub struct {
	engines map[string]*SessionEngine
	mu      sync.RWMutex

	store  *store.Store
	syncer *replication.Syncer
	clock  clock.Clock
	rng    *rand.Rand
	opts   HubOptions
	logger *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewSessionHub creates a hub over a local store and its syncer
func NewSessionHub(st *store.Store, syncer *replication.Syncer, clk clock.Clock, opts HubOptions, logger *slog.Logger) *SessionHub {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	seed := opts.Seed
	if seed == 0 {
		seed = clk.Now().UnixNano()
	}
	h := &SessionHub{
		engines: make(map[string]*SessionEngine),
		store:   st,
		syncer:  syncer,
		clock:   clk,
		rng:     rand.New(rand.NewSource(seed)),
		opts:    opts,
		logger:  logger,
		done:    make(chan struct{}),
	}
	// Debounced and periodic cycles refresh live engines too.
	if syncer != nil {
		syncer.OnSync(h.refresh)
	}
	return h
}

// Start launches the idle cleanup loop
func (h *SessionHub) Start() {
	go h.cleanupLoop()
}

func (h *SessionHub) newEngine(session domain.Session) *SessionEngine {
	var replicator Replicator
	if h.syncer != nil {
		replicator = h.syncer
	}
	return NewSessionEngine(session, EngineDeps{
		Store:      h.store,
		Replicator: replicator,
		Clock:      h.clock,
		Rand:       rand.New(rand.NewSource(h.rng.Int63())),
		Logger:     h.logger,
	})
}

// CreateSession opens a new session with the hub's default rules unless the
// input carries its own.
func (h *SessionHub) CreateSession(ctx context.Context, input domain.SessionInput) (*SessionEngine, error) {
	if input.Rules == nil {
		rules := h.opts.Rules
		input.Rules = &rules
	}
	session, err := domain.NewSession(input, h.clock.Now(), nil)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := h.store.Get(session.ID); err == nil || errors.Is(err, domain.ErrSessionDeleted) {
		return nil, ErrSessionExists
	}
	if err := h.store.Put(ctx, session); err != nil {
		return nil, err
	}
	engine := h.newEngine(session)
	h.engines[session.ID] = engine
	if h.syncer != nil {
		h.syncer.SchedulePush()
	}

	h.logger.Info("session created", "sessionID", session.ID, "mode", session.Mode, "players", len(session.Players))

	return engine, nil
}

// GetSession returns the engine of a session, loading it from the store when
// it is not live.
func (h *SessionHub) GetSession(id string) (*SessionEngine, error) {
	h.mu.RLock()
	engine, ok := h.engines[id]
	h.mu.RUnlock()
	if ok {
		return engine, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if engine, ok := h.engines[id]; ok {
		return engine, nil
	}
	session, err := h.store.Get(id)
	if err != nil {
		return nil, err
	}
	engine = h.newEngine(session)
	engine.Resume()
	h.engines[id] = engine

	h.logger.Debug("session loaded", "sessionID", id)

	return engine, nil
}

// ListSessions returns summaries of every stored session, most recently
// updated first.
func (h *SessionHub) ListSessions() []SessionSummary {
	sessions := h.store.List()
	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		state, _ := h.store.State(s.ID)
		out = append(out, SessionSummary{
			ID:          s.ID,
			SeriesID:    s.SeriesID,
			Mode:        s.Mode,
			TableNumber: s.TableNumber,
			GameNumber:  s.Game.Number,
			Phase:       s.Game.Phase,
			Players:     len(s.Players),
			SyncState:   state,
			UpdatedAt:   s.UpdatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// DeleteSession closes the engine, tombstones the session and pushes the
// deletion.
func (h *SessionHub) DeleteSession(ctx context.Context, id string) error {
	h.mu.Lock()
	engine, live := h.engines[id]
	delete(h.engines, id)
	h.mu.Unlock()

	if !live {
		if _, err := h.store.Get(id); err != nil {
			return err
		}
	} else {
		engine.Close(true)
	}

	var err error
	if h.syncer != nil {
		_, err = h.syncer.Delete(ctx, id)
	} else {
		_, err = h.store.Delete(ctx, id)
	}
	if err != nil {
		return err
	}

	h.logger.Info("session deleted", "sessionID", id)
	return nil
}

// Sync runs one replication cycle. Live engines are refreshed from its
// result through the syncer's hook.
func (h *SessionHub) Sync(ctx context.Context) error {
	if h.syncer == nil || !h.syncer.Enabled() {
		return nil
	}
	return h.syncer.Sync(ctx)
}

// SyncState returns the replication state of a session
func (h *SessionHub) SyncState(id string) (store.SyncState, bool) {
	return h.store.State(id)
}

// refresh hands newer replicated copies to live engines and closes engines
// whose sessions were deleted elsewhere.
func (h *SessionHub) refresh() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, engine := range h.engines {
		session, err := h.store.Get(id)
		switch {
		case errors.Is(err, domain.ErrSessionDeleted), errors.Is(err, domain.ErrSessionNotFound):
			engine.Close(true)
			delete(h.engines, id)
			h.logger.Info("session removed by replication", "sessionID", id)
		case err == nil:
			if engine.Replace(session) {
				h.logger.Debug("session replaced by newer copy", "sessionID", id)
			}
		}
	}
}

// GetSessionCount returns the number of live engines
func (h *SessionHub) GetSessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.engines)
}

// GetSpectatorCount returns the total number of spectators across engines
func (h *SessionHub) GetSpectatorCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, engine := range h.engines {
		total += engine.ClientCount()
	}
	return total
}

// Close shuts down the hub and all engines, then flushes pending
// replication once.
func (h *SessionHub) Close(ctx context.Context) {
	h.closeOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for _, engine := range h.engines {
			engine.Close(false)
		}
		h.engines = make(map[string]*SessionEngine)
		h.mu.Unlock()

		if h.syncer != nil {
			h.syncer.Flush(ctx)
		}
	})
}

// cleanupLoop periodically unloads idle engines and picks up replicated
// changes
func (h *SessionHub) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.cleanupIdleEngines()
			h.refresh()
			h.store.Prune(context.Background())
		}
	}
}

// cleanupIdleEngines unloads engines that have no spectators and no recent
// changes. Their sessions stay in the store.
func (h *SessionHub) cleanupIdleEngines() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	for id, engine := range h.engines {
		if engine.ClientCount() == 0 && now.Sub(engine.LastActive()) > h.opts.IdleTimeout {
			engine.Close(false)
			delete(h.engines, id)
			h.logger.Info("idle session unloaded", "sessionID", id)
		}
	}
}
