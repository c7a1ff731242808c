// Package syncserver implements the remote session store the panel
// replicates against: one merged snapshot per token owner.
package syncserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"mafiapanel/internal/replication"
)

// ErrNotFound is returned by backends that hold nothing for an owner
var ErrNotFound = errors.New("snapshot not found")

// Backend stores one snapshot per owner
type Backend interface {
	Load(ctx context.Context, owner string) (replication.Snapshot, error)
	Save(ctx context.Context, owner string, snap replication.Snapshot) error
}

// MemoryBackend keeps snapshots in process memory
type MemoryBackend struct {
	mu    sync.RWMutex
	snaps map[string]replication.Snapshot
}

// NewMemoryBackend creates an empty memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{snaps: make(map[string]replication.Snapshot)}
}

func (b *MemoryBackend) Load(ctx context.Context, owner string) (replication.Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap, ok := b.snaps[owner]
	if !ok {
		return replication.Snapshot{}, ErrNotFound
	}
	return snap, nil
}

func (b *MemoryBackend) Save(ctx context.Context, owner string, snap replication.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snaps[owner] = snap
	return nil
}

// Server handles GET and POST /sync
type Server struct {
	backend      Backend
	issuer       *TokenIssuer
	tombstoneTTL time.Duration
	now          func() time.Time
	logger       *slog.Logger

	// Serializes read-merge-write per process
	mu sync.Mutex
}

// NewServer creates a sync server
func NewServer(backend Backend, issuer *TokenIssuer, tombstoneTTL time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		backend:      backend,
		issuer:       issuer,
		tombstoneTTL: tombstoneTTL,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger,
	}
}

// Router returns the HTTP handler
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/sync").Subrouter()
	api.Use(s.issuer.RequireOwner)
	api.HandleFunc("", s.handlePull).Methods(http.MethodGet)
	api.HandleFunc("", s.handlePush).Methods(http.MethodPost)
	return r
}

func (s *Server) load(ctx context.Context, owner string) (replication.Snapshot, error) {
	snap, err := s.backend.Load(ctx, owner)
	if errors.Is(err, ErrNotFound) {
		return replication.Snapshot{}, nil
	}
	return snap, err
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFrom(r.Context())
	snap, err := s.load(r.Context(), owner)
	if err != nil {
		s.logger.Error("Failed to load snapshot", "owner", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}
	// Merging with itself prunes expired tombstones and normalizes order.
	snap = replication.Merge(snap, replication.Snapshot{}, s.now(), s.tombstoneTTL)
	writeJSON(w, http.StatusOK, snap)
}

type pushResponse struct {
	Sessions   int `json:"sessions"`
	Tombstones int `json:"tombstones"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	owner := OwnerFrom(r.Context())

	var incoming replication.Snapshot
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 32<<20)).Decode(&incoming); err != nil {
		writeError(w, http.StatusBadRequest, "invalid snapshot")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.load(r.Context(), owner)
	if err != nil {
		s.logger.Error("Failed to load snapshot", "owner", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}
	merged := replication.Merge(incoming, stored, s.now(), s.tombstoneTTL)
	if err := s.backend.Save(r.Context(), owner, merged); err != nil {
		s.logger.Error("Failed to save snapshot", "owner", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save snapshot")
		return
	}

	s.logger.Info("Snapshot stored", "owner", owner, "sessions", len(merged.Sessions), "tombstones", len(merged.Deleted))
	writeJSON(w, http.StatusOK, pushResponse{Sessions: len(merged.Sessions), Tombstones: len(merged.Deleted)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
