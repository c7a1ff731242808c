package replication

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mafiapanel/internal/clock"
	"mafiapanel/internal/domain"
)

// LocalStore is the side of the session store replication works against
type LocalStore interface {
	Snapshot() ([]domain.Session, []domain.Tombstone)
	Apply(ctx context.Context, sessions []domain.Session, tombstones []domain.Tombstone, remote []domain.Session) error
	MarkSynced(ctx context.Context, sessions []domain.Session) error
	Delete(ctx context.Context, id string) (domain.Tombstone, error)
}

// Options tunes the syncer
type Options struct {
	Debounce     time.Duration
	TombstoneTTL time.Duration
	Timeout      time.Duration // Per sync cycle started by a timer
	FlushTimeout time.Duration // Bounds the shutdown push
}

// DefaultOptions returns the default syncer options
func DefaultOptions() Options {
	return Options{
		Debounce:     2 * time.Second,
		TombstoneTTL: 24 * time.Hour,
		Timeout:      15 * time.Second,
		FlushTimeout: 5 * time.Second,
	}
}

// Syncer runs pull, merge, store and push cycles. A nil remote turns every
// network step into a no-op so the panel works offline.
type Syncer struct {
	local  LocalStore
	remote Remote
	clock  clock.Clock
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	pending   clock.Timer
	periodic  clock.Timer
	stopped   bool
	afterSync func()

	syncMu    sync.Mutex
	flushOnce sync.Once
}

// NewSyncer creates a syncer
func NewSyncer(local LocalStore, remote Remote, clk clock.Clock, opts Options, logger *slog.Logger) *Syncer {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = DefaultOptions().FlushTimeout
	}
	return &Syncer{
		local:  local,
		remote: remote,
		clock:  clk,
		opts:   opts,
		logger: logger,
	}
}

// Enabled reports whether a remote is configured.
func (s *Syncer) Enabled() bool {
	return s != nil && s.remote != nil
}

// OnSync registers fn to run after every successful cycle, whichever way it
// was started.
func (s *Syncer) OnSync(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterSync = fn
}

// Sync pulls the remote snapshot, merges it with local state, stores the
// result and pushes it back.
func (s *Syncer) Sync(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.cycle(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	fn := s.afterSync
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (s *Syncer) cycle(ctx context.Context) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	remote, err := s.remote.Pull(ctx)
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}

	sessions, tombs := s.local.Snapshot()
	merged := Merge(Snapshot{Sessions: sessions, Deleted: tombs}, remote, s.clock.Now(), s.opts.TombstoneTTL)
	if err := s.local.Apply(ctx, merged.Sessions, merged.Deleted, remote.Sessions); err != nil {
		return fmt.Errorf("apply merge: %w", err)
	}

	if err := s.remote.Push(ctx, merged); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	if err := s.local.MarkSynced(ctx, merged.Sessions); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	s.logger.Debug("Sync complete", "sessions", len(merged.Sessions), "tombstones", len(merged.Deleted))
	return nil
}

// SchedulePush coalesces bursts of mutations into one sync after the
// debounce window.
func (s *Syncer) SchedulePush() {
	if !s.Enabled() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if s.pending != nil {
		s.pending.Stop()
	}
	s.pending = s.clock.AfterFunc(s.opts.Debounce, func() {
		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()
		s.runCycle("debounced")
	})
}

// StartPeriodic syncs every interval until Flush.
func (s *Syncer) StartPeriodic(interval time.Duration) {
	if !s.Enabled() || interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.periodic = s.clock.AfterFunc(interval, func() {
		s.runCycle("periodic")
		s.StartPeriodic(interval)
	})
}

func (s *Syncer) runCycle(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	defer cancel()
	if err := s.Sync(ctx); err != nil {
		s.logger.Warn("Sync failed, will retry", "reason", reason, "error", err)
	}
}

// Delete tombstones a session locally and pushes right away. A failed push
// is logged; the tombstone goes out with the next cycle.
func (s *Syncer) Delete(ctx context.Context, id string) (domain.Tombstone, error) {
	t, err := s.local.Delete(ctx, id)
	if err != nil {
		return domain.Tombstone{}, err
	}
	if s.Enabled() {
		if err := s.Sync(ctx); err != nil {
			s.logger.Warn("Push after delete failed", "sessionID", id, "error", err)
		}
	}
	return t, nil
}

// Flush stops pending timers and pushes the current local state once, giving
// up after FlushTimeout. Later calls do nothing.
func (s *Syncer) Flush(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	s.flushOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		if s.pending != nil {
			s.pending.Stop()
			s.pending = nil
		}
		if s.periodic != nil {
			s.periodic.Stop()
			s.periodic = nil
		}
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(ctx, s.opts.FlushTimeout)
		defer cancel()

		sessions, tombs := s.local.Snapshot()
		if err := s.remote.Push(ctx, Snapshot{Sessions: sessions, Deleted: tombs}); err != nil {
			s.logger.Warn("Shutdown flush failed", "error", err)
			return
		}
		if err := s.local.MarkSynced(ctx, sessions); err != nil {
			s.logger.Warn("Failed to record flushed sessions", "error", err)
		}
		s.logger.Info("Flushed sessions", "sessions", len(sessions))
	})
}
