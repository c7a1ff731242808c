package replication

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"mafiapanel/internal/clock"
	"mafiapanel/internal/domain"
	"mafiapanel/internal/store"
)

type fakeRemote struct {
	mu      sync.Mutex
	snap    Snapshot
	pulls   int
	pushes  int
	pullErr error
	pushErr error
}

func (f *fakeRemote) Pull(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	if f.pullErr != nil {
		return Snapshot{}, f.pullErr
	}
	return f.snap, nil
}

func (f *fakeRemote) Push(ctx context.Context, snap Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes++
	if f.pushErr != nil {
		return f.pushErr
	}
	f.snap = snap
	return nil
}

// stallingRemote never answers before the context ends
type stallingRemote struct {
	mu      sync.Mutex
	pushErr error
}

func (r *stallingRemote) Pull(ctx context.Context) (Snapshot, error) {
	<-ctx.Done()
	return Snapshot{}, ctx.Err()
}

func (r *stallingRemote) Push(ctx context.Context, snap Snapshot) error {
	<-ctx.Done()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushErr = ctx.Err()
	return r.pushErr
}

func (f *fakeRemote) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulls, f.pushes
}

func newSyncer(t *testing.T, remote Remote) (*Syncer, *store.Store, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(t0)
	local, err := store.New(context.Background(), nil, clk, store.DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	opts := DefaultOptions()
	return NewSyncer(local, remote, clk, opts, nil), local, clk
}

func TestSyncPullsMergesAndPushes(t *testing.T) {
	remote := &fakeRemote{snap: Snapshot{Sessions: []domain.Session{session(t, "remote", t0)}}}
	syncer, local, _ := newSyncer(t, remote)
	ctx := context.Background()

	if err := local.Put(ctx, session(t, "local", t0)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := syncer.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if _, err := local.Get("remote"); err != nil {
		t.Fatalf("remote session not pulled: %v", err)
	}
	if state, _ := local.State("local"); state != store.StateSynced {
		t.Fatalf("state = %q, want synced", state)
	}
	if len(remote.snap.Sessions) != 2 {
		t.Fatalf("pushed %d sessions, want 2", len(remote.snap.Sessions))
	}
}

func TestSchedulePushDebounces(t *testing.T) {
	remote := &fakeRemote{}
	syncer, _, clk := newSyncer(t, remote)

	for i := 0; i < 5; i++ {
		syncer.SchedulePush()
		clk.Advance(500 * time.Millisecond)
	}
	if _, pushes := remote.counts(); pushes != 0 {
		t.Fatalf("pushed %d times inside the debounce window", pushes)
	}
	clk.Advance(syncer.opts.Debounce)
	if _, pushes := remote.counts(); pushes != 1 {
		t.Fatalf("pushes = %d, want 1", pushes)
	}
}

func TestFailedPullIsRetriedNextCycle(t *testing.T) {
	remote := &fakeRemote{pullErr: errors.New("offline")}
	syncer, local, clk := newSyncer(t, remote)
	ctx := context.Background()

	if err := local.Put(ctx, session(t, "a", t0)); err != nil {
		t.Fatalf("put: %v", err)
	}
	syncer.SchedulePush()
	clk.Advance(syncer.opts.Debounce)
	if _, err := local.Get("a"); err != nil {
		t.Fatalf("local state lost after failed sync: %v", err)
	}

	remote.mu.Lock()
	remote.pullErr = nil
	remote.mu.Unlock()
	syncer.SchedulePush()
	clk.Advance(syncer.opts.Debounce)
	if pulls, pushes := remote.counts(); pulls != 2 || pushes != 1 {
		t.Fatalf("pulls = %d pushes = %d, want 2 and 1", pulls, pushes)
	}
}

func TestDeletePushesImmediately(t *testing.T) {
	remote := &fakeRemote{}
	syncer, local, _ := newSyncer(t, remote)
	ctx := context.Background()

	if err := local.Put(ctx, session(t, "a", t0)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := syncer.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(remote.snap.Deleted) != 1 || remote.snap.Deleted[0].ID != "a" {
		t.Fatalf("remote tombstones = %v", remote.snap.Deleted)
	}

	remote.snap.Sessions = []domain.Session{session(t, "a", t0.Add(time.Hour))}
	remote.snap.Deleted = nil
	if err := syncer.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if state, _ := local.State("a"); state != store.StateDeleted {
		t.Fatalf("state = %q, deleted session came back", state)
	}
}

func TestFlushRunsOnce(t *testing.T) {
	remote := &fakeRemote{}
	syncer, _, clk := newSyncer(t, remote)

	syncer.SchedulePush()
	syncer.Flush(context.Background())
	syncer.Flush(context.Background())
	clk.Advance(time.Minute)

	if pulls, pushes := remote.counts(); pulls != 0 || pushes != 1 {
		t.Fatalf("pulls = %d pushes = %d, want 0 and 1", pulls, pushes)
	}
	syncer.SchedulePush()
	if clk.Pending() != 0 {
		t.Fatalf("push scheduled after flush")
	}
}

func TestDivergedRemoteMarksStale(t *testing.T) {
	remote := &fakeRemote{snap: Snapshot{Sessions: []domain.Session{session(t, "a", t0)}}}
	syncer, local, _ := newSyncer(t, remote)
	ctx := context.Background()

	edited, err := session(t, "a", t0).AssignRole(1, domain.RoleDon, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := local.Put(ctx, edited); err != nil {
		t.Fatalf("put: %v", err)
	}

	remote.mu.Lock()
	remote.pushErr = errors.New("offline")
	remote.mu.Unlock()
	if err := syncer.Sync(ctx); err == nil {
		t.Fatalf("sync succeeded with a failing push")
	}
	if state, _ := local.State("a"); state != store.StateStale {
		t.Fatalf("state = %q, want stale", state)
	}

	remote.mu.Lock()
	remote.pushErr = nil
	remote.mu.Unlock()
	if err := syncer.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if state, _ := local.State("a"); state != store.StateSynced {
		t.Fatalf("state = %q, want synced", state)
	}
	if got, _ := local.Get("a"); got.RoleOf(1) != domain.RoleDon {
		t.Fatalf("local edit lost to the older remote copy")
	}
}

func TestPeriodicCyclesRunSyncHook(t *testing.T) {
	remote := &fakeRemote{}
	syncer, _, clk := newSyncer(t, remote)

	cycles := 0
	syncer.OnSync(func() { cycles++ })
	syncer.StartPeriodic(time.Minute)

	clk.Advance(time.Minute)
	if cycles != 1 {
		t.Fatalf("cycles = %d, want 1", cycles)
	}
	clk.Advance(time.Minute)
	if pulls, _ := remote.counts(); pulls != 2 || cycles != 2 {
		t.Fatalf("pulls = %d cycles = %d, want 2 and 2", pulls, cycles)
	}

	syncer.SchedulePush()
	clk.Advance(syncer.opts.Debounce)
	if cycles != 3 {
		t.Fatalf("debounced cycle skipped the hook: cycles = %d", cycles)
	}
}

func TestFlushGivesUpAfterTimeout(t *testing.T) {
	remote := &stallingRemote{}
	local, err := store.New(context.Background(), nil, clock.NewFake(t0), store.DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	opts := DefaultOptions()
	opts.FlushTimeout = 20 * time.Millisecond
	syncer := NewSyncer(local, remote, clock.NewFake(t0), opts, nil)

	start := time.Now()
	syncer.Flush(context.Background())
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("flush took %v", elapsed)
	}
	remote.mu.Lock()
	defer remote.mu.Unlock()
	if !errors.Is(remote.pushErr, context.DeadlineExceeded) {
		t.Fatalf("got %v, want %v", remote.pushErr, context.DeadlineExceeded)
	}
}

func TestDisabledSyncerIsNoop(t *testing.T) {
	syncer, local, clk := newSyncer(t, nil)
	syncer.SchedulePush()
	if clk.Pending() != 0 {
		t.Fatalf("timer armed without a remote")
	}
	if err := syncer.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, err := syncer.Delete(context.Background(), "x"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if state, _ := local.State("x"); state != store.StateDeleted {
		t.Fatalf("state = %q, want deleted", state)
	}
}

func TestHTTPRemote(t *testing.T) {
	var got Snapshot
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sync" || r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(Snapshot{Deleted: []domain.Tombstone{{ID: "x", DeletedAt: t0}}})
		case http.MethodPost:
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL+"/", "secret", time.Second)
	snap, err := remote.Pull(context.Background())
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(snap.Deleted) != 1 || snap.Deleted[0].ID != "x" {
		t.Fatalf("pulled = %+v", snap)
	}

	if err := remote.Push(context.Background(), Snapshot{Sessions: []domain.Session{session(t, "a", t0)}}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(got.Sessions) != 1 || got.Sessions[0].ID != "a" {
		t.Fatalf("pushed = %+v", got)
	}

	bad := NewHTTPRemote(srv.URL, "wrong", time.Second)
	if _, err := bad.Pull(context.Background()); err == nil {
		t.Fatalf("expected error for rejected token")
	}
}
