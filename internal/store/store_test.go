package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"mafiapanel/internal/clock"
	"mafiapanel/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)

func session(t *testing.T, id string, at time.Time) domain.Session {
	t.Helper()
	players := make([]domain.Player, 7)
	for i := range players {
		players[i] = domain.Player{Seat: i + 1, Name: fmt.Sprintf("P%d", i+1)}
	}
	s, err := domain.NewSession(domain.SessionInput{ID: id, Players: players}, at, nil)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s
}

func newStore(t *testing.T, opts Options) (*Store, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(t0)
	s, err := New(context.Background(), NewMemoryBackend(), clk, opts, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s, clk
}

func TestPutGetAndStates(t *testing.T) {
	s, _ := newStore(t, DefaultOptions())
	ctx := context.Background()

	if _, err := s.Get("missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}

	a := session(t, "a", t0)
	if err := s.Put(ctx, a); err != nil {
		t.Fatalf("put: %v", err)
	}
	if state, _ := s.State("a"); state != StateLocalOnly {
		t.Fatalf("state = %q, want local_only", state)
	}

	if err := s.Apply(ctx, []domain.Session{a}, nil, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if state, _ := s.State("a"); state != StateLocalOnly {
		t.Fatalf("state = %q, want local_only before the push", state)
	}
	if err := s.MarkSynced(ctx, []domain.Session{a}); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	if state, _ := s.State("a"); state != StateSynced {
		t.Fatalf("state = %q, want synced", state)
	}

	// A local edit alone does not make the copy stale.
	changed, _ := a.AssignRole(1, domain.RoleDon, t0.Add(time.Minute))
	if err := s.Put(ctx, changed); err != nil {
		t.Fatalf("put: %v", err)
	}
	if state, _ := s.State("a"); state != StateSynced {
		t.Fatalf("state = %q, want synced", state)
	}

	// The pulled remote copy still carries the old version.
	if err := s.Apply(ctx, []domain.Session{changed}, nil, []domain.Session{a}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if state, _ := s.State("a"); state != StateStale {
		t.Fatalf("state = %q, want stale", state)
	}
	if err := s.MarkSynced(ctx, []domain.Session{a}); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	if state, _ := s.State("a"); state != StateStale {
		t.Fatalf("state = %q, push of an older copy cleared stale", state)
	}
	if err := s.MarkSynced(ctx, []domain.Session{changed}); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	if state, _ := s.State("a"); state != StateSynced {
		t.Fatalf("state = %q, want synced", state)
	}

	if _, err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if state, _ := s.State("a"); state != StateDeleted {
		t.Fatalf("state = %q, want deleted", state)
	}
	if err := s.Put(ctx, changed); !errors.Is(err, domain.ErrSessionDeleted) {
		t.Fatalf("put after delete: err = %v, want ErrSessionDeleted", err)
	}
	if _, err := s.Get("a"); !errors.Is(err, domain.ErrSessionDeleted) {
		t.Fatalf("get after delete: err = %v", err)
	}
}

func TestEvictsOldestBeyondMax(t *testing.T) {
	s, _ := newStore(t, Options{MaxSessions: 2})
	ctx := context.Background()
	for i, id := range []string{"old", "mid", "new"} {
		if err := s.Put(ctx, session(t, id, t0.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
	if _, err := s.Get("old"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("oldest kept: err = %v", err)
	}
	list := s.List()
	if len(list) != 2 || list[0].ID != "new" || list[1].ID != "mid" {
		t.Fatalf("list = %v", list)
	}
}

func TestPruneExpires(t *testing.T) {
	s, clk := newStore(t, Options{SessionTTL: time.Hour, TombstoneTTL: 10 * time.Minute})
	ctx := context.Background()

	if err := s.Put(ctx, session(t, "a", t0)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	clk.Advance(11 * time.Minute)
	s.Prune(ctx)
	if _, ok := s.State("b"); ok {
		t.Fatalf("tombstone outlived its ttl")
	}
	if _, err := s.Get("a"); err != nil {
		t.Fatalf("session dropped early: %v", err)
	}

	clk.Advance(time.Hour)
	s.Prune(ctx)
	if _, err := s.Get("a"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expired session kept: err = %v", err)
	}
}

func TestApplyKeepsNewerLocalCopy(t *testing.T) {
	s, _ := newStore(t, DefaultOptions())
	ctx := context.Background()

	remote := session(t, "a", t0)
	local, _ := remote.AssignRole(1, domain.RoleDon, t0.Add(time.Minute))
	if err := s.Put(ctx, local); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Apply(ctx, []domain.Session{remote}, nil, []domain.Session{remote}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, _ := s.Get("a")
	if got.RoleOf(1) != domain.RoleDon {
		t.Fatalf("older remote copy replaced the local one")
	}
	if state, _ := s.State("a"); state != StateStale {
		t.Fatalf("state = %q, want stale", state)
	}

	if err := s.Apply(ctx, nil, []domain.Tombstone{{ID: "a", DeletedAt: t0}}, nil); err != nil {
		t.Fatalf("apply tombstone: %v", err)
	}
	if _, err := s.Get("a"); !errors.Is(err, domain.ErrSessionDeleted) {
		t.Fatalf("tombstoned session kept: err = %v", err)
	}
}
