package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"mafiapanel/internal/domain"
	"mafiapanel/internal/store"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSession(t *testing.T, id string, now time.Time) domain.Session {
	t.Helper()
	players := make([]domain.Player, 7)
	for i := range players {
		players[i] = domain.Player{Seat: i + 1, Name: fmt.Sprintf("P%d", i+1)}
	}
	s, err := domain.NewSession(domain.SessionInput{ID: id, Players: players}, now, nil)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	t.Parallel()

	st := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 1, 19, 0, 0, 0, time.UTC)

	session := testSession(t, "s-1", now)
	session, err := session.AssignRole(1, domain.RoleDon, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("assign role: %v", err)
	}
	if err := st.SaveSession(ctx, store.Record{Session: session, State: store.StateSynced}); err != nil {
		t.Fatalf("save session: %v", err)
	}

	recs, err := st.LoadSessions(ctx)
	if err != nil {
		t.Fatalf("load sessions: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("sessions = %d, want 1", len(recs))
	}
	got := recs[0]
	if got.State != store.StateSynced {
		t.Fatalf("state = %q, want synced", got.State)
	}
	if got.Session.RoleOf(1) != domain.RoleDon {
		t.Fatalf("role = %q, want don", got.Session.RoleOf(1))
	}
	if !got.Session.UpdatedAt.Equal(session.UpdatedAt) {
		t.Fatalf("updated_at = %v, want %v", got.Session.UpdatedAt, session.UpdatedAt)
	}

	session.SeriesID = "finals"
	if err := st.SaveSession(ctx, store.Record{Session: session, State: store.StateStale}); err != nil {
		t.Fatalf("upsert session: %v", err)
	}
	recs, _ = st.LoadSessions(ctx)
	if len(recs) != 1 || recs[0].Session.SeriesID != "finals" || recs[0].State != store.StateStale {
		t.Fatalf("after upsert = %+v", recs)
	}

	if err := st.DeleteSession(ctx, "s-1"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if recs, _ = st.LoadSessions(ctx); len(recs) != 0 {
		t.Fatalf("sessions after delete = %d", len(recs))
	}
}

func TestMalformedPayloadLoadsWithDefaults(t *testing.T) {
	t.Parallel()

	st := openTempStore(t)
	ctx := context.Background()
	updated := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	if _, err := st.sqlDB.ExecContext(ctx,
		`INSERT INTO sessions (id, payload, sync_state, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		"broken", "{not json", "synced", toMillis(updated), toMillis(updated),
	); err != nil {
		t.Fatalf("insert: %v", err)
	}

	recs, err := st.LoadSessions(ctx)
	if err != nil {
		t.Fatalf("load sessions: %v", err)
	}
	if len(recs) != 1 || recs[0].Session.ID != "broken" || !recs[0].Session.UpdatedAt.Equal(updated) {
		t.Fatalf("records = %+v", recs)
	}
	if n := recs[0].Session.Normalized(); n.Game.Phase != domain.PhaseRoles {
		t.Fatalf("normalized phase = %q, want roles", n.Game.Phase)
	}
}

func TestMistypedFieldKeepsRestOfPayload(t *testing.T) {
	t.Parallel()

	st := openTempStore(t)
	ctx := context.Background()
	updated := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	payload := `{"id":"mixed","mode":"classic","tableNumber":"3",` +
		`"players":[{"seat":1,"name":"Anna"},{"seat":2,"name":"Boris"},{"seat":3,"name":"Vera"}],` +
		`"game":{"number":2,"phase":"day","day":1}}`
	if _, err := st.sqlDB.ExecContext(ctx,
		`INSERT INTO sessions (id, payload, sync_state, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		"mixed", payload, "synced", toMillis(updated), toMillis(updated),
	); err != nil {
		t.Fatalf("insert: %v", err)
	}

	recs, err := st.LoadSessions(ctx)
	if err != nil {
		t.Fatalf("load sessions: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("sessions = %d, want 1", len(recs))
	}
	got := recs[0].Session
	if len(got.Players) != 3 || got.Players[1].Name != "Boris" {
		t.Fatalf("players = %+v, want the stored roster", got.Players)
	}
	if got.Game.Phase != domain.PhaseDay || got.Game.Number != 2 {
		t.Fatalf("game = %s #%d, want day #2", got.Game.Phase, got.Game.Number)
	}
	if got.TableNumber != 0 {
		t.Fatalf("table number = %d, want 0", got.TableNumber)
	}
}

func TestTombstones(t *testing.T) {
	t.Parallel()

	st := openTempStore(t)
	ctx := context.Background()
	at := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	if err := st.SaveTombstone(ctx, domain.Tombstone{ID: "gone", DeletedAt: at}); err != nil {
		t.Fatalf("save tombstone: %v", err)
	}
	tombs, err := st.LoadTombstones(ctx)
	if err != nil {
		t.Fatalf("load tombstones: %v", err)
	}
	if len(tombs) != 1 || tombs[0].ID != "gone" || !tombs[0].DeletedAt.Equal(at) {
		t.Fatalf("tombstones = %+v", tombs)
	}
	if err := st.DeleteTombstone(ctx, "gone"); err != nil {
		t.Fatalf("delete tombstone: %v", err)
	}
	if tombs, _ = st.LoadTombstones(ctx); len(tombs) != 0 {
		t.Fatalf("tombstones after delete = %+v", tombs)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	local, err := store.New(ctx, first, nil, store.DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := local.Put(ctx, testSession(t, "kept", now)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := local.Delete(ctx, "dropped"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_ = first.Close()

	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	reloaded, err := store.New(ctx, second, nil, store.DefaultOptions(), nil)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	if _, err := reloaded.Get("kept"); err != nil {
		t.Fatalf("get kept: %v", err)
	}
	if state, _ := reloaded.State("dropped"); state != store.StateDeleted {
		t.Fatalf("dropped state = %q, want deleted", state)
	}
}
