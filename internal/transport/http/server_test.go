package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mafiapanel/internal/app"
	"mafiapanel/internal/clock"
	"mafiapanel/internal/config"
	"mafiapanel/internal/domain"
	"mafiapanel/internal/replication"
	"mafiapanel/internal/roster"
	"mafiapanel/internal/store"
)

var t0 = time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorInfo      `json:"error"`
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: "0", Host: "127.0.0.1", Env: "test"},
		Game: config.GameConfig{
			DiscussionTime:          60 * time.Second,
			FreeSeatingTime:         20 * time.Second,
			LastWordsTime:           60 * time.Second,
			ClearNominationsOnAbort: true,
		},
	}
}

func newTestServer(t *testing.T) (*Server, *app.SessionHub, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(t0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.New(context.Background(), nil, clk, store.DefaultOptions(), logger)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	cfg := testConfig()
	syncer := replication.NewSyncer(st, nil, clk, replication.DefaultOptions(), logger)
	hub := app.NewSessionHub(st, syncer, clk, app.HubOptions{Rules: cfg.Rules(), Seed: 3}, logger)
	t.Cleanup(func() { hub.Close(context.Background()) })
	return NewServer(cfg, hub, logger), hub, clk
}

func request(t *testing.T, srv *Server, method, path string, body interface{}) (int, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var resp apiResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %s %s: %v (%q)", method, path, err, rec.Body.String())
	}
	return rec.Code, resp
}

func entries(n int) []roster.Entry {
	out := make([]roster.Entry, n)
	for i := range out {
		out[i] = roster.Entry{Name: fmt.Sprintf("Player %d", i+1)}
	}
	return out
}

func createSession(t *testing.T, srv *Server, id string) SessionResponse {
	t.Helper()
	status, resp := request(t, srv, http.MethodPost, "/api/sessions", &CreateSessionRequest{
		ID:      id,
		Mode:    domain.ModeClassic,
		Players: entries(10),
	})
	if status != http.StatusCreated {
		t.Fatalf("create: got status %d, want %d (%+v)", status, http.StatusCreated, resp.Error)
	}
	var created SessionResponse
	if err := json.Unmarshal(resp.Data, &created); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return created
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	status, resp := request(t, srv, http.MethodGet, "/api/health", nil)
	if status != http.StatusOK || !resp.Success {
		t.Fatalf("got %d %+v, want 200 success", status, resp)
	}
}

func TestCreateSession(t *testing.T) {
	srv, hub, _ := newTestServer(t)

	created := createSession(t, srv, "table-1")
	if created.Session.ID != "table-1" {
		t.Fatalf("got id %q, want %q", created.Session.ID, "table-1")
	}
	if len(created.Roster) != 10 || created.Roster[9].Seat != 10 {
		t.Fatalf("got roster %+v, want 10 seats in order", created.Roster)
	}
	if created.Session.Rules.DiscussionTime != 60*time.Second {
		t.Fatalf("got discussion %v, want configured default", created.Session.Rules.DiscussionTime)
	}
	if !strings.HasSuffix(created.SpectatorURL, "/ws?roomId=table-1") {
		t.Fatalf("got spectator url %q", created.SpectatorURL)
	}
	if hub.GetSessionCount() != 1 {
		t.Fatalf("got %d live sessions, want 1", hub.GetSessionCount())
	}

	status, resp := request(t, srv, http.MethodPost, "/api/sessions", &CreateSessionRequest{ID: "table-1", Players: entries(10)})
	if status != http.StatusConflict || resp.Error.Code != ErrCodeSessionExists {
		t.Fatalf("got %d %+v, want conflict", status, resp.Error)
	}
}

func TestCreateSessionRules(t *testing.T) {
	srv, _, _ := newTestServer(t)

	keep := false
	status, resp := request(t, srv, http.MethodPost, "/api/sessions", &CreateSessionRequest{
		Players: entries(8),
		Rules:   &RulesRequest{DiscussionSeconds: 90, ClearNominationsOnAbort: &keep},
	})
	if status != http.StatusCreated {
		t.Fatalf("got status %d, want %d", status, http.StatusCreated)
	}
	var created SessionResponse
	if err := json.Unmarshal(resp.Data, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	rules := created.Session.Rules
	if rules.DiscussionTime != 90*time.Second || rules.FreeSeatingTime != 20*time.Second || rules.ClearNominationsOnAbort {
		t.Fatalf("got rules %+v", rules)
	}
}

func TestCreateSessionRejectsBadRoster(t *testing.T) {
	srv, _, _ := newTestServer(t)

	tests := []struct {
		name    string
		players []roster.Entry
	}{
		{"empty", nil},
		{"duplicate names", []roster.Entry{{Name: "Anna"}, {Name: "anna"}}},
		{"blank name", []roster.Entry{{Name: "Anna"}, {Name: "  "}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := request(t, srv, http.MethodPost, "/api/sessions", &CreateSessionRequest{Players: tt.players})
			if status != http.StatusBadRequest || resp.Error.Code != ErrCodeInvalidInput {
				t.Fatalf("got %d %+v, want invalid input", status, resp.Error)
			}
		})
	}
}

func TestMalformedBody(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestGetMissingSession(t *testing.T) {
	srv, _, _ := newTestServer(t)

	status, resp := request(t, srv, http.MethodGet, "/api/sessions/nope", nil)
	if status != http.StatusNotFound || resp.Error.Code != ErrCodeSessionNotFound {
		t.Fatalf("got %d %+v, want not found", status, resp.Error)
	}
}

func TestIntents(t *testing.T) {
	srv, _, clk := newTestServer(t)
	createSession(t, srv, "s1")

	path := "/api/sessions/s1/intents"

	status, resp := request(t, srv, http.MethodPost, path, &app.Intent{Type: app.IntentStartVoting})
	if status != http.StatusConflict || resp.Error.Code != ErrCodeInvalidAction {
		t.Fatalf("got %d %+v, want invalid action", status, resp.Error)
	}

	status, resp = request(t, srv, http.MethodPost, path, &app.Intent{Type: "juggle"})
	if status != http.StatusBadRequest || resp.Error.Code != ErrCodeInvalidInput {
		t.Fatalf("got %d %+v, want invalid input", status, resp.Error)
	}

	status, resp = request(t, srv, http.MethodPost, path, &app.Intent{})
	if status != http.StatusBadRequest || resp.Error.Code != ErrCodeInvalidRequest {
		t.Fatalf("got %d %+v, want invalid request", status, resp.Error)
	}

	for _, intent := range []app.Intent{
		{Type: app.IntentDistributeRoles},
		{Type: app.IntentStartDiscussion},
	} {
		status, resp = request(t, srv, http.MethodPost, path, &intent)
		if status != http.StatusOK {
			t.Fatalf("%s: got %d %+v", intent.Type, status, resp.Error)
		}
	}

	var got SessionResponse
	if err := json.Unmarshal(resp.Data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Session.Game.Phase != domain.PhaseDiscussion {
		t.Fatalf("got phase %q, want %q", got.Session.Game.Phase, domain.PhaseDiscussion)
	}
	for _, p := range got.Roster {
		if p.Role == "" {
			t.Fatalf("moderator roster hides the role of seat %d", p.Seat)
		}
	}

	clk.Advance(60 * time.Second)
	status, resp = request(t, srv, http.MethodGet, "/api/sessions/s1", nil)
	if status != http.StatusOK {
		t.Fatalf("got status %d", status)
	}
	if err := json.Unmarshal(resp.Data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Session.Game.Phase != domain.PhaseFreeSeating {
		t.Fatalf("got phase %q, want %q", got.Session.Game.Phase, domain.PhaseFreeSeating)
	}
}

func TestSpectatorStateHidesRoles(t *testing.T) {
	srv, _, _ := newTestServer(t)
	createSession(t, srv, "s1")
	request(t, srv, http.MethodPost, "/api/sessions/s1/intents", &app.Intent{Type: app.IntentDistributeRoles})

	status, resp := request(t, srv, http.MethodGet, "/api/sessions/s1/state", nil)
	if status != http.StatusOK {
		t.Fatalf("got status %d", status)
	}
	var state domain.StatePayload
	if err := json.Unmarshal(resp.Data, &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(state.Players) != 10 {
		t.Fatalf("got %d players, want 10", len(state.Players))
	}
	for _, p := range state.Players {
		if p.Role != "" {
			t.Fatalf("spectator state shows role %q for seat %d", p.Role, p.Seat)
		}
	}
}

func TestScoresAndSeries(t *testing.T) {
	srv, _, _ := newTestServer(t)
	createSession(t, srv, "s1")

	status, _ := request(t, srv, http.MethodGet, "/api/sessions/s1/scores", nil)
	if status != http.StatusOK {
		t.Fatalf("scores: got status %d", status)
	}

	status, resp := request(t, srv, http.MethodGet, "/api/sessions/s1/series", nil)
	if status != http.StatusOK {
		t.Fatalf("series: got status %d", status)
	}
	var series SeriesResponse
	if err := json.Unmarshal(resp.Data, &series); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if series.Games != 1 || len(series.Ranking) != 0 {
		t.Fatalf("got %+v, want one unscored game", series)
	}
}

func TestDeleteSession(t *testing.T) {
	srv, hub, _ := newTestServer(t)
	createSession(t, srv, "s1")

	status, resp := request(t, srv, http.MethodDelete, "/api/sessions/s1", nil)
	if status != http.StatusOK || !resp.Success {
		t.Fatalf("got %d %+v, want success", status, resp.Error)
	}
	if hub.GetSessionCount() != 0 {
		t.Fatalf("engine still live after delete")
	}

	status, resp = request(t, srv, http.MethodGet, "/api/sessions/s1", nil)
	if status != http.StatusGone || resp.Error.Code != ErrCodeSessionDeleted {
		t.Fatalf("got %d %+v, want gone", status, resp.Error)
	}

	status, _ = request(t, srv, http.MethodDelete, "/api/sessions/other", nil)
	if status != http.StatusNotFound {
		t.Fatalf("got status %d, want %d", status, http.StatusNotFound)
	}
}

func TestListSessionsAndStats(t *testing.T) {
	srv, _, clk := newTestServer(t)
	createSession(t, srv, "a")
	clk.Advance(time.Minute)
	createSession(t, srv, "b")

	status, resp := request(t, srv, http.MethodGet, "/api/sessions", nil)
	if status != http.StatusOK {
		t.Fatalf("got status %d", status)
	}
	var list []app.SessionSummary
	if err := json.Unmarshal(resp.Data, &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 2 || list[0].ID != "b" {
		t.Fatalf("got %+v, want b before a", list)
	}

	_, resp = request(t, srv, http.MethodGet, "/api/stats", nil)
	var stats StatsResponse
	if err := json.Unmarshal(resp.Data, &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.LiveSessions != 2 || stats.StoredSessions != 2 || stats.Spectators != 0 {
		t.Fatalf("got %+v", stats)
	}
}

func TestSyncWithoutRemote(t *testing.T) {
	srv, _, _ := newTestServer(t)

	status, resp := request(t, srv, http.MethodPost, "/api/sync", nil)
	if status != http.StatusOK || !resp.Success {
		t.Fatalf("got %d %+v, want success", status, resp.Error)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrSessionNotFound, http.StatusNotFound, ErrCodeSessionNotFound},
		{fmt.Errorf("load: %w", domain.ErrSessionDeleted), http.StatusGone, ErrCodeSessionDeleted},
		{domain.ErrInvalidPhase, http.StatusConflict, ErrCodeInvalidAction},
		{domain.ErrInvalidTally, http.StatusBadRequest, ErrCodeInvalidInput},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		status, code := classify(tt.err)
		if status != tt.status || code != tt.code {
			t.Fatalf("%v: got %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
		}
	}
}
