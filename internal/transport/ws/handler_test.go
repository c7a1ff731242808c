package ws

import (
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

	"github.com/gorilla/websocket"

	"mafiapanel/internal/app"
	"mafiapanel/internal/clock"
	"mafiapanel/internal/domain"
	"mafiapanel/internal/store"
)

type wireMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newTestHub(t *testing.T) *app.SessionHub {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.New(context.Background(), nil, clk, store.DefaultOptions(), logger)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	hub := app.NewSessionHub(st, nil, clk, app.HubOptions{Rules: domain.DefaultRules(), Seed: 1}, logger)
	t.Cleanup(func() { hub.Close(context.Background()) })
	return hub
}

func createSession(t *testing.T, hub *app.SessionHub, id string) *app.SessionEngine {
	t.Helper()
	players := make([]domain.Player, 10)
	for i := range players {
		players[i] = domain.Player{Seat: i + 1, Name: fmt.Sprintf("Player %d", i+1)}
	}
	engine, err := hub.CreateSession(context.Background(), domain.SessionInput{ID: id, Players: players})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return engine
}

func dial(t *testing.T, hub *app.SessionHub, roomID string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(NewHandler(hub, slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?roomId=" + roomID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil skips messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) wireMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", msgType, err)
		}
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestSpectatorReceivesState(t *testing.T) {
	hub := newTestHub(t)
	engine := createSession(t, hub, "s1")
	conn := dial(t, hub, "s1")

	connected := readUntil(t, conn, string(MsgConnected))
	var payload ConnectedPayload
	if err := json.Unmarshal(connected.Payload, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.RoomID != "s1" || payload.ClientID == "" {
		t.Fatalf("got %+v", payload)
	}

	initial := readUntil(t, conn, string(domain.EventPhaseChanged))
	var state domain.StatePayload
	if err := json.Unmarshal(initial.Payload, &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.Phase != domain.PhaseRoles || len(state.Players) != 10 {
		t.Fatalf("got phase %q with %d players", state.Phase, len(state.Players))
	}
	if engine.ClientCount() != 1 {
		t.Fatalf("got %d clients, want 1", engine.ClientCount())
	}

	if _, err := engine.DistributeRoles(); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	update := readUntil(t, conn, string(domain.EventRolesUpdated))
	if err := json.Unmarshal(update.Payload, &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, p := range state.Players {
		if p.Role != "" {
			t.Fatalf("spectator sees role %q of seat %d", p.Role, p.Seat)
		}
	}
}

func TestSpectatorIsReadOnly(t *testing.T) {
	hub := newTestHub(t)
	createSession(t, hub, "s1")
	conn := dial(t, hub, "s1")
	readUntil(t, conn, string(domain.EventPhaseChanged))

	if err := conn.WriteJSON(&ClientMessage{Type: MsgPing}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, string(MsgPong))

	if err := conn.WriteJSON(map[string]string{"type": "cast_vote"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readUntil(t, conn, string(MsgError))
	var payload ErrorPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Code != ErrCodeReadOnly {
		t.Fatalf("got code %q, want %q", payload.Code, ErrCodeReadOnly)
	}
}

func TestSpectatorNotifiedOfDeletion(t *testing.T) {
	hub := newTestHub(t)
	createSession(t, hub, "s1")
	conn := dial(t, hub, "s1")
	readUntil(t, conn, string(domain.EventPhaseChanged))

	if err := hub.DeleteSession(context.Background(), "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	readUntil(t, conn, string(domain.EventSessionDeleted))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("got %v, want normal closure", err)
			}
			return
		}
	}
}

func TestUnknownRoom(t *testing.T) {
	hub := newTestHub(t)
	ts := httptest.NewServer(NewHandler(hub, slog.New(slog.NewTextHandler(io.Discard, nil))))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?roomId=missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("dial succeeded for a missing room")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("got response %v, want 404", resp)
	}
}
