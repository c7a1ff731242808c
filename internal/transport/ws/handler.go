package ws

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"mafiapanel/internal/app"
)

// Handler upgrades spectator connections and subscribes them to a room
type Handler struct {
	hub      *app.SessionHub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *app.SessionHub, logger *slog.Logger) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Spectator screens are served from other hosts on the venue network
				return true
			},
		},
		logger: logger,
	}
}

// ServeHTTP handles WebSocket upgrade requests for /ws?roomId=<session id>
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	if roomID == "" {
		http.Error(w, "roomId is required", http.StatusBadRequest)
		return
	}

	engine, err := h.hub.GetSession(roomID)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	clientID := uuid.New().String()
	client := NewClient(conn, engine, clientID, h.logger)
	client.sendConnected()

	// Registration sends the current state, so it must follow the
	// connected message.
	engine.RegisterClient(client)

	h.logger.Info("spectator connected",
		"roomID", roomID,
		"clientID", clientID,
	)

	client.Run()

	h.logger.Debug("spectator disconnected", "roomID", roomID, "clientID", clientID)
}
