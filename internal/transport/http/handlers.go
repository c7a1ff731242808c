package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"mafiapanel/internal/app"
	"mafiapanel/internal/domain"
	"mafiapanel/internal/roster"
	"mafiapanel/internal/scoring"
	"mafiapanel/internal/store"
)

const maxBodySize = 1 << 20

// Response is a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RulesRequest overrides session timings, in seconds
type RulesRequest struct {
	DiscussionSeconds       int   `json:"discussionSeconds"`
	FreeSeatingSeconds      int   `json:"freeSeatingSeconds"`
	LastWordsSeconds        int   `json:"lastWordsSeconds"`
	ClearNominationsOnAbort *bool `json:"clearNominationsOnAbort,omitempty"`
}

// CreateSessionRequest is the body of POST /api/sessions. Players use the
// roster import format.
type CreateSessionRequest struct {
	ID          string         `json:"id,omitempty"`
	SeriesID    string         `json:"seriesId,omitempty"`
	Mode        domain.Mode    `json:"mode,omitempty"`
	TableNumber int            `json:"tableNumber,omitempty"`
	Players     []roster.Entry `json:"players"`
	Rules       *RulesRequest  `json:"rules,omitempty"`
}

// SessionResponse is the moderator view of a session
type SessionResponse struct {
	Session      domain.Session      `json:"session"`
	Roster       []domain.PlayerView `json:"roster"`
	SyncState    store.SyncState     `json:"syncState,omitempty"`
	SpectatorURL string              `json:"spectatorUrl"`
}

// SeriesResponse carries cumulative totals of a series
type SeriesResponse struct {
	SeriesID string          `json:"seriesId,omitempty"`
	Games    int             `json:"games"`
	Totals   map[int]float64 `json:"totals"`
	Ranking  []int           `json:"ranking"`
}

// HealthResponse is the response for health check
type HealthResponse struct {
	Status string `json:"status"`
}

// StatsResponse is the response for stats endpoint
type StatsResponse struct {
	LiveSessions   int `json:"liveSessions"`
	StoredSessions int `json:"storedSessions"`
	Spectators     int `json:"spectators"`
}

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendSuccess(w, &HealthResponse{
		Status: "ok",
	})
}

// handleStats handles GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.sendSuccess(w, &StatsResponse{
		LiveSessions:   s.hub.GetSessionCount(),
		StoredSessions: len(s.hub.ListSessions()),
		Spectators:     s.hub.GetSpectatorCount(),
	})
}

// handleListSessions handles GET /api/sessions
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.sendSuccess(w, s.hub.ListSessions())
}

// handleCreateSession handles POST /api/sessions
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !s.decode(w, r, &req) {
		return
	}

	players, err := roster.Build(req.Players)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	input := domain.SessionInput{
		ID:          req.ID,
		SeriesID:    req.SeriesID,
		Mode:        req.Mode,
		TableNumber: req.TableNumber,
		Players:     players,
	}
	if req.Rules != nil {
		rules := s.config.Rules()
		if req.Rules.DiscussionSeconds > 0 {
			rules.DiscussionTime = time.Duration(req.Rules.DiscussionSeconds) * time.Second
		}
		if req.Rules.FreeSeatingSeconds > 0 {
			rules.FreeSeatingTime = time.Duration(req.Rules.FreeSeatingSeconds) * time.Second
		}
		if req.Rules.LastWordsSeconds > 0 {
			rules.LastWordsTime = time.Duration(req.Rules.LastWordsSeconds) * time.Second
		}
		if req.Rules.ClearNominationsOnAbort != nil {
			rules.ClearNominationsOnAbort = *req.Rules.ClearNominationsOnAbort
		}
		input.Rules = &rules
	}

	engine, err := s.hub.CreateSession(r.Context(), input)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.sendStatus(w, http.StatusCreated, s.sessionResponse(r, engine.Session()))
}

// handleGetSession handles GET /api/sessions/{id}
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.engine(w, r)
	if !ok {
		return
	}
	s.sendSuccess(w, s.sessionResponse(r, engine.Session()))
}

// handleDeleteSession handles DELETE /api/sessions/{id}
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, nil)
}

// handleIntent handles POST /api/sessions/{id}/intents
func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.engine(w, r)
	if !ok {
		return
	}

	var intent app.Intent
	if !s.decode(w, r, &intent) {
		return
	}
	if intent.Type == "" {
		s.sendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Intent type is required")
		return
	}

	session, err := engine.Dispatch(intent)
	if err != nil {
		s.logger.Debug("intent rejected", "sessionID", engine.ID(), "intent", intent.Type, "error", err)
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, s.sessionResponse(r, session))
}

// handleSpectatorState handles GET /api/sessions/{id}/state
func (s *Server) handleSpectatorState(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.engine(w, r)
	if !ok {
		return
	}
	s.sendSuccess(w, engine.State())
}

// handleScores handles GET /api/sessions/{id}/scores
func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.engine(w, r)
	if !ok {
		return
	}
	s.sendSuccess(w, engine.Scores())
}

// handleSeries handles GET /api/sessions/{id}/series
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.engine(w, r)
	if !ok {
		return
	}
	session := engine.Session()
	totals := scoring.SeriesTotals(session)
	s.sendSuccess(w, &SeriesResponse{
		SeriesID: session.SeriesID,
		Games:    len(session.History) + 1,
		Totals:   totals,
		Ranking:  scoring.Ranking(totals),
	})
}

// handleSync handles POST /api/sync
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.Sync(r.Context()); err != nil {
		s.logger.Warn("manual sync failed", "error", err)
		s.sendError(w, http.StatusBadGateway, ErrCodeSyncFailed, "Remote store unavailable")
		return
	}
	s.sendSuccess(w, s.hub.ListSessions())
}

// engine resolves the session of the request path, writing the error
// response when there is none.
func (s *Server) engine(w http.ResponseWriter, r *http.Request) (*app.SessionEngine, bool) {
	id := r.PathValue("id")
	if id == "" {
		s.sendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Session id is required")
		return nil, false
	}
	engine, err := s.hub.GetSession(id)
	if err != nil {
		s.sendDomainError(w, err)
		return nil, false
	}
	return engine, true
}

func (s *Server) sessionResponse(r *http.Request, session domain.Session) *SessionResponse {
	state, _ := s.hub.SyncState(session.ID)

	scheme := "ws"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "wss"
	}

	return &SessionResponse{
		Session:      session,
		Roster:       session.Roster(true),
		SyncState:    state,
		SpectatorURL: scheme + "://" + r.Host + "/ws?roomId=" + session.ID,
	}
}

// decode reads a JSON body, writing the error response on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		s.sendError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid request body")
		return false
	}
	return true
}

// sendSuccess sends a successful JSON response
func (s *Server) sendSuccess(w http.ResponseWriter, data interface{}) {
	s.sendStatus(w, http.StatusOK, data)
}

func (s *Server) sendStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&Response{
		Success: true,
		Data:    data,
	})
}

// sendDomainError maps err to a status and code
func (s *Server) sendDomainError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		message = "Internal server error"
	}
	s.sendError(w, status, code, message)
}

// sendError sends an error JSON response
func (s *Server) sendError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	})
}
