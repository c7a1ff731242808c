package domain

import "time"

// EventType represents the type of session change notification
type EventType string

const (
	EventRolesUpdated      EventType = "ROLES_UPDATED"
	EventPhaseChanged      EventType = "PHASE_CHANGED"
	EventNightAction       EventType = "NIGHT_ACTION"
	EventNominationChanged EventType = "NOMINATION_CHANGED"
	EventVoteUpdated       EventType = "VOTE_UPDATED"
	EventElimination       EventType = "ELIMINATION"
	EventBestMoveUpdated   EventType = "BEST_MOVE_UPDATED"
	EventOutcomeSet        EventType = "OUTCOME_SET"
	EventScoresUpdated     EventType = "SCORES_UPDATED"
	EventSessionDeleted    EventType = "SESSION_DELETED"
	EventError             EventType = "ERROR"
)

// SessionEvent is emitted after every committed change of a session
type SessionEvent struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"sessionId"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent creates a new session event
func NewEvent(eventType EventType, sessionID string, payload interface{}, at time.Time) *SessionEvent {
	return &SessionEvent{
		Type:      eventType,
		SessionID: sessionID,
		Payload:   payload,
		Timestamp: at,
	}
}

// Payload types for different events

// StatePayload is the full state pushed to spectators. Roles and scores are
// hidden until the game ends, except for revealed seats.
type StatePayload struct {
	SessionID   string             `json:"sessionId"`
	Mode        Mode               `json:"mode"`
	TableNumber int                `json:"tableNumber"`
	GameNumber  int                `json:"gameNumber"`
	Phase       Phase              `json:"phase"`
	Day         int                `json:"day"`
	Night       int                `json:"night"`
	NightStep   NightStep          `json:"nightStep,omitempty"`
	EndsAt      *time.Time         `json:"endsAt,omitempty"`
	Players     []PlayerView       `json:"players"`
	Candidates  []int              `json:"candidates,omitempty"`
	Vote        *VoteRound         `json:"vote,omitempty"`
	BestMove    *BestMove          `json:"bestMove,omitempty"`
	Outcome     Outcome            `json:"outcome,omitempty"`
	Scores      map[int]ScoreEntry `json:"scores,omitempty"` // By seat
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// SpectatorState builds the redacted view of a session.
func SpectatorState(s Session) StatePayload {
	ended := s.Game.Phase == PhaseResults
	state := StatePayload{
		SessionID:   s.ID,
		Mode:        s.Mode,
		TableNumber: s.TableNumber,
		GameNumber:  s.Game.Number,
		Phase:       s.Game.Phase,
		Day:         s.Game.Day,
		Night:       s.Game.Night,
		Players:     s.Roster(false),
		Candidates:  s.Candidates(),
		Outcome:     s.Game.Outcome,
		UpdatedAt:   s.UpdatedAt,
	}
	if s.Game.Phase == PhaseNight {
		state.NightStep = s.NightStep()
	}
	if c := s.Game.Countdown; c != nil {
		ends := c.EndsAt
		state.EndsAt = &ends
	}
	if r, ok := s.CurrentRound(); ok {
		r = r.clone()
		state.Vote = &r
		if r.LastWordsEndsAt != nil {
			state.EndsAt = r.LastWordsEndsAt
		}
	}
	if bm := s.Game.BestMove; bm != nil {
		c := *bm
		c.Guesses = append([]int(nil), bm.Guesses...)
		state.BestMove = &c
	}

	for i := range state.Players {
		seat := state.Players[i].Seat
		if ended || s.Game.Adjustments[s.key(seat)].Reveal {
			state.Players[i].Role = s.RoleOf(seat)
		}
	}
	if ended && len(s.Game.Scores) > 0 {
		state.Scores = make(map[int]ScoreEntry, len(s.Players))
		for _, p := range s.Players {
			if entry, ok := s.Game.Scores[s.key(p.Seat)]; ok {
				state.Scores[p.Seat] = entry
			}
		}
	}
	return state
}

// ErrorPayload is sent with EventError when the engine could not apply a
// deadline on its own
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Codes of EventError payloads
const (
	ErrCodeDeadlineFailed = "DEADLINE_FAILED"
	ErrCodePersistFailed  = "PERSIST_FAILED"
)
