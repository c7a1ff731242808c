package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"mafiapanel/internal/clock"
	"mafiapanel/internal/domain"
	"mafiapanel/internal/scoring"
)

// ClientConnection represents a connected spectator
type ClientConnection interface {
	Send(message interface{}) error
	GetClientID() string
	Close() error
}

// Persister stores committed session states
type Persister interface {
	Put(ctx context.Context, session domain.Session) error
}

// Replicator is told about local changes so it can push them
type Replicator interface {
	SchedulePush()
}

const (
	// persistTimeout bounds one local store write
	persistTimeout = 5 * time.Second

	// deadlineRetry spaces out attempts at a deadline that failed to apply
	deadlineRetry = 5 * time.Second
)

// SessionEngine owns one live session. It is the single writer of the
// session; moderator intents and timer callbacks are serialized by mu.
type SessionEngine struct {
	session domain.Session
	mu      sync.RWMutex

	clients   map[string]ClientConnection // clientID -> spectator
	clientsMu sync.RWMutex

	store      Persister
	replicator Replicator
	clock      clock.Clock
	rng        *rand.Rand
	logger     *slog.Logger

	timer      clock.Timer
	lastActive time.Time

	events chan *domain.SessionEvent
	done   chan struct{}
	closed bool
}

// EngineDeps are the collaborators an engine commits through
type EngineDeps struct {
	Store      Persister
	Replicator Replicator
	Clock      clock.Clock
	Rand       *rand.Rand
	Logger     *slog.Logger
}

// NewSessionEngine creates an engine for a stored or freshly created session.
// Call Resume to arm timers for deadlines already in the session.
func NewSessionEngine(session domain.Session, deps EngineDeps) *SessionEngine {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(deps.Clock.Now().UnixNano()))
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	e := &SessionEngine{
		session:    session,
		clients:    make(map[string]ClientConnection),
		store:      deps.Store,
		replicator: deps.Replicator,
		clock:      deps.Clock,
		rng:        deps.Rand,
		logger:     deps.Logger.With("sessionID", session.ID),
		lastActive: deps.Clock.Now(),
		events:     make(chan *domain.SessionEvent, 100),
		done:       make(chan struct{}),
	}

	go e.eventLoop()

	return e
}

// ID returns the session id, which is also the spectator room id
func (e *SessionEngine) ID() string {
	return e.session.ID
}

// Session returns the current session value
func (e *SessionEngine) Session() domain.Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session
}

// State returns the spectator view of the current session
func (e *SessionEngine) State() domain.StatePayload {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return domain.SpectatorState(e.session)
}

// Scores computes the score sheet of the current game
func (e *SessionEngine) Scores() scoring.Sheet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return scoring.Compute(e.session)
}

// LastActive returns when the engine last committed a change
func (e *SessionEngine) LastActive() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastActive
}

// RegisterClient registers a spectator and sends it the current state
func (e *SessionEngine) RegisterClient(client ClientConnection) {
	e.clientsMu.Lock()
	e.clients[client.GetClientID()] = client
	e.clientsMu.Unlock()

	state := e.State()
	if err := client.Send(domain.NewEvent(domain.EventPhaseChanged, state.SessionID, state, e.clock.Now())); err != nil {
		e.logger.Debug("failed to send initial state", "clientID", client.GetClientID(), "error", err)
	}
}

// UnregisterClient removes a spectator
func (e *SessionEngine) UnregisterClient(clientID string) {
	e.clientsMu.Lock()
	defer e.clientsMu.Unlock()
	delete(e.clients, clientID)
}

// ClientCount returns the number of connected spectators
func (e *SessionEngine) ClientCount() int {
	e.clientsMu.RLock()
	defer e.clientsMu.RUnlock()
	return len(e.clients)
}

// Resume applies deadlines that expired while the engine was not running
// and arms a timer for the next one.
func (e *SessionEngine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rearmLocked(e.fireDueLocked())
}

// Replace adopts a newer copy of the session pulled from the remote store.
// Older copies are ignored.
func (e *SessionEngine) Replace(next domain.Session) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !next.UpdatedAt.After(e.session.UpdatedAt) {
		return false
	}
	e.session = next
	e.queueState(domain.EventPhaseChanged)
	e.armLocked()
	return true
}

// mutation is a domain operation bound to its arguments
type mutation func(s domain.Session, now time.Time) (domain.Session, error)

// apply runs one moderator intent and commits the result.
func (e *SessionEngine) apply(eventType domain.EventType, fn mutation) (domain.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return domain.Session{}, domain.ErrSessionDeleted
	}

	now := e.clock.Now()
	next, err := fn(e.session, now)
	if err != nil {
		return e.session, err
	}
	if err := e.commitLocked(next, eventType); err != nil {
		return e.session, err
	}
	return e.session, nil
}

// commitLocked stores next, schedules replication, notifies spectators and
// re-arms timers. Caller must hold mu.
func (e *SessionEngine) commitLocked(next domain.Session, eventType domain.EventType) error {
	if next.Game.Phase == domain.PhaseResults {
		sheet := scoring.Compute(next)
		next = next.WithScores(sheet.Entries, sheet.BestMoveBonus)
	}

	if e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := e.store.Put(ctx, next)
		cancel()
		if err != nil {
			return fmt.Errorf("persist session: %w", err)
		}
	}

	prevPhase := e.session.Game.Phase
	e.session = next
	e.lastActive = e.clock.Now()

	if e.replicator != nil {
		e.replicator.SchedulePush()
	}

	if next.Game.Phase != prevPhase && eventType != domain.EventOutcomeSet {
		eventType = domain.EventPhaseChanged
	}
	e.queueState(eventType)
	e.armLocked()
	return nil
}

// nextDeadline returns the earliest pending deadline of the session.
func nextDeadline(s domain.Session) (time.Time, bool) {
	var (
		at  time.Time
		has bool
	)
	consider := func(t *time.Time) {
		if t == nil {
			return
		}
		if !has || t.Before(at) {
			at, has = *t, true
		}
	}

	if c := s.Game.Countdown; c != nil && s.Game.Phase.HasCountdown() {
		consider(&c.EndsAt)
	}
	if s.Game.Phase == domain.PhaseNight && s.Game.NightState != nil {
		consider(s.Game.NightState.AutoAdvanceAt)
	}
	if round, ok := s.CurrentRound(); ok && round.Status == domain.RoundLastWords {
		consider(round.LastWordsEndsAt)
	}
	return at, has
}

// armLocked replaces the pending timer with one for the next deadline.
// Leaving a phase therefore always cancels its timer.
func (e *SessionEngine) armLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.closed {
		return
	}
	at, ok := nextDeadline(e.session)
	if !ok {
		return
	}
	wait := at.Sub(e.clock.Now())
	if wait < 0 {
		wait = 0
	}
	e.timer = e.clock.AfterFunc(wait, e.onTimer)
}

func (e *SessionEngine) onTimer() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.timer = nil
	e.rearmLocked(e.fireDueLocked())
}

// rearmLocked arms the next deadline, or retries a failed one later.
func (e *SessionEngine) rearmLocked(ok bool) {
	if ok || e.closed {
		e.armLocked()
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = e.clock.AfterFunc(deadlineRetry, e.onTimer)
}

// fireDueLocked applies every deadline that has passed and reports whether
// all of them went through. Caller must hold mu.
func (e *SessionEngine) fireDueLocked() bool {
	for i := 0; i < 8; i++ {
		now := e.clock.Now()
		s := e.session

		var (
			next      domain.Session
			eventType domain.EventType
			err       error
		)
		switch {
		case s.LastWordsDue(now):
			next, err = s.ApplyVoteResult(now)
			eventType = domain.EventElimination
		case s.AutoAdvanceDue(now):
			next, err = s.AdvanceNight(now)
			eventType = domain.EventNightAction
		default:
			var changed bool
			next, changed = s.Tick(now)
			if !changed {
				return true
			}
			eventType = domain.EventPhaseChanged
		}
		if err != nil {
			e.logger.Error("failed to apply deadline", "phase", s.Game.Phase, "error", err)
			e.queueError(domain.ErrCodeDeadlineFailed, err)
			return false
		}
		if err := e.commitLocked(next, eventType); err != nil {
			e.logger.Error("failed to commit deadline", "phase", s.Game.Phase, "error", err)
			e.queueError(domain.ErrCodePersistFailed, err)
			return false
		}
	}
	return true
}

// Roles

func (e *SessionEngine) AssignRole(seat int, role domain.Role) (domain.Session, error) {
	return e.apply(domain.EventRolesUpdated, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.AssignRole(seat, role, now)
	})
}

func (e *SessionEngine) ToggleOptionalRole(role domain.Role) (domain.Session, error) {
	return e.apply(domain.EventRolesUpdated, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.ToggleOptionalRole(role, now)
	})
}

func (e *SessionEngine) DistributeRoles() (domain.Session, error) {
	return e.apply(domain.EventRolesUpdated, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.DistributeRoles(e.rng, now)
	})
}

// Phases

func (e *SessionEngine) StartDiscussion() (domain.Session, error) {
	return e.apply(domain.EventPhaseChanged, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.StartDiscussion(now)
	})
}

// Advance is the moderator's explicit skip to the next phase.
func (e *SessionEngine) Advance(override bool) (domain.Session, error) {
	return e.apply(domain.EventPhaseChanged, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.Advance(now, override)
	})
}

func (e *SessionEngine) SetOutcome(outcome domain.Outcome) (domain.Session, error) {
	return e.apply(domain.EventOutcomeSet, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.SetOutcome(outcome, now)
	})
}

func (e *SessionEngine) NextGame() (domain.Session, error) {
	return e.apply(domain.EventPhaseChanged, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.NextGame(now)
	})
}

// Night

func (e *SessionEngine) RecordKill(target int) (domain.Session, error) {
	return e.apply(domain.EventNightAction, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.RecordKill(target, now)
	})
}

func (e *SessionEngine) RecordMiss() (domain.Session, error) {
	return e.apply(domain.EventNightAction, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.RecordMiss(now)
	})
}

// RecordCheck records the don's or sheriff's check. The step advances on its
// own after NightCheckAdvance.
func (e *SessionEngine) RecordCheck(target int) (domain.Session, error) {
	return e.apply(domain.EventNightAction, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.RecordCheck(target, now)
	})
}

func (e *SessionEngine) RecordHeal(target int) (domain.Session, error) {
	return e.apply(domain.EventNightAction, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.RecordHeal(target, now)
	})
}

func (e *SessionEngine) AdvanceNight() (domain.Session, error) {
	return e.apply(domain.EventNightAction, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.AdvanceNight(now)
	})
}

// Nominations and voting

func (e *SessionEngine) Nominate(by, target int) (domain.Session, error) {
	return e.apply(domain.EventNominationChanged, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.Nominate(by, target, now)
	})
}

func (e *SessionEngine) ClearNominations() (domain.Session, error) {
	return e.apply(domain.EventNominationChanged, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.ClearNominations(now)
	})
}

func (e *SessionEngine) StartVoting() (domain.Session, error) {
	return e.apply(domain.EventVoteUpdated, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.StartVoting(now)
	})
}

func (e *SessionEngine) CastVote(voter, candidate int) (domain.Session, error) {
	return e.apply(domain.EventVoteUpdated, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.CastVote(voter, candidate, now)
	})
}

func (e *SessionEngine) RetractVote(voter int) (domain.Session, error) {
	return e.apply(domain.EventVoteUpdated, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.RetractVote(voter, now)
	})
}

func (e *SessionEngine) SetTally(candidate, tally int) (domain.Session, error) {
	return e.apply(domain.EventVoteUpdated, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.SetTally(candidate, tally, now)
	})
}

func (e *SessionEngine) CastLiftVote(voter int) (domain.Session, error) {
	return e.apply(domain.EventVoteUpdated, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.CastLiftVote(voter, now)
	})
}

func (e *SessionEngine) SetLiftTally(count int) (domain.Session, error) {
	return e.apply(domain.EventVoteUpdated, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.SetLiftTally(count, now)
	})
}

// CloseStage finalizes the current voting stage. A single winner starts the
// last-words countdown, after which the elimination is applied.
func (e *SessionEngine) CloseStage() (domain.Session, error) {
	return e.apply(domain.EventVoteUpdated, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.CloseStage(now)
	})
}

// ApplyVoteResult cuts last words short.
func (e *SessionEngine) ApplyVoteResult() (domain.Session, error) {
	return e.apply(domain.EventElimination, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.ApplyVoteResult(now)
	})
}

// Best move and protocol

func (e *SessionEngine) SubmitBestMove(guesses []int) (domain.Session, error) {
	return e.apply(domain.EventBestMoveUpdated, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.SubmitBestMove(guesses, now)
	})
}

func (e *SessionEngine) SetBestMoveAccepted(accepted bool) (domain.Session, error) {
	return e.apply(domain.EventBestMoveUpdated, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.SetBestMoveAccepted(accepted, now)
	})
}

func (e *SessionEngine) RecordProtocol(preds []domain.Prediction) (domain.Session, error) {
	return e.apply(domain.EventScoresUpdated, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.RecordProtocol(preds, now)
	})
}

func (e *SessionEngine) RecordOpinion(seat int, preds []domain.Prediction) (domain.Session, error) {
	return e.apply(domain.EventScoresUpdated, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.RecordOpinion(seat, preds, now)
	})
}

// Scores and discipline

func (e *SessionEngine) AdjustScore(seat int, bonus, penalty float64) (domain.Session, error) {
	return e.apply(domain.EventScoresUpdated, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.AdjustScore(seat, bonus, penalty, now)
	})
}

func (e *SessionEngine) SetReveal(seat int, reveal bool) (domain.Session, error) {
	return e.apply(domain.EventScoresUpdated, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.SetReveal(seat, reveal, now)
	})
}

func (e *SessionEngine) AddFoul(seat int) (domain.Session, error) {
	return e.apply(domain.EventElimination, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.AddFoul(seat, now)
	})
}

func (e *SessionEngine) AddTechFoul(seat int) (domain.Session, error) {
	return e.apply(domain.EventElimination, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.AddTechFoul(seat, now)
	})
}

func (e *SessionEngine) RemovePlayer(seat int) (domain.Session, error) {
	return e.apply(domain.EventElimination, func(s domain.Session, now time.Time) (domain.Session, error) {
		return s.RemovePlayer(seat, now)
	})
}

// queueState queues a full-state push for spectators
func (e *SessionEngine) queueState(eventType domain.EventType) {
	state := domain.SpectatorState(e.session)
	e.queueEvent(domain.NewEvent(eventType, e.session.ID, state, e.clock.Now()))
}

// queueError tells spectators a deadline did not go through; the moderator
// has to move the session on by hand.
func (e *SessionEngine) queueError(code string, err error) {
	payload := &domain.ErrorPayload{Code: code, Message: err.Error()}
	e.queueEvent(domain.NewEvent(domain.EventError, e.session.ID, payload, e.clock.Now()))
}

// queueEvent adds an event to the broadcast queue. Spectators only ever get
// full states, so a dropped event is healed by the next one.
func (e *SessionEngine) queueEvent(event *domain.SessionEvent) {
	select {
	case e.events <- event:
	default:
		e.logger.Warn("event queue full, dropping event", "type", event.Type)
	}
}

// eventLoop processes events and broadcasts to spectators
func (e *SessionEngine) eventLoop() {
	for {
		select {
		case <-e.done:
			return
		case event := <-e.events:
			e.broadcastEvent(event)
		}
	}
}

// broadcastEvent sends an event to every spectator
func (e *SessionEngine) broadcastEvent(event *domain.SessionEvent) {
	e.clientsMu.RLock()
	defer e.clientsMu.RUnlock()

	for clientID, client := range e.clients {
		if err := client.Send(event); err != nil {
			e.logger.Debug("failed to send to client", "clientID", clientID, "error", err)
		}
	}
}

// Close stops timers and disconnects spectators. When deleted is set they
// are told the session is gone first.
func (e *SessionEngine) Close(deleted bool) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	id := e.session.ID
	e.mu.Unlock()

	close(e.done)

	e.clientsMu.Lock()
	for _, client := range e.clients {
		if deleted {
			_ = client.Send(domain.NewEvent(domain.EventSessionDeleted, id, nil, e.clock.Now()))
		}
		client.Close()
	}
	e.clients = make(map[string]ClientConnection)
	e.clientsMu.Unlock()
}
