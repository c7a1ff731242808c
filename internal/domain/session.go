package domain

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Rules holds the per-session timing and policy parameters
type Rules struct {
	DiscussionTime  time.Duration `json:"discussionTime"`
	FreeSeatingTime time.Duration `json:"freeSeatingTime"`
	LastWordsTime   time.Duration `json:"lastWordsTime"`

	// ClearNominationsOnAbort decides whether a first-day round aborted by a
	// repeated tie of three or more candidates also drops the day's nominations.
	ClearNominationsOnAbort bool `json:"clearNominationsOnAbort"`
}

// DefaultRules returns the default session rules
func DefaultRules() Rules {
	return Rules{
		DiscussionTime:          60 * time.Second,
		FreeSeatingTime:         20 * time.Second,
		LastWordsTime:           60 * time.Second,
		ClearNominationsOnAbort: true,
	}
}

// Countdown is a deadline-based timer; remaining time is always derived from
// the stored end time.
type Countdown struct {
	EndsAt time.Time `json:"endsAt"`
}

// Remaining returns the time left at now, never negative.
func (c Countdown) Remaining(now time.Time) time.Duration {
	if d := c.EndsAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Expired reports whether the deadline has passed at now.
func (c Countdown) Expired(now time.Time) bool {
	return !now.Before(c.EndsAt)
}

// Action is what removed a player from the game
type Action string

const (
	ActionNone             Action = ""
	ActionKilled           Action = "killed"
	ActionVotedOut         Action = "voted_out"
	ActionRemovedFouls     Action = "removed_fouls"
	ActionRemovedTechFouls Action = "removed_tech_fouls"
)

// Elimination is the removal state of one role-key
type Elimination struct {
	Action Action `json:"action,omitempty"`
	Night  int    `json:"night,omitempty"` // Set when killed
	Day    int    `json:"day,omitempty"`   // Set when voted out
	Forced bool   `json:"forced,omitempty"`
}

// IsActive reports whether the player is still in the game.
func (e Elimination) IsActive() bool {
	return e.Action == ActionNone
}

// FoulRecord counts fouls and technical fouls of a role-key
type FoulRecord struct {
	Fouls     int `json:"fouls,omitempty"`
	TechFouls int `json:"techFouls,omitempty"`
}

const (
	foulsToRemove     = 4
	techFoulsToRemove = 2
)

// Adjustment is a moderator correction applied on top of computed scores
type Adjustment struct {
	Bonus   float64 `json:"bonus,omitempty"`
	Penalty float64 `json:"penalty,omitempty"`
	Reveal  bool    `json:"reveal,omitempty"`
}

// ScoreEntry is the computed score of a role-key
type ScoreEntry struct {
	Team    float64 `json:"team"`
	Bonus   float64 `json:"bonus"`
	Penalty float64 `json:"penalty"`
	Reveal  bool    `json:"reveal"`
	Total   float64 `json:"total"`
}

// Game is the state of one game played by a session's table
type Game struct {
	Number        int                     `json:"number"`
	Roles         map[string]Role         `json:"roles"`
	OptionalRoles []Role                  `json:"optionalRoles,omitempty"`
	Eliminations  map[string]Elimination  `json:"eliminations"`
	Fouls         map[string]FoulRecord   `json:"fouls"`
	Phase         Phase                   `json:"phase"`
	Day           int                     `json:"day"`
	Night         int                     `json:"night"`
	Countdown     *Countdown              `json:"countdown,omitempty"`
	NightState    *NightState             `json:"nightState,omitempty"`
	Nights        []NightRecord           `json:"nights,omitempty"`
	Nominations   []Nomination            `json:"nominations,omitempty"`
	Votes         []VoteRound             `json:"votes,omitempty"`
	BestMove      *BestMove               `json:"bestMove,omitempty"`
	Protocol      []Prediction            `json:"protocol,omitempty"`
	Opinions      map[string][]Prediction `json:"opinions,omitempty"`
	Outcome       Outcome                 `json:"outcome,omitempty"`
	Scores        map[string]ScoreEntry   `json:"scores,omitempty"`
	Adjustments   map[string]Adjustment   `json:"adjustments,omitempty"`
	StartedAt     time.Time               `json:"startedAt"`
	EndedAt       time.Time               `json:"endedAt,omitempty"`
}

func newGame(number int, now time.Time) Game {
	return Game{
		Number:       number,
		Roles:        make(map[string]Role),
		Eliminations: make(map[string]Elimination),
		Fouls:        make(map[string]FoulRecord),
		Phase:        PhaseRoles,
		StartedAt:    now,
	}
}

// Session is the aggregate a moderator works on: roster, current game and
// the completed games of the same series. Every operation returns a new
// value and leaves the receiver untouched.
type Session struct {
	ID          string    `json:"id"`
	SeriesID    string    `json:"seriesId,omitempty"`
	Mode        Mode      `json:"mode"`
	TableNumber int       `json:"tableNumber"`
	Players     []Player  `json:"players"`
	Rules       Rules     `json:"rules"`
	Game        Game      `json:"game"`
	History     []Game    `json:"history,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SessionInput describes what is needed to open a session
type SessionInput struct {
	ID          string
	SeriesID    string
	Mode        Mode
	TableNumber int
	Players     []Player
	Rules       *Rules
}

// NewSession creates a session in the roles phase. A missing ID is filled by
// newID, or a random UUID when newID is nil.
func NewSession(input SessionInput, now time.Time, newID func() string) (Session, error) {
	if newID == nil {
		newID = uuid.NewString
	}

	mode := input.Mode
	if mode == "" {
		mode = ModeClassic
	}
	if mode != ModeClassic && mode != ModeCity {
		return Session{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidRoles, mode)
	}

	players, err := ValidateRoster(input.Players)
	if err != nil {
		return Session{}, err
	}

	rules := DefaultRules()
	if input.Rules != nil {
		rules = *input.Rules
	}

	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = newID()
	}

	table := input.TableNumber
	if table <= 0 {
		table = 1
	}

	now = now.UTC()
	return Session{
		ID:          id,
		SeriesID:    strings.TrimSpace(input.SeriesID),
		Mode:        mode,
		TableNumber: table,
		Players:     players,
		Rules:       rules,
		Game:        newGame(1, now),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// mutate applies fn to a deep copy and stamps the update time. The receiver
// is returned unchanged when fn fails.
func (s Session) mutate(now time.Time, fn func(n *Session) error) (Session, error) {
	next := s.Clone()
	next.Game.ensureMaps()
	if err := fn(&next); err != nil {
		return s, err
	}
	next.UpdatedAt = now.UTC()
	return next, nil
}

func (g *Game) ensureMaps() {
	if g.Roles == nil {
		g.Roles = make(map[string]Role)
	}
	if g.Eliminations == nil {
		g.Eliminations = make(map[string]Elimination)
	}
	if g.Fouls == nil {
		g.Fouls = make(map[string]FoulRecord)
	}
}

func (s Session) key(seat int) string {
	return RoleKey(s.Game.Number, s.TableNumber, seat)
}

// KeyOf returns the role-key of a seat in the current game.
func (s Session) KeyOf(seat int) string {
	return s.key(seat)
}

// SeatOf maps a role-key of the current game back to its seat.
func (s Session) SeatOf(key string) (int, bool) {
	for _, p := range s.Players {
		if s.key(p.Seat) == key {
			return p.Seat, true
		}
	}
	return 0, false
}

func (s Session) hasSeat(seat int) bool {
	return seat >= 1 && seat <= len(s.Players)
}

// Player returns the player seated at seat.
func (s Session) Player(seat int) (Player, error) {
	if !s.hasSeat(seat) {
		return Player{}, fmt.Errorf("%w: seat %d", ErrPlayerNotFound, seat)
	}
	return s.Players[seat-1], nil
}

// RoleOf returns the role of a seat; unassigned seats are civilians.
func (s Session) RoleOf(seat int) Role {
	if role, ok := s.Game.Roles[s.key(seat)]; ok {
		return role
	}
	return RoleCivilian
}

// IsActive reports whether the seat is still in the game.
func (s Session) IsActive(seat int) bool {
	if !s.hasSeat(seat) {
		return false
	}
	return s.Game.Eliminations[s.key(seat)].IsActive()
}

// ActiveSeats returns the seats still in the game, ascending.
func (s Session) ActiveSeats() []int {
	seats := make([]int, 0, len(s.Players))
	for _, p := range s.Players {
		if s.IsActive(p.Seat) {
			seats = append(seats, p.Seat)
		}
	}
	return seats
}

func (s Session) holders(match func(Role) bool) []int {
	var seats []int
	for _, p := range s.Players {
		if match(s.RoleOf(p.Seat)) {
			seats = append(seats, p.Seat)
		}
	}
	return seats
}

func (s Session) anyActive(match func(Role) bool) bool {
	for _, seat := range s.holders(match) {
		if s.IsActive(seat) {
			return true
		}
	}
	return false
}

func (s Session) requireActive(seat int) error {
	if !s.hasSeat(seat) {
		return fmt.Errorf("%w: seat %d", ErrPlayerNotFound, seat)
	}
	if !s.IsActive(seat) {
		return fmt.Errorf("%w: seat %d", ErrPlayerInactive, seat)
	}
	return nil
}

// AssignRole sets the role of a seat during role distribution.
func (s Session) AssignRole(seat int, role Role, now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		if n.Game.Phase != PhaseRoles {
			return ErrInvalidPhase
		}
		if !n.hasSeat(seat) {
			return fmt.Errorf("%w: seat %d", ErrPlayerNotFound, seat)
		}
		if !role.IsKnown() {
			return fmt.Errorf("%w: %q", ErrUnknownRole, role)
		}
		if !role.AllowedIn(n.Mode) {
			return fmt.Errorf("%w: %s in %s mode", ErrRoleNotInMode, role, n.Mode)
		}
		n.Game.Roles[n.key(seat)] = role
		return nil
	})
}

// ToggleOptionalRole switches an optional city role on or off for tables of
// 17 or more seats.
func (s Session) ToggleOptionalRole(role Role, now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		if n.Game.Phase != PhaseRoles {
			return ErrInvalidPhase
		}
		if _, fixed := cityRoleTable[len(n.Players)]; n.Mode != ModeCity || fixed || len(n.Players) < 17 {
			return ErrOptionalRoleLocked
		}
		optional := false
		for _, r := range OptionalCityRoles {
			if r == role {
				optional = true
			}
		}
		if !optional {
			return fmt.Errorf("%w: %s is not optional", ErrUnknownRole, role)
		}
		for i, r := range n.Game.OptionalRoles {
			if r == role {
				n.Game.OptionalRoles = append(n.Game.OptionalRoles[:i], n.Game.OptionalRoles[i+1:]...)
				return nil
			}
		}
		n.Game.OptionalRoles = append(n.Game.OptionalRoles, role)
		return nil
	})
}

// DistributeRoles deals the table's role set to the seats at random.
func (s Session) DistributeRoles(rng *rand.Rand, now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		if n.Game.Phase != PhaseRoles {
			return ErrInvalidPhase
		}
		roles, err := ActiveRoles(n.Mode, len(n.Players), n.Game.OptionalRoles)
		if err != nil {
			return err
		}
		rng.Shuffle(len(roles), func(i, j int) { roles[i], roles[j] = roles[j], roles[i] })

		n.Game.Roles = make(map[string]Role, len(roles))
		for i, p := range n.Players {
			n.Game.Roles[n.key(p.Seat)] = roles[i]
		}
		return nil
	})
}

// ValidateRoles checks the assigned roles against the table's role set.
func (s Session) ValidateRoles() error {
	want, err := ActiveRoles(s.Mode, len(s.Players), s.Game.OptionalRoles)
	if err != nil {
		return err
	}

	got := make([]Role, 0, len(s.Players))
	for _, p := range s.Players {
		got = append(got, s.RoleOf(p.Seat))
	}
	sortRoles(got)

	for i := range want {
		if got[i] != want[i] {
			return fmt.Errorf("%w: have %s, want %s", ErrInvalidRoles, countRoles(got), countRoles(want))
		}
	}
	return nil
}

func countRoles(roles []Role) string {
	counts := make(map[Role]int)
	var order []Role
	for _, r := range roles {
		if counts[r] == 0 {
			order = append(order, r)
		}
		counts[r]++
	}
	parts := make([]string, 0, len(order))
	for _, r := range order {
		parts = append(parts, fmt.Sprintf("%s=%d", r, counts[r]))
	}
	return strings.Join(parts, ",")
}

// StartDiscussion validates the role distribution and starts the discussion
// countdown.
func (s Session) StartDiscussion(now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		return n.startDiscussion(now)
	})
}

func (n *Session) startDiscussion(now time.Time) error {
	if !n.Game.Phase.CanTransitionTo(PhaseDiscussion) {
		return ErrInvalidTransition
	}
	if err := n.ValidateRoles(); err != nil {
		return err
	}
	n.Game.Phase = PhaseDiscussion
	n.Game.Countdown = &Countdown{EndsAt: now.UTC().Add(n.Rules.DiscussionTime)}
	return nil
}

// Advance moves the game to its next phase. Leaving a day without a
// completed vote round requires override.
func (s Session) Advance(now time.Time, override bool) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		return n.advance(now, override)
	})
}

func (n *Session) advance(now time.Time, override bool) error {
	switch n.Game.Phase {
	case PhaseRoles:
		return n.startDiscussion(now)
	case PhaseDiscussion:
		n.Game.Phase = PhaseFreeSeating
		n.Game.Countdown = &Countdown{EndsAt: now.UTC().Add(n.Rules.FreeSeatingTime)}
		return nil
	case PhaseFreeSeating:
		n.startDay()
		return nil
	case PhaseDay:
		if n.openRound() != nil {
			return ErrVotingOpen
		}
		if !override && !n.votedToday() {
			return ErrNoVoteToday
		}
		n.startNight()
		return nil
	case PhaseNight:
		if n.Game.NightState != nil && n.Game.NightState.Current() != StepDone {
			return ErrNightUnresolved
		}
		n.startDay()
		return nil
	}
	return ErrInvalidTransition
}

// Tick advances a countdown phase whose deadline has passed. It reports
// whether anything changed.
func (s Session) Tick(now time.Time) (Session, bool) {
	c := s.Game.Countdown
	if c == nil || !s.Game.Phase.HasCountdown() || !c.Expired(now) {
		return s, false
	}
	next, err := s.Advance(now, false)
	if err != nil {
		return s, false
	}
	return next, true
}

func (n *Session) startDay() {
	n.Game.Day++
	n.Game.Phase = PhaseDay
	n.Game.Countdown = nil
	n.Game.NightState = nil
	n.Game.Nominations = nil
}

func (n *Session) startNight() {
	n.Game.Night++
	n.Game.Phase = PhaseNight
	n.Game.Countdown = nil
	n.Game.Nights = append(n.Game.Nights, NightRecord{Night: n.Game.Night})
	n.Game.NightState = n.newNightState()
}

// SetOutcome ends the game. Scores are filled in separately by the scoring
// engine through WithScores.
func (s Session) SetOutcome(outcome Outcome, now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		if !outcome.IsValid() {
			return fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
		}
		if !n.Game.Phase.CanTransitionTo(PhaseResults) {
			return ErrInvalidTransition
		}
		n.Game.Phase = PhaseResults
		n.Game.Outcome = outcome
		n.Game.Countdown = nil
		n.Game.NightState = nil
		n.Game.EndedAt = now.UTC()
		return nil
	})
}

// WithScores returns the session carrying the computed score sheet and the
// best move bonus it contains.
func (s Session) WithScores(scores map[string]ScoreEntry, bestMoveBonus float64) Session {
	next := s.Clone()
	next.Game.Scores = scores
	if next.Game.BestMove != nil {
		next.Game.BestMove.Bonus = bestMoveBonus
	}
	return next
}

// AdjustScore records a moderator bonus/penalty correction for a seat.
func (s Session) AdjustScore(seat int, bonus, penalty float64, now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		if !n.hasSeat(seat) {
			return fmt.Errorf("%w: seat %d", ErrPlayerNotFound, seat)
		}
		if n.Game.Adjustments == nil {
			n.Game.Adjustments = make(map[string]Adjustment)
		}
		adj := n.Game.Adjustments[n.key(seat)]
		adj.Bonus = bonus
		adj.Penalty = penalty
		n.Game.Adjustments[n.key(seat)] = adj
		return nil
	})
}

// SetReveal toggles whether a seat's role is revealed on the score sheet.
func (s Session) SetReveal(seat int, reveal bool, now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		if !n.hasSeat(seat) {
			return fmt.Errorf("%w: seat %d", ErrPlayerNotFound, seat)
		}
		if n.Game.Adjustments == nil {
			n.Game.Adjustments = make(map[string]Adjustment)
		}
		adj := n.Game.Adjustments[n.key(seat)]
		adj.Reveal = reveal
		n.Game.Adjustments[n.key(seat)] = adj
		return nil
	})
}

// AddFoul records a foul; the fourth one removes the player.
func (s Session) AddFoul(seat int, now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		if err := n.requirePlaying(); err != nil {
			return err
		}
		if err := n.requireActive(seat); err != nil {
			return err
		}
		key := n.key(seat)
		rec := n.Game.Fouls[key]
		rec.Fouls++
		n.Game.Fouls[key] = rec
		if rec.Fouls >= foulsToRemove {
			n.remove(seat, ActionRemovedFouls, false)
		}
		return nil
	})
}

// AddTechFoul records a technical foul; the second one removes the player.
func (s Session) AddTechFoul(seat int, now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		if err := n.requirePlaying(); err != nil {
			return err
		}
		if err := n.requireActive(seat); err != nil {
			return err
		}
		key := n.key(seat)
		rec := n.Game.Fouls[key]
		rec.TechFouls++
		n.Game.Fouls[key] = rec
		if rec.TechFouls >= techFoulsToRemove {
			n.remove(seat, ActionRemovedTechFouls, false)
		}
		return nil
	})
}

// RemovePlayer removes a player by moderator decision.
func (s Session) RemovePlayer(seat int, now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		if err := n.requirePlaying(); err != nil {
			return err
		}
		if err := n.requireActive(seat); err != nil {
			return err
		}
		n.remove(seat, ActionRemovedFouls, true)
		return nil
	})
}

func (n *Session) requirePlaying() error {
	switch n.Game.Phase {
	case PhaseDiscussion, PhaseFreeSeating, PhaseDay, PhaseNight:
		return nil
	}
	return ErrInvalidPhase
}

func (n *Session) remove(seat int, action Action, forced bool) {
	n.Game.Eliminations[n.key(seat)] = Elimination{
		Action: action,
		Day:    n.Game.Day,
		Night:  n.Game.Night,
		Forced: forced,
	}
	n.dropNominationsOf(seat)
	n.dropFromOpenRound(seat)
}

// NextGame archives the finished game into the series history and starts a
// new one for the same table and roster.
func (s Session) NextGame(now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		if n.Game.Phase != PhaseResults {
			return ErrInvalidPhase
		}
		n.History = append(n.History, n.Game)
		n.Game = newGame(n.Game.Number+1, now.UTC())
		return nil
	})
}
