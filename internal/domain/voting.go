package domain

import (
	"fmt"
	"time"
)

// StageType is one step of the vote cascade
type StageType string

const (
	StageMain StageType = "main"
	StageTie  StageType = "tie"
	StageLift StageType = "lift"
)

// RoundStatus tracks a vote round from opening to its final result
type RoundStatus string

const (
	RoundOpen      RoundStatus = "open"
	RoundLastWords RoundStatus = "last_words" // Winners decided, elimination pending
	RoundClosed    RoundStatus = "closed"
)

// RoundOutcome is how a closed vote round ended
type RoundOutcome string

const (
	OutcomePending       RoundOutcome = ""
	OutcomeEliminated    RoundOutcome = "eliminated"
	OutcomeNoElimination RoundOutcome = "no_elimination"
	OutcomeAborted       RoundOutcome = "aborted"
)

// VoteEntry holds the votes for one candidate. Standard mode fills Voters,
// city mode fills Tally.
type VoteEntry struct {
	Candidate int   `json:"candidate"`
	Voters    []int `json:"voters,omitempty"`
	Tally     int   `json:"tally"`
}

// Count returns the number of votes for the candidate.
func (e VoteEntry) Count() int {
	if len(e.Voters) > 0 {
		return len(e.Voters)
	}
	return e.Tally
}

// VoteStage is one stage of a vote round
type VoteStage struct {
	Type       StageType   `json:"type"`
	Candidates []int       `json:"candidates"`
	Entries    []VoteEntry `json:"entries,omitempty"`
	Lift       []int       `json:"lift,omitempty"`
	LiftTally  int         `json:"liftTally,omitempty"`
	Closed     bool        `json:"closed"`
	Winners    []int       `json:"winners,omitempty"`
}

func newStage(kind StageType, candidates []int) VoteStage {
	stage := VoteStage{Type: kind, Candidates: append([]int(nil), candidates...)}
	if kind != StageLift {
		for _, c := range candidates {
			stage.Entries = append(stage.Entries, VoteEntry{Candidate: c})
		}
	}
	return stage
}

// LiftCount returns the number of players voting to lift the candidates.
func (st VoteStage) LiftCount() int {
	if len(st.Lift) > 0 {
		return len(st.Lift)
	}
	return st.LiftTally
}

func (st *VoteStage) entry(candidate int) *VoteEntry {
	for i := range st.Entries {
		if st.Entries[i].Candidate == candidate {
			return &st.Entries[i]
		}
	}
	return nil
}

func (st *VoteStage) hasVoted(voter int) bool {
	for _, e := range st.Entries {
		for _, v := range e.Voters {
			if v == voter {
				return true
			}
		}
	}
	return false
}

// leaders returns the candidates sharing the highest non-zero count.
func (st VoteStage) leaders() []int {
	best := 0
	var out []int
	for _, e := range st.Entries {
		switch c := e.Count(); {
		case c == 0 || c < best:
		case c > best:
			best = c
			out = []int{e.Candidate}
		default:
			out = append(out, e.Candidate)
		}
	}
	return out
}

// VoteRound is the vote of one day, from the main stage to its result
type VoteRound struct {
	Day             int          `json:"day"`
	Nominees        []int        `json:"nominees"`
	Confirmation    bool         `json:"confirmation,omitempty"` // Single nominee on day one
	Stages          []VoteStage  `json:"stages"`
	Status          RoundStatus  `json:"status"`
	Outcome         RoundOutcome `json:"outcome,omitempty"`
	Winners         []int        `json:"winners,omitempty"`
	LastWordsEndsAt *time.Time   `json:"lastWordsEndsAt,omitempty"`
}

// Stage returns the stage currently being voted.
func (r *VoteRound) Stage() *VoteStage {
	if len(r.Stages) == 0 {
		return nil
	}
	return &r.Stages[len(r.Stages)-1]
}

// CurrentRound returns the latest vote round of the current day.
func (s Session) CurrentRound() (VoteRound, bool) {
	for i := len(s.Game.Votes) - 1; i >= 0; i-- {
		if s.Game.Votes[i].Day == s.Game.Day {
			return s.Game.Votes[i], true
		}
	}
	return VoteRound{}, false
}

func (n *Session) openRound() *VoteRound {
	for i := len(n.Game.Votes) - 1; i >= 0; i-- {
		r := &n.Game.Votes[i]
		if r.Day == n.Game.Day && r.Status != RoundClosed {
			return r
		}
	}
	return nil
}

func (n *Session) votedToday() bool {
	for _, r := range n.Game.Votes {
		if r.Day == n.Game.Day && r.Status == RoundClosed {
			return true
		}
	}
	return false
}

func (n *Session) votingStage() (*VoteRound, *VoteStage, error) {
	if n.Game.Phase != PhaseDay {
		return nil, nil, ErrInvalidPhase
	}
	round := n.openRound()
	if round == nil || round.Status != RoundOpen {
		return nil, nil, ErrNoOpenVote
	}
	return round, round.Stage(), nil
}

// StartVoting opens a vote round over the current candidates.
func (s Session) StartVoting(now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		if n.Game.Phase != PhaseDay {
			return ErrInvalidPhase
		}
		if n.openRound() != nil {
			return ErrVotingOpen
		}
		candidates := n.Candidates()
		if len(candidates) == 0 {
			return ErrNoNominations
		}
		n.Game.Votes = append(n.Game.Votes, VoteRound{
			Day:          n.Game.Day,
			Nominees:     candidates,
			Confirmation: n.Game.Day == 1 && len(candidates) == 1,
			Stages:       []VoteStage{newStage(StageMain, candidates)},
			Status:       RoundOpen,
		})
		return nil
	})
}

// CastVote records a standard-mode vote of voter for candidate.
func (s Session) CastVote(voter, candidate int, now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		if n.Mode != ModeClassic {
			return ErrWrongVoteMode
		}
		_, stage, err := n.votingStage()
		if err != nil {
			return err
		}
		if stage.Type == StageLift {
			return fmt.Errorf("%w: lift stage takes lift votes", ErrNotCandidate)
		}
		if err := n.requireActive(voter); err != nil {
			return err
		}
		if err := n.requireActive(candidate); err != nil {
			return err
		}
		entry := stage.entry(candidate)
		if entry == nil {
			return fmt.Errorf("%w: seat %d", ErrNotCandidate, candidate)
		}
		if stage.hasVoted(voter) {
			return ErrAlreadyVoted
		}
		entry.Voters = append(entry.Voters, voter)
		return nil
	})
}

// RetractVote removes the voter's vote from the current stage.
func (s Session) RetractVote(voter int, now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		if n.Mode != ModeClassic {
			return ErrWrongVoteMode
		}
		_, stage, err := n.votingStage()
		if err != nil {
			return err
		}
		if stage.Type == StageLift {
			return n.toggleLift(stage, voter, false)
		}
		for i := range stage.Entries {
			e := &stage.Entries[i]
			for j, v := range e.Voters {
				if v == voter {
					e.Voters = append(e.Voters[:j:j], e.Voters[j+1:]...)
					return nil
				}
			}
		}
		return ErrNotVoted
	})
}

// SetTally records a city-mode vote count for a candidate.
func (s Session) SetTally(candidate, tally int, now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		if n.Mode != ModeCity {
			return ErrWrongVoteMode
		}
		_, stage, err := n.votingStage()
		if err != nil {
			return err
		}
		if err := n.requireActive(candidate); err != nil {
			return err
		}
		entry := stage.entry(candidate)
		if entry == nil {
			return fmt.Errorf("%w: seat %d", ErrNotCandidate, candidate)
		}
		if tally < 0 {
			return ErrInvalidTally
		}
		sum := tally
		for _, e := range stage.Entries {
			if e.Candidate != candidate {
				sum += e.Tally
			}
		}
		if sum > len(n.ActiveSeats()) {
			return fmt.Errorf("%w: %d votes for %d players", ErrInvalidTally, sum, len(n.ActiveSeats()))
		}
		entry.Tally = tally
		return nil
	})
}

// CastLiftVote records a standard-mode vote to lift the tied candidates.
func (s Session) CastLiftVote(voter int, now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		if n.Mode != ModeClassic {
			return ErrWrongVoteMode
		}
		_, stage, err := n.votingStage()
		if err != nil {
			return err
		}
		return n.toggleLift(stage, voter, true)
	})
}

func (n *Session) toggleLift(stage *VoteStage, voter int, add bool) error {
	if stage.Type != StageLift {
		return fmt.Errorf("%w: not a lift stage", ErrInvalidPhase)
	}
	if err := n.requireActive(voter); err != nil {
		return err
	}
	for i, v := range stage.Lift {
		if v == voter {
			if add {
				return ErrAlreadyVoted
			}
			stage.Lift = append(stage.Lift[:i:i], stage.Lift[i+1:]...)
			return nil
		}
	}
	if !add {
		return ErrNotVoted
	}
	stage.Lift = append(stage.Lift, voter)
	return nil
}

// SetLiftTally records a city-mode count of lift votes.
func (s Session) SetLiftTally(count int, now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		if n.Mode != ModeCity {
			return ErrWrongVoteMode
		}
		_, stage, err := n.votingStage()
		if err != nil {
			return err
		}
		if stage.Type != StageLift {
			return fmt.Errorf("%w: not a lift stage", ErrInvalidPhase)
		}
		if count < 0 || count > len(n.ActiveSeats()) {
			return ErrInvalidTally
		}
		stage.LiftTally = count
		return nil
	})
}

// CloseStage counts the current stage and cascades: a single winner goes to
// last words, a main-stage tie opens a tie stage, a repeated tie opens the
// lift stage. Every stage stays on the round.
func (s Session) CloseStage(now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		round, stage, err := n.votingStage()
		if err != nil {
			return err
		}
		active := n.ActiveSeats()

		if stage.Type == StageLift {
			stage.Closed = true
			if stage.LiftCount()*2 > len(active) {
				stage.Winners = append([]int(nil), stage.Candidates...)
				n.pendLastWords(round, stage.Winners, now)
				return nil
			}
			n.closeRound(round, OutcomeNoElimination)
			n.Game.Nominations = nil
			return nil
		}

		if n.Mode == ModeClassic && !round.Confirmation && len(stage.Entries) > 0 {
			last := &stage.Entries[len(stage.Entries)-1]
			for _, seat := range active {
				if !stage.hasVoted(seat) {
					last.Voters = append(last.Voters, seat)
				}
			}
		}

		stage.Closed = true
		stage.Winners = stage.leaders()
		switch {
		case len(stage.Winners) == 0:
			n.closeRound(round, OutcomeNoElimination)
		case len(stage.Winners) == 1:
			n.pendLastWords(round, stage.Winners, now)
		case stage.Type == StageMain:
			round.Stages = append(round.Stages, newStage(StageTie, stage.Winners))
		case n.Game.Day == 1 && len(stage.Winners) >= 3:
			n.closeRound(round, OutcomeAborted)
			if n.Rules.ClearNominationsOnAbort {
				n.Game.Nominations = nil
			}
		default:
			round.Stages = append(round.Stages, newStage(StageLift, stage.Winners))
		}
		return nil
	})
}

func (n *Session) pendLastWords(round *VoteRound, winners []int, now time.Time) {
	round.Status = RoundLastWords
	round.Winners = append([]int(nil), winners...)
	ends := now.UTC().Add(n.Rules.LastWordsTime)
	round.LastWordsEndsAt = &ends
}

func (n *Session) closeRound(round *VoteRound, outcome RoundOutcome) {
	round.Status = RoundClosed
	round.Outcome = outcome
	round.LastWordsEndsAt = nil
}

// ApplyVoteResult eliminates the round's winners once their last words are
// over and closes the round.
func (s Session) ApplyVoteResult(now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		if n.Game.Phase != PhaseDay {
			return ErrInvalidPhase
		}
		round := n.openRound()
		if round == nil || round.Status != RoundLastWords {
			return ErrNoPendingResult
		}
		outcome := OutcomeNoElimination
		for _, seat := range round.Winners {
			// Removal during last words keeps its own elimination.
			if !n.IsActive(seat) {
				continue
			}
			n.Game.Eliminations[n.key(seat)] = Elimination{Action: ActionVotedOut, Day: n.Game.Day}
			n.dropNominationsOf(seat)
			outcome = OutcomeEliminated
		}
		n.closeRound(round, outcome)
		return nil
	})
}

// dropFromOpenRound takes a removed seat out of the stage being voted: its
// entry goes, and so do the votes it cast. A stage left without candidates
// ends the round without elimination.
func (n *Session) dropFromOpenRound(seat int) {
	round := n.openRound()
	if round == nil || round.Status != RoundOpen {
		return
	}
	stage := round.Stage()
	if stage == nil {
		return
	}

	candidates := stage.Candidates[:0:0]
	for _, c := range stage.Candidates {
		if c != seat {
			candidates = append(candidates, c)
		}
	}
	stage.Candidates = candidates

	entries := stage.Entries[:0:0]
	for _, e := range stage.Entries {
		if e.Candidate == seat {
			continue
		}
		e.Voters = withoutSeat(e.Voters, seat)
		entries = append(entries, e)
	}
	stage.Entries = entries
	stage.Lift = withoutSeat(stage.Lift, seat)

	if len(stage.Candidates) == 0 {
		stage.Closed = true
		n.closeRound(round, OutcomeNoElimination)
	}
}

func withoutSeat(seats []int, seat int) []int {
	out := seats[:0:0]
	for _, s := range seats {
		if s != seat {
			out = append(out, s)
		}
	}
	return out
}

// LastWordsDue reports whether pending last words have run out at now.
func (s Session) LastWordsDue(now time.Time) bool {
	round, ok := s.CurrentRound()
	if !ok || round.Status != RoundLastWords || round.LastWordsEndsAt == nil {
		return false
	}
	return !now.Before(*round.LastWordsEndsAt)
}
