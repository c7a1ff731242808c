package domain

import (
	"fmt"
	"time"
)

// BestMove is the guess of the first player killed at night
type BestMove struct {
	Owner    string  `json:"owner"` // Role-key of the killed player
	Seat     int     `json:"seat"`
	Night    int     `json:"night"`
	Guesses  []int   `json:"guesses,omitempty"`
	Accepted bool    `json:"accepted"`
	Bonus    float64 `json:"bonus,omitempty"`
}

// BestMoveLimit returns how many seats a best move may name at a table.
func BestMoveLimit(seats int) int {
	switch {
	case seats >= 10:
		return 3
	case seats >= 7:
		return 2
	}
	return 1
}

// SubmitBestMove stores the guessed seats. Submitting again replaces the
// guesses and withdraws a previous acceptance.
func (s Session) SubmitBestMove(guesses []int, now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		bm := n.Game.BestMove
		if bm == nil || n.Game.Phase == PhaseResults {
			return ErrBestMoveClosed
		}
		if limit := BestMoveLimit(len(n.Players)); len(guesses) > limit {
			return fmt.Errorf("%w: %d guesses, limit %d", ErrTooManyGuesses, len(guesses), limit)
		}
		seen := make(map[int]bool, len(guesses))
		for _, seat := range guesses {
			if !n.hasSeat(seat) {
				return fmt.Errorf("%w: seat %d", ErrPlayerNotFound, seat)
			}
			if seen[seat] {
				return fmt.Errorf("%w: seat %d", ErrDuplicateGuess, seat)
			}
			seen[seat] = true
		}
		bm.Guesses = append([]int(nil), guesses...)
		bm.Accepted = false
		return nil
	})
}

// SetBestMoveAccepted marks the submitted guesses as accepted by the
// moderator, or withdraws the acceptance.
func (s Session) SetBestMoveAccepted(accepted bool, now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		bm := n.Game.BestMove
		if bm == nil {
			return ErrBestMoveClosed
		}
		if accepted && len(bm.Guesses) == 0 {
			return fmt.Errorf("%w: no guesses submitted", ErrBestMoveClosed)
		}
		bm.Accepted = accepted
		return nil
	})
}

// Prediction is one player's claim about another seat's role. Role is one
// of mafia, sheriff or civilian.
type Prediction struct {
	Target int  `json:"target"`
	Role   Role `json:"role"`
}

func (n *Session) validPredictions(preds []Prediction) error {
	seen := make(map[int]bool, len(preds))
	for _, p := range preds {
		if !n.hasSeat(p.Target) {
			return fmt.Errorf("%w: seat %d", ErrInvalidPrediction, p.Target)
		}
		if seen[p.Target] {
			return fmt.Errorf("%w: seat %d named twice", ErrInvalidPrediction, p.Target)
		}
		seen[p.Target] = true
		switch p.Role {
		case RoleMafia, RoleSheriff, RoleCivilian:
		default:
			return fmt.Errorf("%w: role %q", ErrInvalidPrediction, p.Role)
		}
	}
	return nil
}

// RecordProtocol stores the protocol predictions of the first player killed
// at night.
func (s Session) RecordProtocol(preds []Prediction, now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		if _, ok := n.FirstKilled(); !ok {
			return fmt.Errorf("%w: nobody was killed yet", ErrInvalidPrediction)
		}
		if err := n.validPredictions(preds); err != nil {
			return err
		}
		n.Game.Protocol = append([]Prediction(nil), preds...)
		return nil
	})
}

// RecordOpinion stores the predictions a seat voiced during the game.
func (s Session) RecordOpinion(seat int, preds []Prediction, now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		if !n.hasSeat(seat) {
			return fmt.Errorf("%w: seat %d", ErrPlayerNotFound, seat)
		}
		if first, ok := n.FirstKilled(); ok && first == seat {
			return fmt.Errorf("%w: first killed player records a protocol", ErrInvalidPrediction)
		}
		if err := n.validPredictions(preds); err != nil {
			return err
		}
		if n.Game.Opinions == nil {
			n.Game.Opinions = make(map[string][]Prediction)
		}
		if len(preds) == 0 {
			delete(n.Game.Opinions, n.key(seat))
			return nil
		}
		n.Game.Opinions[n.key(seat)] = append([]Prediction(nil), preds...)
		return nil
	})
}
