package domain

import "time"

// Nomination is one player putting another up for the vote
type Nomination struct {
	By     int `json:"by"`
	Target int `json:"target"`
}

// Nominate puts target up for the vote on behalf of by. Nominating the same
// target again withdraws it; nominating someone else replaces the previous
// nomination.
func (s Session) Nominate(by, target int, now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		if n.Game.Phase != PhaseDay {
			return ErrInvalidPhase
		}
		if n.openRound() != nil {
			return ErrVotingOpen
		}
		if err := n.requireActive(by); err != nil {
			return err
		}
		if err := n.requireActive(target); err != nil {
			return err
		}

		noms := make([]Nomination, 0, len(n.Game.Nominations)+1)
		withdrawn := false
		for _, nom := range n.Game.Nominations {
			if nom.By == by {
				withdrawn = nom.Target == target
				continue
			}
			noms = append(noms, nom)
		}
		if !withdrawn {
			noms = append(noms, Nomination{By: by, Target: target})
		}
		n.Game.Nominations = noms
		return nil
	})
}

// ClearNominations drops every nomination of the current day.
func (s Session) ClearNominations(now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		if n.Game.Phase != PhaseDay {
			return ErrInvalidPhase
		}
		if n.openRound() != nil {
			return ErrVotingOpen
		}
		n.Game.Nominations = nil
		return nil
	})
}

// Candidates returns the nominated seats, most recent nomination first.
func (s Session) Candidates() []int {
	seen := make(map[int]bool)
	var out []int
	for i := len(s.Game.Nominations) - 1; i >= 0; i-- {
		target := s.Game.Nominations[i].Target
		if seen[target] {
			continue
		}
		seen[target] = true
		out = append(out, target)
	}
	return out
}

// NominatedBy returns the seat the player currently nominates.
func (s Session) NominatedBy(seat int) (int, bool) {
	for _, nom := range s.Game.Nominations {
		if nom.By == seat {
			return nom.Target, true
		}
	}
	return 0, false
}

func (n *Session) dropNominationsOf(seat int) {
	if len(n.Game.Nominations) == 0 {
		return
	}
	noms := n.Game.Nominations[:0:0]
	for _, nom := range n.Game.Nominations {
		if nom.By == seat || nom.Target == seat {
			continue
		}
		noms = append(noms, nom)
	}
	n.Game.Nominations = noms
}
