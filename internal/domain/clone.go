package domain

import "time"

// Clone returns a deep copy that shares no maps or slices with s.
func (s Session) Clone() Session {
	out := s
	out.Players = append([]Player(nil), s.Players...)
	out.Game = s.Game.Clone()
	if s.History != nil {
		out.History = make([]Game, len(s.History))
		for i, g := range s.History {
			out.History[i] = g.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the game.
func (g Game) Clone() Game {
	out := g
	out.Roles = cloneMap(g.Roles)
	out.OptionalRoles = append([]Role(nil), g.OptionalRoles...)
	out.Eliminations = cloneMap(g.Eliminations)
	out.Fouls = cloneMap(g.Fouls)
	out.Scores = cloneMap(g.Scores)
	out.Adjustments = cloneMap(g.Adjustments)
	out.Nominations = append([]Nomination(nil), g.Nominations...)
	out.Protocol = append([]Prediction(nil), g.Protocol...)

	if g.Countdown != nil {
		c := *g.Countdown
		out.Countdown = &c
	}
	if g.NightState != nil {
		ns := *g.NightState
		ns.Steps = append([]NightStep(nil), ns.Steps...)
		ns.AutoAdvanceAt = cloneTime(ns.AutoAdvanceAt)
		out.NightState = &ns
	}
	if g.BestMove != nil {
		bm := *g.BestMove
		bm.Guesses = append([]int(nil), bm.Guesses...)
		out.BestMove = &bm
	}
	if g.Nights != nil {
		out.Nights = make([]NightRecord, len(g.Nights))
		for i, rec := range g.Nights {
			rec.Checks = append([]Check(nil), rec.Checks...)
			out.Nights[i] = rec
		}
	}
	if g.Votes != nil {
		out.Votes = make([]VoteRound, len(g.Votes))
		for i, r := range g.Votes {
			out.Votes[i] = r.clone()
		}
	}
	if g.Opinions != nil {
		out.Opinions = make(map[string][]Prediction, len(g.Opinions))
		for k, v := range g.Opinions {
			out.Opinions[k] = append([]Prediction(nil), v...)
		}
	}
	return out
}

func (r VoteRound) clone() VoteRound {
	out := r
	out.Nominees = append([]int(nil), r.Nominees...)
	out.Winners = append([]int(nil), r.Winners...)
	out.LastWordsEndsAt = cloneTime(r.LastWordsEndsAt)
	if r.Stages != nil {
		out.Stages = make([]VoteStage, len(r.Stages))
		for i, st := range r.Stages {
			st.Candidates = append([]int(nil), st.Candidates...)
			st.Lift = append([]int(nil), st.Lift...)
			st.Winners = append([]int(nil), st.Winners...)
			entries := make([]VoteEntry, len(st.Entries))
			for j, e := range st.Entries {
				e.Voters = append([]int(nil), e.Voters...)
				entries[j] = e
			}
			if st.Entries == nil {
				entries = nil
			}
			st.Entries = entries
			out.Stages[i] = st
		}
	}
	return out
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
