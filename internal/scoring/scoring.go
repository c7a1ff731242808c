// Package scoring turns a finished game into a score sheet. Everything here
// is a pure function of the session value.
package scoring

import (
	"math"
	"sort"

	"mafiapanel/internal/domain"
)

// TeamCredit is awarded to every player on the winning side.
const TeamCredit = 1.0

// BestMoveBonus is keyed by the number of mafia seats named in an accepted
// best move.
var BestMoveBonus = Table{1: 0.1, 2: 0.3, 3: 0.6}

// Protocol tables, keyed by the number of correct or wrong identifications.
var (
	MafiaGuessBonus      = Table{1: 0.2, 2: 0.5, 3: 0.8}
	MafiaGuessPenalty    = Table{1: 0.2, 2: 0.5, 3: 0.8}
	CivilianGuessBonus   = Table{1: 0.1, 2: 0.3, 3: 0.5, 4: 0.7}
	CivilianGuessPenalty = Table{1: 0.2, 2: 0.4}
)

const (
	// SheriffGuessPoints is won or lost per sheriff prediction.
	SheriffGuessPoints = 0.4
	ProtocolBonusCap   = 0.8
	OpinionBonusCap    = 0.4
)

// Discipline penalties.
const (
	RemovalPenalty = 1.0
)

// TechFoulPenalty is keyed by the number of technical fouls.
var TechFoulPenalty = Table{1: 0.3, 2: 0.6}

// Table maps a count to points. Counts above the largest key use the value
// of the largest key.
type Table map[int]float64

// Lookup returns the points for n.
func (t Table) Lookup(n int) float64 {
	if n <= 0 || len(t) == 0 {
		return 0
	}
	if v, ok := t[n]; ok {
		return v
	}
	top := 0
	for k := range t {
		if k > top {
			top = k
		}
	}
	if n > top {
		return t[top]
	}
	return 0
}

// Row is one line of a score sheet
type Row struct {
	Seat  int               `json:"seat"`
	Name  string            `json:"name"`
	Key   string            `json:"key"`
	Role  domain.Role       `json:"role"`
	Entry domain.ScoreEntry `json:"entry"`
}

// Sheet is the computed score sheet of one game
type Sheet struct {
	Entries       map[string]domain.ScoreEntry `json:"entries"`
	Rows          []Row                        `json:"rows"`
	BestMoveBonus float64                      `json:"bestMoveBonus"`
}

// Compute scores the current game of s. A game without an outcome scores
// zero for everybody.
func Compute(s domain.Session) Sheet {
	sheet := Sheet{Entries: make(map[string]domain.ScoreEntry, len(s.Players))}
	g := s.Game
	winner, decided := g.Outcome.Winner()
	firstKilled, hasFirst := s.FirstKilled()

	if g.Outcome.IsValid() && hasFirst {
		sheet.BestMoveBonus = bestMoveBonus(s, firstKilled)
	}

	for _, p := range s.Players {
		key := s.KeyOf(p.Seat)
		role := s.RoleOf(p.Seat)
		entry := domain.ScoreEntry{Reveal: g.Adjustments[key].Reveal}

		if g.Outcome.IsValid() {
			if decided && role.Team() == winner {
				entry.Team = TeamCredit
			}

			switch {
			case hasFirst && p.Seat == firstKilled:
				entry.Bonus += sheet.BestMoveBonus
				bonus, penalty := protocolPoints(s, g.Protocol)
				entry.Bonus += bonus
				entry.Penalty += penalty
			case s.IsActive(p.Seat):
				bonus, penalty := opinionPoints(s, g.Opinions[key])
				entry.Bonus += bonus
				entry.Penalty += penalty
			}

			entry.Penalty += disciplinePenalty(g.Eliminations[key], g.Fouls[key])

			adj := g.Adjustments[key]
			entry.Bonus += adj.Bonus
			entry.Penalty += adj.Penalty

			entry.Bonus = round2(entry.Bonus)
			entry.Penalty = round2(entry.Penalty)
			entry.Total = round2(entry.Team + entry.Bonus - entry.Penalty)
		}

		sheet.Entries[key] = entry
		sheet.Rows = append(sheet.Rows, Row{Seat: p.Seat, Name: p.Name, Key: key, Role: role, Entry: entry})
	}
	return sheet
}

func bestMoveBonus(s domain.Session, firstKilled int) float64 {
	bm := s.Game.BestMove
	if bm == nil || !bm.Accepted || bm.Seat != firstKilled {
		return 0
	}
	correct := 0
	for _, seat := range bm.Guesses {
		if s.RoleOf(seat).IsMafia() {
			correct++
		}
	}
	return BestMoveBonus.Lookup(correct)
}

func protocolPoints(s domain.Session, preds []domain.Prediction) (bonus, penalty float64) {
	var mafiaRight, mafiaWrong, civRight, civWrong, sheriffRight, sheriffWrong int
	for _, p := range preds {
		actual := s.RoleOf(p.Target)
		switch p.Role {
		case domain.RoleMafia:
			if actual.IsMafia() {
				mafiaRight++
			} else {
				mafiaWrong++
			}
		case domain.RoleCivilian:
			if actual.IsMafia() {
				civWrong++
			} else {
				civRight++
			}
		case domain.RoleSheriff:
			if actual == domain.RoleSheriff {
				sheriffRight++
			} else {
				sheriffWrong++
			}
		}
	}

	bonus = MafiaGuessBonus.Lookup(mafiaRight) + SheriffGuessPoints*float64(sheriffRight)
	if civWrong == 0 {
		bonus += CivilianGuessBonus.Lookup(civRight)
	}
	bonus = math.Min(bonus, ProtocolBonusCap)

	penalty = MafiaGuessPenalty.Lookup(mafiaWrong) +
		CivilianGuessPenalty.Lookup(civWrong) +
		SheriffGuessPoints*float64(sheriffWrong)
	return bonus, penalty
}

func opinionPoints(s domain.Session, preds []domain.Prediction) (bonus, penalty float64) {
	for _, p := range preds {
		if p.Role != domain.RoleSheriff {
			continue
		}
		if s.RoleOf(p.Target) == domain.RoleSheriff {
			bonus += SheriffGuessPoints
		} else {
			penalty += SheriffGuessPoints
		}
	}
	return math.Min(bonus, OpinionBonusCap), penalty
}

func disciplinePenalty(e domain.Elimination, f domain.FoulRecord) float64 {
	penalty := 0.0
	if e.Forced || e.Action == domain.ActionRemovedFouls || f.Fouls >= 4 {
		penalty += RemovalPenalty
	}
	tech := f.TechFouls
	if e.Action == domain.ActionRemovedTechFouls && tech < 2 {
		tech = 2
	}
	return penalty + TechFoulPenalty.Lookup(tech)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// SeriesTotals sums the totals of every finished game of the session's
// series, archived games and the current one, by seat.
func SeriesTotals(s domain.Session) map[int]float64 {
	totals := make(map[int]float64, len(s.Players))
	games := append(append([]domain.Game(nil), s.History...), s.Game)
	for _, g := range games {
		for _, p := range s.Players {
			key := domain.RoleKey(g.Number, s.TableNumber, p.Seat)
			if entry, ok := g.Scores[key]; ok {
				totals[p.Seat] += entry.Total
			}
		}
	}
	for seat, v := range totals {
		totals[seat] = round2(v)
	}
	return totals
}

// Ranking returns seats ordered by series total, highest first.
func Ranking(totals map[int]float64) []int {
	seats := make([]int, 0, len(totals))
	for seat := range totals {
		seats = append(seats, seat)
	}
	sort.Slice(seats, func(i, j int) bool {
		if totals[seats[i]] != totals[seats[j]] {
			return totals[seats[i]] > totals[seats[j]]
		}
		return seats[i] < seats[j]
	})
	return seats
}
