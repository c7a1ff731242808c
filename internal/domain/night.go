package domain

import (
	"fmt"
	"time"
)

// NightCheckAdvance is how long the night stays on a check step after the
// check was recorded before moving on by itself.
const NightCheckAdvance = 5 * time.Second

// NightStep is a state of the night sub-machine
type NightStep string

const (
	StepKill    NightStep = "kill"
	StepDon     NightStep = "don"
	StepSheriff NightStep = "sheriff"
	StepDoctor  NightStep = "doctor"
	StepDone    NightStep = "done"
)

// Check is a don or sheriff check made at night
type Check struct {
	Checker Role `json:"checker"`
	Target  int  `json:"target"`
	Match   bool `json:"match"` // Don: target is the sheriff. Sheriff: target is mafia.
	Night   int  `json:"night"`
}

// NightRecord is what happened during one night
type NightRecord struct {
	Night  int     `json:"night"`
	Kill   int     `json:"kill,omitempty"` // Seat, 0 when nobody was shot
	Miss   bool    `json:"miss,omitempty"`
	Checks []Check `json:"checks,omitempty"`
	Heal   int     `json:"heal,omitempty"`
	Saved  bool    `json:"saved,omitempty"`
}

// NightState tracks progress through the night steps. Steps are fixed when
// the night starts.
type NightState struct {
	Steps         []NightStep `json:"steps"`
	Index         int         `json:"index"`
	AutoAdvanceAt *time.Time  `json:"autoAdvanceAt,omitempty"`
}

// Current returns the step the night is on.
func (ns *NightState) Current() NightStep {
	if ns == nil || ns.Index >= len(ns.Steps) {
		return StepDone
	}
	return ns.Steps[ns.Index]
}

func (n *Session) newNightState() *NightState {
	steps := make([]NightStep, 0, 5)
	if n.anyActive(Role.IsMafia) {
		steps = append(steps, StepKill)
	}
	if n.anyActive(func(r Role) bool { return r == RoleDon }) {
		steps = append(steps, StepDon)
	}
	if n.anyActive(func(r Role) bool { return r == RoleSheriff }) {
		steps = append(steps, StepSheriff)
	}
	if n.Mode == ModeCity && n.anyActive(func(r Role) bool { return r == RoleDoctor }) {
		steps = append(steps, StepDoctor)
	}
	steps = append(steps, StepDone)
	return &NightState{Steps: steps}
}

// NightStep returns the current night step, or done outside the night.
func (s Session) NightStep() NightStep {
	if s.Game.Phase != PhaseNight {
		return StepDone
	}
	return s.Game.NightState.Current()
}

func (n *Session) tonight() *NightRecord {
	if len(n.Game.Nights) == 0 {
		return nil
	}
	rec := &n.Game.Nights[len(n.Game.Nights)-1]
	if rec.Night != n.Game.Night {
		return nil
	}
	return rec
}

func (n *Session) requireStep(steps ...NightStep) (*NightRecord, error) {
	if n.Game.Phase != PhaseNight {
		return nil, ErrInvalidPhase
	}
	current := n.Game.NightState.Current()
	for _, step := range steps {
		if step == current {
			if rec := n.tonight(); rec != nil {
				return rec, nil
			}
			break
		}
	}
	return nil, fmt.Errorf("%w: night is on %s", ErrInvalidNightStep, current)
}

// RecordKill marks the target killed tonight. The first kill of the game
// opens the best move for the killed player.
func (s Session) RecordKill(target int, now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		rec, err := n.requireStep(StepKill)
		if err != nil {
			return err
		}
		if rec.Kill != 0 || rec.Miss {
			return ErrKillRecorded
		}
		if err := n.requireActive(target); err != nil {
			return err
		}

		_, killedBefore := n.FirstKilled()
		rec.Kill = target
		n.Game.Eliminations[n.key(target)] = Elimination{Action: ActionKilled, Night: n.Game.Night}

		if !killedBefore && n.Game.BestMove == nil {
			n.Game.BestMove = &BestMove{
				Owner: n.key(target),
				Seat:  target,
				Night: n.Game.Night,
			}
		}
		return nil
	})
}

// RecordMiss records that the mafia did not shoot tonight.
func (s Session) RecordMiss(now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		rec, err := n.requireStep(StepKill)
		if err != nil {
			return err
		}
		if rec.Kill != 0 || rec.Miss {
			return ErrKillRecorded
		}
		rec.Miss = true
		return nil
	})
}

// RecordCheck records the don's or sheriff's check for the current step and
// arms the automatic advance.
func (s Session) RecordCheck(target int, now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		rec, err := n.requireStep(StepDon, StepSheriff)
		if err != nil {
			return err
		}
		if !n.hasSeat(target) {
			return fmt.Errorf("%w: seat %d", ErrPlayerNotFound, target)
		}

		checker := RoleSheriff
		if n.Game.NightState.Current() == StepDon {
			checker = RoleDon
		}
		for _, c := range rec.Checks {
			if c.Checker == checker {
				return ErrAlreadyChecked
			}
		}

		role := n.RoleOf(target)
		match := role.IsMafia()
		if checker == RoleDon {
			match = role == RoleSheriff
		}
		rec.Checks = append(rec.Checks, Check{
			Checker: checker,
			Target:  target,
			Match:   match,
			Night:   n.Game.Night,
		})

		at := now.UTC().Add(NightCheckAdvance)
		n.Game.NightState.AutoAdvanceAt = &at
		return nil
	})
}

// LastHeal returns the target of the most recent heal before tonight.
func (s Session) LastHeal() (int, bool) {
	for i := len(s.Game.Nights) - 1; i >= 0; i-- {
		rec := s.Game.Nights[i]
		if rec.Night == s.Game.Night && s.Game.Phase == PhaseNight {
			continue
		}
		if rec.Heal != 0 {
			return rec.Heal, true
		}
	}
	return 0, false
}

// RecordHeal records the doctor's heal. Healing tonight's kill target
// reverts the kill.
func (s Session) RecordHeal(target int, now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		rec, err := n.requireStep(StepDoctor)
		if err != nil {
			return err
		}
		if rec.Heal != 0 {
			return ErrAlreadyHealed
		}
		if !n.hasSeat(target) {
			return fmt.Errorf("%w: seat %d", ErrPlayerNotFound, target)
		}
		if target != rec.Kill && !n.IsActive(target) {
			return fmt.Errorf("%w: seat %d", ErrPlayerInactive, target)
		}
		if last, ok := n.LastHeal(); ok && last == target {
			return ErrRepeatHeal
		}

		rec.Heal = target
		if target == rec.Kill {
			rec.Saved = true
			delete(n.Game.Eliminations, n.key(target))
			if bm := n.Game.BestMove; bm != nil && bm.Seat == target && bm.Night == n.Game.Night {
				n.Game.BestMove = nil
			}
		}
		return nil
	})
}

// AdvanceNight moves to the next night step. Leaving the kill step without
// a recorded kill counts as a miss.
func (s Session) AdvanceNight(now time.Time) (Session, error) {
	return s.mutate(now, func(n *Session) error {
		if n.Game.Phase != PhaseNight {
			return ErrInvalidPhase
		}
		ns := n.Game.NightState
		if ns.Current() == StepDone {
			return fmt.Errorf("%w: night is done", ErrInvalidNightStep)
		}
		if ns.Current() == StepKill {
			if rec := n.tonight(); rec != nil && rec.Kill == 0 {
				rec.Miss = true
			}
		}
		ns.Index++
		ns.AutoAdvanceAt = nil
		return nil
	})
}

// AutoAdvanceDue reports whether an armed check advance has expired at now.
func (s Session) AutoAdvanceDue(now time.Time) bool {
	if s.Game.Phase != PhaseNight || s.Game.NightState == nil {
		return false
	}
	at := s.Game.NightState.AutoAdvanceAt
	return at != nil && !now.Before(*at)
}

// FirstKilled returns the first player killed at night and not saved.
func (s Session) FirstKilled() (int, bool) {
	for _, rec := range s.Game.Nights {
		if rec.Kill != 0 && !rec.Saved {
			return rec.Kill, true
		}
	}
	return 0, false
}
