package domain

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func cityTen(t *testing.T) Session {
	t.Helper()
	s := newTestSession(t, ModeCity, 10)
	return assignRoles(t, s, map[int]Role{
		1: RoleDon, 2: RoleMafia, 3: RoleMafia, 5: RoleSheriff, 6: RoleDoctor, 7: RoleManiac,
	})
}

func toNight(t *testing.T, s Session) Session {
	t.Helper()
	s = must(t)(s.Advance(t0, true))
	if s.Game.Phase != PhaseNight {
		t.Fatalf("phase = %s, want night", s.Game.Phase)
	}
	return s
}

func walkNight(t *testing.T, s Session) (Session, []NightStep) {
	t.Helper()
	var visited []NightStep
	for s.NightStep() != StepDone {
		visited = append(visited, s.NightStep())
		s = must(t)(s.AdvanceNight(t0))
	}
	return s, append(visited, StepDone)
}

func TestNightStepOrder(t *testing.T) {
	_, steps := walkNight(t, toNight(t, toDay(t, classicTen(t))))
	want := []NightStep{StepKill, StepDon, StepSheriff, StepDone}
	if !reflect.DeepEqual(steps, want) {
		t.Fatalf("classic steps = %v, want %v", steps, want)
	}

	_, steps = walkNight(t, toNight(t, toDay(t, cityTen(t))))
	want = []NightStep{StepKill, StepDon, StepSheriff, StepDoctor, StepDone}
	if !reflect.DeepEqual(steps, want) {
		t.Fatalf("city steps = %v, want %v", steps, want)
	}
}

func TestNightSkipsInactiveHolders(t *testing.T) {
	s := toDay(t, classicTen(t))
	s = must(t)(s.RemovePlayer(1, t0))
	s = must(t)(s.RemovePlayer(5, t0))

	_, steps := walkNight(t, toNight(t, s))
	want := []NightStep{StepKill, StepDone}
	if !reflect.DeepEqual(steps, want) {
		t.Fatalf("steps = %v, want %v", steps, want)
	}
}

func TestNightCannotAdvanceToDayUnresolved(t *testing.T) {
	s := toNight(t, toDay(t, classicTen(t)))
	if _, err := s.Advance(t0, false); !errors.Is(err, ErrNightUnresolved) {
		t.Fatalf("err = %v, want ErrNightUnresolved", err)
	}
	if _, err := s.RecordCheck(2, t0); !errors.Is(err, ErrInvalidNightStep) {
		t.Fatalf("err = %v, want ErrInvalidNightStep", err)
	}

	s, _ = walkNight(t, s)
	if _, err := s.AdvanceNight(t0); !errors.Is(err, ErrInvalidNightStep) {
		t.Fatalf("err = %v, want ErrInvalidNightStep", err)
	}
	s = must(t)(s.Advance(t0, false))
	if s.Game.Phase != PhaseDay || s.Game.Day != 2 || s.Game.NightState != nil {
		t.Fatalf("phase = %s day %d, want clean day 2", s.Game.Phase, s.Game.Day)
	}
}

func TestKillOpensBestMoveOnce(t *testing.T) {
	s := toNight(t, toDay(t, classicTen(t)))
	s = must(t)(s.RecordKill(4, t0))
	if _, err := s.RecordKill(6, t0); !errors.Is(err, ErrKillRecorded) {
		t.Fatalf("err = %v, want ErrKillRecorded", err)
	}
	if e := s.Game.Eliminations[s.KeyOf(4)]; e.Action != ActionKilled || e.Night != 1 {
		t.Fatalf("elimination = %+v, want killed night 1", e)
	}
	if bm := s.Game.BestMove; bm == nil || bm.Seat != 4 || bm.Owner != s.KeyOf(4) {
		t.Fatalf("best move = %+v, want opened for seat 4", s.Game.BestMove)
	}

	s, _ = walkNight(t, s)
	s = must(t)(s.Advance(t0, false))
	s = toNight(t, s)
	s = must(t)(s.RecordKill(6, t0))
	if s.Game.BestMove.Seat != 4 {
		t.Fatalf("best move moved to seat %d", s.Game.BestMove.Seat)
	}
	if first, _ := s.FirstKilled(); first != 4 {
		t.Fatalf("first killed = %d, want 4", first)
	}
}

func TestAdvanceFromKillRecordsMiss(t *testing.T) {
	s := toNight(t, toDay(t, classicTen(t)))
	s = must(t)(s.AdvanceNight(t0))
	if !s.Game.Nights[0].Miss {
		t.Fatalf("miss not recorded")
	}
	if s.Game.BestMove != nil {
		t.Fatalf("best move opened without a kill")
	}
}

func TestChecksArmAutoAdvance(t *testing.T) {
	s := toNight(t, toDay(t, classicTen(t)))
	s = must(t)(s.RecordMiss(t0))
	s = must(t)(s.AdvanceNight(t0))

	s = must(t)(s.RecordCheck(5, t0))
	check := s.Game.Nights[0].Checks[0]
	if check.Checker != RoleDon || !check.Match {
		t.Fatalf("don check = %+v, want matching sheriff", check)
	}
	if _, err := s.RecordCheck(6, t0); !errors.Is(err, ErrAlreadyChecked) {
		t.Fatalf("err = %v, want ErrAlreadyChecked", err)
	}
	if s.AutoAdvanceDue(t0.Add(4 * time.Second)) {
		t.Fatalf("auto advance due early")
	}
	if !s.AutoAdvanceDue(t0.Add(NightCheckAdvance)) {
		t.Fatalf("auto advance not due after %v", NightCheckAdvance)
	}

	s = must(t)(s.AdvanceNight(t0))
	if s.Game.NightState.AutoAdvanceAt != nil {
		t.Fatalf("auto advance kept after leaving the step")
	}
	s = must(t)(s.RecordCheck(6, t0))
	if c := s.Game.Nights[0].Checks[1]; c.Checker != RoleSheriff || c.Match {
		t.Fatalf("sheriff check = %+v, want civilian miss", c)
	}
	s = must(t)(s.AdvanceNight(t0))
	s = must(t)(s.Advance(t0, false))
	s = toNight(t, s)
	s = must(t)(s.AdvanceNight(t0))
	s = must(t)(s.AdvanceNight(t0))
	s = must(t)(s.RecordCheck(2, t0))
	if c := s.Game.Nights[1].Checks[0]; !c.Match || c.Night != 2 {
		t.Fatalf("sheriff check = %+v, want mafia match on night 2", c)
	}
}

func TestHealRevertsKillAndForbidsRepeat(t *testing.T) {
	s := toNight(t, toDay(t, cityTen(t)))
	s = must(t)(s.RecordKill(4, t0))
	for s.NightStep() != StepDoctor {
		s = must(t)(s.AdvanceNight(t0))
	}
	s = must(t)(s.RecordHeal(4, t0))
	if !s.IsActive(4) || !s.Game.Nights[0].Saved {
		t.Fatalf("heal did not revert the kill")
	}
	if s.Game.BestMove != nil {
		t.Fatalf("best move left open after heal")
	}
	if _, err := s.RecordHeal(8, t0); !errors.Is(err, ErrAlreadyHealed) {
		t.Fatalf("err = %v, want ErrAlreadyHealed", err)
	}

	s = must(t)(s.AdvanceNight(t0))
	s = must(t)(s.Advance(t0, false))
	s = toNight(t, s)
	for s.NightStep() != StepDoctor {
		s = must(t)(s.AdvanceNight(t0))
	}
	if _, err := s.RecordHeal(4, t0); !errors.Is(err, ErrRepeatHeal) {
		t.Fatalf("err = %v, want ErrRepeatHeal", err)
	}
	s = must(t)(s.RecordHeal(8, t0))
	if s.Game.Nights[1].Heal != 8 {
		t.Fatalf("heal = %d, want 8", s.Game.Nights[1].Heal)
	}
}
