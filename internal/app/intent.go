package app

import (
	"errors"
	"fmt"

	"mafiapanel/internal/domain"
)

var ErrUnknownIntent = errors.New("unknown intent")

// IntentType names a moderator action
type IntentType string

const (
	IntentAssignRole          IntentType = "assign_role"
	IntentToggleOptionalRole  IntentType = "toggle_optional_role"
	IntentDistributeRoles     IntentType = "distribute_roles"
	IntentStartDiscussion     IntentType = "start_discussion"
	IntentAdvance             IntentType = "advance"
	IntentSetOutcome          IntentType = "set_outcome"
	IntentNextGame            IntentType = "next_game"
	IntentRecordKill          IntentType = "record_kill"
	IntentRecordMiss          IntentType = "record_miss"
	IntentRecordCheck         IntentType = "record_check"
	IntentRecordHeal          IntentType = "record_heal"
	IntentAdvanceNight        IntentType = "advance_night"
	IntentNominate            IntentType = "nominate"
	IntentClearNominations    IntentType = "clear_nominations"
	IntentStartVoting         IntentType = "start_voting"
	IntentCastVote            IntentType = "cast_vote"
	IntentRetractVote         IntentType = "retract_vote"
	IntentSetTally            IntentType = "set_tally"
	IntentCastLiftVote        IntentType = "cast_lift_vote"
	IntentSetLiftTally        IntentType = "set_lift_tally"
	IntentCloseStage          IntentType = "close_stage"
	IntentApplyVoteResult     IntentType = "apply_vote_result"
	IntentSubmitBestMove      IntentType = "submit_best_move"
	IntentSetBestMoveAccepted IntentType = "set_best_move_accepted"
	IntentRecordProtocol      IntentType = "record_protocol"
	IntentRecordOpinion       IntentType = "record_opinion"
	IntentAdjustScore         IntentType = "adjust_score"
	IntentSetReveal           IntentType = "set_reveal"
	IntentAddFoul             IntentType = "add_foul"
	IntentAddTechFoul         IntentType = "add_tech_foul"
	IntentRemovePlayer        IntentType = "remove_player"
)

// Intent is one moderator action as sent by the panel. Only the fields the
// type needs are read.
type Intent struct {
	Type        IntentType          `json:"type"`
	Seat        int                 `json:"seat,omitempty"`
	Target      int                 `json:"target,omitempty"`
	Count       int                 `json:"count,omitempty"`
	Role        domain.Role         `json:"role,omitempty"`
	Outcome     domain.Outcome      `json:"outcome,omitempty"`
	Override    bool                `json:"override,omitempty"`
	Flag        bool                `json:"flag,omitempty"`
	Guesses     []int               `json:"guesses,omitempty"`
	Predictions []domain.Prediction `json:"predictions,omitempty"`
	Bonus       float64             `json:"bonus,omitempty"`
	Penalty     float64             `json:"penalty,omitempty"`
}

// Dispatch routes an intent to the engine operation it names. Seat is the
// acting player (nominator, voter, opinion author, disciplined player) and
// Target the player acted upon.
func (e *SessionEngine) Dispatch(in Intent) (domain.Session, error) {
	switch in.Type {
	case IntentAssignRole:
		return e.AssignRole(in.Seat, in.Role)
	case IntentToggleOptionalRole:
		return e.ToggleOptionalRole(in.Role)
	case IntentDistributeRoles:
		return e.DistributeRoles()
	case IntentStartDiscussion:
		return e.StartDiscussion()
	case IntentAdvance:
		return e.Advance(in.Override)
	case IntentSetOutcome:
		return e.SetOutcome(in.Outcome)
	case IntentNextGame:
		return e.NextGame()
	case IntentRecordKill:
		return e.RecordKill(in.Target)
	case IntentRecordMiss:
		return e.RecordMiss()
	case IntentRecordCheck:
		return e.RecordCheck(in.Target)
	case IntentRecordHeal:
		return e.RecordHeal(in.Target)
	case IntentAdvanceNight:
		return e.AdvanceNight()
	case IntentNominate:
		return e.Nominate(in.Seat, in.Target)
	case IntentClearNominations:
		return e.ClearNominations()
	case IntentStartVoting:
		return e.StartVoting()
	case IntentCastVote:
		return e.CastVote(in.Seat, in.Target)
	case IntentRetractVote:
		return e.RetractVote(in.Seat)
	case IntentSetTally:
		return e.SetTally(in.Target, in.Count)
	case IntentCastLiftVote:
		return e.CastLiftVote(in.Seat)
	case IntentSetLiftTally:
		return e.SetLiftTally(in.Count)
	case IntentCloseStage:
		return e.CloseStage()
	case IntentApplyVoteResult:
		return e.ApplyVoteResult()
	case IntentSubmitBestMove:
		return e.SubmitBestMove(in.Guesses)
	case IntentSetBestMoveAccepted:
		return e.SetBestMoveAccepted(in.Flag)
	case IntentRecordProtocol:
		return e.RecordProtocol(in.Predictions)
	case IntentRecordOpinion:
		return e.RecordOpinion(in.Seat, in.Predictions)
	case IntentAdjustScore:
		return e.AdjustScore(in.Seat, in.Bonus, in.Penalty)
	case IntentSetReveal:
		return e.SetReveal(in.Seat, in.Flag)
	case IntentAddFoul:
		return e.AddFoul(in.Seat)
	case IntentAddTechFoul:
		return e.AddTechFoul(in.Seat)
	case IntentRemovePlayer:
		return e.RemovePlayer(in.Seat)
	}
	return e.Session(), fmt.Errorf("%w: %q", ErrUnknownIntent, in.Type)
}
