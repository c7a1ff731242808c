package domain

import "errors"

// Domain errors
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidPhase       = errors.New("invalid action for current phase")
	ErrInvalidTransition  = errors.New("invalid phase transition")
	ErrPlayerNotFound     = errors.New("player not found")
	ErrInvalidRoster      = errors.New("seats must be numbered 1..N without gaps")
	ErrEmptyName          = errors.New("player name cannot be empty")
	ErrUnknownRole        = errors.New("unknown role")
	ErrRoleNotInMode      = errors.New("role not available in this mode")
	ErrInvalidRoles       = errors.New("invalid role distribution")
	ErrPlayerInactive     = errors.New("player is not active")
	ErrNoVoteToday        = errors.New("no vote round recorded for the current day")
	ErrNightUnresolved    = errors.New("night is not resolved yet")
	ErrInvalidNightStep   = errors.New("action not allowed in current night step")
	ErrAlreadyChecked     = errors.New("check already recorded this night")
	ErrAlreadyHealed      = errors.New("heal already recorded this night")
	ErrRepeatHeal         = errors.New("doctor cannot heal the same target twice in a row")
	ErrKillRecorded       = errors.New("kill already recorded this night")
	ErrNoNominations      = errors.New("no nominated candidates")
	ErrVotingOpen         = errors.New("a vote round is already open")
	ErrNoOpenVote         = errors.New("no vote round is open")
	ErrNotCandidate       = errors.New("target is not a candidate in this stage")
	ErrAlreadyVoted       = errors.New("already voted in this stage")
	ErrNotVoted           = errors.New("no vote to retract")
	ErrWrongVoteMode      = errors.New("vote entry does not match the session mode")
	ErrInvalidTally       = errors.New("tally exceeds number of active players")
	ErrNoPendingResult    = errors.New("vote round has no pending elimination")
	ErrInvalidOutcome     = errors.New("invalid outcome")
	ErrBestMoveClosed     = errors.New("best move is not open")
	ErrTooManyGuesses     = errors.New("too many best move guesses")
	ErrDuplicateGuess     = errors.New("duplicate seat in guesses")
	ErrInvalidPrediction  = errors.New("invalid prediction")
	ErrOutcomeNotSet      = errors.New("outcome is not set")
	ErrSessionDeleted     = errors.New("session was deleted")
	ErrOptionalRoleLocked = errors.New("optional roles require city mode with 17 or more seats")
)
