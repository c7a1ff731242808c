package http

import (
	"errors"
	"net/http"

	"mafiapanel/internal/app"
	"mafiapanel/internal/domain"
	"mafiapanel/internal/roster"
)

// Error codes
const (
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeInvalidAction   = "INVALID_ACTION"
	ErrCodeSessionNotFound = "SESSION_NOT_FOUND"
	ErrCodeSessionDeleted  = "SESSION_DELETED"
	ErrCodeSessionExists   = "SESSION_EXISTS"
	ErrCodeSyncFailed      = "SYNC_FAILED"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

var invalidInput = []error{
	domain.ErrInvalidRoster,
	domain.ErrEmptyName,
	domain.ErrUnknownRole,
	domain.ErrRoleNotInMode,
	domain.ErrInvalidRoles,
	domain.ErrPlayerNotFound,
	domain.ErrInvalidOutcome,
	domain.ErrInvalidTally,
	domain.ErrTooManyGuesses,
	domain.ErrDuplicateGuess,
	domain.ErrInvalidPrediction,
	roster.ErrDuplicateName,
	app.ErrUnknownIntent,
}

var invalidAction = []error{
	domain.ErrInvalidPhase,
	domain.ErrInvalidTransition,
	domain.ErrPlayerInactive,
	domain.ErrNoVoteToday,
	domain.ErrNightUnresolved,
	domain.ErrInvalidNightStep,
	domain.ErrAlreadyChecked,
	domain.ErrAlreadyHealed,
	domain.ErrRepeatHeal,
	domain.ErrKillRecorded,
	domain.ErrNoNominations,
	domain.ErrVotingOpen,
	domain.ErrNoOpenVote,
	domain.ErrNotCandidate,
	domain.ErrAlreadyVoted,
	domain.ErrNotVoted,
	domain.ErrWrongVoteMode,
	domain.ErrNoPendingResult,
	domain.ErrBestMoveClosed,
	domain.ErrOutcomeNotSet,
	domain.ErrOptionalRoleLocked,
}

// classify maps an error to its HTTP status and API error code
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, ErrCodeSessionNotFound
	case errors.Is(err, domain.ErrSessionDeleted):
		return http.StatusGone, ErrCodeSessionDeleted
	case errors.Is(err, app.ErrSessionExists):
		return http.StatusConflict, ErrCodeSessionExists
	}
	for _, target := range invalidInput {
		if errors.Is(err, target) {
			return http.StatusBadRequest, ErrCodeInvalidInput
		}
	}
	for _, target := range invalidAction {
		if errors.Is(err, target) {
			return http.StatusConflict, ErrCodeInvalidAction
		}
	}
	return http.StatusInternalServerError, ErrCodeInternalError
}
