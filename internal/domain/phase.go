package domain

// Phase represents the current phase of a game
type Phase string

const (
	PhaseRoles       Phase = "roles"        // Moderator distributes roles
	PhaseDiscussion  Phase = "discussion"   // Mafia agreement, countdown
	PhaseFreeSeating Phase = "free_seating" // Free seating, countdown
	PhaseDay         Phase = "day"          // Speeches, nominations and voting
	PhaseNight       Phase = "night"        // Kill, checks and heal
	PhaseResults     Phase = "results"      // Outcome set, scores computed
)

// String returns the string representation of the phase
func (p Phase) String() string {
	return string(p)
}

// IsTerminal reports whether no further transition is possible.
func (p Phase) IsTerminal() bool {
	return p == PhaseResults
}

// HasCountdown reports whether the phase runs on a deadline.
func (p Phase) HasCountdown() bool {
	return p == PhaseDiscussion || p == PhaseFreeSeating
}

// CanTransitionTo checks if a transition from current phase to target phase is valid
func (p Phase) CanTransitionTo(target Phase) bool {
	validTransitions := map[Phase][]Phase{
		PhaseRoles:       {PhaseDiscussion},
		PhaseDiscussion:  {PhaseFreeSeating},
		PhaseFreeSeating: {PhaseDay},
		PhaseDay:         {PhaseNight, PhaseResults},
		PhaseNight:       {PhaseDay, PhaseResults},
		PhaseResults:     {},
	}

	allowed, ok := validTransitions[p]
	if !ok {
		return false
	}

	for _, phase := range allowed {
		if phase == target {
			return true
		}
	}
	return false
}
