package domain

import (
	"fmt"
	"sort"
)

// Role represents a player's role in a game
type Role string

const (
	RoleCivilian Role = "civilian"
	RoleSheriff  Role = "sheriff"
	RoleMafia    Role = "mafia"
	RoleDon      Role = "don"

	// City mode specialists
	RoleDoctor     Role = "doctor"
	RoleManiac     Role = "maniac"
	RoleCourtesan  Role = "courtesan"
	RoleBodyguard  Role = "bodyguard"
	RoleJournalist Role = "journalist"
)

// Mode selects the rule set a session is played with
type Mode string

const (
	ModeClassic Mode = "classic"
	ModeCity    Mode = "city"
)

// Team is one of the two scoring sides
type Team string

const (
	TeamCivilians Team = "civilians"
	TeamMafia     Team = "mafia"
)

var knownRoles = map[Role]bool{
	RoleCivilian:   true,
	RoleSheriff:    true,
	RoleMafia:      true,
	RoleDon:        true,
	RoleDoctor:     true,
	RoleManiac:     true,
	RoleCourtesan:  true,
	RoleBodyguard:  true,
	RoleJournalist: true,
}

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// IsKnown reports whether the role belongs to the closed vocabulary.
func (r Role) IsKnown() bool {
	return knownRoles[r]
}

// IsMafia returns true for the don and plain mafia roles
func (r Role) IsMafia() bool {
	return r == RoleMafia || r == RoleDon
}

// Team returns the side the role scores with. Everything that is not
// mafia-affiliated plays for the civilians.
func (r Role) Team() Team {
	if r.IsMafia() {
		return TeamMafia
	}
	return TeamCivilians
}

// AllowedIn reports whether the role can be assigned in the given mode.
func (r Role) AllowedIn(mode Mode) bool {
	switch r {
	case RoleCivilian, RoleSheriff, RoleMafia, RoleDon:
		return true
	}
	return mode == ModeCity && r.IsKnown()
}

// classicRoles are the non-civilian roles of a classic table.
var classicRoles = []Role{RoleDon, RoleMafia, RoleMafia, RoleSheriff}

// cityRoleTable lists the non-civilian roles for city tables of 8 to 16 seats.
var cityRoleTable = map[int][]Role{
	8:  {RoleDon, RoleMafia, RoleSheriff, RoleDoctor},
	9:  {RoleDon, RoleMafia, RoleSheriff, RoleDoctor, RoleManiac},
	10: {RoleDon, RoleMafia, RoleMafia, RoleSheriff, RoleDoctor, RoleManiac},
	11: {RoleDon, RoleMafia, RoleMafia, RoleSheriff, RoleDoctor, RoleManiac, RoleCourtesan},
	12: {RoleDon, RoleMafia, RoleMafia, RoleSheriff, RoleDoctor, RoleManiac, RoleCourtesan, RoleBodyguard},
	13: {RoleDon, RoleMafia, RoleMafia, RoleMafia, RoleSheriff, RoleDoctor, RoleManiac, RoleCourtesan, RoleBodyguard},
	14: {RoleDon, RoleMafia, RoleMafia, RoleMafia, RoleSheriff, RoleDoctor, RoleManiac, RoleCourtesan, RoleBodyguard, RoleJournalist},
	15: {RoleDon, RoleMafia, RoleMafia, RoleMafia, RoleSheriff, RoleDoctor, RoleManiac, RoleCourtesan, RoleBodyguard, RoleJournalist},
	16: {RoleDon, RoleMafia, RoleMafia, RoleMafia, RoleMafia, RoleSheriff, RoleDoctor, RoleManiac, RoleCourtesan, RoleBodyguard, RoleJournalist},
}

// cityBaseRoles is the fixed part of a city table with 17 or more seats.
var cityBaseRoles = []Role{RoleDon, RoleMafia, RoleMafia, RoleMafia, RoleMafia, RoleSheriff, RoleDoctor, RoleManiac}

// OptionalCityRoles can be toggled on for city tables with 17 or more seats.
var OptionalCityRoles = []Role{RoleCourtesan, RoleBodyguard, RoleJournalist}

const (
	MinClassicSeats = 7
	MinCitySeats    = 8
	MaxTableSeats   = 24
)

// ActiveRoles returns the full role multiset for a table, civilians included,
// sorted for stable comparison. optional is only consulted for city tables
// of 17 or more seats.
func ActiveRoles(mode Mode, seats int, optional []Role) ([]Role, error) {
	var special []Role
	switch mode {
	case ModeClassic:
		if seats < MinClassicSeats || seats > MaxTableSeats {
			return nil, fmt.Errorf("%w: classic table needs %d-%d seats, got %d", ErrInvalidRoles, MinClassicSeats, MaxTableSeats, seats)
		}
		special = classicRoles
	case ModeCity:
		if seats < MinCitySeats || seats > MaxTableSeats {
			return nil, fmt.Errorf("%w: city table needs %d-%d seats, got %d", ErrInvalidRoles, MinCitySeats, MaxTableSeats, seats)
		}
		if row, ok := cityRoleTable[seats]; ok {
			special = row
		} else {
			special = append(append([]Role{}, cityBaseRoles...), optional...)
		}
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidRoles, mode)
	}

	if len(special) > seats {
		return nil, fmt.Errorf("%w: %d special roles for %d seats", ErrInvalidRoles, len(special), seats)
	}

	roles := make([]Role, 0, seats)
	roles = append(roles, special...)
	for len(roles) < seats {
		roles = append(roles, RoleCivilian)
	}
	sortRoles(roles)
	return roles, nil
}

func sortRoles(roles []Role) {
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
}

// Outcome is the result of a finished game
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeCivilians Outcome = "civilians"
	OutcomeMafia     Outcome = "mafia"
	OutcomeDraw      Outcome = "draw"
)

// IsValid reports whether the outcome ends a game.
func (o Outcome) IsValid() bool {
	return o == OutcomeCivilians || o == OutcomeMafia || o == OutcomeDraw
}

// Winner returns the winning team, if any.
func (o Outcome) Winner() (Team, bool) {
	switch o {
	case OutcomeCivilians:
		return TeamCivilians, true
	case OutcomeMafia:
		return TeamMafia, true
	}
	return "", false
}
