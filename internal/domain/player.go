package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Player is a seated participant of a session
type Player struct {
	Seat       int    `json:"seat"`
	Name       string `json:"name"`
	ProfileRef string `json:"profileRef,omitempty"`
	AvatarRef  string `json:"avatarRef,omitempty"`
}

// RoleKey derives the key under which a seat's role, elimination and score
// are stored for one game of a table.
func RoleKey(game, table, seat int) string {
	return fmt.Sprintf("g%d-t%d-s%d", game, table, seat)
}

// ValidateRoster checks that seats are numbered 1..N without gaps or
// duplicates and that every player has a name. It returns the roster
// sorted by seat.
func ValidateRoster(players []Player) ([]Player, error) {
	if len(players) == 0 {
		return nil, fmt.Errorf("%w: roster is empty", ErrInvalidRoster)
	}

	sorted := make([]Player, len(players))
	copy(sorted, players)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seat < sorted[j].Seat })

	for i := range sorted {
		sorted[i].Name = strings.TrimSpace(sorted[i].Name)
		if sorted[i].Name == "" {
			return nil, fmt.Errorf("%w: seat %d", ErrEmptyName, sorted[i].Seat)
		}
		if sorted[i].Seat != i+1 {
			return nil, fmt.Errorf("%w: expected seat %d, got %d", ErrInvalidRoster, i+1, sorted[i].Seat)
		}
	}
	return sorted, nil
}

// PlayerView is a roster row with status derived from the current game
type PlayerView struct {
	Seat       int    `json:"seat"`
	Name       string `json:"name"`
	ProfileRef string `json:"profileRef,omitempty"`
	AvatarRef  string `json:"avatarRef,omitempty"`
	Role       Role   `json:"role,omitempty"` // Omitted from spectator views
	Action     Action `json:"action,omitempty"`
	Active     bool   `json:"active"`
	Fouls      int    `json:"fouls"`
	TechFouls  int    `json:"techFouls"`
	Nominated  bool   `json:"nominated"`
}

// Roster returns the players with their derived status. Roles are included
// only when withRoles is set.
func (s Session) Roster(withRoles bool) []PlayerView {
	nominated := make(map[int]bool)
	for _, seat := range s.Candidates() {
		nominated[seat] = true
	}

	views := make([]PlayerView, 0, len(s.Players))
	for _, p := range s.Players {
		key := s.key(p.Seat)
		elim := s.Game.Eliminations[key]
		fouls := s.Game.Fouls[key]
		view := PlayerView{
			Seat:       p.Seat,
			Name:       p.Name,
			ProfileRef: p.ProfileRef,
			AvatarRef:  p.AvatarRef,
			Action:     elim.Action,
			Active:     elim.IsActive(),
			Fouls:      fouls.Fouls,
			TechFouls:  fouls.TechFouls,
			Nominated:  nominated[p.Seat],
		}
		if withRoles {
			view.Role = s.RoleOf(p.Seat)
		}
		views = append(views, view)
	}
	return views
}
