package domain

import "time"

// Tombstone marks a deleted session so replication never revives it
type Tombstone struct {
	ID        string    `json:"id"`
	DeletedAt time.Time `json:"ts"`
}

// Expired reports whether the tombstone outlived ttl at now.
func (t Tombstone) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(t.DeletedAt) > ttl
}

// Normalized fills the zero values a partial or older snapshot may carry so
// the session can be operated on.
func (s Session) Normalized() Session {
	out := s.Clone()
	if out.Mode == "" {
		out.Mode = ModeClassic
	}
	if out.TableNumber <= 0 {
		out.TableNumber = 1
	}
	if out.Rules == (Rules{}) {
		out.Rules = DefaultRules()
	}
	if out.Game.Number <= 0 {
		out.Game.Number = 1
	}
	if out.Game.Phase == "" {
		out.Game.Phase = PhaseRoles
	}
	out.Game.ensureMaps()
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = out.CreatedAt
	}
	return out
}
