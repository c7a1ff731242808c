// Package replication keeps the local session store in step with a remote
// store. Local state stays authoritative: failed network calls are logged
// and retried on the next cycle.
package replication

import (
	"sort"
	"time"

	"mafiapanel/internal/domain"
)

// Snapshot is the full replicated state exchanged with the remote store
type Snapshot struct {
	Sessions []domain.Session   `json:"sessions"`
	Deleted  []domain.Tombstone `json:"deleted"`
}

// Merge combines a local and a remote snapshot. Tombstones are unioned and
// pruned by ttl; a tombstoned id never survives. Sessions present on one
// side only are kept, and for ids present on both sides the later
// UpdatedAt wins.
func Merge(local, remote Snapshot, now time.Time, tombstoneTTL time.Duration) Snapshot {
	tombs := make(map[string]domain.Tombstone, len(local.Deleted)+len(remote.Deleted))
	for _, list := range [][]domain.Tombstone{local.Deleted, remote.Deleted} {
		for _, t := range list {
			if t.ID == "" || t.Expired(now, tombstoneTTL) {
				continue
			}
			if cur, ok := tombs[t.ID]; !ok || t.DeletedAt.After(cur.DeletedAt) {
				tombs[t.ID] = t
			}
		}
	}

	sessions := make(map[string]domain.Session, len(remote.Sessions)+len(local.Sessions))
	for _, s := range remote.Sessions {
		if _, dead := tombs[s.ID]; dead || s.ID == "" {
			continue
		}
		if cur, ok := sessions[s.ID]; !ok || s.UpdatedAt.After(cur.UpdatedAt) {
			sessions[s.ID] = s
		}
	}
	for _, s := range local.Sessions {
		if _, dead := tombs[s.ID]; dead || s.ID == "" {
			continue
		}
		if cur, ok := sessions[s.ID]; !ok || s.UpdatedAt.After(cur.UpdatedAt) {
			sessions[s.ID] = s
		}
	}

	out := Snapshot{
		Sessions: make([]domain.Session, 0, len(sessions)),
		Deleted:  make([]domain.Tombstone, 0, len(tombs)),
	}
	for _, s := range sessions {
		out.Sessions = append(out.Sessions, s)
	}
	for _, t := range tombs {
		out.Deleted = append(out.Deleted, t)
	}
	sort.Slice(out.Sessions, func(i, j int) bool { return out.Sessions[i].ID < out.Sessions[j].ID })
	sort.Slice(out.Deleted, func(i, j int) bool { return out.Deleted[i].ID < out.Deleted[j].ID })
	return out
}
