package shared

import (
	"sort"

	"github.com/google/uuid"
)

// LockKind names the table a row lock applies to.
type LockKind string

const (
	LockAccount  LockKind = "account"
	LockDocument LockKind = "document"
)

// LockTarget identifies one row a command must hold for its duration.
type LockTarget struct {
	Kind LockKind
	ID   uuid.UUID
}

// OrderLocks deduplicates targets and sorts them by id, then kind. Every
// command acquires its rows in this order regardless of which table they live
// in, so two commands touching the same rows can never wait on each other in a
// cycle.
func OrderLocks(targets ...LockTarget) []LockTarget {
	seen := make(map[LockTarget]struct{}, len(targets))
	out := make([]LockTarget, 0, len(targets))
	for _, t := range targets {
		if t.ID == uuid.Nil {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ID.String(), out[j].ID.String()
		if a != b {
			return a < b
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
