package engine

import (
	"time"

	"github.com/projectpulse/beacon/internal/notify"
)

// Stats are derived counts for one recipient's notification set. They are
// never the source of truth: Recompute over the current set must equal the
// result of folding Apply over the transitions that produced it.
//
// Total/Unread/Read cover non-archived, non-expired notifications only;
// Archived and Pinned are counted independently (a pinned notification may
// be archived, an archived one read or unread underneath).
type Stats struct {
	Total    int `json:"total"`
	Unread   int `json:"unread"`
	Read     int `json:"read"`
	Archived int `json:"archived"`
	Pinned   int `json:"pinned"`

	ByType     map[notify.Type]int     `json:"by_type"`
	ByPriority map[notify.Priority]int `json:"by_priority"`
	ByCategory map[notify.Category]int `json:"by_category"`
}

// NewStats returns zeroed stats with allocated maps.
func NewStats() *Stats {
	return &Stats{
		ByType:     make(map[notify.Type]int),
		ByPriority: make(map[notify.Priority]int),
		ByCategory: make(map[notify.Category]int),
	}
}

// Clone deep-copies the stats for handing out in snapshots.
func (s *Stats) Clone() *Stats {
	cp := NewStats()
	cp.Total, cp.Unread, cp.Read, cp.Archived, cp.Pinned = s.Total, s.Unread, s.Read, s.Archived, s.Pinned
	for k, v := range s.ByType {
		cp.ByType[k] = v
	}
	for k, v := range s.ByPriority {
		cp.ByPriority[k] = v
	}
	for k, v := range s.ByCategory {
		cp.ByCategory[k] = v
	}
	return cp
}

// Equal compares two stats, treating missing and zero map entries alike.
func (s *Stats) Equal(o *Stats) bool {
	if s.Total != o.Total || s.Unread != o.Unread || s.Read != o.Read ||
		s.Archived != o.Archived || s.Pinned != o.Pinned {
		return false
	}
	return mapsEqual(s.ByType, o.ByType) &&
		mapsEqual(s.ByPriority, o.ByPriority) &&
		mapsEqual(s.ByCategory, o.ByCategory)
}

func mapsEqual[K comparable](a, b map[K]int) bool {
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	for k, v := range b {
		if a[k] != v {
			return false
		}
	}
	return true
}

// Transition is one stats-affecting mutation, used by the incremental path.
type Transition struct {
	Kind   TransitionKind
	Before *notify.Notification // state prior to the mutation (nil for creates)
	After  *notify.Notification // state after the mutation (nil for deletes)
	Now    time.Time
}

type TransitionKind int

const (
	TransitionCreate TransitionKind = iota
	TransitionMarkRead
	TransitionMarkUnread
	TransitionPin
	TransitionUnpin
	TransitionArchive
	TransitionUnarchive
	TransitionDelete
)

// counted reports whether n participates in the active (non-archived,
// non-expired) counts at the given instant.
func counted(n *notify.Notification, now time.Time) bool {
	return !n.IsArchived && !n.IsExpired(now)
}

// add folds one notification's current state into the stats.
func (s *Stats) add(n *notify.Notification, now time.Time) {
	if counted(n, now) {
		s.Total++
		if n.IsRead {
			s.Read++
		} else {
			s.Unread++
		}
		s.ByType[n.Type]++
		s.ByPriority[n.Priority]++
		s.ByCategory[n.Category]++
	}
	if n.IsArchived {
		s.Archived++
	}
	if n.IsPinned {
		s.Pinned++
	}
}

// remove is the inverse of add for the same observed state.
func (s *Stats) remove(n *notify.Notification, now time.Time) {
	if counted(n, now) {
		s.Total--
		if n.IsRead {
			s.Read--
		} else {
			s.Unread--
		}
		s.ByType[n.Type]--
		s.ByPriority[n.Priority]--
		s.ByCategory[n.Category]--
	}
	if n.IsArchived {
		s.Archived--
	}
	if n.IsPinned {
		s.Pinned--
	}
}

// Apply folds one transition into the stats incrementally. Removing the
// before-state and adding the after-state keeps every counter correct for
// any valid transition without enumerating kinds.
func (s *Stats) Apply(t Transition) {
	if t.Before != nil {
		s.remove(t.Before, t.Now)
	}
	if t.After != nil {
		s.add(t.After, t.Now)
	}
}

// Recompute builds stats from scratch over the given set. Used to seed a
// shard on hydration and by tests to check incremental equivalence.
func Recompute(set []*notify.Notification, now time.Time) *Stats {
	s := NewStats()
	for _, n := range set {
		s.add(n, now)
	}
	return s
}
