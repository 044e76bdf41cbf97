package ranking

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANKING SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot is the complete set of ranked views at a point in time.
//
// A snapshot is built once per computation pass and never mutated after it is
// published: readers may share it without locking. The per-category views
// are derived lazily on first access.
type Snapshot struct {
	// Global is the authoritative, sorted standing list.
	Global []StandingEntry `json:"global"`

	// Weekly and Monthly are capped, recency-filtered views of Global.
	Weekly  []StandingEntry `json:"weekly"`
	Monthly []StandingEntry `json:"monthly"`

	// Categories maps a quiz category to the ids of users who completed at
	// least one quiz in it.
	Categories map[string][]string `json:"categories"`

	GeneratedAt time.Time `json:"generated_at"`

	byID       map[string]int
	byCategory *categoryViews
}

type categoryViews struct {
	mu    sync.Mutex
	views map[string][]StandingEntry
}

// NewSnapshot builds a snapshot from an already sorted global list.
func NewSnapshot(global []StandingEntry, categories map[string][]string, now time.Time, limits WindowLimits) *Snapshot {
	if global == nil {
		global = []StandingEntry{}
	}
	windows := Project(global, now, limits)

	s := &Snapshot{
		Global:      global,
		Weekly:      windows.Weekly,
		Monthly:     windows.Monthly,
		Categories:  cloneCategories(categories),
		GeneratedAt: now,
	}
	s.RebuildIndex()
	return s
}

// EmptySnapshot returns a snapshot with no standings.
func EmptySnapshot(now time.Time) *Snapshot {
	return NewSnapshot(nil, nil, now, DefaultWindowLimits())
}

// RebuildIndex restores the lookup indexes after decoding a snapshot.
func (s *Snapshot) RebuildIndex() {
	if s.Global == nil {
		s.Global = []StandingEntry{}
	}
	if s.Weekly == nil {
		s.Weekly = []StandingEntry{}
	}
	if s.Monthly == nil {
		s.Monthly = []StandingEntry{}
	}
	if s.Categories == nil {
		s.Categories = map[string][]string{}
	}
	s.byID = make(map[string]int, len(s.Global))
	for i, e := range s.Global {
		s.byID[e.UserID] = i
	}
	s.byCategory = &categoryViews{views: make(map[string][]StandingEntry)}
}

// Len returns the number of ranked users.
func (s *Snapshot) Len() int {
	return len(s.Global)
}

// Entry returns a copy of the user's standing.
func (s *Snapshot) Entry(userID string) (StandingEntry, bool) {
	i, ok := s.byID[userID]
	if !ok {
		return StandingEntry{}, false
	}
	return s.Global[i], true
}

// Position returns the user's global position.
func (s *Snapshot) Position(userID string) (int, bool) {
	e, ok := s.Entry(userID)
	if !ok {
		return 0, false
	}
	return e.Position, true
}

// Top returns a copy of the first limit entries of a window. A non-positive
// limit returns the whole window.
func (s *Snapshot) Top(window Window, limit int) []StandingEntry {
	var src []StandingEntry
	switch window {
	case WindowWeekly:
		src = s.Weekly
	case WindowMonthly:
		src = s.Monthly
	default:
		src = s.Global
	}
	if limit <= 0 || limit > len(src) {
		limit = len(src)
	}
	return slices.Clone(src[:limit])
}

// ByCategory returns the standings of users active in a category, in global
// order. The view is computed on first access and memoized.
func (s *Snapshot) ByCategory(category string) []StandingEntry {
	s.byCategory.mu.Lock()
	defer s.byCategory.mu.Unlock()

	if view, ok := s.byCategory.views[category]; ok {
		return slices.Clone(view)
	}

	members := make(map[string]struct{}, len(s.Categories[category]))
	for _, id := range s.Categories[category] {
		members[id] = struct{}{}
	}
	view := make([]StandingEntry, 0, len(members))
	for _, e := range s.Global {
		if _, ok := members[e.UserID]; ok {
			view = append(view, e)
		}
	}
	s.byCategory.views[category] = view
	return slices.Clone(view)
}

// CategoryNames returns the known categories in lexical order.
func (s *Snapshot) CategoryNames() []string {
	return slices.Sorted(maps.Keys(s.Categories))
}

// Stats is an aggregate summary of a snapshot.
type Stats struct {
	TotalUsers      int      `json:"total_users"`
	ActiveLastWeek  int      `json:"active_last_week"`
	ActiveLastMonth int      `json:"active_last_month"`
	Categories      []string `json:"categories"`
}

// Stats counts users active within the weekly and monthly spans relative to
// now. The counts are not capped by the window lengths.
func (s *Snapshot) Stats(now time.Time, limits WindowLimits) Stats {
	weekSince := now.Add(-limits.WeeklySpan)
	monthSince := now.Add(-limits.MonthlySpan)

	stats := Stats{
		TotalUsers: len(s.Global),
		Categories: s.CategoryNames(),
	}
	for _, e := range s.Global {
		if e.ActiveSince(weekSince) {
			stats.ActiveLastWeek++
		}
		if e.ActiveSince(monthSince) {
			stats.ActiveLastMonth++
		}
	}
	return stats
}

// Clone returns a deep copy that shares nothing with s.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		Global:      slices.Clone(s.Global),
		Weekly:      slices.Clone(s.Weekly),
		Monthly:     slices.Clone(s.Monthly),
		Categories:  cloneCategories(s.Categories),
		GeneratedAt: s.GeneratedAt,
	}
	c.RebuildIndex()
	return c
}

// String returns a short representation for logging.
func (s *Snapshot) String() string {
	return fmt.Sprintf(
		"Snapshot{Users: %d, Weekly: %d, Monthly: %d, Categories: %d, At: %s}",
		len(s.Global), len(s.Weekly), len(s.Monthly), len(s.Categories),
		s.GeneratedAt.Format(time.RFC3339),
	)
}

func cloneCategories(src map[string][]string) map[string][]string {
	out := make(map[string][]string, len(src))
	for k, v := range src {
		out[k] = slices.Clone(v)
	}
	return out
}
