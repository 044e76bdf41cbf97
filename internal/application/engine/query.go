package engine

import "github.com/kombinu/kombinu-ranking/internal/domain/ranking"

// Read accessors. They never lock, recompute or touch storage.

// Snapshot returns the last published snapshot. It must not be modified.
func (e *Engine) Snapshot() *ranking.Snapshot {
	return e.snapshot.Load()
}

// GlobalTop returns the first limit global standings; a non-positive limit
// returns all of them.
func (e *Engine) GlobalTop(limit int) []ranking.StandingEntry {
	return e.Snapshot().Top(ranking.WindowGlobal, limit)
}

// WeeklyTop returns the weekly view.
func (e *Engine) WeeklyTop() []ranking.StandingEntry {
	return e.Snapshot().Top(ranking.WindowWeekly, 0)
}

// MonthlyTop returns the monthly view.
func (e *Engine) MonthlyTop() []ranking.StandingEntry {
	return e.Snapshot().Top(ranking.WindowMonthly, 0)
}

// ByCategory returns the standings of users active in category, in global
// order.
func (e *Engine) ByCategory(category string) []ranking.StandingEntry {
	return e.Snapshot().ByCategory(category)
}

// PositionOf returns the user's global position.
func (e *Engine) PositionOf(userID string) (int, bool) {
	return e.Snapshot().Position(userID)
}

// EntryOf returns a copy of the user's standing.
func (e *Engine) EntryOf(userID string) (ranking.StandingEntry, bool) {
	return e.Snapshot().Entry(userID)
}

// Stats summarizes the current snapshot relative to the engine clock.
func (e *Engine) Stats() ranking.Stats {
	return e.Snapshot().Stats(e.clock.Now(), e.limits)
}
