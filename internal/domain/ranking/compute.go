package ranking

import (
	"slices"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// ORDERING
// ══════════════════════════════════════════════════════════════════════════════

// Compare orders two entries for the global ranking. A negative result puts
// a before b. Keys in priority order, all descending: total points, average
// accuracy, best streak, quizzes completed, last activity. User id ascending
// closes the order so exact ties still sort the same way on every run.
func Compare(a, b StandingEntry) int {
	switch {
	case a.TotalPoints != b.TotalPoints:
		return descInt(a.TotalPoints, b.TotalPoints)
	case a.AverageAccuracyPercent != b.AverageAccuracyPercent:
		if a.AverageAccuracyPercent > b.AverageAccuracyPercent {
			return -1
		}
		return 1
	case a.BestStreak != b.BestStreak:
		return descInt(a.BestStreak, b.BestStreak)
	case a.QuizzesCompleted != b.QuizzesCompleted:
		return descInt(a.QuizzesCompleted, b.QuizzesCompleted)
	case !a.LastActivityAt.Equal(b.LastActivityAt):
		if a.LastActivityAt.After(b.LastActivityAt) {
			return -1
		}
		return 1
	default:
		return strings.Compare(a.UserID, b.UserID)
	}
}

func descInt(a, b int) int {
	if a > b {
		return -1
	}
	return 1
}

// Order returns a sorted copy of entries with dense 1-based positions.
// Trend and PreviousPosition are left as they are; use it to normalize a
// listing received from elsewhere.
func Order(entries []StandingEntry) []StandingEntry {
	out := slices.Clone(entries)
	slices.SortStableFunc(out, Compare)
	for i := range out {
		out[i].Position = i + 1
	}
	return out
}

// Recompute runs one computation pass over entries and returns a new slice.
// The input is not modified.
//
// Every entry that already had a position carries it into PreviousPosition,
// the set is re-sorted, positions are reassigned densely and the trend is
// derived from the two positions.
func Recompute(entries []StandingEntry) []StandingEntry {
	prepared := make([]StandingEntry, len(entries))
	for i, e := range entries {
		if e.Position > 0 {
			e.PreviousPosition = e.Position
		}
		prepared[i] = e
	}

	ordered := Order(prepared)
	for i := range ordered {
		ordered[i].Trend = deriveTrend(ordered[i])
	}
	return ordered
}

func deriveTrend(e StandingEntry) Trend {
	switch {
	case e.PreviousPosition <= 0:
		return TrendNew
	case e.Position < e.PreviousPosition:
		return TrendRose
	case e.Position > e.PreviousPosition:
		return TrendFell
	default:
		return TrendHeld
	}
}
