package ranking

import "time"

// Window names a recency-filtered view of the global ranking.
type Window string

const (
	WindowGlobal  Window = "global"
	WindowWeekly  Window = "weekly"
	WindowMonthly Window = "monthly"
)

// ParseWindow parses a window name. Unknown names return false.
func ParseWindow(s string) (Window, bool) {
	switch Window(s) {
	case WindowGlobal, WindowWeekly, WindowMonthly:
		return Window(s), true
	case "":
		return WindowGlobal, true
	default:
		return "", false
	}
}

// WindowLimits configures the recency and length caps of the derived views.
type WindowLimits struct {
	WeeklySpan  time.Duration
	WeeklyCap   int
	MonthlySpan time.Duration
	MonthlyCap  int
}

// DefaultWindowLimits returns the product defaults: 7 days / top 50 and
// 30 days / top 100.
func DefaultWindowLimits() WindowLimits {
	return WindowLimits{
		WeeklySpan:  7 * 24 * time.Hour,
		WeeklyCap:   50,
		MonthlySpan: 30 * 24 * time.Hour,
		MonthlyCap:  100,
	}
}

// Windows holds the derived weekly and monthly views.
type Windows struct {
	Weekly  []StandingEntry
	Monthly []StandingEntry
}

// Project derives the weekly and monthly views from the sorted global list.
// Entries keep their global order; a view position is its index in the view.
func Project(global []StandingEntry, now time.Time, limits WindowLimits) Windows {
	return Windows{
		Weekly:  filterActive(global, now.Add(-limits.WeeklySpan), limits.WeeklyCap),
		Monthly: filterActive(global, now.Add(-limits.MonthlySpan), limits.MonthlyCap),
	}
}

func filterActive(global []StandingEntry, since time.Time, limit int) []StandingEntry {
	out := make([]StandingEntry, 0, min(len(global), max(limit, 0)))
	for _, e := range global {
		if limit > 0 && len(out) >= limit {
			break
		}
		if e.ActiveSince(since) {
			out = append(out, e)
		}
	}
	return out
}
