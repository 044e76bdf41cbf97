// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read the last published snapshot.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
	"github.com/kombinu/kombinu-ranking/internal/domain/shared"
)

// SnapshotReader returns the last published snapshot. Implemented by
// *engine.Engine.
type SnapshotReader interface {
	Snapshot() *ranking.Snapshot
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Returns one page of a window or category ranking.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery holds the request parameters.
type GetLeaderboardQuery struct {
	// Window is global, weekly or monthly. Empty means global.
	Window string

	// Category restricts the listing to users active in a category. When set,
	// Window is ignored.
	Category string

	// Limit is the page size (default 20, max 100).
	Limit int

	// Offset skips that many entries.
	Offset int
}

// Validate checks the parameters and applies defaults.
func (q *GetLeaderboardQuery) Validate() error {
	if q.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	if q.Limit == 0 {
		q.Limit = DefaultPageSize
	}
	if q.Offset < 0 {
		return errors.New("offset cannot be negative")
	}
	q.Category = strings.TrimSpace(q.Category)
	if q.Window == "" {
		q.Window = string(ranking.WindowGlobal)
	}
	if _, ok := ranking.ParseWindow(q.Window); !ok {
		return fmt.Errorf("unknown window %q", q.Window)
	}
	return nil
}

// LeaderboardEntryDTO is one row of a leaderboard page.
type LeaderboardEntryDTO struct {
	// Rank is the 1-based place within the listing. For the global window it
	// equals Position.
	Rank int `json:"rank"`

	// Position is the global position.
	Position int `json:"position"`

	// Badge is a medal for the global podium, otherwise "#<position>".
	Badge string `json:"badge"`

	UserID           string  `json:"user_id"`
	DisplayName      string  `json:"display_name"`
	AvatarRef        string  `json:"avatar_ref,omitempty"`
	TotalPoints      int     `json:"total_points"`
	Level            int     `json:"level"`
	QuizzesCompleted int     `json:"quizzes_completed"`
	CurrentStreak    int     `json:"current_streak"`
	BestStreak       int     `json:"best_streak"`
	AccuracyPercent  float64 `json:"accuracy_percent"`
	StudyMinutes     int     `json:"study_minutes"`

	// PositionChange is positive when the user moved up.
	PositionChange int    `json:"position_change"`
	Trend          string `json:"trend"`
	TrendSymbol    string `json:"trend_symbol"`

	LastActivityAt time.Time `json:"last_activity_at"`
}

// GetLeaderboardResult is one page of a leaderboard.
type GetLeaderboardResult struct {
	Entries     []LeaderboardEntryDTO `json:"entries"`
	Window      string                `json:"window"`
	Category    string                `json:"category,omitempty"`
	TotalCount  int                   `json:"total_count"`
	AveragePts  int                   `json:"average_points"`
	MedianPts   int                   `json:"median_points"`
	HasMore     bool                  `json:"has_more"`
	Page        int                   `json:"page"`
	PageSize    int                   `json:"page_size"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// GetLeaderboardHandler serves leaderboard pages.
type GetLeaderboardHandler struct {
	reader SnapshotReader
}

// NewGetLeaderboardHandler creates the handler.
func NewGetLeaderboardHandler(reader SnapshotReader) *GetLeaderboardHandler {
	return &GetLeaderboardHandler{reader: reader}
}

// Handle runs the query against the current snapshot.
func (h *GetLeaderboardHandler) Handle(query GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetLeaderboard", shared.ErrValidation, err.Error(), err)
	}

	snap := h.reader.Snapshot()

	var listing []ranking.StandingEntry
	if query.Category != "" {
		listing = snap.ByCategory(query.Category)
		query.Window = ""
	} else {
		window, _ := ranking.ParseWindow(query.Window)
		listing = snap.Top(window, 0)
	}

	page := paginate(listing, query.Offset, query.Limit)
	dtos := make([]LeaderboardEntryDTO, len(page))
	for i, e := range page {
		dtos[i] = toDTO(e, query.Offset+i+1)
	}

	return &GetLeaderboardResult{
		Entries:     dtos,
		Window:      query.Window,
		Category:    query.Category,
		TotalCount:  len(listing),
		AveragePts:  averagePoints(listing),
		MedianPts:   medianPoints(listing),
		HasMore:     query.Offset+len(page) < len(listing),
		Page:        query.Offset/query.Limit + 1,
		PageSize:    query.Limit,
		GeneratedAt: snap.GeneratedAt,
	}, nil
}

func paginate(entries []ranking.StandingEntry, offset, limit int) []ranking.StandingEntry {
	if offset >= len(entries) {
		return []ranking.StandingEntry{}
	}
	end := min(offset+limit, len(entries))
	return entries[offset:end]
}

func toDTO(e ranking.StandingEntry, rank int) LeaderboardEntryDTO {
	dto := LeaderboardEntryDTO{
		Rank:             rank,
		Position:         e.Position,
		Badge:            FormatPosition(e.Position),
		UserID:           e.UserID,
		DisplayName:      e.DisplayName,
		AvatarRef:        e.AvatarRef,
		TotalPoints:      e.TotalPoints,
		Level:            e.Level,
		QuizzesCompleted: e.QuizzesCompleted,
		CurrentStreak:    e.CurrentStreak,
		BestStreak:       e.BestStreak,
		AccuracyPercent:  e.AverageAccuracyPercent,
		StudyMinutes:     e.TotalStudyMinutes,
		Trend:            string(e.Trend),
		TrendSymbol:      e.Trend.Symbol(),
		LastActivityAt:   e.LastActivityAt,
	}
	if e.PreviousPosition > 0 {
		dto.PositionChange = e.PreviousPosition - e.Position
	}
	return dto
}

func averagePoints(entries []ranking.StandingEntry) int {
	if len(entries) == 0 {
		return 0
	}
	total := 0
	for _, e := range entries {
		total += e.TotalPoints
	}
	return total / len(entries)
}

// medianPoints relies on entries being ordered by points descending.
func medianPoints(entries []ranking.StandingEntry) int {
	n := len(entries)
	if n == 0 {
		return 0
	}
	mid := n / 2
	if n%2 == 0 {
		return (entries[mid-1].TotalPoints + entries[mid].TotalPoints) / 2
	}
	return entries[mid].TotalPoints
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER FUNCTIONS
// ══════════════════════════════════════════════════════════════════════════════

// FormatPosition renders a position with a medal for the podium.
func FormatPosition(position int) string {
	switch position {
	case 1:
		return "🥇"
	case 2:
		return "🥈"
	case 3:
		return "🥉"
	default:
		return fmt.Sprintf("#%d", position)
	}
}
