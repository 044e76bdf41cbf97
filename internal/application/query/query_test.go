package query

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
	"github.com/kombinu/kombinu-ranking/internal/domain/shared"
)

var now = time.Date(2026, 5, 20, 8, 0, 0, 0, time.UTC)

type staticReader struct{ snap *ranking.Snapshot }

func (r staticReader) Snapshot() *ranking.Snapshot { return r.snap }

// fixture ranks n users with points 100*n ... 100; every third user was last
// active 20 days ago.
func fixture(n int) staticReader {
	entries := make([]ranking.StandingEntry, n)
	for i := range entries {
		last := now.Add(-time.Hour)
		if i%3 == 2 {
			last = now.Add(-20 * 24 * time.Hour)
		}
		entries[i] = ranking.StandingEntry{
			UserID:         fmt.Sprintf("u%02d", i+1),
			DisplayName:    fmt.Sprintf("User %d", i+1),
			TotalPoints:    100 * (n - i),
			LastActivityAt: last,
		}
	}
	categories := map[string][]string{
		"Math": {"u02", "u04"},
	}
	return staticReader{ranking.NewSnapshot(ranking.Recompute(entries), categories, now, ranking.DefaultWindowLimits())}
}

func TestGetLeaderboardQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   GetLeaderboardQuery
		limit   int
		window  string
		wantErr bool
	}{
		{name: "defaults", query: GetLeaderboardQuery{}, limit: DefaultPageSize, window: "global"},
		{name: "limit capped", query: GetLeaderboardQuery{Limit: 1000, Window: "weekly"}, limit: MaxPageSize, window: "weekly"},
		{name: "negative limit", query: GetLeaderboardQuery{Limit: -1}, wantErr: true},
		{name: "negative offset", query: GetLeaderboardQuery{Offset: -5}, wantErr: true},
		{name: "unknown window", query: GetLeaderboardQuery{Window: "yearly"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.query
			err := q.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.limit, q.Limit)
			assert.Equal(t, tt.window, q.Window)
		})
	}
}

func TestGetLeaderboard_Paginates(t *testing.T) {
	h := NewGetLeaderboardHandler(fixture(25))

	res, err := h.Handle(GetLeaderboardQuery{Limit: 10, Offset: 20})
	require.NoError(t, err)

	assert.Equal(t, 25, res.TotalCount)
	assert.Len(t, res.Entries, 5)
	assert.False(t, res.HasMore)
	assert.Equal(t, 3, res.Page)
	assert.Equal(t, 21, res.Entries[0].Rank)
	assert.Equal(t, "u21", res.Entries[0].UserID)
	assert.Equal(t, "#21", res.Entries[0].Badge)
	assert.Equal(t, 1300, res.AveragePts)
	assert.Equal(t, 1300, res.MedianPts)
	assert.Equal(t, now, res.GeneratedAt)
}

func TestGetLeaderboard_OffsetPastEnd(t *testing.T) {
	h := NewGetLeaderboardHandler(fixture(3))

	res, err := h.Handle(GetLeaderboardQuery{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
	assert.NotNil(t, res.Entries)
	assert.False(t, res.HasMore)
}

func TestGetLeaderboard_WeeklyRanksWithinWindow(t *testing.T) {
	h := NewGetLeaderboardHandler(fixture(6))

	res, err := h.Handle(GetLeaderboardQuery{Window: "weekly"})
	require.NoError(t, err)

	require.Len(t, res.Entries, 4)
	assert.Equal(t, "u04", res.Entries[2].UserID)
	assert.Equal(t, 3, res.Entries[2].Rank)
	assert.Equal(t, 4, res.Entries[2].Position)
}

func TestGetLeaderboard_Category(t *testing.T) {
	h := NewGetLeaderboardHandler(fixture(6))

	res, err := h.Handle(GetLeaderboardQuery{Category: " Math ", Window: "monthly"})
	require.NoError(t, err)

	assert.Equal(t, "Math", res.Category)
	assert.Empty(t, res.Window)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "u02", res.Entries[0].UserID)
	assert.Equal(t, "🥈", res.Entries[0].Badge)

	empty, err := h.Handle(GetLeaderboardQuery{Category: "History"})
	require.NoError(t, err)
	assert.Zero(t, empty.TotalCount)
}

func TestGetLeaderboard_InvalidQueryIsValidationError(t *testing.T) {
	h := NewGetLeaderboardHandler(fixture(1))

	_, err := h.Handle(GetLeaderboardQuery{Window: "daily"})
	assert.True(t, shared.IsValidation(err))
}

func TestGetUserStanding(t *testing.T) {
	h := NewGetUserStandingHandler(fixture(6))

	res, err := h.Handle(GetUserStandingQuery{UserID: "u04"})
	require.NoError(t, err)

	s := res.Standing
	assert.Equal(t, 4, s.Position)
	assert.Equal(t, 6, s.TotalUsers)
	assert.InDelta(t, 50.0, s.Percentile, 0.001)
	assert.Equal(t, 3, s.WeeklyRank)
	assert.Equal(t, 4, s.MonthlyRank)
	assert.Equal(t, map[string]int{"Math": 2}, s.CategoryRanks)
	assert.Equal(t, "u03", s.NextRankUserID)
	assert.Equal(t, 101, s.PointsToNextRank)
	assert.Equal(t, "u05", s.NextBelowUserID)
	assert.Equal(t, 100, s.PointsAheadOfNext)
	assert.NotEmpty(t, res.Message)
}

func TestGetUserStanding_Edges(t *testing.T) {
	h := NewGetUserStandingHandler(fixture(3))

	first, err := h.Handle(GetUserStandingQuery{UserID: "u01"})
	require.NoError(t, err)
	assert.Empty(t, first.Standing.NextRankUserID)
	assert.Equal(t, 100.0, first.Standing.Percentile)

	last, err := h.Handle(GetUserStandingQuery{UserID: "u03"})
	require.NoError(t, err)
	assert.Empty(t, last.Standing.NextBelowUserID)
	assert.Zero(t, last.Standing.WeeklyRank)

	_, err = h.Handle(GetUserStandingQuery{UserID: "nobody"})
	assert.ErrorIs(t, err, ErrUserNotRanked)
	assert.True(t, shared.IsNotFound(err))

	_, err = h.Handle(GetUserStandingQuery{UserID: "  "})
	assert.True(t, shared.IsValidation(err))
}
