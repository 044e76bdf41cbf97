package query

import (
	"errors"
	"strings"
	"time"

	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
	"github.com/kombinu/kombinu-ranking/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER STANDING QUERY
// Where a single user stands: global position, window placements, gaps to the
// neighbours above and below.
// ══════════════════════════════════════════════════════════════════════════════

// ErrUserNotRanked - the user has no standing in the current snapshot.
var ErrUserNotRanked = errors.New("user is not ranked")

// GetUserStandingQuery holds the request parameters.
type GetUserStandingQuery struct {
	UserID string
}

// Validate checks the parameters.
func (q *GetUserStandingQuery) Validate() error {
	q.UserID = strings.TrimSpace(q.UserID)
	if q.UserID == "" {
		return errors.New("user_id is required")
	}
	return nil
}

// UserStandingDTO is a user's standing with neighbour context.
type UserStandingDTO struct {
	LeaderboardEntryDTO

	// TotalUsers is the size of the global ranking.
	TotalUsers int `json:"total_users"`

	// Percentile is 100 for first place and approaches 0 for last.
	Percentile float64 `json:"percentile"`

	// WeeklyRank and MonthlyRank are zero when the user is outside the window.
	WeeklyRank  int `json:"weekly_rank,omitempty"`
	MonthlyRank int `json:"monthly_rank,omitempty"`

	// CategoryRanks maps each category the user is active in to their place
	// within it.
	CategoryRanks map[string]int `json:"category_ranks,omitempty"`

	// PointsToNextRank is how many points overtake the user directly above.
	PointsToNextRank int    `json:"points_to_next_rank,omitempty"`
	NextRankUserID   string `json:"next_rank_user_id,omitempty"`

	// PointsAheadOfNext is the lead over the user directly below.
	PointsAheadOfNext int    `json:"points_ahead_of_next,omitempty"`
	NextBelowUserID   string `json:"next_below_user_id,omitempty"`
}

// GetUserStandingResult wraps the DTO with a short message.
type GetUserStandingResult struct {
	Standing    UserStandingDTO `json:"standing"`
	Message     string          `json:"message,omitempty"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// GetUserStandingHandler serves single-user lookups.
type GetUserStandingHandler struct {
	reader SnapshotReader
}

// NewGetUserStandingHandler creates the handler.
func NewGetUserStandingHandler(reader SnapshotReader) *GetUserStandingHandler {
	return &GetUserStandingHandler{reader: reader}
}

// Handle runs the query against the current snapshot.
func (h *GetUserStandingHandler) Handle(query GetUserStandingQuery) (*GetUserStandingResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetUserStanding", shared.ErrValidation, err.Error(), err)
	}

	snap := h.reader.Snapshot()
	entry, ok := snap.Entry(query.UserID)
	if !ok {
		return nil, shared.WrapError("query", "GetUserStanding", shared.ErrNotFound, "user not ranked", ErrUserNotRanked)
	}

	dto := UserStandingDTO{
		LeaderboardEntryDTO: toDTO(entry, entry.Position),
		TotalUsers:          snap.Len(),
		WeeklyRank:          rankIn(snap.Weekly, entry.UserID),
		MonthlyRank:         rankIn(snap.Monthly, entry.UserID),
	}
	if dto.TotalUsers > 0 {
		dto.Percentile = 100.0 - float64(entry.Position-1)/float64(dto.TotalUsers)*100.0
	}

	for _, name := range snap.CategoryNames() {
		if r := rankIn(snap.ByCategory(name), entry.UserID); r > 0 {
			if dto.CategoryRanks == nil {
				dto.CategoryRanks = make(map[string]int)
			}
			dto.CategoryRanks[name] = r
		}
	}

	// Positions are dense, so the neighbours sit at adjacent indexes.
	i := entry.Position - 1
	if i > 0 {
		above := snap.Global[i-1]
		dto.PointsToNextRank = above.TotalPoints - entry.TotalPoints + 1
		dto.NextRankUserID = above.UserID
	}
	if i+1 < len(snap.Global) {
		below := snap.Global[i+1]
		dto.PointsAheadOfNext = entry.TotalPoints - below.TotalPoints
		dto.NextBelowUserID = below.UserID
	}

	return &GetUserStandingResult{
		Standing:    dto,
		Message:     standingMessage(dto),
		GeneratedAt: snap.GeneratedAt,
	}, nil
}

func rankIn(listing []ranking.StandingEntry, userID string) int {
	for i, e := range listing {
		if e.UserID == userID {
			return i + 1
		}
	}
	return 0
}

func standingMessage(dto UserStandingDTO) string {
	switch {
	case dto.Position == 1:
		return "🏆 Top of the board!"
	case dto.Position <= 10:
		return "🏆 You are in the top 10. Keep going!"
	case dto.Position <= 15:
		return "🔥 The top 10 is within reach!"
	case dto.Position <= 50:
		return "⭐ You are in the top 50!"
	case dto.Position <= 60:
		return "⭐ Almost in the top 50!"
	case dto.PositionChange > 0:
		return "📈 Great progress, you moved up!"
	case dto.PositionChange < 0:
		return "💪 Time to win those places back!"
	case dto.PointsToNextRank > 0 && dto.PointsToNextRank <= 50:
		return "🎯 Less than 50 points to the next place!"
	default:
		return ""
	}
}
