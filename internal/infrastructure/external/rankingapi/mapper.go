package rankingapi

import (
	"strings"
	"time"

	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
)

// toStanding maps a listing row to the domain entry. Rows without a user id
// are dropped by the caller.
func toStanding(dto StandingDTO) ranking.StandingEntry {
	entry := ranking.StandingEntry{
		UserID:                 strings.TrimSpace(dto.UserID),
		DisplayName:            dto.DisplayName,
		AvatarRef:              dto.AvatarURL,
		TotalPoints:            max(dto.TotalPoints, 0),
		Level:                  dto.Level,
		QuizzesCompleted:       dto.QuizzesCompleted,
		CurrentStreak:          dto.CurrentStreak,
		BestStreak:             max(dto.BestStreak, dto.CurrentStreak),
		AverageAccuracyPercent: clampPercent(dto.AccuracyPercent),
		TotalStudyMinutes:      dto.StudyMinutes,
		Position:               max(dto.Rank, 0),
	}
	if dto.LastActivityAt != "" {
		if t, err := time.Parse(time.RFC3339, dto.LastActivityAt); err == nil {
			entry.LastActivityAt = t.UTC()
		}
	}
	return entry
}

func toStandings(dtos []StandingDTO) []ranking.StandingEntry {
	out := make([]ranking.StandingEntry, 0, len(dtos))
	for _, dto := range dtos {
		entry := toStanding(dto)
		if entry.UserID == "" {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
