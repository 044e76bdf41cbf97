package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
	"github.com/kombinu/kombinu-ranking/pkg/circuitbreaker"
)

const listStandingsQuery = `
	SELECT
		user_id,
		display_name,
		avatar_ref,
		total_points,
		level,
		quizzes_completed,
		current_streak,
		best_streak,
		average_accuracy_percent,
		total_study_minutes,
		last_activity_at,
		position
	FROM standings
`

// StandingsRepository implements ranking.RemoteSource over the standings
// table owned by the quiz platform.
type StandingsRepository struct {
	conn    *Connection
	breaker *circuitbreaker.CircuitBreaker
}

// NewStandingsRepository creates a listing over conn. A nil breaker reads
// unguarded.
func NewStandingsRepository(conn *Connection, breaker *circuitbreaker.CircuitBreaker) *StandingsRepository {
	return &StandingsRepository{conn: conn, breaker: breaker}
}

// IsOpen reports whether the breaker currently rejects reads.
func (r *StandingsRepository) IsOpen() bool {
	return r.breaker != nil && r.breaker.IsOpen()
}

// ListStandings implements ranking.RemoteSource.
func (r *StandingsRepository) ListStandings(ctx context.Context) ([]ranking.StandingEntry, error) {
	if r.breaker == nil {
		return r.list(ctx)
	}
	var entries []ranking.StandingEntry
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		entries, err = r.list(ctx)
		return err
	})
	return entries, err
}

func (r *StandingsRepository) list(ctx context.Context) ([]ranking.StandingEntry, error) {
	rows, err := r.conn.Query(ctx, listStandingsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list standings: %w", err)
	}
	defer rows.Close()

	entries, err := scanStandings(rows)
	if IsUndefinedTable(err) {
		return nil, fmt.Errorf("standings table missing, run `ranking migrate`: %w", err)
	}
	return entries, err
}

// scanStandings reads rows in listStandingsQuery column order.
func scanStandings(rows pgx.Rows) ([]ranking.StandingEntry, error) {
	entries := []ranking.StandingEntry{}

	for rows.Next() {
		var (
			entry        ranking.StandingEntry
			lastActivity time.Time
		)
		err := rows.Scan(
			&entry.UserID,
			&entry.DisplayName,
			&entry.AvatarRef,
			&entry.TotalPoints,
			&entry.Level,
			&entry.QuizzesCompleted,
			&entry.CurrentStreak,
			&entry.BestStreak,
			&entry.AverageAccuracyPercent,
			&entry.TotalStudyMinutes,
			&lastActivity,
			&entry.Position,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan standing: %w", err)
		}
		entries = append(entries, normalizeStanding(entry, lastActivity))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return entries, nil
}

// normalizeStanding fixes up a listed row: timestamps are UTC and the best
// streak never trails the current one.
func normalizeStanding(entry ranking.StandingEntry, lastActivity time.Time) ranking.StandingEntry {
	entry.LastActivityAt = lastActivity.UTC()
	if entry.BestStreak < entry.CurrentStreak {
		entry.BestStreak = entry.CurrentStreak
	}
	if entry.Position < 0 {
		entry.Position = 0
	}
	return entry
}
