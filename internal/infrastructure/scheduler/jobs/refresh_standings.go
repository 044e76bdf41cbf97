// Package jobs contains the ranking service's scheduled jobs.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
	"github.com/kombinu/kombinu-ranking/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH STANDINGS JOB
// ══════════════════════════════════════════════════════════════════════════════

// Refresher re-pulls the remote listing. Implemented by *engine.Engine.
type Refresher interface {
	Refresh(ctx context.Context) error
	Snapshot() *ranking.Snapshot
}

// RefreshStats describes the last completed run.
type RefreshStats struct {
	StartedAt time.Time
	Duration  time.Duration
	Before    int
	After     int
}

// RefreshStandingsJob merges the remote listing into the live ranking so
// standings changed outside this service become visible.
type RefreshStandingsJob struct {
	engine  Refresher
	timeout time.Duration
	logger  *slog.Logger

	last atomic.Pointer[RefreshStats]
}

// NewRefreshStandingsJob creates the job. A non-positive timeout means the
// run is bounded only by the scheduler's context.
func NewRefreshStandingsJob(engine Refresher, timeout time.Duration, log *slog.Logger) *RefreshStandingsJob {
	return &RefreshStandingsJob{
		engine:  engine,
		timeout: timeout,
		logger:  logger.OrDefault(log).With(logger.Component("refresh_standings")),
	}
}

// Name implements scheduler.Job.
func (j *RefreshStandingsJob) Name() string { return "refresh_standings" }

// Description implements scheduler.Job.
func (j *RefreshStandingsJob) Description() string {
	return "Merges the remote standings listing into the live ranking"
}

// Run implements scheduler.Job.
func (j *RefreshStandingsJob) Run(ctx context.Context) error {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	started := time.Now()
	before := j.engine.Snapshot().Len()

	if err := j.engine.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh standings: %w", err)
	}

	stats := &RefreshStats{
		StartedAt: started,
		Duration:  time.Since(started),
		Before:    before,
		After:     j.engine.Snapshot().Len(),
	}
	j.last.Store(stats)

	j.logger.Info("standings refreshed",
		slog.Int("before", stats.Before),
		slog.Int("after", stats.After),
		logger.Latency(stats.Duration),
	)
	return nil
}

// LastStats returns the stats of the last successful run, or nil.
func (j *RefreshStandingsJob) LastStats() *RefreshStats {
	return j.last.Load()
}
