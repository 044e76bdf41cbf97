package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kombinu/kombinu-ranking/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDELIVER EVENTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// Redeliverer republishes parked messages. Implemented by
// *messaging.Publisher.
type Redeliverer interface {
	Redeliver(ctx context.Context) (int, error)
}

// RedeliverEventsJob drains the publisher's dead-letter queue.
type RedeliverEventsJob struct {
	publisher Redeliverer
	logger    *slog.Logger
}

// NewRedeliverEventsJob creates the job.
func NewRedeliverEventsJob(publisher Redeliverer, log *slog.Logger) *RedeliverEventsJob {
	return &RedeliverEventsJob{
		publisher: publisher,
		logger:    logger.OrDefault(log).With(logger.Component("redeliver_events")),
	}
}

// Name implements scheduler.Job.
func (j *RedeliverEventsJob) Name() string { return "redeliver_events" }

// Description implements scheduler.Job.
func (j *RedeliverEventsJob) Description() string {
	return "Republishes ranking events parked after failed publishes"
}

// Run implements scheduler.Job.
func (j *RedeliverEventsJob) Run(ctx context.Context) error {
	sent, err := j.publisher.Redeliver(ctx)
	if sent > 0 {
		j.logger.Info("redelivered parked events", slog.Int("sent", sent))
	}
	if err != nil {
		return fmt.Errorf("redeliver events: %w", err)
	}
	return nil
}
