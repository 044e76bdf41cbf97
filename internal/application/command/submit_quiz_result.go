// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"log/slog"

	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
	"github.com/kombinu/kombinu-ranking/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT QUIZ RESULT COMMAND
// Feeds one completed quiz into the ranking engine and reports where the user
// landed. Used by the HTTP ingestion endpoint.
// ══════════════════════════════════════════════════════════════════════════════

// Ranker is the part of the engine the command needs.
type Ranker interface {
	Submit(ctx context.Context, sub ranking.Submission) error
	Snapshot() *ranking.Snapshot
}

// SubmitQuizResultCommand carries one quiz completion.
type SubmitQuizResultCommand struct {
	ranking.Submission

	// CorrelationID for tracing (optional).
	CorrelationID string
}

// Validate delegates to the submission rules so the caller sees the same
// InvalidEventError the engine would return.
func (c SubmitQuizResultCommand) Validate() error {
	return c.Submission.Validate()
}

// SubmitQuizResultResult describes the user's standing after the submission.
type SubmitQuizResultResult struct {
	UserID           string        `json:"user_id"`
	Position         int           `json:"position"`
	PreviousPosition int           `json:"previous_position,omitempty"`
	PositionChange   int           `json:"position_change"`
	Trend            ranking.Trend `json:"trend"`
	TotalPoints      int           `json:"total_points"`
	CurrentStreak    int           `json:"current_streak"`
	TotalUsers       int           `json:"total_users"`
	CorrelationID    string        `json:"correlation_id,omitempty"`
}

// SubmitQuizResultHandler handles SubmitQuizResultCommand.
type SubmitQuizResultHandler struct {
	ranker Ranker
	logger *slog.Logger
}

// NewSubmitQuizResultHandler creates the handler.
func NewSubmitQuizResultHandler(ranker Ranker, log *slog.Logger) *SubmitQuizResultHandler {
	return &SubmitQuizResultHandler{
		ranker: ranker,
		logger: logger.OrDefault(log).With(logger.Component("submit_quiz_result")),
	}
}

// Handle submits the quiz and reads the user's entry back from the snapshot
// the submission produced.
func (h *SubmitQuizResultHandler) Handle(ctx context.Context, cmd SubmitQuizResultCommand) (*SubmitQuizResultResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	if err := h.ranker.Submit(ctx, cmd.Submission); err != nil {
		return nil, err
	}

	snap := h.ranker.Snapshot()
	result := &SubmitQuizResultResult{
		UserID:        cmd.UserID,
		TotalUsers:    snap.Len(),
		CorrelationID: cmd.CorrelationID,
	}

	// A concurrent Wipe can remove the user between Submit and the read.
	entry, ok := snap.Entry(cmd.UserID)
	if !ok {
		h.logger.Warn("submitted user missing from snapshot", logger.UserID(cmd.UserID))
		return result, nil
	}

	result.Position = entry.Position
	result.PreviousPosition = entry.PreviousPosition
	result.Trend = entry.Trend
	result.TotalPoints = entry.TotalPoints
	result.CurrentStreak = entry.CurrentStreak
	if entry.PreviousPosition > 0 {
		result.PositionChange = entry.PreviousPosition - entry.Position
	}

	h.logger.Info("quiz result submitted",
		logger.UserID(cmd.UserID),
		logger.Category(cmd.Category),
		logger.Position(entry.Position),
		logger.RequestID(cmd.CorrelationID),
	)
	return result, nil
}
