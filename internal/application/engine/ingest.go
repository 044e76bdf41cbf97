package engine

import (
	"context"
	"slices"

	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
	"github.com/kombinu/kombinu-ranking/pkg/logger"
)

// Submit folds one completed quiz into the user's standing, recomputes the
// ranking, writes it through to the cache and notifies observers before
// returning.
//
// Only an InvalidEventError or ErrEngineClosed reaches the caller. Once the
// submission is accepted it runs to completion even if ctx is cancelled.
func (e *Engine) Submit(ctx context.Context, sub ranking.Submission) error {
	if err := sub.Validate(); err != nil {
		e.metrics.ObserveSubmission(ResultRejected)
		e.logger.Warn("submission rejected", logger.UserID(sub.UserID), logger.Err(err))
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		e.metrics.ObserveSubmission(ResultClosed)
		return ranking.ErrEngineClosed
	}
	ctx = context.WithoutCancel(ctx)
	e.ensureLoaded(ctx)

	event := sub.Event(e.newID(), e.clock.Now())
	history := append(e.history(ctx, sub.UserID), event)
	e.histories[sub.UserID] = history
	_ = e.store.SaveHistory(ctx, sub.UserID, history)

	current := e.Snapshot()
	entries := slices.Clone(current.Global)
	if i := slices.IndexFunc(entries, func(s ranking.StandingEntry) bool { return s.UserID == sub.UserID }); i >= 0 {
		entries[i].Apply(sub, event, history)
	} else {
		entries = append(entries, ranking.NewStandingEntry(sub, event))
	}

	snap := e.publish(ctx, entries, withCategoryMember(current.Categories, sub.Category, sub.UserID))
	entry, _ := snap.Entry(sub.UserID)

	e.metrics.ObserveSubmission(ResultAccepted)
	e.logger.Debug("submission applied",
		logger.UserID(sub.UserID),
		logger.Category(sub.Category),
		logger.Position(entry.Position),
	)

	e.notify(ctx, RankingChanged{
		Reason:   ReasonSubmit,
		Snapshot: snap,
		UserID:   sub.UserID,
		Entry:    entry,
		At:       event.CompletedAt,
	})
	return nil
}

// history returns the user's known score events, reading through to the
// cache the first time a user is seen. Caller holds mu.
func (e *Engine) history(ctx context.Context, userID string) []ranking.ScoreEvent {
	if events, ok := e.histories[userID]; ok {
		return slices.Clip(events)
	}
	return slices.Clip(e.store.History(ctx, userID))
}

// withCategoryMember returns a copy of categories with userID recorded under
// category. An empty category is not recorded.
func withCategoryMember(categories map[string][]string, category, userID string) map[string][]string {
	out := make(map[string][]string, len(categories)+1)
	for k, v := range categories {
		out[k] = v
	}
	if category == "" || slices.Contains(out[category], userID) {
		return out
	}
	out[category] = append(slices.Clone(out[category]), userID)
	return out
}
