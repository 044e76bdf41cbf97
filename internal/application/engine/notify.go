package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
	"github.com/kombinu/kombinu-ranking/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// OBSERVERS
// ══════════════════════════════════════════════════════════════════════════════

// ChangeReason names the mutation that produced a notification.
type ChangeReason string

const (
	ReasonSubmit  ChangeReason = "submit"
	ReasonRefresh ChangeReason = "refresh"
	ReasonWipe    ChangeReason = "wipe"
)

// RankingChanged is delivered to observers after every completed mutation.
// Snapshot is a private deep copy; the receiver may keep or modify it.
type RankingChanged struct {
	Reason   ChangeReason
	Snapshot *ranking.Snapshot

	// UserID is the submitting user for ReasonSubmit, empty otherwise.
	UserID string

	// Entry is the submitting user's standing after the pass. Valid only
	// when UserID is set.
	Entry ranking.StandingEntry

	At time.Time
}

// Observer reacts to ranking changes. Delivery is synchronous within the
// mutation; observers must not call mutating engine methods.
type Observer interface {
	OnRankingChanged(ctx context.Context, change RankingChanged) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, change RankingChanged) error

// OnRankingChanged implements Observer.
func (f ObserverFunc) OnRankingChanged(ctx context.Context, change RankingChanged) error {
	return f(ctx, change)
}

// SubscriptionID identifies a registered observer.
type SubscriptionID string

type subscription struct {
	id       SubscriptionID
	observer Observer
}

// Subscribe registers an observer and returns its handle. Observers are
// notified in registration order.
func (e *Engine) Subscribe(observer Observer) SubscriptionID {
	id := SubscriptionID(uuid.NewString())

	e.subMu.Lock()
	e.subs = append(e.subs, subscription{id: id, observer: observer})
	e.subMu.Unlock()

	e.logger.Debug("observer subscribed", logger.SubscriptionID(string(id)))
	return id
}

// Unsubscribe removes an observer. It reports whether the handle was known.
func (e *Engine) Unsubscribe(id SubscriptionID) bool {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	i := slices.IndexFunc(e.subs, func(s subscription) bool { return s.id == id })
	if i < 0 {
		return false
	}
	e.subs = slices.Delete(e.subs, i, i+1)
	e.logger.Debug("observer unsubscribed", logger.SubscriptionID(string(id)))
	return true
}

// notify delivers change to every observer. Each observer receives its own
// copy of the snapshot; errors and panics are logged and do not stop
// delivery.
func (e *Engine) notify(ctx context.Context, change RankingChanged) {
	e.subMu.Lock()
	subs := slices.Clone(e.subs)
	e.subMu.Unlock()

	for _, sub := range subs {
		delivery := change
		delivery.Snapshot = change.Snapshot.Clone()
		if err := deliver(ctx, sub.observer, delivery); err != nil {
			e.metrics.ObserveObserverError()
			e.logger.Error("observer failed",
				logger.SubscriptionID(string(sub.id)),
				logger.Err(ranking.NewObserverError(err)),
			)
		}
	}
}

func deliver(ctx context.Context, observer Observer, change RankingChanged) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return observer.OnRankingChanged(ctx, change)
}
