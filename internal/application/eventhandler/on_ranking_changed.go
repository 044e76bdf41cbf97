// Package eventhandler holds engine observers that turn ranking changes into
// outbound events.
package eventhandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/kombinu/kombinu-ranking/internal/application/engine"
	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
	"github.com/kombinu/kombinu-ranking/pkg/logger"
	"github.com/kombinu/kombinu-ranking/pkg/timeutil"
)

// Publisher sends an event to a subject. Implemented by messaging.Publisher.
// Observers run under the engine lock, so Publish must not back off; failed
// events are left to the publisher's dead-letter queue.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// MoveKind classifies a significant position change.
type MoveKind string

const (
	MoveUp         MoveKind = "rank_up"
	MoveDown       MoveKind = "rank_down"
	MoveEnteredTop MoveKind = "entered_top"
	MoveLeftTop    MoveKind = "left_top"
)

// RankMove is the payload published for each significant change.
type RankMove struct {
	Kind        MoveKind            `json:"kind"`
	UserID      string              `json:"user_id"`
	DisplayName string              `json:"display_name"`
	OldPosition int                 `json:"old_position"`
	NewPosition int                 `json:"new_position"`
	Delta       int                 `json:"delta"`
	TopN        int                 `json:"top_n,omitempty"`
	Trend       ranking.Trend       `json:"trend"`
	Reason      engine.ChangeReason `json:"reason"`
	Message     string              `json:"message"`
	At          time.Time           `json:"at"`
}

// RankChangedConfig tunes what counts as significant.
type RankChangedConfig struct {
	// Subject is where moves are published.
	Subject string

	// MinPositionChange is the smallest |delta| reported as a plain move.
	MinPositionChange int

	// TopNMilestones are reported on entry and exit regardless of delta.
	TopNMilestones []int

	// Cooldown suppresses plain moves for a user reported less than
	// Cooldown ago. Milestones are never suppressed.
	Cooldown time.Duration
}

// DefaultRankChangedConfig returns the production thresholds.
func DefaultRankChangedConfig() RankChangedConfig {
	return RankChangedConfig{
		Subject:           "ranking.changed",
		MinPositionChange: 3,
		TopNMilestones:    []int{10, 50, 100},
		Cooldown:          30 * time.Minute,
	}
}

// OnRankingChanged detects significant moves in each published snapshot and
// publishes them.
type OnRankingChanged struct {
	publisher Publisher
	config    RankChangedConfig
	clock     timeutil.Clock
	logger    *slog.Logger

	mu           sync.Mutex
	lastReported map[string]time.Time
}

var _ engine.Observer = (*OnRankingChanged)(nil)

// NewOnRankingChanged creates the detector. publisher may be nil, in which
// case moves are only logged.
func NewOnRankingChanged(publisher Publisher, config RankChangedConfig, clock timeutil.Clock, log *slog.Logger) *OnRankingChanged {
	if clock == nil {
		clock = timeutil.System
	}
	return &OnRankingChanged{
		publisher:    publisher,
		config:       normalizeConfig(config),
		clock:        clock,
		logger:       logger.OrDefault(log).With(logger.Component("on_ranking_changed")),
		lastReported: make(map[string]time.Time),
	}
}

// OnRankingChanged implements engine.Observer.
func (h *OnRankingChanged) OnRankingChanged(ctx context.Context, change engine.RankingChanged) error {
	if change.Reason == engine.ReasonWipe {
		h.mu.Lock()
		clear(h.lastReported)
		h.mu.Unlock()
		return nil
	}

	moves := h.Detect(change)
	if len(moves) == 0 {
		return nil
	}

	var errs []error
	for _, move := range moves {
		h.logger.Info("significant rank move",
			slog.String("kind", string(move.Kind)),
			logger.UserID(move.UserID),
			slog.Int("old_position", move.OldPosition),
			logger.Position(move.NewPosition),
		)
		if h.publisher == nil {
			continue
		}
		if err := h.publisher.Publish(ctx, h.config.Subject, move); err != nil {
			errs = append(errs, fmt.Errorf("publish %s for %s: %w", move.Kind, move.UserID, err))
		}
	}
	return errors.Join(errs...)
}

// Detect returns the significant moves in change in position order.
// It records plain moves for the cooldown.
func (h *OnRankingChanged) Detect(change engine.RankingChanged) []RankMove {
	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	var moves []RankMove
	for _, entry := range change.Snapshot.Global {
		milestones := h.milestones(entry)
		for i := range milestones {
			milestones[i].Reason = change.Reason
			milestones[i].At = now
		}
		moves = append(moves, milestones...)

		move, ok := h.plainMove(entry, now)
		if !ok {
			continue
		}
		move.Reason = change.Reason
		move.At = now
		moves = append(moves, move)
		h.lastReported[entry.UserID] = now
	}
	return moves
}

func (h *OnRankingChanged) plainMove(entry ranking.StandingEntry, now time.Time) (RankMove, bool) {
	if entry.Trend != ranking.TrendRose && entry.Trend != ranking.TrendFell {
		return RankMove{}, false
	}
	delta := entry.PreviousPosition - entry.Position
	if abs(delta) < h.config.MinPositionChange {
		return RankMove{}, false
	}
	if last, ok := h.lastReported[entry.UserID]; ok && now.Sub(last) < h.config.Cooldown {
		return RankMove{}, false
	}

	kind := MoveUp
	if delta < 0 {
		kind = MoveDown
	}
	move := newMove(kind, entry, delta, 0)
	move.Message = moveMessage(move)
	return move, true
}

// milestones reports at most one crossing per entry: the tightest top-N
// entered, or the widest top-N left.
func (h *OnRankingChanged) milestones(entry ranking.StandingEntry) []RankMove {
	old, cur := entry.PreviousPosition, entry.Position
	if cur <= 0 || entry.Trend == ranking.TrendHeld {
		return nil
	}
	delta := 0
	if old > 0 {
		delta = old - cur
	}

	entered, left := 0, 0
	for _, n := range h.config.TopNMilestones {
		wasIn := old > 0 && old <= n
		isIn := cur <= n
		if isIn && !wasIn && entered == 0 {
			entered = n
		}
		if wasIn && !isIn {
			left = n
		}
	}

	var out []RankMove
	if entered > 0 {
		m := newMove(MoveEnteredTop, entry, delta, entered)
		m.Message = moveMessage(m)
		out = append(out, m)
	}
	if left > 0 {
		m := newMove(MoveLeftTop, entry, delta, left)
		m.Message = moveMessage(m)
		out = append(out, m)
	}
	return out
}

func normalizeConfig(c RankChangedConfig) RankChangedConfig {
	if c.Subject == "" {
		c.Subject = DefaultRankChangedConfig().Subject
	}
	if c.MinPositionChange < 1 {
		c.MinPositionChange = 1
	}
	c.TopNMilestones = slices.Clone(c.TopNMilestones)
	slices.Sort(c.TopNMilestones)
	return c
}

func newMove(kind MoveKind, entry ranking.StandingEntry, delta, topN int) RankMove {
	return RankMove{
		Kind:        kind,
		UserID:      entry.UserID,
		DisplayName: entry.DisplayName,
		OldPosition: entry.PreviousPosition,
		NewPosition: entry.Position,
		Delta:       delta,
		TopN:        topN,
		Trend:       entry.Trend,
	}
}

func moveMessage(m RankMove) string {
	switch m.Kind {
	case MoveEnteredTop:
		return fmt.Sprintf("%s entered the top %d at #%d", displayName(m), m.TopN, m.NewPosition)
	case MoveLeftTop:
		return fmt.Sprintf("%s dropped out of the top %d, now #%d", displayName(m), m.TopN, m.NewPosition)
	case MoveUp:
		switch {
		case m.Delta >= 20:
			return fmt.Sprintf("%s jumped %d places to #%d", displayName(m), m.Delta, m.NewPosition)
		default:
			return fmt.Sprintf("%s climbed %d places to #%d", displayName(m), m.Delta, m.NewPosition)
		}
	default:
		return fmt.Sprintf("%s slipped %d places to #%d", displayName(m), -m.Delta, m.NewPosition)
	}
}

func displayName(m RankMove) string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.UserID
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
