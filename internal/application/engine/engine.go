// Package engine is the ranking engine: it folds quiz completions into
// per-user standings, recomputes the ranking, persists it through the Store
// and notifies observers.
//
// All mutations run inside one critical section. Reads go through an
// atomically published, immutable snapshot and never block on writers.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
	"github.com/kombinu/kombinu-ranking/pkg/logger"
	"github.com/kombinu/kombinu-ranking/pkg/timeutil"
)

// Engine owns the standings and the published snapshot. Build one with New
// in the composition root and share it by reference.
type Engine struct {
	store   *Store
	clock   timeutil.Clock
	limits  ranking.WindowLimits
	logger  *slog.Logger
	metrics Metrics
	newID   func() string

	// mu serializes ingest, recompute, project, persist and notify.
	mu        sync.Mutex
	loaded    bool
	closed    bool
	histories map[string][]ranking.ScoreEvent

	snapshot atomic.Pointer[ranking.Snapshot]

	subMu sync.Mutex
	subs  []subscription
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the engine clock.
func WithClock(c timeutil.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLimits sets the weekly and monthly window limits.
func WithLimits(l ranking.WindowLimits) Option {
	return func(e *Engine) { e.limits = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger.OrDefault(l) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithIDGenerator sets the score event ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// New creates an engine over store. The engine starts with an empty snapshot
// until Start or the first Submit loads the stored one.
func New(store *Store, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		clock:     timeutil.System,
		limits:    ranking.DefaultWindowLimits(),
		logger:    slog.Default(),
		metrics:   NopMetrics{},
		newID:     uuid.NewString,
		histories: make(map[string][]ranking.ScoreEvent),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(logger.Component("engine"))
	e.snapshot.Store(ranking.EmptySnapshot(e.clock.Now()))
	return e
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start loads the initial snapshot: remote first, then cache, then empty.
// Calling Start more than once has no further effect.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ranking.ErrEngineClosed
	}
	e.ensureLoaded(ctx)
	return nil
}

// Shutdown flushes the current snapshot to the cache and rejects further
// mutations. Reads keep serving the last snapshot.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if !e.loaded {
		return nil
	}
	e.logger.Info("flushing snapshot on shutdown", logger.EntryCount(e.Snapshot().Len()))
	return e.store.Save(ctx, e.Snapshot())
}

// Wipe removes every standing, history and cached snapshot, then notifies
// observers with the empty ranking. A failed cache clear is logged and
// counted like any other cache write; the in-memory state is reset anyway.
func (e *Engine) Wipe(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ranking.ErrEngineClosed
	}
	ctx = context.WithoutCancel(ctx)

	if err := e.store.Clear(ctx); err != nil {
		e.logger.Error("cache clear failed during wipe", logger.Err(err))
	}

	e.histories = make(map[string][]ranking.ScoreEvent)
	e.loaded = true

	now := e.clock.Now()
	snap := ranking.NewSnapshot(nil, nil, now, e.limits)
	e.snapshot.Store(snap)
	_ = e.store.Save(ctx, snap)

	e.logger.Warn("standings wiped")
	e.notify(ctx, RankingChanged{Reason: ReasonWipe, Snapshot: snap, At: now})
	return nil
}

// Refresh merges the remote listing into the current standings: remote
// entries replace local ones with the same user, local-only entries are kept.
// A failed remote read returns the error and leaves the state untouched.
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ranking.ErrEngineClosed
	}

	remote, err := e.store.ListRemote(ctx)
	if err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)

	current := e.Snapshot()
	if !e.loaded {
		if cached, err := e.store.cache.ReadSnapshot(ctx); err == nil {
			current = cached
		}
		e.loaded = true
	}

	merged := mergeListing(current.Global, remote)
	snap := e.publish(ctx, merged, current.Categories)

	e.logger.Info("standings refreshed from remote source",
		logger.EntryCount(snap.Len()),
		slog.Int("remote_entries", len(remote)),
	)
	e.notify(ctx, RankingChanged{Reason: ReasonRefresh, Snapshot: snap, At: snap.GeneratedAt})
	return nil
}

// mergeListing overlays remote entries on local ones by user. A replaced
// entry keeps its local position so the next pass derives the trend against
// what this process last published.
func mergeListing(local, remote []ranking.StandingEntry) []ranking.StandingEntry {
	index := make(map[string]int, len(local))
	merged := make([]ranking.StandingEntry, len(local), len(local)+len(remote))
	for i, entry := range local {
		merged[i] = entry
		index[entry.UserID] = i
	}

	for _, entry := range remote {
		if entry.UserID == "" {
			continue
		}
		if i, ok := index[entry.UserID]; ok {
			entry.Position = merged[i].Position
			entry.PreviousPosition = merged[i].PreviousPosition
			merged[i] = entry
			continue
		}
		entry.Position = 0
		entry.PreviousPosition = 0
		index[entry.UserID] = len(merged)
		merged = append(merged, entry)
	}
	return merged
}

// ensureLoaded performs the lazy initial load. Caller holds mu.
func (e *Engine) ensureLoaded(ctx context.Context) {
	if e.loaded {
		return
	}
	e.snapshot.Store(e.store.Load(ctx))
	e.loaded = true
}

// publish recomputes entries, swaps in the new snapshot and writes it
// through to the cache. Caller holds mu.
func (e *Engine) publish(ctx context.Context, entries []ranking.StandingEntry, categories map[string][]string) *ranking.Snapshot {
	start := time.Now()

	global := ranking.Recompute(entries)
	snap := ranking.NewSnapshot(global, categories, e.clock.Now(), e.limits)
	e.snapshot.Store(snap)

	e.metrics.ObservePass(time.Since(start), snap.Len())
	_ = e.store.Save(ctx, snap)
	return snap
}
