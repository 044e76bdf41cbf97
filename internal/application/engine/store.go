package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
	"github.com/kombinu/kombinu-ranking/pkg/logger"
	"github.com/kombinu/kombinu-ranking/pkg/timeutil"
)

// Load sources reported to Metrics.ObserveLoad.
const (
	SourceRemote = "remote"
	SourceCache  = "cache"
	SourceEmpty  = "empty"
)

// DefaultRemoteTimeout bounds a single remote listing read.
const DefaultRemoteTimeout = 5 * time.Second

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store combines the read-only remote listing with the local cache.
// Reads prefer the remote source and degrade to the cache, then to an empty
// snapshot. Writes go to the cache only.
type Store struct {
	remote        ranking.RemoteSource
	cache         ranking.Cache
	remoteTimeout time.Duration
	limits        ranking.WindowLimits
	clock         timeutil.Clock
	logger        *slog.Logger
	metrics       Metrics
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithRemoteTimeout sets the timeout of one remote listing read.
func WithRemoteTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.remoteTimeout = d
		}
	}
}

// WithStoreLimits sets the window limits used when projecting a remote listing.
func WithStoreLimits(l ranking.WindowLimits) StoreOption {
	return func(s *Store) { s.limits = l }
}

// WithStoreClock sets the clock used for GeneratedAt and window projection.
func WithStoreClock(c timeutil.Clock) StoreOption {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = logger.OrDefault(l) }
}

// WithStoreMetrics sets the metrics sink.
func WithStoreMetrics(m Metrics) StoreOption {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewStore creates a Store. remote may be nil when the service runs
// cache-only; cache must not be nil.
func NewStore(remote ranking.RemoteSource, cache ranking.Cache, opts ...StoreOption) *Store {
	s := &Store{
		remote:        remote,
		cache:         cache,
		remoteTimeout: DefaultRemoteTimeout,
		limits:        ranking.DefaultWindowLimits(),
		clock:         timeutil.System,
		logger:        slog.Default(),
		metrics:       NopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("store"))
	return s
}

// Load returns the best available snapshot. It never fails: a remote error
// is logged and the cached snapshot is returned unchanged; without a cached
// snapshot the result is empty.
func (s *Store) Load(ctx context.Context) *ranking.Snapshot {
	entries, err := s.ListRemote(ctx)
	if err == nil {
		snap := ranking.NewSnapshot(ranking.Order(entries), s.cachedCategories(ctx), s.clock.Now(), s.limits)
		s.metrics.ObserveLoad(SourceRemote)
		s.logger.Info("loaded standings from remote source", logger.EntryCount(snap.Len()))
		return snap
	}
	s.logger.Warn("remote source unavailable, falling back to cache", logger.Err(err))

	snap, err := s.cache.ReadSnapshot(ctx)
	if err == nil {
		s.metrics.ObserveLoad(SourceCache)
		s.logger.Info("loaded standings from cache", logger.EntryCount(snap.Len()))
		return snap
	}
	if !errors.Is(err, ranking.ErrCacheMiss) {
		s.logger.Warn("cache read failed", logger.Err(err))
	}

	s.metrics.ObserveLoad(SourceEmpty)
	s.logger.Info("no remote or cached standings, starting empty")
	return ranking.EmptySnapshot(s.clock.Now())
}

// ListRemote reads the remote listing within the remote timeout. Any failure
// is returned as a RemoteUnavailableError.
func (s *Store) ListRemote(ctx context.Context) ([]ranking.StandingEntry, error) {
	if s.remote == nil {
		return nil, ranking.NewRemoteUnavailableError(errors.New("no remote source configured"))
	}

	ctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()

	entries, err := s.remote.ListStandings(ctx)
	if err != nil {
		return nil, ranking.NewRemoteUnavailableError(err)
	}
	return entries, nil
}

// Save writes the snapshot to the cache. A failure is logged and returned
// as a CacheWriteError; mutation paths ignore it.
func (s *Store) Save(ctx context.Context, snap *ranking.Snapshot) error {
	if err := s.cache.WriteSnapshot(ctx, snap); err != nil {
		s.metrics.ObserveCacheWriteError("snapshot")
		s.logger.Error("cache write failed", logger.Operation("WriteSnapshot"), logger.Err(err))
		return ranking.NewCacheWriteError("Save", err)
	}
	return nil
}

// History returns the cached score events of a user. Read errors are logged
// and yield an empty history.
func (s *Store) History(ctx context.Context, userID string) []ranking.ScoreEvent {
	events, err := s.cache.ReadHistory(ctx, userID)
	if err != nil {
		s.logger.Warn("history read failed", logger.UserID(userID), logger.Err(err))
		return nil
	}
	return events
}

// SaveHistory replaces the cached score events of a user.
func (s *Store) SaveHistory(ctx context.Context, userID string, events []ranking.ScoreEvent) error {
	if err := s.cache.WriteHistory(ctx, userID, events); err != nil {
		s.metrics.ObserveCacheWriteError("history")
		s.logger.Error("cache write failed", logger.Operation("WriteHistory"), logger.UserID(userID), logger.Err(err))
		return ranking.NewCacheWriteError("SaveHistory", err)
	}
	return nil
}

// Clear removes every cached snapshot and history.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.cache.Clear(ctx); err != nil {
		s.metrics.ObserveCacheWriteError("clear")
		return ranking.NewCacheWriteError("Clear", err)
	}
	return nil
}

// cachedCategories restores category membership, which the remote listing
// does not carry.
func (s *Store) cachedCategories(ctx context.Context) map[string][]string {
	snap, err := s.cache.ReadSnapshot(ctx)
	if err != nil {
		return nil
	}
	return snap.Categories
}
