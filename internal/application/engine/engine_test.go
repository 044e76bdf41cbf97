package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
	"github.com/kombinu/kombinu-ranking/internal/infrastructure/persistence/memory"
	"github.com/kombinu/kombinu-ranking/pkg/logger"
	"github.com/kombinu/kombinu-ranking/pkg/timeutil"
)

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeRemote struct {
	mu      sync.Mutex
	entries []ranking.StandingEntry
	err     error
	calls   int
}

func (f *fakeRemote) ListStandings(ctx context.Context) ([]ranking.StandingEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]ranking.StandingEntry(nil), f.entries...), nil
}

// brokenCache fails every write but serves reads from the wrapped cache.
type brokenCache struct {
	*memory.Cache
}

func (brokenCache) WriteSnapshot(context.Context, *ranking.Snapshot) error {
	return errors.New("disk full")
}

func (brokenCache) WriteHistory(context.Context, string, []ranking.ScoreEvent) error {
	return errors.New("disk full")
}

func (brokenCache) Clear(context.Context) error {
	return errors.New("disk full")
}

type countingMetrics struct {
	NopMetrics
	mu          sync.Mutex
	loads       []string
	cacheErrors int
	observerErr int
}

func (m *countingMetrics) ObserveLoad(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads = append(m.loads, source)
}

func (m *countingMetrics) ObserveCacheWriteError(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheErrors++
}

func (m *countingMetrics) ObserveObserverError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observerErr++
}

type recorder struct {
	mu      sync.Mutex
	changes []RankingChanged
}

func (r *recorder) OnRankingChanged(_ context.Context, change RankingChanged) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

type harness struct {
	engine  *Engine
	remote  *fakeRemote
	cache   ranking.Cache
	clock   *timeutil.ManualClock
	metrics *countingMetrics
}

func newHarness(t *testing.T, remote *fakeRemote, cache ranking.Cache) *harness {
	t.Helper()
	if remote == nil {
		remote = &fakeRemote{err: errors.New("connection refused")}
	}
	if cache == nil {
		cache = memory.NewCache()
	}
	clock := timeutil.NewManualClock(t0)
	metrics := &countingMetrics{}
	log := logger.Discard()

	store := NewStore(remote, cache,
		WithStoreClock(clock),
		WithStoreLogger(log),
		WithStoreMetrics(metrics),
		WithRemoteTimeout(time.Second),
	)
	seq := 0
	eng := New(store,
		WithClock(clock),
		WithLogger(log),
		WithMetrics(metrics),
		WithIDGenerator(func() string { seq++; return fmt.Sprintf("ev-%d", seq) }),
	)
	return &harness{engine: eng, remote: remote, cache: cache, clock: clock, metrics: metrics}
}

func quiz(userID string, totalPoints, correct, total, seconds int) ranking.Submission {
	return ranking.Submission{
		UserID:              userID,
		DisplayName:         "User " + userID,
		TotalPointsSnapshot: totalPoints,
		CurrentLevel:        1,
		QuizID:              "quiz-" + userID,
		Category:            "Math",
		PointsEarned:        correct * 10,
		CorrectCount:        correct,
		TotalQuestions:      total,
		TimeSpentSeconds:    seconds,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SCENARIOS
// ══════════════════════════════════════════════════════════════════════════════

func TestSubmit_NewUser(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Submit(ctx, quiz("veteran", 500, 10, 10, 60)))
	require.NoError(t, h.engine.Submit(ctx, quiz("newbie", 80, 8, 10, 120)))

	e, ok := h.engine.EntryOf("newbie")
	require.True(t, ok)
	assert.Equal(t, ranking.TrendNew, e.Trend)
	assert.Equal(t, 1, e.CurrentStreak)
	assert.Equal(t, 1, e.QuizzesCompleted)
	assert.Equal(t, 2, e.TotalStudyMinutes)
	assert.Equal(t, 2, e.Position)
	assert.Equal(t, t0, e.LastActivityAt)
	assert.Equal(t, []string{"veteran", "newbie"}, userIDs(h.engine.ByCategory("Math")))
}

func TestSubmit_OvertakeRisesWithPreviousPosition(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	for i, points := range []int{500, 400, 300, 200, 100} {
		require.NoError(t, h.engine.Submit(ctx, quiz(fmt.Sprintf("u%d", i+1), points, 8, 10, 60)))
	}
	pos, _ := h.engine.PositionOf("u5")
	require.Equal(t, 5, pos)

	require.NoError(t, h.engine.Submit(ctx, quiz("u5", 350, 8, 10, 60)))

	e, ok := h.engine.EntryOf("u5")
	require.True(t, ok)
	assert.Equal(t, 3, e.Position)
	assert.Equal(t, 5, e.PreviousPosition)
	assert.Equal(t, ranking.TrendRose, e.Trend)

	u3, _ := h.engine.EntryOf("u3")
	assert.Equal(t, ranking.TrendFell, u3.Trend)
	u1, _ := h.engine.EntryOf("u1")
	assert.Equal(t, ranking.TrendHeld, u1.Trend)
}

func TestSubmit_InvalidEventHasNoEffect(t *testing.T) {
	h := newHarness(t, nil, nil)
	rec := &recorder{}
	h.engine.Subscribe(rec)

	err := h.engine.Submit(context.Background(), quiz("u1", 10, 0, 0, 30))

	require.Error(t, err)
	assert.True(t, ranking.IsInvalidEvent(err))
	_, ok := h.engine.EntryOf("u1")
	assert.False(t, ok)
	assert.Zero(t, rec.count())
	assert.Zero(t, h.engine.Snapshot().Len())
}

func TestSubmit_TieBrokenByMostRecentActivity(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Submit(ctx, quiz("early", 100, 8, 10, 60)))
	h.clock.Advance(time.Minute)
	require.NoError(t, h.engine.Submit(ctx, quiz("late", 100, 8, 10, 60)))

	assert.Equal(t, []string{"late", "early"}, userIDs(h.engine.GlobalTop(0)))
}

func TestSubmit_InactiveUserLeavesWeeklyView(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Submit(ctx, quiz("idle", 300, 8, 10, 60)))
	h.clock.Advance(10 * 24 * time.Hour)
	require.NoError(t, h.engine.Submit(ctx, quiz("active", 100, 8, 10, 60)))

	assert.Equal(t, []string{"idle", "active"}, userIDs(h.engine.GlobalTop(0)))
	assert.Equal(t, []string{"idle", "active"}, userIDs(h.engine.MonthlyTop()))
	assert.Equal(t, []string{"active"}, userIDs(h.engine.WeeklyTop()))

	stats := h.engine.Stats()
	assert.Equal(t, 2, stats.TotalUsers)
	assert.Equal(t, 1, stats.ActiveLastWeek)
	assert.Equal(t, 2, stats.ActiveLastMonth)
	assert.Equal(t, []string{"Math"}, stats.Categories)
}

func TestStart_FallsBackToCachedSnapshot(t *testing.T) {
	ctx := context.Background()
	cache := memory.NewCache()
	cached := ranking.NewSnapshot(ranking.Recompute([]ranking.StandingEntry{
		{UserID: "a", TotalPoints: 30, LastActivityAt: t0},
		{UserID: "b", TotalPoints: 20, LastActivityAt: t0},
		{UserID: "c", TotalPoints: 10, LastActivityAt: t0},
	}), map[string][]string{"Math": {"a"}}, t0, ranking.DefaultWindowLimits())
	require.NoError(t, cache.WriteSnapshot(ctx, cached))

	h := newHarness(t, &fakeRemote{err: errors.New("network is unreachable")}, cache)
	require.NoError(t, h.engine.Start(ctx))

	got := h.engine.Snapshot()
	if diff := cmp.Diff(cached, got, cmpopts.IgnoreUnexported(ranking.Snapshot{})); diff != "" {
		t.Errorf("loaded snapshot differs from cache (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{SourceCache}, h.metrics.loads)
}

func TestStart_EmptyWhenNothingAvailable(t *testing.T) {
	h := newHarness(t, nil, nil)

	require.NoError(t, h.engine.Start(context.Background()))

	assert.Zero(t, h.engine.Snapshot().Len())
	assert.Equal(t, []string{SourceEmpty}, h.metrics.loads)
}

func TestStart_PrefersRemoteListing(t *testing.T) {
	remote := &fakeRemote{entries: []ranking.StandingEntry{
		{UserID: "low", TotalPoints: 1, LastActivityAt: t0},
		{UserID: "high", TotalPoints: 9, LastActivityAt: t0},
	}}
	h := newHarness(t, remote, nil)

	require.NoError(t, h.engine.Start(context.Background()))
	require.NoError(t, h.engine.Start(context.Background()))

	assert.Equal(t, 1, remote.calls)
	assert.Equal(t, []string{"high", "low"}, userIDs(h.engine.GlobalTop(0)))
	pos, ok := h.engine.PositionOf("low")
	require.True(t, ok)
	assert.Equal(t, 2, pos)
}

func TestSubmit_LoadsLazilyWithoutStart(t *testing.T) {
	remote := &fakeRemote{entries: []ranking.StandingEntry{
		{UserID: "existing", TotalPoints: 1000, LastActivityAt: t0},
	}}
	h := newHarness(t, remote, nil)

	require.NoError(t, h.engine.Submit(context.Background(), quiz("fresh", 10, 8, 10, 60)))

	assert.Equal(t, []string{"existing", "fresh"}, userIDs(h.engine.GlobalTop(0)))
}

// ══════════════════════════════════════════════════════════════════════════════
// INGESTION DETAILS
// ══════════════════════════════════════════════════════════════════════════════

func TestSubmit_AccuracyReplaysHistory(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Submit(ctx, quiz("u", 10, 9, 10, 60)))
	require.NoError(t, h.engine.Submit(ctx, quiz("u", 20, 1, 30, 60)))

	e, _ := h.engine.EntryOf("u")
	assert.InDelta(t, 25.0, e.AverageAccuracyPercent, 1e-9)
	assert.Equal(t, 0, e.CurrentStreak)
	assert.Equal(t, 1, e.BestStreak)
	assert.Equal(t, 20, e.TotalPoints)

	history, err := h.cache.ReadHistory(ctx, "u")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "ev-1", history[0].ID)
	assert.Equal(t, "ev-2", history[1].ID)
}

func TestSubmit_HistoryReadThroughFromCache(t *testing.T) {
	ctx := context.Background()
	cache := memory.NewCache()
	require.NoError(t, cache.WriteHistory(ctx, "u", []ranking.ScoreEvent{
		{ID: "old", UserID: "u", CorrectCount: 0, TotalQuestions: 10},
	}))
	require.NoError(t, cache.WriteSnapshot(ctx, ranking.NewSnapshot(
		ranking.Recompute([]ranking.StandingEntry{{UserID: "u", QuizzesCompleted: 1, LastActivityAt: t0}}),
		nil, t0, ranking.DefaultWindowLimits(),
	)))
	h := newHarness(t, nil, cache)

	require.NoError(t, h.engine.Submit(ctx, quiz("u", 10, 10, 10, 0)))

	e, _ := h.engine.EntryOf("u")
	assert.InDelta(t, 50.0, e.AverageAccuracyPercent, 1e-9)
	assert.Equal(t, 2, e.QuizzesCompleted)
}

func TestSubmit_RemoteAccuracyCarriesIntoFirstLocalQuiz(t *testing.T) {
	remote := &fakeRemote{entries: []ranking.StandingEntry{
		{UserID: "veteran", TotalPoints: 900, QuizzesCompleted: 40, AverageAccuracyPercent: 95, LastActivityAt: t0},
	}}
	h := newHarness(t, remote, nil)

	require.NoError(t, h.engine.Submit(context.Background(), quiz("veteran", 910, 5, 10, 60)))

	e, _ := h.engine.EntryOf("veteran")
	assert.Equal(t, 41, e.QuizzesCompleted)
	assert.InDelta(t, 93.9, e.AverageAccuracyPercent, 0.01)
}

func TestSubmit_CacheWriteFailureIsSwallowed(t *testing.T) {
	h := newHarness(t, nil, brokenCache{memory.NewCache()})
	rec := &recorder{}
	h.engine.Subscribe(rec)

	err := h.engine.Submit(context.Background(), quiz("u", 10, 8, 10, 60))

	require.NoError(t, err)
	_, ok := h.engine.EntryOf("u")
	assert.True(t, ok)
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 2, h.metrics.cacheErrors)
}

func TestSubmit_WritesThroughToCache(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Submit(ctx, quiz("u", 10, 8, 10, 60)))

	cached, err := h.cache.ReadSnapshot(ctx)
	require.NoError(t, err)
	pos, ok := cached.Position("u")
	require.True(t, ok)
	assert.Equal(t, 1, pos)
}

func TestSubmit_ConcurrentWritersKeepPositionsDense(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, h.engine.Submit(ctx, quiz(fmt.Sprintf("u%02d", i%10), i*10, 7, 10, 60)))
			_ = h.engine.GlobalTop(5)
		}(i)
	}
	wg.Wait()

	global := h.engine.GlobalTop(0)
	require.Len(t, global, 10)
	for i, e := range global {
		assert.Equal(t, i+1, e.Position)
		assert.Equal(t, 2, e.QuizzesCompleted, e.UserID)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// OBSERVERS
// ══════════════════════════════════════════════════════════════════════════════

func TestNotify_IsolatesFailingObservers(t *testing.T) {
	h := newHarness(t, nil, nil)
	var order []string

	h.engine.Subscribe(ObserverFunc(func(context.Context, RankingChanged) error {
		order = append(order, "panics")
		panic("boom")
	}))
	h.engine.Subscribe(ObserverFunc(func(context.Context, RankingChanged) error {
		order = append(order, "errors")
		return errors.New("nope")
	}))
	rec := &recorder{}
	h.engine.Subscribe(ObserverFunc(func(ctx context.Context, c RankingChanged) error {
		order = append(order, "records")
		return rec.OnRankingChanged(ctx, c)
	}))

	require.NoError(t, h.engine.Submit(context.Background(), quiz("u", 10, 8, 10, 60)))

	assert.Equal(t, []string{"panics", "errors", "records"}, order)
	require.Equal(t, 1, rec.count())
	change := rec.changes[0]
	assert.Equal(t, ReasonSubmit, change.Reason)
	assert.Equal(t, "u", change.UserID)
	assert.Equal(t, 1, change.Entry.Position)
	assert.Equal(t, 2, h.metrics.observerErr)
}

func TestNotify_ObserversGetPrivateCopies(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.engine.Subscribe(ObserverFunc(func(_ context.Context, c RankingChanged) error {
		c.Snapshot.Global[0].TotalPoints = -1
		return nil
	}))
	rec := &recorder{}
	h.engine.Subscribe(rec)

	require.NoError(t, h.engine.Submit(context.Background(), quiz("u", 10, 8, 10, 60)))

	assert.Equal(t, 10, rec.changes[0].Snapshot.Global[0].TotalPoints)
	e, _ := h.engine.EntryOf("u")
	assert.Equal(t, 10, e.TotalPoints)
}

func TestUnsubscribe(t *testing.T) {
	h := newHarness(t, nil, nil)
	rec := &recorder{}
	id := h.engine.Subscribe(rec)

	require.NoError(t, h.engine.Submit(context.Background(), quiz("u", 10, 8, 10, 60)))
	assert.True(t, h.engine.Unsubscribe(id))
	assert.False(t, h.engine.Unsubscribe(id))
	require.NoError(t, h.engine.Submit(context.Background(), quiz("u", 20, 8, 10, 60)))

	assert.Equal(t, 1, rec.count())
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

func TestShutdown_FlushesAndRejectsMutations(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, h.engine.Submit(ctx, quiz("u", 10, 8, 10, 60)))
	require.NoError(t, h.cache.Clear(ctx))

	require.NoError(t, h.engine.Shutdown(ctx))
	require.NoError(t, h.engine.Shutdown(ctx))

	cached, err := h.cache.ReadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cached.Len())

	assert.ErrorIs(t, h.engine.Submit(ctx, quiz("u", 20, 8, 10, 60)), ranking.ErrEngineClosed)
	assert.ErrorIs(t, h.engine.Wipe(ctx), ranking.ErrEngineClosed)
	_, ok := h.engine.EntryOf("u")
	assert.True(t, ok, "reads keep working after shutdown")
}

func TestWipe(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	rec := &recorder{}
	require.NoError(t, h.engine.Submit(ctx, quiz("u", 10, 8, 10, 60)))
	h.engine.Subscribe(rec)

	require.NoError(t, h.engine.Wipe(ctx))

	assert.Zero(t, h.engine.Snapshot().Len())
	require.Equal(t, 1, rec.count())
	assert.Equal(t, ReasonWipe, rec.changes[0].Reason)
	history, _ := h.cache.ReadHistory(ctx, "u")
	assert.Empty(t, history)

	require.NoError(t, h.engine.Submit(ctx, quiz("u", 10, 8, 10, 60)))
	e, _ := h.engine.EntryOf("u")
	assert.Equal(t, 1, e.QuizzesCompleted)
	assert.Equal(t, ranking.TrendNew, e.Trend)
}

func TestWipe_CacheClearFailureIsSwallowed(t *testing.T) {
	h := newHarness(t, nil, brokenCache{memory.NewCache()})
	ctx := context.Background()
	rec := &recorder{}
	require.NoError(t, h.engine.Submit(ctx, quiz("u", 10, 8, 10, 60)))
	h.engine.Subscribe(rec)

	require.NoError(t, h.engine.Wipe(ctx))

	assert.Zero(t, h.engine.Snapshot().Len())
	assert.Equal(t, 1, rec.count())
	assert.GreaterOrEqual(t, h.metrics.cacheErrors, 1)
}

func TestRefresh_MergesRemoteOverLocal(t *testing.T) {
	remote := &fakeRemote{err: errors.New("down")}
	h := newHarness(t, remote, nil)
	ctx := context.Background()
	require.NoError(t, h.engine.Submit(ctx, quiz("local", 50, 8, 10, 60)))
	require.NoError(t, h.engine.Submit(ctx, quiz("shared", 40, 8, 10, 60)))

	remote.mu.Lock()
	remote.err = nil
	remote.entries = []ranking.StandingEntry{
		{UserID: "shared", DisplayName: "Shared", TotalPoints: 90, QuizzesCompleted: 7, LastActivityAt: t0},
		{UserID: "remote-only", TotalPoints: 10, LastActivityAt: t0},
	}
	remote.mu.Unlock()

	rec := &recorder{}
	h.engine.Subscribe(rec)
	require.NoError(t, h.engine.Refresh(ctx))

	assert.Equal(t, []string{"shared", "local", "remote-only"}, userIDs(h.engine.GlobalTop(0)))
	shared, _ := h.engine.EntryOf("shared")
	assert.Equal(t, 7, shared.QuizzesCompleted)
	assert.Equal(t, 2, shared.PreviousPosition)
	assert.Equal(t, ranking.TrendRose, shared.Trend)
	only, _ := h.engine.EntryOf("remote-only")
	assert.Equal(t, ranking.TrendNew, only.Trend)
	require.Equal(t, 1, rec.count())
	assert.Equal(t, ReasonRefresh, rec.changes[0].Reason)
	assert.Equal(t, []string{"shared", "local"}, userIDs(h.engine.ByCategory("Math")))
}

func TestRefresh_RemoteFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, h.engine.Submit(ctx, quiz("u", 10, 8, 10, 60)))
	before := h.engine.Snapshot()
	rec := &recorder{}
	h.engine.Subscribe(rec)

	err := h.engine.Refresh(ctx)

	require.ErrorIs(t, err, ranking.ErrRemoteUnavailable)
	assert.Same(t, before, h.engine.Snapshot())
	assert.Zero(t, rec.count())
}

func userIDs(entries []ranking.StandingEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.UserID
	}
	return ids
}
