package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
	"github.com/kombinu/kombinu-ranking/internal/infrastructure/persistence/sqlite"
	"github.com/kombinu/kombinu-ranking/pkg/logger"
)

type CacheSuite struct {
	suite.Suite
	db    *sql.DB
	cache *sqlite.Cache
	now   time.Time
}

func (s *CacheSuite) SetupTest() {
	db, err := sqlite.Open(context.Background(), filepath.Join(s.T().TempDir(), "ranking.db"), logger.Discard())
	s.Require().NoError(err)
	s.db = db
	s.cache = sqlite.NewCache(db)
	s.now = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
}

func (s *CacheSuite) TearDownTest() {
	s.Require().NoError(s.db.Close())
}

func (s *CacheSuite) TestSnapshot_MissThenOverwrite() {
	ctx := context.Background()

	_, err := s.cache.ReadSnapshot(ctx)
	s.Require().ErrorIs(err, ranking.ErrCacheMiss)

	first := ranking.NewSnapshot(ranking.Recompute([]ranking.StandingEntry{
		{UserID: "a", TotalPoints: 10, LastActivityAt: s.now},
	}), nil, s.now, ranking.DefaultWindowLimits())
	s.Require().NoError(s.cache.WriteSnapshot(ctx, first))

	second := ranking.NewSnapshot(ranking.Recompute([]ranking.StandingEntry{
		{UserID: "a", TotalPoints: 10, LastActivityAt: s.now},
		{UserID: "b", TotalPoints: 20, LastActivityAt: s.now},
	}), map[string][]string{"Science": {"b"}}, s.now, ranking.DefaultWindowLimits())
	s.Require().NoError(s.cache.WriteSnapshot(ctx, second))

	got, err := s.cache.ReadSnapshot(ctx)
	s.Require().NoError(err)
	s.Assert().Equal(2, got.Len())
	pos, ok := got.Position("b")
	s.Require().True(ok)
	s.Assert().Equal(1, pos)
	s.Assert().Len(got.ByCategory("Science"), 1)
	s.Assert().True(got.GeneratedAt.Equal(s.now))
}

func (s *CacheSuite) TestHistory_ReplaceKeepsOrder() {
	ctx := context.Background()

	events, err := s.cache.ReadHistory(ctx, "a")
	s.Require().NoError(err)
	s.Assert().Empty(events)

	s.Require().NoError(s.cache.WriteHistory(ctx, "a", []ranking.ScoreEvent{{ID: "x"}, {ID: "y"}, {ID: "z"}}))
	s.Require().NoError(s.cache.WriteHistory(ctx, "a", []ranking.ScoreEvent{{ID: "x"}, {ID: "y"}}))
	s.Require().NoError(s.cache.WriteHistory(ctx, "b", []ranking.ScoreEvent{{ID: "q"}}))

	events, err = s.cache.ReadHistory(ctx, "a")
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Assert().Equal("x", events[0].ID)
	s.Assert().Equal("y", events[1].ID)
}

func (s *CacheSuite) TestHistory_LongHistoryIsWrittenInBatches() {
	ctx := context.Background()

	events := make([]ranking.ScoreEvent, 10000)
	for i := range events {
		events[i] = ranking.ScoreEvent{ID: strconv.Itoa(i), CorrectCount: i % 5, TotalQuestions: 5}
	}
	s.Require().NoError(s.cache.WriteHistory(ctx, "a", events))

	events = append(events, ranking.ScoreEvent{ID: "10000", CorrectCount: 5, TotalQuestions: 5})
	s.Require().NoError(s.cache.WriteHistory(ctx, "a", events))

	got, err := s.cache.ReadHistory(ctx, "a")
	s.Require().NoError(err)
	s.Require().Len(got, 10001)
	s.Assert().Equal("0", got[0].ID)
	s.Assert().Equal("8192", got[8192].ID)
	s.Assert().Equal("10000", got[10000].ID)
}

func (s *CacheSuite) TestClear() {
	ctx := context.Background()
	s.Require().NoError(s.cache.WriteSnapshot(ctx, ranking.EmptySnapshot(s.now)))
	s.Require().NoError(s.cache.WriteHistory(ctx, "a", []ranking.ScoreEvent{{ID: "x"}}))

	s.Require().NoError(s.cache.Clear(ctx))

	_, err := s.cache.ReadSnapshot(ctx)
	s.Assert().ErrorIs(err, ranking.ErrCacheMiss)
	events, err := s.cache.ReadHistory(ctx, "a")
	s.Require().NoError(err)
	s.Assert().Empty(events)
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheSuite))
}
