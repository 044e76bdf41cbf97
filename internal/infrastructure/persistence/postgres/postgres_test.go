package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
)

func TestConfig_DSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "db.internal"
	cfg.Password = "secret"

	assert.Equal(t,
		"host=db.internal port=5432 dbname=kombinu user=postgres password=secret sslmode=disable connect_timeout=10",
		cfg.DSN(),
	)
}

func TestConfig_PoolConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConns = 7

	pc, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, int32(7), pc.MaxConns)
	assert.Equal(t, int32(1), pc.MinConns)
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)
}

func TestMigrations_Ordered(t *testing.T) {
	migs := Migrations()
	require.NotEmpty(t, migs)
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL)
		assert.NotEmpty(t, m.DownSQL)
	}
}

func TestMigrationBookkeeping(t *testing.T) {
	migs := Migrations()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("fresh database", func(t *testing.T) {
		applied := map[int]time.Time{}
		assert.Len(t, pending(migs, applied), len(migs))
		_, ok := latest(migs, applied)
		assert.False(t, ok)
	})

	t.Run("partially applied", func(t *testing.T) {
		applied := map[int]time.Time{1: at}

		p := pending(migs, applied)
		require.Len(t, p, len(migs)-1)
		assert.Equal(t, 2, p[0].Version)

		last, ok := latest(migs, applied)
		require.True(t, ok)
		assert.Equal(t, 1, last.Version)

		status := withStatus(migs, applied)
		assert.True(t, status[0].IsApplied)
		assert.Equal(t, at, status[0].AppliedAt)
		assert.False(t, status[1].IsApplied)
		assert.False(t, migs[0].IsApplied, "status must not mutate the source slice")
	})
}

func TestNormalizeStanding(t *testing.T) {
	local := time.FixedZone("ALMT", 5*3600)
	got := normalizeStanding(ranking.StandingEntry{
		UserID:        "u1",
		CurrentStreak: 4,
		BestStreak:    2,
		Position:      -3,
	}, time.Date(2026, 3, 1, 12, 0, 0, 0, local))

	assert.Equal(t, 4, got.BestStreak)
	assert.Equal(t, 0, got.Position)
	assert.Equal(t, time.UTC, got.LastActivityAt.Location())
	assert.Equal(t, 7, got.LastActivityAt.Hour())
}
