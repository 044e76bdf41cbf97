package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE STANDINGS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS standings (
    user_id                  TEXT PRIMARY KEY,
    display_name             TEXT NOT NULL DEFAULT '',
    avatar_ref               TEXT NOT NULL DEFAULT '',
    total_points             INTEGER NOT NULL DEFAULT 0 CHECK (total_points >= 0),
    level                    INTEGER NOT NULL DEFAULT 0,
    quizzes_completed        INTEGER NOT NULL DEFAULT 0,
    current_streak           INTEGER NOT NULL DEFAULT 0,
    best_streak              INTEGER NOT NULL DEFAULT 0,
    average_accuracy_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
    total_study_minutes      INTEGER NOT NULL DEFAULT 0,
    last_activity_at         TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    position                 INTEGER NOT NULL DEFAULT 0,
    updated_at               TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_standings_points ON standings(total_points DESC);
CREATE INDEX IF NOT EXISTS idx_standings_last_activity ON standings(last_activity_at DESC);
`

const migration001Down = `
DROP TABLE IF EXISTS standings;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: STANDING CATEGORIES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS standing_categories (
    user_id  TEXT NOT NULL REFERENCES standings(user_id) ON DELETE CASCADE,
    category TEXT NOT NULL,
    PRIMARY KEY (user_id, category)
);

CREATE INDEX IF NOT EXISTS idx_standing_categories_category ON standing_categories(category);
`

const migration002Down = `
DROP TABLE IF EXISTS standing_categories;
`

// Migration is one versioned schema change.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrations returns the embedded migrations in version order.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_standings", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_standing_categories", UpSQL: migration002Up, DownSQL: migration002Down},
	}
}

// Migrator applies Migrations and records them in schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: Migrations(),
		tableName:  "schema_migrations",
	}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies every pending migration, each in its own transaction.
// It returns the versions applied by this call.
func (m *Migrator) Migrate(ctx context.Context) ([]int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	var done []int
	for _, mig := range pending(m.migrations, applied) {
		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName), mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return done, fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
		done = append(done, mig.Version)
	}
	return done, nil
}

// Rollback reverts the most recently applied migration. It is a no-op on an
// empty schema.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	last, ok := latest(m.migrations, applied)
	if !ok {
		return nil
	}
	if last.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last.Version)
	}

	return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, last.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last.Version, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last.Version)
		return err
	})
}

// Status returns every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	return withStatus(m.migrations, applied), nil
}

func pending(migrations []Migration, applied map[int]time.Time) []Migration {
	var out []Migration
	for _, mig := range migrations {
		if _, ok := applied[mig.Version]; !ok {
			out = append(out, mig)
		}
	}
	return out
}

func latest(migrations []Migration, applied map[int]time.Time) (Migration, bool) {
	var (
		last  Migration
		found bool
	)
	for _, mig := range migrations {
		if _, ok := applied[mig.Version]; ok && mig.Version > last.Version {
			last, found = mig, true
		}
	}
	return last, found
}

func withStatus(migrations []Migration, applied map[int]time.Time) []Migration {
	out := make([]Migration, len(migrations))
	copy(out, migrations)
	for i := range out {
		if at, ok := applied[out[i].Version]; ok {
			out[i].IsApplied = true
			out[i].AppliedAt = at
		}
	}
	return out
}
