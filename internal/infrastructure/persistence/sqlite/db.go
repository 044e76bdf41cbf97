// Package sqlite is a file-backed ranking cache for single-node deployments
// that run without Redis.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

var sqlBuilder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ranking_snapshot (
		id           INTEGER PRIMARY KEY CHECK (id = 1),
		payload      TEXT     NOT NULL,
		generated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS score_events (
		user_id  TEXT    NOT NULL,
		seq      INTEGER NOT NULL,
		event_id TEXT    NOT NULL,
		payload  TEXT    NOT NULL,
		PRIMARY KEY (user_id, seq)
	)`,
}

// Open opens (creating if needed) the cache database at path and applies the
// schema.
func Open(ctx context.Context, path string, log *slog.Logger) (*sql.DB, error) {
	if log == nil {
		log = slog.Default()
	}
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	log.Info("sqlite cache ready", "path", path)
	return db, nil
}

func tx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
