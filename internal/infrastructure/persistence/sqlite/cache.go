package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
)

// Cache implements ranking.Cache on SQLite. The snapshot lives in a single
// row; each history event is a row ordered by seq.
type Cache struct {
	db *sql.DB
}

// NewCache creates a cache over an opened database.
func NewCache(db *sql.DB) *Cache {
	return &Cache{db: db}
}

// ReadSnapshot implements ranking.Cache.
func (c *Cache) ReadSnapshot(ctx context.Context) (*ranking.Snapshot, error) {
	query, args, err := sqlBuilder.Select("payload").From("ranking_snapshot").Where(squirrel.Eq{"id": 1}).ToSql()
	if err != nil {
		return nil, err
	}

	var payload string
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ranking.ErrCacheMiss
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap ranking.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	snap.RebuildIndex()
	return &snap, nil
}

// WriteSnapshot implements ranking.Cache.
func (c *Cache) WriteSnapshot(ctx context.Context, snapshot *ranking.Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	query, args, err := sqlBuilder.Insert("ranking_snapshot").
		Columns("id", "payload", "generated_at").
		Values(1, string(payload), snapshot.GeneratedAt).
		Suffix("ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, generated_at = excluded.generated_at").
		ToSql()
	if err != nil {
		return err
	}

	if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// ReadHistory implements ranking.Cache.
func (c *Cache) ReadHistory(ctx context.Context, userID string) ([]ranking.ScoreEvent, error) {
	query, args, err := sqlBuilder.Select("payload").
		From("score_events").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("seq ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	defer rows.Close()

	events := []ranking.ScoreEvent{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev ranking.ScoreEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// historyBatchSize bounds the rows per INSERT. Each row binds four
// variables; SQLite builds older than 3.32 allow at most 999.
const historyBatchSize = 200

// WriteHistory implements ranking.Cache. The user's rows are replaced in one
// transaction, inserted in batches of historyBatchSize.
func (c *Cache) WriteHistory(ctx context.Context, userID string, events []ranking.ScoreEvent) error {
	return tx(ctx, c.db, func(tx *sql.Tx) error {
		del, args, err := sqlBuilder.Delete("score_events").Where(squirrel.Eq{"user_id": userID}).ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, del, args...); err != nil {
			return fmt.Errorf("delete history: %w", err)
		}

		for start := 0; start < len(events); start += historyBatchSize {
			end := min(start+historyBatchSize, len(events))
			if err := insertHistory(ctx, tx, userID, start, events[start:end]); err != nil {
				return err
			}
		}
		return nil
	})
}

// insertHistory inserts batch with seq numbers starting at first.
func insertHistory(ctx context.Context, tx *sql.Tx, userID string, first int, batch []ranking.ScoreEvent) error {
	insert := sqlBuilder.Insert("score_events").Columns("user_id", "seq", "event_id", "payload")
	for i, ev := range batch {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		insert = insert.Values(userID, first+i, ev.ID, string(payload))
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// Clear implements ranking.Cache.
func (c *Cache) Clear(ctx context.Context) error {
	return tx(ctx, c.db, func(tx *sql.Tx) error {
		for _, table := range []string{"ranking_snapshot", "score_events"} {
			query, args, err := sqlBuilder.Delete(table).ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return nil
	})
}
