package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
)

// Key layout (under the configured prefix):
//
//	snapshot           JSON ranking.Snapshot
//	history:{userID}   list of JSON ranking.ScoreEvent, oldest first
const (
	keySnapshot = "snapshot"
	keyHistory  = "history"
)

// RankingCache implements ranking.Cache on Redis. Nothing expires: the cache
// is the durable copy used when the remote source is down.
type RankingCache struct {
	cache *Cache
}

// NewRankingCache creates a ranking cache over c.
func NewRankingCache(c *Cache) *RankingCache {
	return &RankingCache{cache: c}
}

// ReadSnapshot implements ranking.Cache.
func (r *RankingCache) ReadSnapshot(ctx context.Context) (*ranking.Snapshot, error) {
	var snap ranking.Snapshot
	if err := r.cache.GetJSON(ctx, r.cache.Key(keySnapshot), &snap); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, ranking.ErrCacheMiss
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	snap.RebuildIndex()
	return &snap, nil
}

// WriteSnapshot implements ranking.Cache.
func (r *RankingCache) WriteSnapshot(ctx context.Context, snapshot *ranking.Snapshot) error {
	if err := r.cache.SetJSON(ctx, r.cache.Key(keySnapshot), snapshot, 0); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// ReadHistory implements ranking.Cache.
func (r *RankingCache) ReadHistory(ctx context.Context, userID string) ([]ranking.ScoreEvent, error) {
	raw, err := r.cache.Client().LRange(ctx, r.cache.Key(keyHistory, userID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read history: %w", err)
	}

	events := make([]ranking.ScoreEvent, 0, len(raw))
	for _, item := range raw {
		var ev ranking.ScoreEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("%w: history of %s: %v", ErrCacheSerialization, userID, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// WriteHistory implements ranking.Cache. The list is replaced atomically.
func (r *RankingCache) WriteHistory(ctx context.Context, userID string, events []ranking.ScoreEvent) error {
	key := r.cache.Key(keyHistory, userID)

	values := make([]any, 0, len(events))
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
		values = append(values, data)
	}

	_, err := r.cache.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.RPush(ctx, key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

// Clear implements ranking.Cache.
func (r *RankingCache) Clear(ctx context.Context) error {
	if err := r.cache.DeleteByPattern(ctx, r.cache.Key("*")); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}
