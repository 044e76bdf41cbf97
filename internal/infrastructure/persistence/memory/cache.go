// Package memory is a process-local ranking cache, used when Redis and
// SQLite are disabled and in tests.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
)

// Cache keeps the last snapshot and histories in memory. Values are copied
// on the way in and out.
type Cache struct {
	mu        sync.RWMutex
	snapshot  *ranking.Snapshot
	histories map[string][]ranking.ScoreEvent
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{histories: make(map[string][]ranking.ScoreEvent)}
}

// ReadSnapshot implements ranking.Cache.
func (c *Cache) ReadSnapshot(_ context.Context) (*ranking.Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.snapshot == nil {
		return nil, ranking.ErrCacheMiss
	}
	return c.snapshot.Clone(), nil
}

// WriteSnapshot implements ranking.Cache.
func (c *Cache) WriteSnapshot(_ context.Context, snapshot *ranking.Snapshot) error {
	clone := snapshot.Clone()

	c.mu.Lock()
	c.snapshot = clone
	c.mu.Unlock()
	return nil
}

// ReadHistory implements ranking.Cache.
func (c *Cache) ReadHistory(_ context.Context, userID string) ([]ranking.ScoreEvent, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.histories[userID]), nil
}

// WriteHistory implements ranking.Cache.
func (c *Cache) WriteHistory(_ context.Context, userID string, events []ranking.ScoreEvent) error {
	c.mu.Lock()
	c.histories[userID] = slices.Clone(events)
	c.mu.Unlock()
	return nil
}

// Clear implements ranking.Cache.
func (c *Cache) Clear(_ context.Context) error {
	c.mu.Lock()
	c.snapshot = nil
	c.histories = make(map[string][]ranking.ScoreEvent)
	c.mu.Unlock()
	return nil
}
