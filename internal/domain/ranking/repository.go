package ranking

import "context"

// RemoteSource is the read-only listing of standings owned upstream.
// Implementations: infrastructure/external/rankingapi (HTTP) and
// infrastructure/persistence/postgres (SQL).
type RemoteSource interface {
	// ListStandings returns every known standing. Order is not guaranteed.
	ListStandings(ctx context.Context) ([]StandingEntry, error)
}

// Cache is the local durable store: the last snapshot and per-user score
// history. Implementations: redis, sqlite and memory under
// infrastructure/persistence.
type Cache interface {
	// ReadSnapshot returns the last written snapshot or ErrCacheMiss.
	// The returned snapshot has its indexes rebuilt.
	ReadSnapshot(ctx context.Context) (*Snapshot, error)

	// WriteSnapshot replaces the stored snapshot.
	WriteSnapshot(ctx context.Context, snapshot *Snapshot) error

	// ReadHistory returns the user's score events in completion order.
	// A user with no history yields an empty slice and no error.
	ReadHistory(ctx context.Context, userID string) ([]ScoreEvent, error)

	// WriteHistory replaces the user's score events.
	WriteHistory(ctx context.Context, userID string, events []ScoreEvent) error

	// Clear removes every snapshot and history record.
	Clear(ctx context.Context) error
}
