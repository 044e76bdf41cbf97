package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kombinu/kombinu-ranking/pkg/logger"
	"github.com/kombinu/kombinu-ranking/pkg/retry"
)

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher sends JSON events to NATS. Publish makes a single attempt and
// parks a failed message in a bounded dead-letter queue; Redeliver drains
// the queue under the retry policy.
type Publisher struct {
	conn    Conn
	retrier *retry.Retrier
	dlq     *DeadLetterQueue
	clock   func() time.Time
	logger  *slog.Logger
}

// PublisherOption customizes a Publisher.
type PublisherOption func(*Publisher)

// WithPublishRetrier replaces the retry policy used by Redeliver.
func WithPublishRetrier(r *retry.Retrier) PublisherOption {
	return func(p *Publisher) { p.retrier = r }
}

// WithDeadLetterCapacity sets the dead-letter queue size.
func WithDeadLetterCapacity(n int) PublisherOption {
	return func(p *Publisher) { p.dlq = NewDeadLetterQueue(n) }
}

// NewPublisher creates a publisher over conn.
func NewPublisher(conn Conn, log *slog.Logger, opts ...PublisherOption) *Publisher {
	policy := retry.PublisherRetrier().Config()
	p := &Publisher{
		conn: conn,
		retrier: retry.New(
			retry.WithMaxAttempts(policy.MaxAttempts),
			retry.WithInitialDelay(policy.InitialDelay),
			retry.WithMaxDelay(policy.MaxDelay),
			retry.WithMultiplier(policy.Multiplier),
			retry.WithJitter(policy.JitterFactor),
			retry.WithRetryIf(isTransientPublishError),
		),
		dlq:    NewDeadLetterQueue(1000),
		clock:  time.Now,
		logger: logger.OrDefault(log).With(logger.Component("nats-publisher")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish marshals payload and sends it to subject once. It never sleeps, so
// it is safe to call while holding a lock.
func (p *Publisher) Publish(_ context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := p.sendOnce(subject, data); err != nil {
		p.dlq.Add(DeadLetterEntry{Subject: subject, Data: data, Err: err, FailedAt: p.clock()})
		p.logger.Error("publish failed, parked in dead-letter queue",
			slog.String("subject", subject),
			logger.Err(err),
		)
		return err
	}
	return nil
}

// Redeliver republishes parked messages oldest first. It stops at the first
// failure, which goes back to the queue, and returns how many were sent.
func (p *Publisher) Redeliver(ctx context.Context) (int, error) {
	sent := 0
	for {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		entry, ok := p.dlq.Pop()
		if !ok {
			return sent, nil
		}
		if err := p.send(ctx, entry.Subject, entry.Data); err != nil {
			entry.Attempts++
			entry.Err = err
			p.dlq.Add(entry)
			return sent, err
		}
		sent++
	}
}

// DeadLetters exposes the queue for inspection.
func (p *Publisher) DeadLetters() *DeadLetterQueue {
	return p.dlq
}

func (p *Publisher) sendOnce(subject string, data []byte) error {
	if p.conn == nil {
		return ErrNotConnected
	}
	return p.conn.Publish(subject, data)
}

func (p *Publisher) send(ctx context.Context, subject string, data []byte) error {
	if p.conn == nil {
		return ErrNotConnected
	}
	return p.retrier.Do(ctx, func(context.Context) error {
		return p.conn.Publish(subject, data)
	})
}

func isTransientPublishError(err error) bool {
	return !errors.Is(err, nats.ErrMaxPayload) && !errors.Is(err, nats.ErrBadSubject)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry is a message that could not be published.
type DeadLetterEntry struct {
	Subject  string
	Data     []byte
	Err      error
	Attempts int
	FailedAt time.Time
}

// DeadLetterQueue is a bounded FIFO. When full the oldest entry is dropped.
type DeadLetterQueue struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
	maxSize int
}

// NewDeadLetterQueue creates a queue holding at most maxSize entries.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DeadLetterQueue{maxSize: maxSize}
}

// Add appends an entry.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

// Pop removes and returns the oldest entry.
func (q *DeadLetterQueue) Pop() (DeadLetterEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return DeadLetterEntry{}, false
	}
	entry := q.entries[0]
	q.entries = q.entries[1:]
	return entry, true
}

// Size returns the number of parked entries.
func (q *DeadLetterQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
