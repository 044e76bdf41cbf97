package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
	"github.com/kombinu/kombinu-ranking/pkg/logger"
	"github.com/kombinu/kombinu-ranking/pkg/retry"
)

type fakeSubmitter struct {
	mu   sync.Mutex
	got  []ranking.Submission
	fail error
}

func (f *fakeSubmitter) Submit(_ context.Context, sub ranking.Submission) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	if f.fail != nil {
		return f.fail
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, sub)
	return nil
}

type fakeConn struct {
	mu        sync.Mutex
	failUntil int
	err       error
	calls     int
	sent      map[string][][]byte
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failUntil {
		return f.err
	}
	if f.sent == nil {
		f.sent = map[string][][]byte{}
	}
	f.sent[subject] = append(f.sent[subject], data)
	return nil
}

func fastRetrier(attempts int) *retry.Retrier {
	return retry.New(
		retry.WithMaxAttempts(attempts),
		retry.WithInitialDelay(time.Millisecond),
		retry.WithMaxDelay(time.Millisecond),
		retry.WithRetryIf(isTransientPublishError),
	)
}

func TestConsumer_HandleQuizCompleted(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		accepted int
	}{
		{
			name:     "valid submission is applied",
			payload:  `{"user_id":"u1","display_name":"Ann","total_points_snapshot":40,"category":"Math","correct_count":4,"total_questions":5,"time_spent_seconds":90}`,
			accepted: 1,
		},
		{
			name:    "malformed json is dropped",
			payload: `{"user_id":`,
		},
		{
			name:    "invalid submission is dropped",
			payload: `{"user_id":"u1","correct_count":6,"total_questions":5}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{}
			c := NewConsumer(nil, "ranking", sub, logger.Discard())

			assert.NotPanics(t, func() {
				c.HandleQuizCompleted(&nats.Msg{Subject: SubjectQuizCompleted, Data: []byte(tt.payload)})
			})
			assert.Len(t, sub.got, tt.accepted)
		})
	}
}

func TestConsumer_DecodesEmbeddedSubmission(t *testing.T) {
	sub := &fakeSubmitter{}
	c := NewConsumer(nil, "ranking", sub, logger.Discard())

	msg, err := json.Marshal(QuizCompletedMessage{
		Submission: ranking.Submission{
			UserID:              "u7",
			TotalPointsSnapshot: 120,
			CurrentLevel:        3,
			QuizID:              "q1",
			Category:            "Science",
			PointsEarned:        15,
			CorrectCount:        3,
			TotalQuestions:      3,
			TimeSpentSeconds:    30,
		},
		CorrelationID: "abc",
	})
	require.NoError(t, err)

	c.HandleQuizCompleted(&nats.Msg{Data: msg})

	require.Len(t, sub.got, 1)
	assert.Equal(t, "u7", sub.got[0].UserID)
	assert.Equal(t, "Science", sub.got[0].Category)
	assert.Equal(t, 120, sub.got[0].TotalPointsSnapshot)
}

func TestConsumer_RunWithoutConnection(t *testing.T) {
	c := NewConsumer(nil, "ranking", &fakeSubmitter{}, logger.Discard())
	assert.ErrorIs(t, c.Run(context.Background()), ErrNotConnected)
}

func TestPublisher_PublishMakesOneAttempt(t *testing.T) {
	conn := &fakeConn{failUntil: 100, err: nats.ErrConnectionClosed}
	p := NewPublisher(conn, logger.Discard(), WithPublishRetrier(fastRetrier(5)))

	err := p.Publish(context.Background(), SubjectRankingChanged, "x")
	require.ErrorIs(t, err, nats.ErrConnectionClosed)
	assert.Equal(t, 1, conn.calls)
	assert.Equal(t, 1, p.DeadLetters().Size())
}

func TestPublisher_RedeliverRetriesTransientErrors(t *testing.T) {
	conn := &fakeConn{failUntil: 3, err: nats.ErrConnectionClosed}
	p := NewPublisher(conn, logger.Discard(), WithPublishRetrier(fastRetrier(3)))
	ctx := context.Background()

	require.Error(t, p.Publish(ctx, SubjectRankingChanged, map[string]int{"position": 1}))

	sent, err := p.Redeliver(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 4, conn.calls)
	require.Len(t, conn.sent[SubjectRankingChanged], 1)
	assert.JSONEq(t, `{"position":1}`, string(conn.sent[SubjectRankingChanged][0]))
	assert.Equal(t, 0, p.DeadLetters().Size())
}

func TestPublisher_PermanentErrorIsParked(t *testing.T) {
	conn := &fakeConn{failUntil: 100, err: nats.ErrMaxPayload}
	p := NewPublisher(conn, logger.Discard(), WithPublishRetrier(fastRetrier(5)))

	err := p.Publish(context.Background(), SubjectRankingChanged, "x")
	require.ErrorIs(t, err, nats.ErrMaxPayload)
	assert.Equal(t, 1, conn.calls)
	assert.Equal(t, 1, p.DeadLetters().Size())
}

func TestPublisher_Redeliver(t *testing.T) {
	conn := &fakeConn{failUntil: 2, err: nats.ErrConnectionClosed}
	p := NewPublisher(conn, logger.Discard(), WithPublishRetrier(fastRetrier(2)))
	ctx := context.Background()

	require.Error(t, p.Publish(ctx, "a", 1))
	require.Error(t, p.Publish(ctx, "b", 2))
	require.Equal(t, 2, p.DeadLetters().Size())

	sent, err := p.Redeliver(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, 0, p.DeadLetters().Size())
	assert.Len(t, conn.sent["a"], 1)
	assert.Len(t, conn.sent["b"], 1)
}

func TestPublisher_RedeliverStopsOnFailure(t *testing.T) {
	conn := &fakeConn{failUntil: 100, err: errors.New("boom")}
	p := NewPublisher(conn, logger.Discard(), WithPublishRetrier(fastRetrier(1)))
	ctx := context.Background()

	require.Error(t, p.Publish(ctx, "a", 1))
	require.Error(t, p.Publish(ctx, "b", 2))

	sent, err := p.Redeliver(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, sent)
	assert.Equal(t, 2, p.DeadLetters().Size())
}

func TestPublisher_NilConn(t *testing.T) {
	p := NewPublisher(nil, logger.Discard())
	assert.ErrorIs(t, p.Publish(context.Background(), "a", 1), ErrNotConnected)
}

func TestDeadLetterQueue_DropsOldest(t *testing.T) {
	q := NewDeadLetterQueue(2)
	q.Add(DeadLetterEntry{Subject: "1"})
	q.Add(DeadLetterEntry{Subject: "2"})
	q.Add(DeadLetterEntry{Subject: "3"})

	require.Equal(t, 2, q.Size())
	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "2", first.Subject)
}
