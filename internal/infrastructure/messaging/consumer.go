package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
	"github.com/kombinu/kombinu-ranking/pkg/logger"
)

// QuizCompletedMessage is the payload on SubjectQuizCompleted.
type QuizCompletedMessage struct {
	ranking.Submission

	// CorrelationID is echoed in the reply when the sender used a request.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// SubmitReply is sent back when the message carries a reply subject.
type SubmitReply struct {
	Accepted      bool   `json:"accepted"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Field         string `json:"field,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Submitter accepts quiz completions.
type Submitter interface {
	Submit(ctx context.Context, sub ranking.Submission) error
}

// Consumer feeds SubjectQuizCompleted into a Submitter.
type Consumer struct {
	conn      *nats.Conn
	subject   string
	queue     string
	submitter Submitter
	logger    *slog.Logger
}

// NewConsumer creates a consumer. conn may be nil in tests that call
// HandleQuizCompleted directly.
func NewConsumer(conn *nats.Conn, queue string, submitter Submitter, log *slog.Logger) *Consumer {
	return &Consumer{
		conn:      conn,
		subject:   SubjectQuizCompleted,
		queue:     queue,
		submitter: submitter,
		logger:    logger.OrDefault(log).With(logger.Component("quiz-consumer")),
	}
}

// Run subscribes and blocks until ctx is done, then drains the
// subscription so in-flight messages finish.
func (c *Consumer) Run(ctx context.Context) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	sub, err := c.conn.QueueSubscribe(c.subject, c.queue, c.HandleQuizCompleted)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.subject, err)
	}
	c.logger.Info("consuming quiz completions", slog.String("subject", c.subject), slog.String("queue", c.queue))

	<-ctx.Done()
	if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("drain %s: %w", c.subject, err)
	}
	return nil
}

// HandleQuizCompleted decodes one message and submits it. Malformed and
// rejected messages are logged and dropped.
func (c *Consumer) HandleQuizCompleted(msg *nats.Msg) {
	ctx := context.Background()

	var in QuizCompletedMessage
	if err := json.Unmarshal(msg.Data, &in); err != nil {
		c.logger.Warn("dropping malformed quiz completion", logger.Err(err))
		c.reply(msg, SubmitReply{Error: "malformed payload"})
		return
	}

	err := c.submitter.Submit(ctx, in.Submission)
	out := SubmitReply{Accepted: err == nil, CorrelationID: in.CorrelationID}
	if err != nil {
		out.Error = err.Error()
		var invalid *ranking.InvalidEventError
		if errors.As(err, &invalid) {
			out.Field = invalid.Field
		}
		c.logger.Warn("quiz completion not applied",
			logger.UserID(in.UserID),
			slog.String("correlation_id", in.CorrelationID),
			logger.Err(err),
		)
	}
	c.reply(msg, out)
}

func (c *Consumer) reply(msg *nats.Msg, out SubmitReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(out)
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		c.logger.Warn("reply failed", slog.String("reply", msg.Reply), logger.Err(err))
	}
}
