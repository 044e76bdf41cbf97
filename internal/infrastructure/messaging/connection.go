// Package messaging carries quiz completions in and ranking changes out over
// NATS.
package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kombinu/kombinu-ranking/pkg/logger"
)

// Subjects.
const (
	SubjectQuizCompleted  = "quiz.completed"
	SubjectRankingChanged = "ranking.changed"
)

// ErrNotConnected is returned when NATS is disabled or the connection is gone.
var ErrNotConnected = errors.New("messaging: not connected")

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	QueueGroup    string
	Timeout       time.Duration
	ReconnectWait time.Duration
	MaxReconnects int
}

// DefaultConfig returns settings for a local NATS server.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "kombinu-ranking",
		QueueGroup:    "ranking",
		Timeout:       10 * time.Second,
		ReconnectWait: time.Second,
		MaxReconnects: -1,
	}
}

// Connect dials NATS. The initial connect is retried in the background so
// the service can start before the broker.
func Connect(cfg Config, log *slog.Logger) (*nats.Conn, error) {
	log = logger.OrDefault(log).With(logger.Component("nats"))

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", logger.Err(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error("nats async error", slog.String("subject", subject), logger.Err(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return conn, nil
}
