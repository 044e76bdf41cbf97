// Package logger builds the structured *slog.Logger used across the ranking
// service and carries it through request contexts.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Format selects the slog handler.
type Format string

const (
	// FormatText is human readable, used in development.
	FormatText Format = "text"
	// FormatJSON is one JSON object per line, used in production.
	FormatJSON Format = "json"
)

// Options configures the logger.
type Options struct {
	Output    io.Writer
	Level     slog.Level
	Format    Format
	AddSource bool
}

// DefaultOptions returns sensible defaults for the logger.
func DefaultOptions() Options {
	return Options{
		Output: os.Stdout,
		Level:  slog.LevelInfo,
		Format: FormatText,
	}
}

// New creates a logger with the given options.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     opts.Level,
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	if opts.Format == FormatJSON {
		handler = slog.NewJSONHandler(opts.Output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(opts.Output, handlerOpts)
	}
	return slog.New(handler)
}

// ForEnv picks JSON output for production and text output elsewhere, and
// lowers the level to debug when debug is set. The result is also installed
// as the slog default.
func ForEnv(env string, debug bool) *slog.Logger {
	opts := DefaultOptions()
	if debug {
		opts.Level = slog.LevelDebug
	}
	if env == "production" {
		opts.Format = FormatJSON
	}

	log := New(opts)
	slog.SetDefault(log)
	return log
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel parses a level name. Unknown names map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OrDefault returns l, or slog.Default() when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT
// ══════════════════════════════════════════════════════════════════════════════

type ctxKey struct{}

// WithContext returns a new context with the logger attached.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger from context, or returns slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// RequestIDKey is the attribute key for request tracing.
const RequestIDKey = "request_id"

// ══════════════════════════════════════════════════════════════════════════════
// ATTRIBUTES
// ══════════════════════════════════════════════════════════════════════════════

// Err creates an error attribute. A nil error logs as an empty string.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

func UserID(id string) slog.Attr         { return slog.String("user_id", id) }
func Category(name string) slog.Attr     { return slog.String("category", name) }
func Position(pos int) slog.Attr         { return slog.Int("position", pos) }
func Component(name string) slog.Attr    { return slog.String("component", name) }
func Operation(name string) slog.Attr    { return slog.String("operation", name) }
func Latency(d time.Duration) slog.Attr  { return slog.Duration("latency", d) }
func SubscriptionID(id string) slog.Attr { return slog.String("subscription_id", id) }
func RequestID(id string) slog.Attr      { return slog.String(RequestIDKey, id) }
func Window(name string) slog.Attr       { return slog.String("window", name) }
func EntryCount(n int) slog.Attr         { return slog.Int("entries", n) }
