// Package circuitbreaker protects calls to upstream services. It adapts
// sony/gobreaker to context-aware functions and adds named presets for the
// services the ranking engine depends on.
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// State is the current state of a breaker.
type State = gobreaker.State

const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

// Common errors.
var (
	// ErrCircuitOpen is returned while the circuit is open.
	ErrCircuitOpen = gobreaker.ErrOpenState
	// ErrTooManyRequests is returned when the half-open trial request quota is used up.
	ErrTooManyRequests = gobreaker.ErrTooManyRequests
)

// Config holds circuit breaker configuration.
type Config struct {
	// Name identifies this breaker in logs and metrics.
	Name string

	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default: 5
	FailureThreshold int

	// Timeout is how long the circuit stays open before probing. Default: 30s
	Timeout time.Duration

	// MaxHalfOpenRequests is the trial request quota in half-open state. Default: 1
	MaxHalfOpenRequests int

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(name string, from, to State)

	// IsFailure decides whether an error counts against the circuit. When nil
	// every error except context cancellation counts.
	IsFailure func(error) bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		FailureThreshold:    5,
		Timeout:             30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// Option is a functional option for configuring the breaker.
type Option func(*Config)

// WithFailureThreshold sets the failure threshold.
func WithFailureThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.FailureThreshold = n
		}
	}
}

// WithTimeout sets the open-state timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// WithMaxHalfOpenRequests sets the half-open trial request quota.
func WithMaxHalfOpenRequests(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxHalfOpenRequests = n
		}
	}
}

// WithOnStateChange sets the state change callback.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(c *Config) {
		c.OnStateChange = fn
	}
}

// WithIsFailure sets the failure predicate.
func WithIsFailure(fn func(error) bool) Option {
	return func(c *Config) {
		c.IsFailure = fn
	}
}

// CircuitBreaker wraps a gobreaker instance.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// New creates a breaker with the given name and options.
func New(name string, opts ...Option) *CircuitBreaker {
	config := DefaultConfig(name)
	for _, opt := range opts {
		opt(&config)
	}

	isFailure := config.IsFailure
	if isFailure == nil {
		isFailure = func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}
	}
	threshold := uint32(config.FailureThreshold)

	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: uint32(config.MaxHalfOpenRequests),
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: config.OnStateChange,
		IsSuccessful: func(err error) bool {
			return err == nil || !isFailure(err)
		},
	})}
}

// Execute runs fn if the circuit allows it.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	return err
}

// ExecuteWithFallback runs fn and calls fallback when the circuit rejects it.
func (b *CircuitBreaker) ExecuteWithFallback(ctx context.Context, fn func(context.Context) error, fallback func(error) error) error {
	err := b.Execute(ctx, fn)
	if IsRejected(err) {
		return fallback(err)
	}
	return err
}

// IsRejected reports whether err came from the breaker rather than fn.
func IsRejected(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests)
}

// State returns the current state.
func (b *CircuitBreaker) State() State { return b.cb.State() }

// Name returns the breaker name.
func (b *CircuitBreaker) Name() string { return b.cb.Name() }

// IsOpen returns true if the circuit is open.
func (b *CircuitBreaker) IsOpen() bool { return b.cb.State() == StateOpen }

// RemoteSourceBreaker guards the upstream ranking listing. The engine falls
// back to its cache while the circuit is open.
func RemoteSourceBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(
		"ranking-remote",
		WithFailureThreshold(3),
		WithTimeout(60*time.Second),
		WithMaxHalfOpenRequests(1),
		WithOnStateChange(onStateChange),
	)
}

// DatabaseBreaker guards SQL reads.
func DatabaseBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(
		"database",
		WithFailureThreshold(3),
		WithTimeout(10*time.Second),
		WithMaxHalfOpenRequests(1),
		WithOnStateChange(onStateChange),
	)
}
