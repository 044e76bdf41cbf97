// Package rankingapi is the HTTP client for the upstream standings listing
// published by the quiz platform.
package rankingapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
	"github.com/kombinu/kombinu-ranking/pkg/circuitbreaker"
	"github.com/kombinu/kombinu-ranking/pkg/logger"
	"github.com/kombinu/kombinu-ranking/pkg/retry"
)

const (
	standingsPath = "/api/v1/standings"
	maxPages      = 1000
	maxBodyBytes  = 8 << 20
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig configures the listing client.
type ClientConfig struct {
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// PerPage is the page size requested from the listing.
	PerPage int

	// RequestsPerSecond and Burst configure the client-side rate limit.
	RequestsPerSecond float64
	Burst             int

	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		Timeout:           10 * time.Second,
		PerPage:           200,
		RequestsPerSecond: 5,
		Burst:             5,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client implements ranking.RemoteSource over HTTP.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	retrier    *retry.Retrier
	breaker    *circuitbreaker.CircuitBreaker
	maxPages   int
	logger     *slog.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetrier replaces the retry policy.
func WithRetrier(r *retry.Retrier) ClientOption {
	return func(c *Client) { c.retrier = r }
}

// WithBreaker replaces the circuit breaker.
func WithBreaker(b *circuitbreaker.CircuitBreaker) ClientOption {
	return func(c *Client) { c.breaker = b }
}

// NewClient creates a listing client.
func NewClient(config ClientConfig, opts ...ClientOption) *Client {
	log := logger.OrDefault(config.Logger).With(logger.Component("rankingapi"))
	if config.PerPage <= 0 {
		config.PerPage = DefaultClientConfig("").PerPage
	}
	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}

	policy := retry.RemoteSourceRetrier().Config()

	c := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(limit, max(config.Burst, 1)),
		retrier: retry.New(
			retry.WithMaxAttempts(policy.MaxAttempts),
			retry.WithInitialDelay(policy.InitialDelay),
			retry.WithMaxDelay(policy.MaxDelay),
			retry.WithMultiplier(policy.Multiplier),
			retry.WithJitter(policy.JitterFactor),
			retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				log.Warn("retrying standings listing",
					slog.Int("attempt", attempt),
					logger.Err(err),
					slog.Duration("delay", delay),
				)
			}),
		),
		breaker: circuitbreaker.RemoteSourceBreaker(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		}),
		maxPages: maxPages,
		logger:   log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListStandings implements ranking.RemoteSource. It walks every page of the
// listing; a failed page fails the whole listing. When the upstream reports
// total_pages it is trusted, since servers may cap page size below per_page.
// Without it a short page ends the listing.
func (c *Client) ListStandings(ctx context.Context) ([]ranking.StandingEntry, error) {
	var all []ranking.StandingEntry

	for page := 1; page <= c.maxPages; page++ {
		resp, err := c.fetchPage(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("list standings page %d: %w", page, err)
		}
		all = append(all, toStandings(resp.Data)...)

		if lastPage(resp, page, c.config.PerPage) {
			c.logger.Debug("standings listed", logger.EntryCount(len(all)))
			return all, nil
		}
	}

	return nil, fmt.Errorf("list standings: %w: more than %d pages", ErrListingTruncated, c.maxPages)
}

// ErrListingTruncated is returned when the listing does not end within the
// page limit.
var ErrListingTruncated = errors.New("listing truncated")

func lastPage(resp *APIResponse[[]StandingDTO], page, perPage int) bool {
	if resp.Meta != nil && resp.Meta.TotalPages > 0 {
		return page >= resp.Meta.TotalPages
	}
	return len(resp.Data) < perPage
}

// IsOpen reports whether the circuit breaker currently rejects calls.
func (c *Client) IsOpen() bool {
	return c.breaker.IsOpen()
}

func (c *Client) fetchPage(ctx context.Context, page int) (*APIResponse[[]StandingDTO], error) {
	var resp *APIResponse[[]StandingDTO]
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = retry.DoWith(ctx, c.retrier, func(ctx context.Context) (*APIResponse[[]StandingDTO], error) {
			return c.doPage(ctx, page)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// doPage performs a single request. Errors worth retrying come back wrapped
// with retry.Retryable.
func (c *Client) doPage(ctx context.Context, page int) (*APIResponse[[]StandingDTO], error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, retry.Permanent(fmt.Errorf("rate limiter: %w", err))
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(c.config.PerPage))
	fullURL := strings.TrimRight(c.config.BaseURL, "/") + standingsPath + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		if isTransient(err) {
			return nil, retry.Retryable(fmt.Errorf("http request: %w", err))
		}
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, retry.Retryable(fmt.Errorf("read response: %w", err))
	}

	if httpResp.StatusCode >= 400 {
		return nil, statusError(httpResp, body)
	}

	var out APIResponse[[]StandingDTO]
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if !out.Success && out.Error != "" {
		return nil, &APIErrorDTO{Message: out.Error}
	}
	return &out, nil
}

// StatusError is a non-2xx response without a decodable error body.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("ranking api: unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

func statusError(resp *http.Response, body []byte) error {
	var err error = &StatusError{StatusCode: resp.StatusCode, RetryAfter: retryAfter(resp)}

	var apiErr APIErrorDTO
	if jsonErr := json.Unmarshal(body, &apiErr); jsonErr == nil && apiErr.Message != "" {
		err = fmt.Errorf("%w (status %d)", &apiErr, resp.StatusCode)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return retry.Retryable(err)
	}
	return err
}

func retryAfter(resp *http.Response) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}
