package rankingapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kombinu/kombinu-ranking/pkg/circuitbreaker"
	"github.com/kombinu/kombinu-ranking/pkg/logger"
	"github.com/kombinu/kombinu-ranking/pkg/retry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig(srv.URL)
	cfg.PerPage = 2
	cfg.RequestsPerSecond = 0
	cfg.APIKey = "k"
	cfg.Logger = logger.Discard()

	fast := retry.New(
		retry.WithMaxAttempts(3),
		retry.WithInitialDelay(time.Millisecond),
		retry.WithMaxDelay(2*time.Millisecond),
	)
	return NewClient(cfg, append([]ClientOption{WithRetrier(fast)}, opts...)...)
}

func writePage(w http.ResponseWriter, page, totalPages int, rows ...StandingDTO) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(APIResponse[[]StandingDTO]{
		Success: true,
		Data:    rows,
		Meta:    &Meta{Page: page, PerPage: 2, TotalPages: totalPages},
	})
}

func TestListStandings_WalksPages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, standingsPath, r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		switch page {
		case 1:
			writePage(w, 1, 2,
				StandingDTO{UserID: "a", TotalPoints: 300, LastActivityAt: "2026-04-01T10:00:00+05:00"},
				StandingDTO{UserID: "b", TotalPoints: 200},
			)
		case 2:
			writePage(w, 2, 2, StandingDTO{UserID: "c", TotalPoints: 100, AccuracyPercent: 140})
		default:
			t.Errorf("unexpected page %d", page)
		}
	})

	got, err := c.ListStandings(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].UserID)
	assert.Equal(t, 5, got[0].LastActivityAt.Hour(), "timestamps are converted to UTC")
	assert.True(t, got[1].LastActivityAt.IsZero())
	assert.Equal(t, 100.0, got[2].AverageAccuracyPercent)
}

func TestListStandings_DropsRowsWithoutUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writePage(w, 1, 1, StandingDTO{UserID: "  "}, StandingDTO{UserID: "b"})
	})

	got, err := c.ListStandings(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].UserID)
}

func TestListStandings_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writePage(w, 1, 1, StandingDTO{UserID: "a"})
	})

	got, err := c.ListStandings(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestListStandings_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprint(w, `{"code":"BAD_PAGE","message":"page out of range"}`)
	})

	_, err := c.ListStandings(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BAD_PAGE")
	assert.Equal(t, int32(1), calls.Load())

	var apiErr *APIErrorDTO
	assert.ErrorAs(t, err, &apiErr)
}

func TestListStandings_StatusErrorWithoutBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := c.ListStandings(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	assert.Equal(t, 7*time.Second, statusErr.RetryAfter)
}

func TestListStandings_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	breaker := circuitbreaker.New("test", circuitbreaker.WithFailureThreshold(2), circuitbreaker.WithTimeout(time.Minute))
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, WithBreaker(breaker), WithRetrier(retry.New(retry.WithMaxAttempts(1))))

	for i := 0; i < 2; i++ {
		_, err := c.ListStandings(context.Background())
		require.Error(t, err)
	}
	require.True(t, c.IsOpen())

	_, err := c.ListStandings(context.Background())
	require.Error(t, err)
	assert.True(t, circuitbreaker.IsRejected(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestListStandings_CanceledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writePage(w, 1, 1)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ListStandings(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListStandings_TrustsTotalPagesOverShortPages(t *testing.T) {
	// The upstream caps page size at one row although two were requested.
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page < 1 || page > 3 {
			t.Errorf("unexpected page %d", page)
			return
		}
		writePage(w, page, 3, StandingDTO{UserID: "u" + strconv.Itoa(page), TotalPoints: 100 - page})
	})

	got, err := c.ListStandings(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "u3", got[2].UserID)
}

func TestListStandings_ShortPageEndsListingWithoutMeta(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(APIResponse[[]StandingDTO]{
			Success: true,
			Data:    []StandingDTO{{UserID: "a"}},
		})
	})

	got, err := c.ListStandings(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(1), calls.Load())
}

func TestListStandings_PageLimitIsAnError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		writePage(w, page, 0,
			StandingDTO{UserID: "a" + strconv.Itoa(page)},
			StandingDTO{UserID: "b" + strconv.Itoa(page)},
		)
	})
	c.maxPages = 3

	got, err := c.ListStandings(context.Background())
	require.ErrorIs(t, err, ErrListingTruncated)
	assert.Nil(t, got)
	assert.Equal(t, int32(3), calls.Load())
}
