package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestAPIKeyAuth(t *testing.T) {
	auth := NewAPIKeyAuth("", []string{"k1", ""})
	h := auth.Middleware(ok)

	tests := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{name: "missing", want: http.StatusUnauthorized},
		{name: "wrong", header: map[string]string{"X-API-Key": "nope"}, want: http.StatusUnauthorized},
		{name: "header", header: map[string]string{"X-API-Key": "k1"}, want: http.StatusNoContent},
		{name: "bearer", header: map[string]string{"Authorization": "Bearer k1"}, want: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodDelete, "/", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAPIKeyAuth_NoKeysConfigured(t *testing.T) {
	auth := NewAPIKeyAuth("X-API-Key", nil)
	assert.False(t, auth.Enabled())

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	req.Header.Set("X-API-Key", "")
	rec := httptest.NewRecorder()
	auth.Middleware(ok).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "admin_disabled")
}

func TestAPIKeyAuth_BcryptHashedKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	auth := NewAPIKeyAuth("", []string{string(hash), "plain"})
	assert.True(t, auth.Enabled())
	assert.True(t, auth.IsValid("s3cret"))
	assert.True(t, auth.IsValid("plain"))
	assert.False(t, auth.IsValid(string(hash)), "the hash itself is not a key")
	assert.False(t, auth.IsValid("wrong"))
}

func TestHashAPIKey(t *testing.T) {
	hash, err := HashAPIKey("rotate-me")
	require.NoError(t, err)
	assert.NotEqual(t, "rotate-me", hash)
	assert.True(t, NewAPIKeyAuth("", []string{hash}).IsValid("rotate-me"))
}

func TestIPRateLimiter(t *testing.T) {
	h := NewIPRateLimiter(2).Middleware(ok)

	serve := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, serve("10.0.0.1:1111"))
	assert.Equal(t, http.StatusNoContent, serve("10.0.0.1:2222"))
	assert.Equal(t, http.StatusTooManyRequests, serve("10.0.0.1:3333"))
	assert.Equal(t, http.StatusNoContent, serve("10.0.0.2:1111"))
}

func TestRequestSizeLimit(t *testing.T) {
	h := RequestSizeLimitMiddleware(8)(ok)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

type fakeBreaker bool

func (b fakeBreaker) IsOpen() bool { return bool(b) }

type fakeConn bool

func (c fakeConn) IsConnected() bool { return bool(c) }

func TestCompositeHealthChecker(t *testing.T) {
	c := NewCompositeHealthChecker("1.0.0")
	c.SetTimeout(50 * time.Millisecond)

	empty := c.Check(context.Background())
	assert.True(t, empty.Healthy)
	assert.Equal(t, "No health checks registered", empty.Message)

	c.AddCheck("breaker", NewBreakerCheck(fakeBreaker(true)))
	c.AddCheck("nats", NewConnCheck(fakeConn(false)))
	c.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	c.AddCheck("fine", func(context.Context) error { return nil })

	status := c.Check(context.Background())
	require.Len(t, status.Checks, 4)
	assert.False(t, status.Healthy)
	assert.Equal(t, "Some checks failed: breaker, nats, slow", status.Message)
	assert.Equal(t, ErrCircuitOpen.Error(), status.Checks["breaker"].Message)
	assert.Equal(t, ErrDisconnected.Error(), status.Checks["nats"].Message)
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"].Message)
	assert.True(t, status.Checks["fine"].Healthy)
	assert.Equal(t, "1.0.0", status.Version)
}
