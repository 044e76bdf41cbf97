package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fast() []Option {
	return []Option{WithInitialDelay(time.Millisecond), WithMaxDelay(2 * time.Millisecond), WithJitter(0)}
}

func TestDo_RetriesRetryableUntilSuccess(t *testing.T) {
	calls := 0
	var retried []int

	opts := append(fast(), WithMaxAttempts(5), WithOnRetry(func(attempt int, _ error, _ time.Duration) {
		retried = append(retried, attempt)
	}))
	err := Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("flaky"))
		}
		return nil
	}, opts...)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_StopsOnPlainError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0

	err := Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	}, fast()...)

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, boom)
}

func TestDo_ExhaustsAttemptsAndUnwraps(t *testing.T) {
	flaky := errors.New("flaky")
	calls := 0

	err := Do(context.Background(), func(context.Context) error {
		calls++
		return Retryable(flaky)
	}, append(fast(), WithMaxAttempts(3))...)

	assert.Equal(t, 3, calls)
	assert.Same(t, flaky, err)
	assert.False(t, IsRetryable(err))
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0

	err := Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(fatal)
	}, append(fast(), WithRetryIf(func(error) bool { return true }))...)

	assert.Equal(t, 1, calls)
	assert.Same(t, fatal, err)
}

func TestDoWithData(t *testing.T) {
	calls := 0
	got, err := DoWithData(context.Background(), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, Retryable(errors.New("once"))
		}
		return 42, nil
	}, fast()...)

	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestRemoteSourceRetrier(t *testing.T) {
	cfg := RemoteSourceRetrier().Config()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.MaxDelay)
}
