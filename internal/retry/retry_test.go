package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	var waits []time.Duration
	p := Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     3 * time.Second,
		Sleep:          noSleep,
		OnRetry:        func(_ int, d time.Duration, _ error) { waits = append(waits, d) },
	}
	calls := 0
	attempts, err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 4 {
			return &StatusError{Code: http.StatusTooManyRequests}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, waits)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	p := Policy{MaxAttempts: 5, Sleep: noSleep}
	calls := 0
	attempts, err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return &StatusError{Code: http.StatusBadRequest}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
	var ex *ExhaustedError
	assert.False(t, errors.As(err, &ex))
}

func TestDoExhausts(t *testing.T) {
	p := Policy{MaxAttempts: 3, Sleep: noSleep}
	attempts, err := p.Do(context.Background(), func(context.Context) error {
		return &StatusError{Code: http.StatusServiceUnavailable}
	})
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
	assert.Equal(t, 3, attempts)
	var se *StatusError
	assert.ErrorAs(t, err, &se)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, InitialBackoff: time.Hour}
	_, err := p.Do(ctx, func(context.Context) error {
		cancel()
		return &StatusError{Code: http.StatusBadGateway}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestShouldRetryStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, ShouldRetryStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		assert.False(t, ShouldRetryStatus(code), code)
	}
}
