package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trippingBreaker(threshold int, reset time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     reset,
	})
}

func fail(_ context.Context) error    { return errors.New("upstream down") }
func succeed(_ context.Context) error { return nil }

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := trippingBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		require.Error(t, cb.Execute(context.Background(), fail))
	}
	assert.Equal(t, CircuitOpen, cb.State())

	// Calls are rejected without reaching the upstream.
	called := false
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreakerSuccessResetsCounter(t *testing.T) {
	cb := trippingBreaker(3, time.Minute)

	require.Error(t, cb.Execute(context.Background(), fail))
	require.Error(t, cb.Execute(context.Background(), fail))
	require.NoError(t, cb.Execute(context.Background(), succeed))
	require.Error(t, cb.Execute(context.Background(), fail))
	require.Error(t, cb.Execute(context.Background(), fail))

	// Never three in a row, so still closed.
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerProbeClosesAfterReset(t *testing.T) {
	cb := trippingBreaker(1, time.Minute)
	now := time.Now()
	cb.now = func() time.Time { return now }

	require.Error(t, cb.Execute(context.Background(), fail))
	assert.Equal(t, CircuitOpen, cb.State())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	cb := trippingBreaker(1, time.Minute)
	now := time.Now()
	cb.now = func() time.Time { return now }

	require.Error(t, cb.Execute(context.Background(), fail))
	now = now.Add(2 * time.Minute)
	require.Error(t, cb.Execute(context.Background(), fail))

	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(context.Background(), succeed), ErrCircuitOpen)
}

func TestCircuitBreakerShouldTripFilter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		ShouldTrip:       IsTransient,
	})

	// A definitive upstream answer is not an outage.
	require.Error(t, cb.Execute(context.Background(), fail))
	assert.Equal(t, CircuitClosed, cb.State())

	require.Error(t, cb.Execute(context.Background(), func(_ context.Context) error {
		return NewTransientError(errors.New("503"), 503)
	}))
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreakerExecuteVal(t *testing.T) {
	cb := trippingBreaker(1, time.Minute)

	v, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	require.Error(t, err)

	_, err = ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) {
		t.Fatal("must not be called while open")
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
