package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingCall(ctx context.Context) (int, error) {
	return 0, eris.New("provider down")
}

func okCall(ctx context.Context) (int, error) {
	return 1, nil
}

func TestCircuitOpensAtThreshold(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	ctx := context.Background()

	for range 3 {
		_, err := ExecuteVal(ctx, cb, failingCall)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	// Further calls are rejected without invoking fn.
	invoked := false
	_, err := ExecuteVal(ctx, cb, func(ctx context.Context) (int, error) {
		invoked = true
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked)
}

func TestCircuitSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	ctx := context.Background()

	_, _ = ExecuteVal(ctx, cb, failingCall)
	_, _ = ExecuteVal(ctx, cb, failingCall)
	_, err := ExecuteVal(ctx, cb, okCall)
	require.NoError(t, err)

	_, _ = ExecuteVal(ctx, cb, failingCall)
	_, _ = ExecuteVal(ctx, cb, failingCall)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitHalfOpenProbe(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 30 * time.Second})
	cb.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	_, _ = ExecuteVal(ctx, cb, failingCall)
	assert.Equal(t, CircuitOpen, cb.State())

	// Before the reset timeout the circuit stays open.
	now = now.Add(10 * time.Second)
	_, err := ExecuteVal(ctx, cb, okCall)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	// After the timeout a probe is allowed; success closes the circuit.
	now = now.Add(30 * time.Second)
	assert.Equal(t, CircuitHalfOpen, cb.State())
	val, err := ExecuteVal(ctx, cb, okCall)
	require.NoError(t, err)
	assert.Equal(t, 1, val)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	cb.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	_, _ = ExecuteVal(ctx, cb, failingCall)
	now = now.Add(2 * time.Second)

	_, err := ExecuteVal(ctx, cb, failingCall)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitReset(t *testing.T) {
	t.Parallel()

	var transitions []CircuitState
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		OnStateChange:    func(from, to CircuitState) { transitions = append(transitions, to) },
	})
	ctx := context.Background()

	_, _ = ExecuteVal(ctx, cb, failingCall)
	assert.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, []CircuitState{CircuitOpen, CircuitClosed}, transitions)
}

func TestCircuitShouldTripFilter(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		ShouldTrip:       IsTransient,
	})
	ctx := context.Background()

	// Non-transient failures never trip the breaker.
	_, _ = ExecuteVal(ctx, cb, func(ctx context.Context) (int, error) {
		return 0, NewFatalConfigError(eris.New("bad key"))
	})
	assert.Equal(t, CircuitClosed, cb.State())

	_, _ = ExecuteVal(ctx, cb, func(ctx context.Context) (int, error) {
		return 0, NewTransientProviderError(eris.New("overloaded"), 529)
	})
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
}
