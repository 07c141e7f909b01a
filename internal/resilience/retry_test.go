package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastRetry avoids real backoff sleeps in tests.
func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		JitterFraction: 0,
	}
}

func TestDoValSuccessFirstTry(t *testing.T) {
	t.Parallel()

	calls := 0
	val, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.Equal(t, 1, calls)
}

func TestDoValRetriesTransient(t *testing.T) {
	t.Parallel()

	calls := 0
	val, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientProviderError(eris.New("overloaded"), 529)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 3, calls)
}

func TestDoValNonRetryableShortCircuits(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := DoVal(context.Background(), fastRetry(5), func(ctx context.Context) (int, error) {
		calls++
		return 0, NewFatalConfigError(eris.New("missing api key"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsFatalConfig(err))
}

func TestDoValExhaustsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	onRetry := 0
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, err error) { onRetry++ }

	_, err := DoVal(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, NewValidationError("financials", eris.New("bad json"))
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, onRetry) // no retry callback after the final attempt
	assert.True(t, IsValidation(err))
}

func TestDoValContextCancelStopsRetries(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := DoVal(ctx, fastRetry(5), func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, NewTransientProviderError(eris.New("reset"), 0)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoValCustomShouldRetry(t *testing.T) {
	t.Parallel()

	calls := 0
	cfg := fastRetry(4)
	cfg.ShouldRetry = func(err error) bool { return false }

	_, err := DoVal(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, NewTransientProviderError(eris.New("would normally retry"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithMaxAttempts(t *testing.T) {
	t.Parallel()

	base := DefaultRetryConfig()
	bumped := base.WithMaxAttempts(7)
	assert.Equal(t, 7, bumped.MaxAttempts)
	assert.Equal(t, 3, base.MaxAttempts)
	assert.Equal(t, base.InitialBackoff, bumped.InitialBackoff)
}

func TestComputeBackoffGrowthAndCap(t *testing.T) {
	t.Parallel()

	cfg := RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
		JitterFraction: 0,
	}

	assert.Equal(t, 100*time.Millisecond, computeBackoff(0, cfg))
	assert.Equal(t, 200*time.Millisecond, computeBackoff(1, cfg))
	assert.Equal(t, 400*time.Millisecond, computeBackoff(2, cfg))
	// Capped well before 100ms * 2^10.
	assert.Equal(t, time.Second, computeBackoff(10, cfg))
}

func TestComputeBackoffJitterStaysInRange(t *testing.T) {
	t.Parallel()

	cfg := RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}

	for range 50 {
		d := computeBackoff(0, cfg)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}
