package agentcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecuteWithRetryExhaustsAfterMaxRetriesPlusOne(t *testing.T) {
	cfg := &RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond, Multiplier: 2}

	calls := 0
	err := executeWithRetry(context.Background(), cfg, func() error {
		calls++
		return &retryableAPIError{err: errors.New("boom"), retryable: true}
	})

	require.Error(t, err)
	require.Equal(t, cfg.MaxRetries+1, calls)
}

func TestExecuteWithRetryDoesNotRetryNonRetryableError(t *testing.T) {
	cfg := DefaultRetryConfig()

	calls := 0
	err := executeWithRetry(context.Background(), cfg, func() error {
		calls++
		return &retryableAPIError{err: errors.New("bad request"), retryable: false}
	})

	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestExecuteWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	cfg := &RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond, Multiplier: 2}

	calls := 0
	err := executeWithRetry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return &retryableAPIError{err: errors.New("transient"), retryable: true}
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestComputeValidationBackoffSequence(t *testing.T) {
	require.Equal(t, 250*time.Millisecond, computeValidationBackoff(1))
	require.Equal(t, 500*time.Millisecond, computeValidationBackoff(2))
	require.Equal(t, 1*time.Second, computeValidationBackoff(3))
	require.Equal(t, 2*time.Second, computeValidationBackoff(4))
	require.Equal(t, 4*time.Second, computeValidationBackoff(5))
	require.Equal(t, 4*time.Second, computeValidationBackoff(6))
	require.Equal(t, 4*time.Second, computeValidationBackoff(50))
}

func TestIsRetryableStatusCode(t *testing.T) {
	require.True(t, isRetryableStatusCode(500))
	require.True(t, isRetryableStatusCode(429))
	require.False(t, isRetryableStatusCode(400))
	require.False(t, isRetryableStatusCode(200))
}
