package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryWithBackoff(t *testing.T) {
	t.Run("succeeds after transient error", func(t *testing.T) {
		ctx := context.Background()
		config := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}

		callCount := 0
		result, err := retryWithBackoff(ctx, config, func() (string, error) {
			callCount++
			if callCount < 2 {
				return "", fmt.Errorf("transient error")
			}
			return "success", nil
		})
		assert.NoError(t, err)
		assert.Equal(t, "success", result)
		assert.Equal(t, 2, callCount, "Should retry once and succeed on second attempt")
	})

	t.Run("exponential backoff timing", func(t *testing.T) {
		ctx := context.Background()
		config := RetryConfig{
			MaxRetries: 3,
			BaseDelay:  10 * time.Millisecond,
			MaxDelay:   100 * time.Millisecond,
			Multiplier: 2.0,
		}

		callCount := 0
		startTime := time.Now()
		_, err := retryWithBackoff(ctx, config, func() (int, error) {
			callCount++
			return 0, fmt.Errorf("always fails")
		})
		elapsed := time.Since(startTime)

		assert.Error(t, err)
		assert.Equal(t, 3, callCount, "Should retry MaxRetries times")
		// 10ms + 20ms between the three attempts
		assert.GreaterOrEqual(t, elapsed.Milliseconds(), int64(30))
	})

	t.Run("returns last error", func(t *testing.T) {
		ctx := context.Background()
		config := RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2.0}

		callCount := 0
		_, err := retryWithBackoff(ctx, config, func() (bool, error) {
			callCount++
			return false, fmt.Errorf("error %d", callCount)
		})
		assert.Error(t, err)
		assert.Equal(t, 5, callCount)
		assert.Contains(t, err.Error(), "error 5")
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		ctx := context.Background()
		config := RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2.0}

		callCount := 0
		_, err := retryWithBackoff(ctx, config, func() (int, error) {
			callCount++
			return 0, permanent(fmt.Errorf("%w: insufficient funds", ErrDeclined))
		})
		assert.ErrorIs(t, err, ErrDeclined)
		assert.Equal(t, 1, callCount)

		var perm *permanentError
		assert.False(t, errors.As(err, &perm), "the permanent marker is stripped")
	})

	t.Run("context cancellation during retry", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		config := RetryConfig{MaxRetries: 10, BaseDelay: 50 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Multiplier: 2.0}

		callCount := 0
		_, err := retryWithBackoff(ctx, config, func() (string, error) {
			callCount++
			if callCount == 2 {
				cancel()
			}
			return "", fmt.Errorf("error")
		})
		assert.Equal(t, context.Canceled, err)
		assert.LessOrEqual(t, callCount, 3)
	})

	t.Run("nil passes through permanent", func(t *testing.T) {
		assert.NoError(t, permanent(nil))
	})
}
