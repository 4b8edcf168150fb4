package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietConfig(attempts int) *Config {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return &Config{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Strategy:        StrategyFixed,
		Logger:          logger,
	}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quietConfig(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quietConfig(5), func(ctx context.Context) error {
		calls++
		return NewNonRetryableError(errors.New("bad input"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), quietConfig(3), func(ctx context.Context) error {
		calls++
		return errors.New("always fails")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "max attempts")
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	result, err := DoWithResult(context.Background(), quietConfig(3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(errors.New("anything else")))
	assert.True(t, IsRetryable(NewRetryableError(errors.New("x"))))
	assert.False(t, IsRetryable(NewNonRetryableError(errors.New("x"))))
}

func TestCalculateNextInterval(t *testing.T) {
	assert.Equal(t, time.Second, calculateNextInterval(StrategyFixed, time.Second, time.Minute, 3))
	assert.Equal(t, 3*time.Second, calculateNextInterval(StrategyLinear, time.Second, time.Minute, 3))
	assert.Equal(t, 4*time.Second, calculateNextInterval(StrategyExponential, time.Second, time.Minute, 3))
	assert.Equal(t, time.Minute, calculateNextInterval(StrategyExponential, time.Second, time.Minute, 10))
}
