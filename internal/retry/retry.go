package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Strategy selects how the wait interval grows between attempts.
type Strategy string

const (
	StrategyFixed       Strategy = "fixed"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
)

type Config struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Strategy        Strategy
	Timeout         time.Duration // overall deadline across all attempts
	Logger          *logrus.Logger
}

func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Strategy:        StrategyExponential,
		Timeout:         5 * time.Minute,
		Logger:          logrus.New(),
	}
}

// RetryableError lets an error opt in or out of retries explicitly.
type RetryableError interface {
	error
	IsRetryable() bool
}

type retryableError struct {
	error
	retryable bool
}

func (e *retryableError) IsRetryable() bool {
	return e.retryable
}

func NewRetryableError(err error) error {
	return &retryableError{error: err, retryable: true}
}

func NewNonRetryableError(err error) error {
	return &retryableError{error: err, retryable: false}
}

// IsRetryable reports whether err should be attempted again. Errors that do
// not implement RetryableError default to retryable, except context
// cancellation and deadline errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryableErr RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.IsRetryable()
	}

	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}

type Func func(ctx context.Context) error

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent.
func Do(ctx context.Context, config *Config, fn Func) error {
	if config == nil {
		config = DefaultConfig()
	}

	var cancel context.CancelFunc
	if config.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	var lastErr error
	interval := config.InitialInterval

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry canceled: %w", ctx.Err())
		default:
		}

		startTime := time.Now()
		err := fn(ctx)
		duration := time.Since(startTime)

		if err == nil {
			if attempt > 1 {
				config.Logger.WithFields(logrus.Fields{
					"attempt":  attempt,
					"duration": duration,
				}).Info("Operation succeeded after retry")
			}
			return nil
		}

		lastErr = err

		config.Logger.WithFields(logrus.Fields{
			"attempt":  attempt,
			"max":      config.MaxAttempts,
			"duration": duration,
			"error":    err.Error(),
		}).Warn("Operation failed")

		if !IsRetryable(err) {
			config.Logger.WithError(err).Warn("Error is not retryable, aborting")
			return fmt.Errorf("non-retryable error: %w", err)
		}

		if attempt >= config.MaxAttempts {
			break
		}

		interval = calculateNextInterval(config.Strategy, config.InitialInterval, config.MaxInterval, attempt)

		config.Logger.WithFields(logrus.Fields{
			"next_attempt": attempt + 1,
			"wait":         interval,
		}).Info("Waiting before retry")

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry canceled during wait: %w", ctx.Err())
		case <-time.After(interval):
		}
	}

	return fmt.Errorf("max attempts (%d) reached: %w", config.MaxAttempts, lastErr)
}

func calculateNextInterval(strategy Strategy, initial, max time.Duration, attempt int) time.Duration {
	var next time.Duration

	switch strategy {
	case StrategyFixed:
		next = initial
	case StrategyLinear:
		next = initial * time.Duration(attempt)
	case StrategyExponential:
		next = initial * time.Duration(1<<(attempt-1))
	default:
		next = initial
	}

	if next > max {
		next = max
	}
	return next
}

// DoWithResult is Do for functions that return a value.
func DoWithResult[T any](ctx context.Context, config *Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T

	err := Do(ctx, config, func(ctx context.Context) error {
		res, err := fn(ctx)
		if err != nil {
			return err
		}
		result = res
		return nil
	})

	return result, err
}

// RetryWithAttempts runs fn with the default config and a custom attempt cap.
func RetryWithAttempts(ctx context.Context, attempts int, fn Func) error {
	config := DefaultConfig()
	config.MaxAttempts = attempts
	return Do(ctx, config, fn)
}
