// Package retry runs an operation with bounded attempts and exponential
// backoff between them.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	apperrors "trial-screener/internal/common/errors"
	"trial-screener/internal/common/logger"
	"trial-screener/internal/common/metrics"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes one retried call. The delay before retry n (1-based) is
// BaseDelay * 2^(n-1); nothing is slept after the final attempt.
type Policy struct {
	Operation   string
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      logger.Logger

	// Timer overrides the wall-clock timer; tests use it to observe delays.
	Timer backoff.Timer
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.BaseDelay
	expo.Multiplier = 2
	expo.RandomizationFactor = 0
	expo.MaxInterval = time.Duration(math.MaxInt64)
	expo.MaxElapsedTime = 0
	expo.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(expo, uint64(p.MaxAttempts-1)), ctx)
}

// Do calls fn until it succeeds, returns a non-retryable error, ctx ends or
// MaxAttempts is used up. Exhaustion yields an AGGREGATE_FAILURE carrying
// the last error.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	log := p.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	attempt := 0
	var lastErr error

	op := func() (T, error) {
		attempt++
		log.Info("Attempt started", map[string]interface{}{
			"operation":   p.Operation,
			"attempt":     attempt,
			"maxAttempts": p.MaxAttempts,
		})

		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}

		lastErr = err
		log.Warn("Attempt failed", map[string]interface{}{
			"operation":   p.Operation,
			"attempt":     attempt,
			"maxAttempts": p.MaxAttempts,
			"error":       err.Error(),
		})

		if !apperrors.IsRetryable(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	notify := func(err error, next time.Duration) {
		metrics.LLMRetryAttempts.WithLabelValues(p.Operation).Inc()
		log.Debug("Backing off before retry", map[string]interface{}{
			"operation": p.Operation,
			"delay":     next.String(),
		})
	}

	var (
		result T
		err    error
	)
	if p.Timer != nil {
		result, err = backoff.RetryNotifyWithTimerAndData[T](op, p.backOff(ctx), notify, p.Timer)
	} else {
		result, err = backoff.RetryNotifyWithData[T](op, p.backOff(ctx), notify)
	}
	if err == nil {
		return result, nil
	}

	// Context ended or fn refused to be retried: surface as-is.
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return result, err
	}
	if !apperrors.IsRetryable(err) {
		return result, err
	}

	log.Error("All attempts failed", map[string]interface{}{
		"operation": p.Operation,
		"attempts":  attempt,
		"error":     lastErr.Error(),
	})
	return result, apperrors.NewAggregateFailureError(attempt, lastErr)
}
