package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Retrier handles retry logic
type Retrier struct {
	policy  Policy
	backoff *Backoff
	logger  *zap.Logger
}

// NewRetrier creates a new retrier
func NewRetrier(policy Policy, logger *zap.Logger) *Retrier {
	if err := policy.Validate(); err != nil {
		panic(fmt.Sprintf("invalid retry policy: %v", err))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{
		policy:  policy,
		backoff: NewBackoff(policy),
		logger:  logger,
	}
}

// Do executes a function with retry logic
func (r *Retrier) Do(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("Operation succeeded after retries",
					zap.Int("attempt", attempt),
					zap.Int("max_retries", r.policy.MaxRetries))
			}
			return nil
		}

		if !r.isRetryable(lastErr) {
			r.logger.Debug("Error is not retryable",
				zap.Error(lastErr),
				zap.Int("attempt", attempt))
			return lastErr
		}

		if attempt >= r.policy.MaxRetries {
			r.logger.Warn("Max retries exceeded",
				zap.Error(lastErr),
				zap.Int("attempts", attempt+1),
				zap.Int("max_retries", r.policy.MaxRetries))
			break
		}

		wait := r.backoff.Calculate(attempt + 1)
		r.logger.Debug("Retrying operation",
			zap.Error(lastErr),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, lastErr)
}

// Permanent marks an error as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

type retryable interface {
	IsRetryable() bool
}

func (r *Retrier) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if r.policy.RetryableFunc != nil {
		return r.policy.RetryableFunc(err)
	}
	var re retryable
	if errors.As(err, &re) {
		return re.IsRetryable()
	}
	return true
}
