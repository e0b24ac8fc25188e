package lists

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	defaultRetryAttempts        = 3
	defaultRetryInitialInterval = 50 * time.Millisecond
	defaultRetryMaxInterval     = time.Second
)

// RetryPolicy bounds the retries of idempotent operations. MaxAttempts counts the first
// attempt; a value of 1 disables retries.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (policy RetryPolicy) withDefaults() RetryPolicy {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaultRetryAttempts
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = defaultRetryInitialInterval
	}
	if policy.MaxInterval <= 0 {
		policy.MaxInterval = defaultRetryMaxInterval
	}
	if policy.MaxInterval < policy.InitialInterval {
		policy.MaxInterval = policy.InitialInterval
	}
	return policy
}

func (policy RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = policy.InitialInterval
	exponential.MaxInterval = policy.MaxInterval
	exponential.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exponential, uint64(policy.MaxAttempts-1)), ctx)
}

func (s *Service) withRetry(ctx context.Context, operation func() error) error {
	return backoff.Retry(func() error {
		err := operation()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		s.loggerOrDefault().Debug("retrying lists store operation", zap.Error(err))
		return err
	}, s.retry.backOff(ctx))
}

func isRetryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, errListMissing):
		return false
	case errors.Is(err, ErrGameNotInList), errors.Is(err, errTargetHoldsGame):
		return false
	case errors.Is(err, ErrInvalidGame), errors.Is(err, ErrInvalidListName):
		return false
	}
	return true
}
