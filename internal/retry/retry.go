package retry

import (
	"context"
	"time"

	"github.com/meridianpay/x402-wallet/internal/errs"
	"github.com/meridianpay/x402-wallet/internal/logger"
)

// Policy decides whether and how often an operation is re-attempted. Read
// paths get a backoff policy; signing paths get None, because a blindly
// retried signature over a fresh nonce could double-authorize a payment.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Retryable   func(error) bool
}

// Read returns the policy used for balance queries: linear backoff on
// network-class failures, doubled for rate limiting, immediate failure for
// anything client-caused.
func Read(maxAttempts int, delay time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Delay:       delay,
		Retryable:   errs.Retryable,
	}
}

// None returns the single-attempt policy.
func None() Policy {
	return Policy{MaxAttempts: 1}
}

// Do runs op under the policy. The last error is returned once attempts are
// exhausted or a non-retryable error appears.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if attempt == attempts || p.Retryable == nil || !p.Retryable(lastErr) {
			return lastErr
		}

		wait := p.Delay * time.Duration(attempt)
		if errs.Is(lastErr, errs.KindRateLimited) {
			wait *= 2
		}

		logger.Warn("Attempt %d/%d failed, retrying in %v: %v", attempt, attempts, wait, lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return lastErr
}
