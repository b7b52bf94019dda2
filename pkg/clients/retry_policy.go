package clients

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ajitpratap0/nebula-extract/pkg/config"
)

// RetryPolicy is exponential backoff with jitter, used while acquiring
// connections. MaxAttempts includes the first try.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter spreads each delay uniformly over ±Jitter of its nominal value.
	Jitter float64
}

// NewRetryPolicy doubles the delay after each failure, capped at five minutes.
func NewRetryPolicy(maxAttempts int, initialDelay time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: initialDelay,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2,
		Jitter:       0.25,
	}
}

// RetryPolicyFromConfig builds a policy from the reliability section.
// RetryAttempts counts the retries after the first attempt.
func RetryPolicyFromConfig(rc config.ReliabilityConfig) *RetryPolicy {
	rp := NewRetryPolicy(rc.RetryAttempts+1, rc.RetryDelay)
	if rc.RetryMultiplier > 0 {
		rp.Multiplier = rc.RetryMultiplier
	}
	if rc.MaxRetryDelay > 0 {
		rp.MaxDelay = rc.MaxRetryDelay
	}
	return rp
}

// NoRetryPolicy tries once.
func NoRetryPolicy() *RetryPolicy {
	return &RetryPolicy{MaxAttempts: 1}
}

// Execute calls fn until it succeeds, shouldRetry rejects its error, the
// attempts run out or ctx ends. A nil shouldRetry retries every error.
func (rp *RetryPolicy) Execute(ctx context.Context, fn func() error, shouldRetry func(error) bool) error {
	attempts := max(rp.MaxAttempts, 1)

	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		if attempt+1 >= attempts {
			break
		}

		timer := time.NewTimer(rp.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	if attempts == 1 {
		return err
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, err)
}

// Delay is the wait after the given zero-based failed attempt.
func (rp *RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt))
	if rp.MaxDelay > 0 {
		d = math.Min(d, float64(rp.MaxDelay))
	}
	if rp.Jitter > 0 {
		d += d * rp.Jitter * (2*rand.Float64() - 1) //nolint:gosec // jitter only
	}
	return time.Duration(d)
}
