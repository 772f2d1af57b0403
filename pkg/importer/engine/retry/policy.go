// Package retry implements the per-record write retry policy.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/tigerroll/surfin-import/pkg/importer/core/config"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
)

// RetryPolicy decides whether a failed write is attempted again and how long to wait first.
type RetryPolicy interface {
	// ShouldRetry reports whether err is retryable.
	ShouldRetry(err error) bool
	// GetBackoffInterval returns the wait before retry number attempt (starting from 1).
	GetBackoffInterval(attempt int) time.Duration
	// GetMaxRetries returns how many retries follow the first attempt.
	GetMaxRetries() int
}

// Policy is the default RetryPolicy: transient errors and configured error names are retried
// with exponential backoff.
type Policy struct {
	maxRetries      int
	initialInterval time.Duration
	maxInterval     time.Duration
	factor          float64
	retryableErrors []string
}

// NewPolicy creates a Policy.
func NewPolicy(maxRetries int, initialInterval, maxInterval time.Duration, factor float64, retryableErrors []string) *Policy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if factor < 1 {
		factor = 1
	}
	if maxInterval < initialInterval {
		maxInterval = initialInterval
	}
	return &Policy{
		maxRetries:      maxRetries,
		initialInterval: initialInterval,
		maxInterval:     maxInterval,
		factor:          factor,
		retryableErrors: retryableErrors,
	}
}

// NewPolicyFromConfig creates a Policy from the engine retry configuration, overriding the retry
// count and initial backoff with the job's values.
func NewPolicyFromConfig(cfg config.RetryConfig, maxRetries int, backoff time.Duration) *Policy {
	if backoff <= 0 {
		backoff = time.Duration(cfg.InitialInterval) * time.Millisecond
	}
	return NewPolicy(maxRetries, backoff, time.Duration(cfg.MaxInterval)*time.Millisecond, cfg.Factor, cfg.RetryableErrors)
}

func (p *Policy) GetMaxRetries() int {
	return p.maxRetries
}

// ShouldRetry retries transient engine errors and errors matching a configured name.
func (p *Policy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if exception.IsTransient(err) {
		return true
	}
	for _, name := range p.retryableErrors {
		if exception.IsErrorOfType(err, name) {
			return true
		}
	}
	return false
}

// GetBackoffInterval returns initialInterval * factor^(attempt-1), capped at maxInterval.
func (p *Policy) GetBackoffInterval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.initialInterval) * math.Pow(p.factor, float64(attempt-1))
	if d > float64(p.maxInterval) {
		return p.maxInterval
	}
	return time.Duration(d)
}

var _ RetryPolicy = (*Policy)(nil)

// Do runs op until it succeeds, fails with a non-retryable error, or the retries are used up.
// onRetry is called before each wait with the retry number and the error being retried.
// The last error is returned. A cancelled ctx stops waiting and returns the last error.
func Do(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error, onRetry func(attempt int, err error)) error {
	err := op(ctx)
	for attempt := 1; err != nil && attempt <= policy.GetMaxRetries() && policy.ShouldRetry(err); attempt++ {
		if onRetry != nil {
			onRetry(attempt, err)
		}
		timer := time.NewTimer(policy.GetBackoffInterval(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		err = op(ctx)
	}
	return err
}
