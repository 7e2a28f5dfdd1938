// Package retry provides the single backoff policy applied at the three
// external boundaries: repository clone, results push, and judgment calls.
package retry

import (
	"context"
	"time"
)

// Policy configures bounded retries with exponential backoff.
type Policy struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // delay before the second attempt; doubles each retry
	Retryable   func(error) bool
}

// DefaultPolicy matches the external-boundary contract: three attempts with
// a doubling base delay.
func DefaultPolicy(retryable func(error) bool) Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, Retryable: retryable}
}

// Do runs fn until it succeeds, a non-retryable error occurs, attempts are
// exhausted, or ctx is done. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return err
}
