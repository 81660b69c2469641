// Package retry re-runs transient upstream calls with capped exponential
// backoff.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	perrors "github.com/novuscode/novuscode-api/internal/errors"
)

// Policy bounds the attempts of one call.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    bool
}

// DefaultPolicy suits interactive requests: a few quick retries.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:  3,
		BaseDelay: 250 * time.Millisecond,
		MaxDelay:  2 * time.Second,
		Jitter:    true,
	}
}

// None disables retries.
func None() Policy { return Policy{Attempts: 1} }

// Do calls fn until it succeeds, returns an error perrors.IsRetryable rejects,
// runs out of attempts, or ctx ends. The last error from fn is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil || !perrors.IsRetryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		t := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
	return err
}

func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay << attempt
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	if p.Jitter && d > 0 {
		d = d/2 + rand.N(d/2+1)
	}
	return d
}
