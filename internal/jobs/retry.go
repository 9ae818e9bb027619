package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDiscard marks a job whose subject is gone. It is never retried.
	ErrDiscard = errors.New("job discarded")
	// ErrPollTimeout is returned when Poll gives up before the condition
	// holds.
	ErrPollTimeout = errors.New("poll timed out")
)

// RetryPolicy decides whether and when a failed attempt runs again.
type RetryPolicy struct {
	// MaxAttempts is the total number of executions, the first included.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// RetryOn lists the errors worth retrying. Empty retries every error
	// except ErrDiscard.
	RetryOn []error
}

// DefaultRetryPolicy returns a policy of three attempts, doubling from two
// seconds up to one minute, retrying only the given errors.
func DefaultRetryPolicy(retryOn ...error) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    time.Minute,
		Multiplier:  2,
		RetryOn:     retryOn,
	}
}

// ShouldRetry reports whether a job that failed with err on attempt
// (1-based) gets another run.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || errors.Is(err, ErrDiscard) || errors.Is(err, context.Canceled) {
		return false
	}
	if attempt >= p.MaxAttempts {
		return false
	}
	if len(p.RetryOn) == 0 {
		return true
	}
	for _, target := range p.RetryOn {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Backoff returns the delay before attempt+1, growing by Multiplier per
// attempt and capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Poll calls check until it reports done, waiting Backoff between calls,
// for at most MaxAttempts calls or until ceiling has elapsed. An error from
// check stops polling immediately.
func (p RetryPolicy) Poll(ctx context.Context, ceiling time.Duration, check func(ctx context.Context) (bool, error)) error {
	deadline := time.Now().Add(ceiling)
	for attempt := 1; ; attempt++ {
		done, err := check(ctx)
		if err != nil {
			return fmt.Errorf("Poll: %w", err)
		}
		if done {
			return nil
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return fmt.Errorf("Poll: gave up after %d attempts: %w", attempt, ErrPollTimeout)
		}

		wait := p.Backoff(attempt)
		if ceiling > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return fmt.Errorf("Poll: gave up after %s: %w", ceiling, ErrPollTimeout)
			}
			if wait > remaining {
				wait = remaining
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
