package crawler

import (
	"context"
	"math"
	"time"
)

// RetryPolicy retries an operation with exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy returns three attempts with 2s, 4s delays between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Multiplier:  2,
	}
}

// Attempts returns the effective attempt ceiling (at least one).
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1)))
}

// Do runs fn until it succeeds, returns a permanent error, or the attempt
// ceiling is hit. It returns the last error from fn. A deadline inside fn does
// not stop the loop; only ctx being done does.
func (p RetryPolicy) Do(ctx context.Context, clock Clock, fn func(ctx context.Context, attempt int) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if attempt >= p.Attempts() || permanent(err) || ctx.Err() != nil {
			return err
		}
		clock.Pause(ctx, p.Backoff(attempt))
		if ctx.Err() != nil {
			return err
		}
	}
}

// TimeoutGrowth widens a timeout on every attempt: Base + attempt*Step.
type TimeoutGrowth struct {
	Base time.Duration
	Step time.Duration
}

// At returns the timeout for the given attempt (1-based).
func (g TimeoutGrowth) At(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return g.Base + time.Duration(attempt)*g.Step
}
