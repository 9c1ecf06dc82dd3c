package services

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy is the single retry strategy injected into every network call.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	// Jitter adds up to this fraction of the computed delay at random
	Jitter float64
}

// DefaultRetryPolicy mirrors the limits the scrapers have always used: 5 attempts, 1s doubling, 60s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    60 * time.Second,
		Jitter:      0.5,
	}
}

// permanentError marks an error that retrying cannot fix
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so RetryPolicy.Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Delay returns the backoff before retry number attempt (1-based), without jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

func (p RetryPolicy) jittered(attempt int) time.Duration {
	d := p.Delay(attempt)
	if p.Jitter > 0 && d > 0 {
		d += time.Duration(rand.Float64() * p.Jitter * float64(d))
	}
	return d
}

// Do runs fn until it succeeds, returns a permanent error, the context ends,
// or MaxAttempts is reached. A RateLimitSignal waits at least its RetryAfter.
func (p RetryPolicy) Do(ctx context.Context, log zerolog.Logger, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil || attempt == attempts {
			break
		}

		wait := p.jittered(attempt)
		var rl *RateLimitSignal
		if errors.As(err, &rl) && rl.RetryAfter > wait {
			wait = rl.RetryAfter
		}

		log.Debug().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("backoff", wait).
			Msg("retrying request")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}
