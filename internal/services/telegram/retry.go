package telegram

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fgeck/vaultcourier/internal/models"
)

// RetryPolicy describes how text messages are retried on transient failure.
type RetryPolicy struct {
	MaxAttempts  int // total attempts, including the first
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy returns 3 attempts with exponential backoff from 2s capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}
}

// PolicyFromSettings builds a policy from configuration.
func PolicyFromSettings(cfg models.RetrySettings) RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxAttempts = cfg.MaxAttempts
	p.InitialDelay = cfg.InitialDelay
	p.MaxDelay = cfg.MaxDelay
	return p
}

// Delays returns the waits between consecutive attempts.
func (p RetryPolicy) Delays() []time.Duration {
	b := p.backOff()
	var delays []time.Duration
	for i := 1; i < p.MaxAttempts; i++ {
		delays = append(delays, b.NextBackOff())
	}
	return delays
}

func (p RetryPolicy) backOff() *scheduleBackOff {
	return &scheduleBackOff{policy: p}
}

// scheduleBackOff is a deterministic exponential backoff.BackOff.
type scheduleBackOff struct {
	policy RetryPolicy
	next   time.Duration
}

func (b *scheduleBackOff) NextBackOff() time.Duration {
	if b.next == 0 {
		b.next = b.policy.InitialDelay
	} else {
		b.next = time.Duration(float64(b.next) * b.policy.Multiplier)
	}
	if b.next > b.policy.MaxDelay {
		b.next = b.policy.MaxDelay
	}
	return b.next
}

func (b *scheduleBackOff) Reset() {
	b.next = 0
}

// retry runs op under the retry policy and returns the number of attempts made.
// Permanent HTTP errors and a cancelled context stop retrying early.
func (s *Impl) retry(ctx context.Context, method string, op func() error) (int, error) {
	attempts := 0
	maxTries := s.retryPolicy.MaxAttempts
	if maxTries < 1 {
		maxTries = 1
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := op()
		if err == nil {
			return struct{}{}, nil
		}
		var terr *models.TransportError
		if ctx.Err() != nil || (errors.As(err, &terr) && !terr.Temporary()) {
			return struct{}{}, backoff.Permanent(err)
		}
		if terr != nil && terr.RetryAfter > 0 {
			wait := min(terr.RetryAfter, s.retryPolicy.MaxDelay)
			return struct{}{}, &rateLimitedError{err: err, wait: &backoff.RetryAfterError{Duration: wait}}
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(s.retryPolicy.backOff()),
		backoff.WithMaxTries(uint(maxTries)),
		backoff.WithNotify(func(err error, delay time.Duration) {
			s.logger.Warn().
				Err(err).
				Str("method", method).
				Int("attempt", attempts).
				Dur("backoff", delay).
				Msg("Telegram request failed, retrying")
			if s.onRetry != nil {
				s.onRetry(err, delay)
			}
		}),
	)

	return attempts, err
}

// rateLimitedError pairs a 429 with the wait Telegram asked for, capped at the
// policy's MaxDelay.
type rateLimitedError struct {
	err  error
	wait *backoff.RetryAfterError
}

func (e *rateLimitedError) Error() string { return e.err.Error() }

func (e *rateLimitedError) Unwrap() []error { return []error{e.err, e.wait} }
