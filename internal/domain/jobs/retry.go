package jobs

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff"
)

// ErrRetriesExhausted marks a job that failed on its final attempt.
var ErrRetriesExhausted = errors.New("job retries exhausted")

// ErrNonRetryable marks a failure no later attempt can fix, such as a
// malformed payload.
var ErrNonRetryable = errors.New("job cannot be retried")

type nonRetryableError struct{ err error }

func (e nonRetryableError) Error() string   { return e.err.Error() }
func (e nonRetryableError) Unwrap() []error { return []error{e.err, ErrNonRetryable} }

// NonRetryable wraps err so the worker fails the job without further
// attempts. The original error stays reachable through errors.Is and
// errors.As.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return nonRetryableError{err: err}
}

// Default retry budget for push-event jobs.
const (
	DefaultMaxAttempts     = 3
	DefaultInitialBackoff  = 5 * time.Second
	DefaultFailedRetention = 20
)

// RetryPolicy bounds how often and how soon a failed job is attempted again.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy returns three attempts with exponential backoff from 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
		Multiplier:     2,
	}
}

// ShouldRetry reports whether a job that failed on attempt may run again.
func (p RetryPolicy) ShouldRetry(attempt int) bool { return attempt < p.MaxAttempts }

// Delay returns the wait before the attempt following a failure on attempt.
// Attempt 1 waits InitialBackoff, each later attempt multiplies it.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = 24 * time.Hour
	b.MaxElapsedTime = 0
	b.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
