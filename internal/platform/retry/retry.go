// Package retry runs integration calls with bounded exponential backoff.
// Only errors marked Transient are retried; everything else fails fast.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	MaxRetries      uint64
}

// DefaultPolicy is used by the clearinghouse, notification and telehealth adapters.
var DefaultPolicy = Policy{
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     2 * time.Second,
	MaxElapsedTime:  15 * time.Second,
	MaxRetries:      4,
}

// TransientError marks a failure that is safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so Do retries it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// StatusError classifies an HTTP response status. 5xx and 429 are transient.
func StatusError(status int, body string) error {
	err := fmt.Errorf("unexpected status %d: %s", status, body)
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		return Transient(err)
	}
	return err
}

// Do calls op until it succeeds, returns a non-transient error, the policy
// is exhausted or ctx is done.
func Do(ctx context.Context, p Policy, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = p.MaxElapsedTime

	var b backoff.BackOff = eb
	if p.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, p.MaxRetries)
	}
	b = backoff.WithContext(b, ctx)

	err := backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
	if err != nil {
		var pe *backoff.PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
	}
	return err
}
