// pkg/retry/retry.go
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy parameterizes the shared executor: attempts are capped, the delay
// starts at BaseDelay and doubles per attempt up to MaxDelay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 4, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// StatusError carries an HTTP status through the executor so retryability
// can be decided from the status alone.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream status %d", e.Status)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Message)
}

// Retryable reports whether a status should be retried: transient/server
// errors and the two explicit client-side cases (408 request timeout,
// 429 rate limited). All other 4xx never retry.
func Retryable(status int) bool {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	case status >= 400:
		return false
	default:
		return true
	}
}

// Executor runs operations under the shared backoff policy. Inter-attempt
// waits are cancellable through the caller context.
type Executor struct {
	Policy Policy
}

func New(p Policy) Executor { return Executor{Policy: p} }

// Do invokes op until it succeeds, returns a non-retryable error, or the
// attempt cap is reached. A *StatusError with a non-retryable status stops
// immediately; every other error counts as transient.
func (e Executor) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := e.Policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.Policy.BaseDelay
	b.MaxInterval = e.Policy.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	wrapped := func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		var se *StatusError
		if errors.As(err, &se) && !Retryable(se.Status) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx))
}
