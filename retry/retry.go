// Package retry wraps external-API calls with bounded retry and backoff
// for transient failures. One primitive, parameterized by a
// retryable-error classifier, reused by every call site.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v5"
)

// DefaultMaxAttempts is the retry budget applied when a policy does not
// set one.
const DefaultMaxAttempts = 10

// Classifier decides whether an error is transient and worth retrying.
type Classifier func(error) bool

// Policy holds the retry parameters for one class of call sites.
type Policy struct {
	// MaxAttempts bounds the total number of invocations, including the
	// first. Zero means DefaultMaxAttempts.
	MaxAttempts int

	// Backoff is the fixed inter-attempt delay.
	Backoff time.Duration

	// InitialDelay is slept before the first attempt. Call sites that
	// evaluate provider state shortly after it changes use this to allow
	// provider-side propagation.
	InitialDelay time.Duration

	// Classifier marks errors as retryable. Nil means RetryableAPIError.
	Classifier Classifier
}

func (p Policy) maxAttempts() uint {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return uint(p.MaxAttempts)
}

func (p Policy) classifier() Classifier {
	if p.Classifier == nil {
		return RetryableAPIError
	}
	return p.Classifier
}

// Do invokes op under the policy. A retryable error waits the backoff
// interval and retries until the attempt budget is exhausted, then
// returns the last error. A non-retryable error returns immediately.
// Context cancellation aborts between attempts.
func Do[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	if p.InitialDelay > 0 {
		select {
		case <-time.After(p.InitialDelay):
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}

	classify := p.classifier()
	wrapped := func() (T, error) {
		v, err := op()
		if err != nil && !classify(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Backoff)),
		backoff.WithMaxTries(p.maxAttempts()),
	)
}

// DoVoid is Do for operations without a result.
func DoVoid(ctx context.Context, p Policy, op func() error) error {
	_, err := Do(ctx, p, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

// retryableCodes are the provider error codes treated as transient.
var retryableCodes = map[string]bool{
	"RequestLimitExceeded":     true,
	"Throttling":               true,
	"ThrottlingException":      true,
	"TooManyRequestsException": true,
	"RequestThrottled":         true,
	"InternalError":            true,
	"InternalFailure":          true,
	"ServiceUnavailable":       true,
	"RequestTimeout":           true,
}

// RetryableAPIError classifies provider API errors: rate-limit,
// throttling, and transient-internal codes are retryable, everything
// else is terminal.
func RetryableAPIError(err error) bool {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return retryableCodes[ae.ErrorCode()]
	}
	return false
}
