// Package retry wraps a fallible operation with bounded attempts,
// classified backoff, and error-class filtering.
package retry

import (
	"context"
	"errors"
	"net"
	"time"

	"leadforge/pkg/models"
)

// ClassifiedError optionally carries an HTTP status so the classifier
// can distinguish retryable from terminal engine failures. Dispatcher
// errors that wrap a non-2xx response should implement this.
type ClassifiedError interface {
	error
	StatusCode() int
}

// Retryable reports whether err should be retried under the default
// classifier rules: network errors and HTTP 408/429/5xx retry;
// 4xx (other than 408/429) is terminal; anything unclassifiable
// defaults to retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var classified ClassifiedError
	if errors.As(err, &classified) {
		code := classified.StatusCode()
		if code == 408 || code == 429 || code >= 500 {
			return true
		}
		if code >= 400 && code < 500 {
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return true
}

// Delay computes the wait before the i-th retry attempt (1-indexed:
// the delay awaited after attempt i fails, before attempt i+1).
func Delay(i int, initial time.Duration, backoff models.BackoffStrategy) time.Duration {
	switch backoff {
	case models.BackoffLinear:
		return initial * time.Duration(i)
	case models.BackoffConstant:
		return initial
	case models.BackoffExponential:
		fallthrough
	default:
		if i <= 1 {
			return initial
		}
		d := initial
		for n := 1; n < i; n++ {
			d *= 2
		}
		return d
	}
}

// Do runs fn up to cfg.Attempts times, sleeping Delay(i, ...) between
// failed attempts, short-circuiting on a classifier-terminal error.
// step is used only for log/error context.
func Do(ctx context.Context, step string, cfg models.RetryConfig, fn func(ctx context.Context) error) error {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	initial := time.Duration(cfg.InitialDelayMs) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if !Retryable(lastErr) {
			return lastErr
		}

		if attempt == attempts {
			break
		}

		select {
		case <-time.After(Delay(attempt, initial, cfg.Backoff)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
