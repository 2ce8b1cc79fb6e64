package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// HTTPError is a non-200 response from a provider API.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *HTTPError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// RetryConfig bounds RetryDo.
type RetryConfig struct {
	Attempts int
	MinDelay time.Duration
	MaxDelay time.Duration
}

// DefaultRetryConfig retries twice with 500ms..5s backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, MinDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// RetryDo calls fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done. Only *HTTPError values with a 429 or 5xx
// status are retried; Retry-After overrides the backoff when present.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := cfg.MinDelay

	var lastErr error
	for i := 0; i < attempts; i++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err

		var httpErr *HTTPError
		if !errors.As(err, &httpErr) || !httpErr.Retryable() || i == attempts-1 {
			return zero, err
		}

		wait := delay
		if httpErr.RetryAfter > 0 {
			wait = httpErr.RetryAfter
		}
		if cfg.MaxDelay > 0 && wait > cfg.MaxDelay {
			wait = cfg.MaxDelay
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return zero, lastErr
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
