package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"transaction-api/internal/config"
)

const (
	backoffMultiplier = 2.0
	backoffJitter     = 0.25
)

// RemoteError is a non-2xx answer from the account service. The service
// did respond, so only 5xx variants are worth retrying.
type RemoteError struct {
	StatusCode int
	ErrorCode  string
	Message    string
}

func (e *RemoteError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("account service returned %d (%s): %s", e.StatusCode, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("account service returned %d: %s", e.StatusCode, e.Message)
}

// RetryPolicy retries transient failures with exponential backoff and
// jitter. The caller's context bounds the whole sequence: once its
// deadline passes no further attempt is made.
type RetryPolicy struct {
	maxAttempts int
	initialWait time.Duration
}

func NewRetryPolicy(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		maxAttempts: cfg.MaxAttempts,
		initialWait: cfg.WaitDuration,
	}
}

// Do runs fn until it succeeds, fails terminally, or attempts run out.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == p.maxAttempts {
			break
		}

		select {
		case <-time.After(p.backoff(attempt)):
		case <-ctx.Done():
			return lastErr
		}
	}

	return lastErr
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	wait := float64(p.initialWait)
	for i := 1; i < attempt; i++ {
		wait *= backoffMultiplier
	}
	// Spread retries of concurrent callers apart.
	jitter := 1 + backoffJitter*(2*rand.Float64()-1)
	return time.Duration(wait * jitter)
}

// IsServiceFailure reports whether err means the account service itself
// failed (timeout, network fault, 5xx, or an open circuit) as opposed to a
// definitive answer such as a 404 or a business rejection.
func IsServiceFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return true
	}
	return isRetryable(err)
}

// isRetryable classifies failures: transport faults, timeouts, and 5xx
// answers retry; anything the service consciously rejected does not.
func isRetryable(err error) bool {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}
