// Package retry runs external calls with a per-attempt timeout and bounded
// exponential backoff with jitter.
//
// Errors are classified before any retry is spent: timeouts, transport
// failures, AWS throttling, 429 and 5xx responses are retryable; every other
// 4xx is terminal and returned immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	awsretry "github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v5"
)

// Policy controls one family of external calls.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts uint
	// InitialInterval is the base wait before the second attempt.
	InitialInterval time.Duration
	// MaxInterval caps a single wait.
	MaxInterval time.Duration
	// Timeout bounds each attempt. Exceeding it is a retryable failure.
	Timeout time.Duration
	// SlowThreshold only controls logging of slow attempts; it has no effect
	// on retry timing.
	SlowThreshold time.Duration
}

// DefaultPolicy suits short synchronous calls made while a user waits.
var DefaultPolicy = Policy{
	MaxAttempts:     3,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     2 * time.Second,
	Timeout:         5 * time.Second,
	SlowThreshold:   2 * time.Second,
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultPolicy.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultPolicy.MaxInterval
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultPolicy.Timeout
	}
	if p.SlowThreshold <= 0 {
		p.SlowThreshold = DefaultPolicy.SlowThreshold
	}
	return p
}

// StatusError captures a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// StatusCode extracts an upstream HTTP status from err, if any.
func StatusCode(err error) (int, bool) {
	var sc httpStatusCoder
	if !errors.As(err, &sc) {
		return 0, false
	}
	return sc.HTTPStatusCode(), true
}

// IsRetryable reports whether err is a transient failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// AWS reports throttling as a 400.
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := awsretry.DefaultThrottleErrorCodes[apiErr.ErrorCode()]; ok {
			return true
		}
	}
	if code, ok := StatusCode(err); ok {
		return code == http.StatusTooManyRequests || code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Do calls op until it succeeds, returns a terminal error, or the attempt
// budget is exhausted. Each attempt gets its own timeout derived from ctx.
func Do[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = 0.5
	b.Multiplier = 2

	attempt := 0
	operation := func() (T, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		defer cancel()

		start := time.Now()
		out, err := op(attemptCtx)
		if elapsed := time.Since(start); elapsed > p.SlowThreshold {
			slog.WarnContext(ctx, "retry: slow external call", "call", name, "attempt", attempt, "elapsed", elapsed)
		}
		if err == nil {
			return out, nil
		}
		if !IsRetryable(err) {
			return out, backoff.Permanent(err)
		}
		slog.DebugContext(ctx, "retry: attempt failed", "call", name, "attempt", attempt, "max", p.MaxAttempts, "err", err)
		return out, err
	}

	out, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.MaxAttempts),
	)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}
