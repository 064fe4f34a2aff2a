package analyzer

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/TobiSchelling/toolscout/internal/llm"
)

// RetryPolicy bounds how often a single analysis is attempted.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

const maxRetryDelay = 30 * time.Second

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	b := retry.NewExponential(base)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithCappedDuration(maxRetryDelay, b)
	return retry.WithMaxRetries(uint64(retries), b)
}

// Do runs fn until it succeeds, returns a permanent error or the attempts
// are used up.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && Retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// Retryable reports whether err is worth another attempt: rate limits,
// server errors, network failures and unparseable model output.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, llm.ErrNotConfigured) {
		return false
	}
	var pe *parseError
	if errors.As(err, &pe) {
		return true
	}
	var se *llm.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var ne net.Error
	return errors.As(err, &ne)
}
