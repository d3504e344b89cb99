package llm

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/joseph-ayodele/docextract/internal/common"
)

// FailureCompletion is what a Retrying completer yields once every attempt
// has failed. It is a JSON object so downstream consumers can still parse it.
const FailureCompletion = `{"error": "extraction service failed after retries"}`

const FailureMessage = "extraction service failed after retries"

// Clock is the only source of waiting in the retry loop, so tests can fake it.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RealClock sleeps on wall time and wakes early on cancellation.
func RealClock() Clock { return realClock{} }

// RetryPolicy bounds attempts with a fixed delay between them.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Clock       Clock
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Second, Clock: RealClock()}
}

// RetryingCompleter retries transport and provider failures of the wrapped
// completer. It never retries a successful completion, parseable or not.
type RetryingCompleter struct {
	inner  Completer
	policy RetryPolicy
	logger *slog.Logger
}

func Retrying(inner Completer, policy RetryPolicy, logger *slog.Logger) *RetryingCompleter {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.Clock == nil {
		policy.Clock = RealClock()
	}
	return &RetryingCompleter{inner: inner, policy: policy, logger: logger}
}

// Complete returns the first successful completion. After MaxAttempts
// failures it returns FailureCompletion together with an ExtractionService
// error; a done context returns a Timeout error right away.
func (r *RetryingCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	rid := common.RequestIDFromContext(ctx)
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if n, ok := ctx.Value(attemptsKey{}).(*atomic.Int32); ok {
			n.Add(1)
		}
		text, err := r.inner.Complete(ctx, req)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("llm.retry.recovered", "req_id", rid, "attempt", attempt)
			}
			return text, nil
		}
		if ctx.Err() != nil {
			return "", common.TimeoutError("Extracting", errors.Join(ctx.Err(), err))
		}
		lastErr = err
		r.logger.Warn("llm.retry.attempt_failed",
			"req_id", rid,
			"attempt", attempt,
			"max_attempts", r.policy.MaxAttempts,
			"error", err,
		)
		if attempt == r.policy.MaxAttempts {
			break
		}
		if err := r.policy.Clock.Sleep(ctx, r.policy.Delay); err != nil {
			return "", common.TimeoutError("Extracting", err)
		}
	}
	r.logger.Error("llm.retry.exhausted", "req_id", rid, "attempts", r.policy.MaxAttempts, "error", lastErr)
	return FailureCompletion, common.ExtractionServiceError(FailureMessage, lastErr)
}

type attemptsKey struct{}

// WithAttemptCounter returns a context through which a RetryingCompleter
// reports how many calls it made to the wrapped completer.
func WithAttemptCounter(ctx context.Context) (context.Context, *atomic.Int32) {
	n := new(atomic.Int32)
	return context.WithValue(ctx, attemptsKey{}, n), n
}
