package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// Operation is the uniform contract every store primitive satisfies once its
// arguments are bound: a context in, a result or an error out.
type Operation[T any] func(ctx context.Context) (T, error)

// RetryOutcome is the result of one Execute call: either Value or Err, plus
// the attempt at which it resolved.
type RetryOutcome[T any] struct {
	Value    T
	Err      error
	Attempts int
}

// retryStats tracks retry operation statistics.
type retryStats struct {
	mu              sync.RWMutex
	totalAttempts   int64
	totalRetries    int64
	totalSuccesses  int64
	totalFailures   int64
	lastAttemptTime time.Time
	lastError       error
}

func (s *retryStats) recordAttempt(attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalAttempts++
	if attempt > 1 {
		s.totalRetries++
	}
	s.lastAttemptTime = time.Now()
}

func (s *retryStats) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalSuccesses++
}

func (s *retryStats) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalFailures++
	s.lastError = err
}

// ExecuteWithRetry runs op through the client's retry policy and returns its
// value, or the error of the last attempt wrapped in a *RetryExhaustedError.
//
// Example:
//
//	n, err := resilience.ExecuteWithRetry(ctx, client, "dbsize", func(ctx context.Context) (int64, error) {
//	    return rdb.DBSize(ctx).Result()
//	})
func ExecuteWithRetry[T any](ctx context.Context, c *Client, name string, op Operation[T]) (T, error) {
	out := Execute(ctx, c, name, op)
	return out.Value, out.Err
}

// Execute attempts op up to MaxRetries times. After a failed attempt n with
// attempts remaining it sleeps BaseRetryDelay * 2^(n-1) and tries again.
// Every error is retried the same way; there is no classification-based
// short circuit. An attempt made while the connection is Disconnected fails
// fast with ErrNotConnected and counts like any other failure.
func Execute[T any](ctx context.Context, c *Client, name string, op Operation[T]) RetryOutcome[T] {
	maxRetries := c.config.MaxRetries
	if maxRetries <= 0 {
		return RetryOutcome[T]{Err: errors.New("max retries must be positive")}
	}

	// Check if parent context is already done before attempting anything
	if err := ctx.Err(); err != nil {
		c.logger.Warn("context already done before operation (expected condition)",
			"operation", name,
			"error", err)
		return RetryOutcome[T]{Err: err}
	}

	backoff := newBackoff(c.config.BaseRetryDelay, maxRetries)

	for attempt := 1; ; attempt++ {
		c.stats.recordAttempt(attempt)

		value, err := runAttempt(ctx, c, op)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("operation succeeded after retry",
					"operation", name,
					"attempt", attempt)
			}
			c.stats.recordSuccess()
			return RetryOutcome[T]{Value: value, Attempts: attempt}
		}

		c.logger.Warn("operation attempt failed",
			"operation", name,
			"attempt", attempt,
			"kind", Classify(err),
			"error", err)

		delay, stop := backoff.Next()
		if stop {
			exhausted := &RetryExhaustedError{Op: name, Attempts: attempt, Err: err}
			c.logger.Error("all attempts failed",
				"operation", name,
				"attempts", attempt,
				"error", err)
			c.stats.recordFailure(exhausted)
			c.observer.OperationFailed(name, attempt, exhausted)
			return RetryOutcome[T]{Err: exhausted, Attempts: attempt}
		}

		c.logger.Debug("waiting before next attempt",
			"operation", name,
			"attempt", attempt,
			"delay", delay)
		c.observer.RetryAttempted(name, attempt, delay, &TransientOperationError{Op: name, Attempt: attempt, Err: err})

		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			c.logger.Warn("context done during backoff (expected condition)",
				"operation", name,
				"attempt", attempt,
				"error", sleepErr)
			c.stats.recordFailure(sleepErr)
			c.observer.OperationFailed(name, attempt, sleepErr)
			return RetryOutcome[T]{Err: sleepErr, Attempts: attempt}
		}
	}
}

func runAttempt[T any](ctx context.Context, c *Client, op Operation[T]) (T, error) {
	if err := c.gate(); err != nil {
		var zero T
		return zero, err
	}
	return op(ctx)
}

// newBackoff returns the delay sequence base, 2*base, 4*base... that stops
// after maxRetries-1 values, since the first attempt is not a retry.
func newBackoff(base time.Duration, maxRetries int) retry.Backoff {
	var next retry.Backoff
	if base > 0 {
		next = retry.NewExponential(base)
	} else {
		next = retry.BackoffFunc(func() (time.Duration, bool) {
			return 0, false
		})
	}

	retries := maxRetries - 1
	if retries < 0 {
		retries = 0
	}

	return retry.WithMaxRetries(uint64(retries), next) // #nosec G115 - bounds checked above
}

// RetryStats holds statistics about retry operations.
type RetryStats struct {
	// LastAttemptTime is the time of the last attempt
	LastAttemptTime time.Time

	// LastError is the last error an operation gave up with (if any)
	LastError error

	// TotalAttempts is the total number of attempts made (including initial and retries)
	TotalAttempts int64

	// TotalRetries is the number of retry attempts (not including initial attempts)
	TotalRetries int64

	// TotalSuccesses is the number of successful operations
	TotalSuccesses int64

	// TotalFailures is the number of failed operations (after all retries exhausted)
	TotalFailures int64
}

// GetRetryStats returns a snapshot of the retry statistics.
func (c *Client) GetRetryStats() RetryStats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()

	return RetryStats{
		TotalAttempts:   c.stats.totalAttempts,
		TotalRetries:    c.stats.totalRetries,
		TotalSuccesses:  c.stats.totalSuccesses,
		TotalFailures:   c.stats.totalFailures,
		LastAttemptTime: c.stats.lastAttemptTime,
		LastError:       c.stats.lastError,
	}
}
