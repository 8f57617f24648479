package resilience

import (
	"errors"
	"syscall"
	"time"
)

const (
	// MaxReconnectRetryTime is the cumulative reconnect budget. Past it the
	// connection is abandoned permanently.
	MaxReconnectRetryTime = time.Hour

	// MaxReconnectAttempts is the number of reconnect attempts per cycle.
	// Past it the transport stops retrying and the connection stays Disconnected.
	MaxReconnectAttempts = 10

	// ReconnectDelayStep is the linear increment of the reconnect delay.
	ReconnectDelayStep = 100 * time.Millisecond

	// MaxReconnectDelay caps the reconnect delay.
	MaxReconnectDelay = 3 * time.Second
)

// ReconnectAttempt describes a reconnection attempt the transport is about to make.
type ReconnectAttempt struct {
	// Err is the failure that triggered this attempt, if known.
	Err error

	// Attempt is the 1-indexed attempt number since the last successful connection.
	Attempt int

	// TotalRetryTime is the time spent reconnecting since the last successful connection.
	TotalRetryTime time.Duration

	// Delay is the wait chosen by the policy. Set by the transport when it
	// reports OnReconnecting.
	Delay time.Duration
}

// ReconnectAction is the outcome of a ReconnectPolicy.
type ReconnectAction int

const (
	// ReconnectRetry waits ReconnectDecision.Delay and dials again.
	ReconnectRetry ReconnectAction = iota

	// ReconnectSkip stops this reconnection cycle silently.
	ReconnectSkip

	// ReconnectAbandon stops reconnecting for good and reports ReconnectDecision.Err.
	ReconnectAbandon
)

// String returns the string representation of the action.
func (a ReconnectAction) String() string {
	switch a {
	case ReconnectRetry:
		return "retry"
	case ReconnectSkip:
		return "skip"
	case ReconnectAbandon:
		return "abandon"
	default:
		return "unknown"
	}
}

// ReconnectDecision is returned by a ReconnectPolicy.
type ReconnectDecision struct {
	// Err is the terminal error for ReconnectAbandon.
	Err error

	Action ReconnectAction

	// Delay is the wait before the next dial for ReconnectRetry.
	Delay time.Duration
}

// TerminalError returns the error a transport reports through OnError for
// ReconnectAbandon. It is always a *ReconnectBudgetExceededError so the client
// recognises it as terminal; a custom policy error becomes its cause.
func (d ReconnectDecision) TerminalError(a ReconnectAttempt) error {
	var budgetErr *ReconnectBudgetExceededError
	if errors.As(d.Err, &budgetErr) {
		return d.Err
	}
	return &ReconnectBudgetExceededError{
		Err:      d.Err,
		Elapsed:  a.TotalRetryTime,
		Attempts: a.Attempt,
	}
}

// ReconnectPolicy is invoked by the transport on every connection drop and
// after every failed reconnection. It is independent from, and runs nested
// inside, the retry loop of ExecuteWithRetry.
type ReconnectPolicy func(attempt ReconnectAttempt) ReconnectDecision

// DefaultReconnectPolicy abandons after an hour of cumulative retry time,
// gives up on the current cycle after 10 attempts and otherwise waits
// attempt x 100ms, capped at 3s.
func DefaultReconnectPolicy(a ReconnectAttempt) ReconnectDecision {
	if a.TotalRetryTime > MaxReconnectRetryTime {
		return ReconnectDecision{
			Action: ReconnectAbandon,
			Err: &ReconnectBudgetExceededError{
				Elapsed:  a.TotalRetryTime,
				Attempts: a.Attempt,
			},
		}
	}

	if a.Attempt > MaxReconnectAttempts {
		return ReconnectDecision{Action: ReconnectSkip}
	}

	return ReconnectDecision{Action: ReconnectRetry, Delay: ReconnectDelay(a.Attempt)}
}

// ReconnectDelay is the linear reconnect backoff: attempt x ReconnectDelayStep,
// capped at MaxReconnectDelay. Attempts below 1 count as 1.
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := time.Duration(attempt) * ReconnectDelayStep
	if delay > MaxReconnectDelay {
		delay = MaxReconnectDelay
	}
	return delay
}

// reconnectPolicy wraps the configured policy with logging. It is the policy
// handed to the transport.
func (c *Client) reconnectPolicy(a ReconnectAttempt) ReconnectDecision {
	if errors.Is(a.Err, syscall.ECONNREFUSED) {
		c.logger.Warn("connection refused by store",
			"addr", c.config.Addr())
	}

	decision := c.config.ReconnectPolicy(a)

	switch decision.Action {
	case ReconnectAbandon:
		c.logger.Error("reconnect time budget exhausted, abandoning connection",
			"attempt", a.Attempt,
			"total_retry_time", a.TotalRetryTime,
			"error", decision.Err)
	case ReconnectSkip:
		c.logger.Warn("reconnect attempts exhausted, giving up this cycle",
			"attempt", a.Attempt)
	default:
		c.logger.Debug("scheduling reconnect",
			"attempt", a.Attempt,
			"delay", decision.Delay)
	}

	return decision
}
