package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	pkgerrors "github.com/JohnPlummer/jp-go-errors"
)

// ErrNotConnected is returned by an attempt made while the logical connection
// is Disconnected or was never established. It is returned without touching
// the transport so the attempt fails fast.
var ErrNotConnected = errors.New("resilience: connection is not established")

var errNoDialer = errors.New("no dialer configured")

// ConnectionSetupError reports that the transport could not be constructed.
// It is fatal for the client.
type ConnectionSetupError struct {
	Err  error
	Addr string
}

// Error implements the error interface.
func (e *ConnectionSetupError) Error() string {
	return fmt.Sprintf("connection setup for %s failed: %v", e.Addr, e.Err)
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *ConnectionSetupError) Unwrap() error {
	return e.Err
}

// TransientOperationError wraps the failure of a single attempt.
// ExecuteWithRetry recovers from it locally and only hands it to the Observer.
type TransientOperationError struct {
	Err     error
	Op      string
	Attempt int
}

// Error implements the error interface.
func (e *TransientOperationError) Error() string {
	return fmt.Sprintf("%s attempt %d failed: %v", e.Op, e.Attempt, e.Err)
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *TransientOperationError) Unwrap() error {
	return e.Err
}

// RetryExhaustedError is returned once every attempt of an operation failed.
// It unwraps to the error of the last attempt.
type RetryExhaustedError struct {
	Err      error
	Op       string
	Attempts int
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// ReconnectBudgetExceededError is the terminal transport condition: the
// cumulative reconnect time went past MaxReconnectRetryTime. Once observed,
// the client stays Disconnected for good.
type ReconnectBudgetExceededError struct {
	// Err is an optional cause supplied by a custom ReconnectPolicy.
	Err      error
	Elapsed  time.Duration
	Attempts int
}

// Error implements the error interface.
func (e *ReconnectBudgetExceededError) Error() string {
	msg := fmt.Sprintf("reconnect abandoned after %s and %d attempts", e.Elapsed.Round(time.Millisecond), e.Attempts)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *ReconnectBudgetExceededError) Unwrap() error {
	return e.Err
}

// FailureKind is a coarse classification of an operation failure.
// It is used for logs and metric labels only; retries never depend on it.
type FailureKind string

const (
	// FailureTransient is any failure not covered by a more specific kind.
	FailureTransient FailureKind = "transient"

	// FailureTimeout is a command or dial that ran out of time.
	FailureTimeout FailureKind = "timeout"

	// FailureNotConnected is an attempt rejected because the connection is down.
	FailureNotConnected FailureKind = "not_connected"

	// FailureAbandoned is an attempt rejected after the reconnect budget was exhausted.
	FailureAbandoned FailureKind = "abandoned"

	// FailureCanceled is a caller cancellation.
	FailureCanceled FailureKind = "canceled"
)

// Classify returns the FailureKind of err.
func Classify(err error) FailureKind {
	var budgetErr *ReconnectBudgetExceededError
	switch {
	case errors.As(err, &budgetErr):
		return FailureAbandoned
	case errors.Is(err, ErrNotConnected):
		return FailureNotConnected
	case errors.Is(err, context.Canceled):
		return FailureCanceled
	case errors.Is(err, context.DeadlineExceeded), pkgerrors.IsTimeout(err):
		return FailureTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}

	return FailureTransient
}
