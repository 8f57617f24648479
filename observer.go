package resilience

import "time"

// Observer receives notifications from the client. It is decoupled from the
// retry and backoff logic: notifications are delivered after the decision has
// been made and an Observer cannot influence it.
//
// Implementations must be safe to call from the transport goroutine
// (StatusChanged) and from the caller goroutine at the same time.
type Observer interface {
	// StatusChanged is called after every connection state transition.
	StatusChanged(from, to ConnectionState)

	// RetryAttempted is called when an attempt failed and another one will
	// follow after delay. err is a *TransientOperationError.
	RetryAttempted(op string, attempt int, delay time.Duration, err error)

	// OperationFailed is called when an operation gave up. err is a
	// *RetryExhaustedError or the context error that interrupted the backoff.
	OperationFailed(op string, attempts int, err error)
}

// NopObserver ignores every notification.
type NopObserver struct{}

// StatusChanged implements Observer.
func (NopObserver) StatusChanged(ConnectionState, ConnectionState) {}

// RetryAttempted implements Observer.
func (NopObserver) RetryAttempted(string, int, time.Duration, error) {}

// OperationFailed implements Observer.
func (NopObserver) OperationFailed(string, int, error) {}

// Observers fans notifications out to several observers in order.
func Observers(observers ...Observer) Observer {
	return multiObserver(observers)
}

type multiObserver []Observer

func (m multiObserver) StatusChanged(from, to ConnectionState) {
	for _, o := range m {
		o.StatusChanged(from, to)
	}
}

func (m multiObserver) RetryAttempted(op string, attempt int, delay time.Duration, err error) {
	for _, o := range m {
		o.RetryAttempted(op, attempt, delay, err)
	}
}

func (m multiObserver) OperationFailed(op string, attempts int, err error) {
	for _, o := range m {
		o.OperationFailed(op, attempts, err)
	}
}
