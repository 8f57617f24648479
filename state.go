package resilience

import "errors"

// ConnectionState is the state of the logical connection.
type ConnectionState int

const (
	// StateDisconnected means there is no usable connection. Attempts fail fast.
	StateDisconnected ConnectionState = iota

	// StateConnecting means a dial or reconnect is in progress.
	StateConnecting

	// StateConnected means the transport reported a successful connection.
	StateConnected
)

// String returns the string representation of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

type lifecycleEvent int

const (
	eventDial lifecycleEvent = iota
	eventConnect
	eventError
	eventEnd
	eventReconnecting
)

func (e lifecycleEvent) String() string {
	switch e {
	case eventDial:
		return "dial"
	case eventConnect:
		return "connect"
	case eventError:
		return "error"
	case eventEnd:
		return "end"
	case eventReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// lifecycle is the TransportEvents implementation handed to the transport.
// It is the only path by which the transport can move the state machine;
// Client itself exposes no setter.
type lifecycle struct {
	client *Client
}

var _ TransportEvents = lifecycle{}

func (l lifecycle) OnConnect() {
	l.client.logger.Info("connected to store", "addr", l.client.config.Addr())
	l.client.transition(eventConnect, nil)
}

func (l lifecycle) OnError(err error) {
	l.client.logger.Warn("store connection error", "error", err)
	l.client.transition(eventError, err)
}

func (l lifecycle) OnEnd() {
	l.client.logger.Warn("store connection closed")
	l.client.transition(eventEnd, nil)
}

func (l lifecycle) OnReconnecting(a ReconnectAttempt) {
	l.client.logger.Info("reconnecting to store",
		"attempt", a.Attempt,
		"delay", a.Delay)
	l.client.transition(eventReconnecting, nil)
}

// transition is the single mutation point of the connection state.
//
//	Disconnected --dial--------> Connecting
//	Connecting   --connect-----> Connected
//	any          --error/end---> Disconnected
//	Disconnected --reconnecting-> Connecting
//
// A ReconnectBudgetExceededError delivered with an error event makes the
// Disconnected state terminal: later connect/reconnecting events are ignored.
func (c *Client) transition(ev lifecycleEvent, err error) {
	c.stateMu.Lock()
	from := c.state
	to := from

	switch ev {
	case eventDial:
		if c.terminalErr == nil {
			to = StateConnecting
		}
	case eventConnect:
		if c.terminalErr == nil {
			to = StateConnected
		}
	case eventError:
		to = StateDisconnected
		var budgetErr *ReconnectBudgetExceededError
		if errors.As(err, &budgetErr) {
			c.terminalErr = err
		}
	case eventEnd:
		to = StateDisconnected
	case eventReconnecting:
		if c.terminalErr == nil && from != StateConnected {
			to = StateConnecting
		}
	}

	c.state = to
	c.stateMu.Unlock()

	if from != to {
		c.logger.Debug("connection state changed",
			"event", ev.String(),
			"from", from.String(),
			"to", to.String())
		c.observer.StatusChanged(from, to)
	}
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Connected reports whether the state is StateConnected.
func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

// Abandoned returns the terminal reconnect error, or nil while the client can
// still recover.
func (c *Client) Abandoned() error {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.terminalErr
}

// gate fails an attempt fast when the connection cannot serve it.
func (c *Client) gate() error {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()

	if c.terminalErr != nil {
		return c.terminalErr
	}
	if c.state == StateDisconnected {
		return ErrNotConnected
	}
	return nil
}
