package resilience

// HealthStatus is a point-in-time view of the client: connection state plus
// cumulative retry statistics.
type HealthStatus struct {
	// Healthy is true while the state is connected.
	Healthy bool `json:"healthy"`

	// Abandoned is true once the reconnect budget has been exhausted.
	Abandoned bool `json:"abandoned"`

	// State is the connection state ("disconnected", "connecting", "connected").
	State string `json:"state"`

	// LastError is the last error an operation gave up with.
	LastError string `json:"last_error,omitempty"`

	// TotalAttempts is the number of attempts across all operations.
	TotalAttempts int64 `json:"total_attempts"`

	// TotalRetries is the number of attempts that were retries.
	TotalRetries int64 `json:"total_retries"`

	// TotalSuccesses is the number of operations that succeeded.
	TotalSuccesses int64 `json:"total_successes"`

	// TotalFailures is the number of operations that gave up.
	TotalFailures int64 `json:"total_failures"`
}

// Health returns the current health status of the client.
func (c *Client) Health() HealthStatus {
	state := c.State()
	stats := c.GetRetryStats()

	status := HealthStatus{
		Healthy:        state == StateConnected,
		Abandoned:      c.Abandoned() != nil,
		State:          state.String(),
		TotalAttempts:  stats.TotalAttempts,
		TotalRetries:   stats.TotalRetries,
		TotalSuccesses: stats.TotalSuccesses,
		TotalFailures:  stats.TotalFailures,
	}
	if stats.LastError != nil {
		status.LastError = stats.LastError.Error()
	}
	return status
}
