package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
)

const (
	// DefaultPort is the standard port of the remote store.
	DefaultPort = 6379

	// DefaultMaxRetries is the number of attempts made by ExecuteWithRetry,
	// including the first one.
	DefaultMaxRetries = 5

	// DefaultBaseRetryDelay is the delay before the first retry.
	// Later delays double: 1s, 2s, 4s, 8s...
	DefaultBaseRetryDelay = time.Second

	// DefaultConnectTimeout bounds a single dial of the transport.
	DefaultConnectTimeout = 5 * time.Second

	// DefaultCommandTimeout bounds a single command round trip.
	DefaultCommandTimeout = 5 * time.Second
)

// SleepFunc waits for d or until ctx is done, whichever comes first.
// It returns ctx.Err() when the wait was interrupted.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ClientConfig holds the client configuration.
// It is copied into the Client at construction and never mutated afterwards.
type ClientConfig struct {
	// ReconnectPolicy decides how the transport recovers a dropped connection.
	// Default: DefaultReconnectPolicy
	ReconnectPolicy ReconnectPolicy

	// Observer receives status, retry and failure notifications.
	// Default: NopObserver
	Observer Observer

	// Logger for client operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// Sleep is used for the backoff between attempts.
	// Default: SleepContext
	Sleep SleepFunc

	// Host of the remote store.
	Host string

	// Port of the remote store.
	// Default: 6379
	Port int

	// MaxRetries is the maximum number of attempts per operation (including the first).
	// Default: 5
	MaxRetries int

	// BaseRetryDelay is the delay before the first retry; each following delay doubles.
	// Default: 1 second
	BaseRetryDelay time.Duration

	// ConnectTimeout bounds a single dial.
	// Default: 5 seconds
	ConnectTimeout time.Duration

	// CommandTimeout bounds a single command.
	// Default: 5 seconds
	CommandTimeout time.Duration
}

// Option is a functional option for configuring the client.
type Option func(*ClientConfig)

// WithPort sets the port of the remote store.
func WithPort(port int) Option {
	return func(c *ClientConfig) {
		c.Port = port
	}
}

// WithMaxRetries sets the maximum number of attempts per operation.
//
// Example:
//
//	resilience.WithMaxRetries(3) // try up to 3 times total
func WithMaxRetries(attempts int) Option {
	return func(c *ClientConfig) {
		c.MaxRetries = attempts
	}
}

// WithBaseRetryDelay sets the delay before the first retry.
//
// Example:
//
//	resilience.WithBaseRetryDelay(500 * time.Millisecond)
//	// Delays: 500ms, 1s, 2s, 4s
func WithBaseRetryDelay(delay time.Duration) Option {
	return func(c *ClientConfig) {
		c.BaseRetryDelay = delay
	}
}

// WithConnectTimeout sets the dial timeout handed to the transport.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *ClientConfig) {
		c.ConnectTimeout = timeout
	}
}

// WithCommandTimeout sets the per-command timeout handed to the transport.
func WithCommandTimeout(timeout time.Duration) Option {
	return func(c *ClientConfig) {
		c.CommandTimeout = timeout
	}
}

// WithReconnectPolicy replaces the transport-level reconnect policy.
func WithReconnectPolicy(policy ReconnectPolicy) Option {
	return func(c *ClientConfig) {
		c.ReconnectPolicy = policy
	}
}

// WithObserver sets the observer notified about state changes, retries and failures.
//
// Example:
//
//	obs, _ := promobserver.New(prometheus.DefaultRegisterer)
//	resilience.WithObserver(obs)
func WithObserver(observer Observer) Option {
	return func(c *ClientConfig) {
		c.Observer = observer
	}
}

// WithLogger sets a custom logger for client operations.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	resilience.WithLogger(logger)
func WithLogger(logger *slog.Logger) Option {
	return func(c *ClientConfig) {
		c.Logger = logger
	}
}

// WithSleep replaces the function used to wait between attempts.
// Tests use it to record backoff delays without waiting for them.
func WithSleep(sleep SleepFunc) Option {
	return func(c *ClientConfig) {
		c.Sleep = sleep
	}
}

// DefaultClientConfig returns the client configuration with sensible defaults.
func DefaultClientConfig(host string) *ClientConfig {
	return &ClientConfig{
		Host:            host,
		Port:            DefaultPort,
		MaxRetries:      DefaultMaxRetries,
		BaseRetryDelay:  DefaultBaseRetryDelay,
		ConnectTimeout:  DefaultConnectTimeout,
		CommandTimeout:  DefaultCommandTimeout,
		ReconnectPolicy: DefaultReconnectPolicy,
		Observer:        NopObserver{},
		Logger:          slog.Default(),
		Sleep:           SleepContext,
	}
}

// Addr returns the host:port address of the remote store.
func (c ClientConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate reports every configuration problem found, joined into one error.
func (c ClientConfig) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host must not be empty"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("max retries must be at least 1, got %d", c.MaxRetries))
	}
	if c.BaseRetryDelay < 0 {
		errs = append(errs, fmt.Errorf("base retry delay must not be negative, got %s", c.BaseRetryDelay))
	}
	return errors.Join(errs...)
}

// SleepContext waits for d, returning early with ctx.Err() if ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
