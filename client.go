// Package resilience provides a cache client that keeps a single logical
// connection to a remote in-memory store usable across broker restarts,
// failovers and transient network partitions.
//
// Two nested layers do the work. The transport reconnects on its own, driven
// by a ReconnectPolicy (linear backoff capped at 3s, bounded attempts and a
// one hour budget). On top of it, every operation is routed through
// ExecuteWithRetry, which retries any failure with exponential backoff before
// surfacing it. Callers never have to reason about connection state.
package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Transport is the underlying store connection. Implementations live in the
// redistransport and memstore packages.
//
// Get reports absent keys with found == false and a nil error.
// Set forwards the optional expiry as an extra argument; implementations must
// treat a call without it as a plain write.
type Transport interface {
	Ping(ctx context.Context) (string, error)
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string, expiry ...time.Duration) (string, error)
	Incr(ctx context.Context, key string) (int64, error)
	HSet(ctx context.Context, hash, field, value string) (int64, error)
	HGetAll(ctx context.Context, hash string) (map[string]string, error)

	// Quit closes the connection gracefully and emits OnEnd.
	Quit(ctx context.Context) error
}

// TransportEvents receives the four lifecycle events of a transport.
// Implementations may be called from any goroutine.
type TransportEvents interface {
	OnConnect()
	OnError(err error)
	OnEnd()
	OnReconnecting(attempt ReconnectAttempt)
}

// DialConfig is everything a Dialer needs to build a Transport.
type DialConfig struct {
	Events          TransportEvents
	ReconnectPolicy ReconnectPolicy
	Addr            string
	ConnectTimeout  time.Duration
	CommandTimeout  time.Duration
}

// Dialer constructs a Transport. Dial must return as soon as the handle
// exists; connection establishment is reported later through Events.
type Dialer interface {
	Dial(cfg DialConfig) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(cfg DialConfig) (Transport, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(cfg DialConfig) (Transport, error) {
	return f(cfg)
}

// Client owns one logical connection to the store and exposes retrying
// variants of the store primitives.
//
// Operations are meant to be issued one at a time. Transport callbacks may
// fire concurrently with an in-flight operation; an attempt that observes a
// Disconnected state fails fast and the retry loop takes care of recovery.
type Client struct {
	dialer   Dialer
	logger   *slog.Logger
	observer Observer
	sleep    SleepFunc
	stats    *retryStats

	mu        sync.Mutex
	transport Transport

	stateMu     sync.RWMutex
	terminalErr error
	config      ClientConfig
	state       ConnectionState
}

// NewClient creates a client for host. Options are applied on top of
// DefaultClientConfig. The configuration is validated by Connect.
//
// Example:
//
//	client := resilience.NewClient(
//	    "cache.example.com",
//	    redistransport.NewDialer(),
//	    resilience.WithMaxRetries(5),
//	    resilience.WithBaseRetryDelay(time.Second),
//	)
func NewClient(host string, dialer Dialer, opts ...Option) *Client {
	config := DefaultClientConfig(host)
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Observer == nil {
		config.Observer = NopObserver{}
	}
	if config.Sleep == nil {
		config.Sleep = SleepContext
	}
	if config.ReconnectPolicy == nil {
		config.ReconnectPolicy = DefaultReconnectPolicy
	}

	config.Logger.Debug("store client configured", "addr", config.Addr())

	return &Client{
		dialer:   dialer,
		logger:   config.Logger,
		observer: config.Observer,
		sleep:    config.Sleep,
		stats:    &retryStats{},
		config:   *config,
		state:    StateDisconnected,
	}
}

// Config returns a copy of the client configuration.
func (c *Client) Config() ClientConfig {
	return c.config
}

// Connect creates the transport handle and registers for its lifecycle
// events. It does not wait for the connection to be established: operations
// issued before that retry until it is, or until their attempts run out.
//
// Calling Connect on a client that already holds a handle is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transport != nil {
		return nil
	}

	addr := c.config.Addr()
	if err := c.config.Validate(); err != nil {
		c.logger.Error("invalid client configuration", "addr", addr, "error", err)
		return &ConnectionSetupError{Addr: addr, Err: err}
	}
	if c.dialer == nil {
		return &ConnectionSetupError{Addr: addr, Err: errNoDialer}
	}

	c.transition(eventDial, nil)

	events := lifecycle{client: c}
	transport, err := c.dialer.Dial(DialConfig{
		Events:          events,
		ReconnectPolicy: c.reconnectPolicy,
		Addr:            addr,
		ConnectTimeout:  c.config.ConnectTimeout,
		CommandTimeout:  c.config.CommandTimeout,
	})
	if err != nil {
		c.logger.Error("failed to create store connection", "addr", addr, "error", err)
		c.transition(eventEnd, nil)
		return &ConnectionSetupError{Addr: addr, Err: err}
	}

	c.transport = transport
	return nil
}

// Disconnect closes the connection gracefully. It is safe to call when never
// connected or already disconnected.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	transport := c.transport
	c.transport = nil
	c.mu.Unlock()

	if transport == nil {
		return nil
	}

	c.logger.Info("disconnecting from store", "addr", c.config.Addr())
	return transport.Quit(ctx)
}

func (c *Client) handle() (Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil {
		return nil, ErrNotConnected
	}
	return c.transport, nil
}

// bind turns a transport primitive into an Operation bound to this client.
func bind[T any](c *Client, fn func(ctx context.Context, t Transport) (T, error)) Operation[T] {
	return func(ctx context.Context) (T, error) {
		t, err := c.handle()
		if err != nil {
			var zero T
			return zero, err
		}
		return fn(ctx, t)
	}
}

// Ping checks connectivity, retrying on failure.
func (c *Client) Ping(ctx context.Context) (string, error) {
	return ExecuteWithRetry(ctx, c, "ping", bind(c, func(ctx context.Context, t Transport) (string, error) {
		return t.Ping(ctx)
	}))
}

// Set writes key. When an expiry greater than zero is given it is forwarded to
// the transport; otherwise the key is written without one.
func (c *Client) Set(ctx context.Context, key, value string, expiry ...time.Duration) (string, error) {
	return ExecuteWithRetry(ctx, c, "set", bind(c, func(ctx context.Context, t Transport) (string, error) {
		if len(expiry) > 0 && expiry[0] > 0 {
			return t.Set(ctx, key, value, expiry[0])
		}
		return t.Set(ctx, key, value)
	}))
}

type getResult struct {
	value string
	found bool
}

// Get reads key. found is false when the key does not exist.
func (c *Client) Get(ctx context.Context, key string) (value string, found bool, err error) {
	res, err := ExecuteWithRetry(ctx, c, "get", bind(c, func(ctx context.Context, t Transport) (getResult, error) {
		v, ok, err := t.Get(ctx, key)
		return getResult{value: v, found: ok}, err
	}))
	return res.value, res.found, err
}

// Incr increments the integer stored at key and returns the new value.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return ExecuteWithRetry(ctx, c, "incr", bind(c, func(ctx context.Context, t Transport) (int64, error) {
		return t.Incr(ctx, key)
	}))
}

// HSet sets field in hash and returns the number of fields added.
func (c *Client) HSet(ctx context.Context, hash, field, value string) (int64, error) {
	return ExecuteWithRetry(ctx, c, "hset", bind(c, func(ctx context.Context, t Transport) (int64, error) {
		return t.HSet(ctx, hash, field, value)
	}))
}

// HGetAll returns every field of hash. A missing hash yields an empty map.
func (c *Client) HGetAll(ctx context.Context, hash string) (map[string]string, error) {
	return ExecuteWithRetry(ctx, c, "hgetall", bind(c, func(ctx context.Context, t Transport) (map[string]string, error) {
		return t.HGetAll(ctx, hash)
	}))
}
