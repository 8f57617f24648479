// Package redistransport implements resilience.Transport on top of go-redis.
//
// go-redis reconnects lazily and reports nothing about it, so the transport
// runs a supervisor goroutine that probes the connection, turns the outcome
// into connect/error/end/reconnecting events and paces reconnection with the
// resilience.ReconnectPolicy it was dialed with. go-redis' own command retries
// are disabled: retrying is the job of resilience.ExecuteWithRetry.
package redistransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/JohnPlummer/jp-go-errors"
	"github.com/redis/go-redis/v9"

	resilience "github.com/JohnPlummer/jp-go-cache-resilience"
)

// DefaultHeartbeat is the interval between connectivity probes while connected.
const DefaultHeartbeat = time.Second

type config struct {
	logger    *slog.Logger
	heartbeat time.Duration
}

// Option configures the transport.
type Option func(*config)

// WithHeartbeat sets the interval between connectivity probes while connected.
func WithHeartbeat(d time.Duration) Option {
	return func(c *config) {
		c.heartbeat = d
	}
}

// WithLogger sets a custom logger for the transport.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// NewDialer returns a resilience.Dialer producing go-redis backed transports.
func NewDialer(opts ...Option) resilience.Dialer {
	return resilience.DialerFunc(func(cfg resilience.DialConfig) (resilience.Transport, error) {
		return Dial(cfg, opts...)
	})
}

// Transport is a single logical go-redis connection with lifecycle events.
type Transport struct {
	client *redis.Client
	events resilience.TransportEvents
	policy resilience.ReconnectPolicy
	logger *slog.Logger

	heartbeat      time.Duration
	probeTimeout   time.Duration
	commandTimeout time.Duration

	connected atomic.Bool
	nudge     chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	quitOnce  sync.Once
	quitErr   error
}

var _ resilience.Transport = (*Transport)(nil)

// Dial validates cfg, builds the go-redis client and starts the supervisor.
// It returns before the first connection attempt completes.
func Dial(cfg resilience.DialConfig, opts ...Option) (*Transport, error) {
	c := &config{
		logger:    slog.Default(),
		heartbeat: DefaultHeartbeat,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.heartbeat <= 0 {
		c.heartbeat = DefaultHeartbeat
	}

	if cfg.Events == nil {
		return nil, errors.New("redistransport: dial config has no event sink")
	}
	if err := validateAddr(cfg.Addr); err != nil {
		return nil, err
	}

	policy := cfg.ReconnectPolicy
	if policy == nil {
		policy = resilience.DefaultReconnectPolicy
	}

	t := &Transport{
		events:         cfg.Events,
		policy:         policy,
		logger:         c.logger.With("addr", cfg.Addr),
		heartbeat:      c.heartbeat,
		probeTimeout:   cfg.ConnectTimeout + cfg.CommandTimeout,
		commandTimeout: cfg.CommandTimeout,
		nudge:          make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
	if t.probeTimeout <= 0 {
		t.probeTimeout = resilience.DefaultConnectTimeout + resilience.DefaultCommandTimeout
	}

	t.client = redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		DialTimeout:  cfg.ConnectTimeout,
		ReadTimeout:  cfg.CommandTimeout,
		WriteTimeout: cfg.CommandTimeout,
		PoolSize:     1,
		MaxRetries:   -1,
	})
	t.client.AddHook(probeHook{nudge: t.nudge})

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.supervise(ctx)

	return t, nil
}

func validateAddr(addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("redistransport: invalid address %q: %w", addr, err)
	}
	if host == "" {
		return fmt.Errorf("redistransport: invalid address %q: empty host", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("redistransport: invalid address %q: bad port", addr)
	}
	return nil
}

// supervise owns the connected flag and is the only emitter of connect,
// reconnecting and policy-driven error events.
func (t *Transport) supervise(ctx context.Context) {
	defer close(t.done)

	var (
		attempt    int
		retryStart time.Time
	)

	for {
		err := t.probe(ctx)
		if ctx.Err() != nil {
			return
		}

		if err == nil {
			if !t.connected.Swap(true) {
				attempt = 0
				t.events.OnConnect()
			}
			if !t.waitHeartbeat(ctx) {
				return
			}
			continue
		}

		t.events.OnError(err)
		if t.connected.Swap(false) {
			t.events.OnEnd()
		}

		if attempt == 0 {
			retryStart = time.Now()
		}
		attempt++

		a := resilience.ReconnectAttempt{
			Attempt:        attempt,
			TotalRetryTime: time.Since(retryStart),
			Err:            err,
		}
		d := t.policy(a)

		switch d.Action {
		case resilience.ReconnectSkip:
			t.logger.Warn("reconnection stopped, connection stays down",
				"attempt", attempt)
			return
		case resilience.ReconnectAbandon:
			t.events.OnError(d.TerminalError(a))
			return
		}

		a.Delay = d.Delay
		t.events.OnReconnecting(a)

		if resilience.SleepContext(ctx, d.Delay) != nil {
			return
		}
	}
}

func (t *Transport) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.probeTimeout)
	defer cancel()
	return t.client.Ping(ctx).Err()
}

// waitHeartbeat waits for the next probe. A failed command cuts the wait short.
func (t *Transport) waitHeartbeat(ctx context.Context) bool {
	timer := time.NewTimer(t.heartbeat)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.nudge:
		return true
	case <-timer.C:
		return true
	}
}

// Ping sends PING.
func (t *Transport) Ping(ctx context.Context) (string, error) {
	res, err := t.client.Ping(ctx).Result()
	return res, t.mapError("ping", err)
}

// Get reads key; a missing key is reported with found == false.
func (t *Transport) Get(ctx context.Context, key string) (string, bool, error) {
	res, err := t.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, t.mapError("get", err)
	}
	return res, true, nil
}

// Set writes key, with an expiry when one is passed.
func (t *Transport) Set(ctx context.Context, key, value string, expiry ...time.Duration) (string, error) {
	var ttl time.Duration
	if len(expiry) > 0 {
		ttl = expiry[0]
	}
	res, err := t.client.Set(ctx, key, value, ttl).Result()
	return res, t.mapError("set", err)
}

// Incr increments key.
func (t *Transport) Incr(ctx context.Context, key string) (int64, error) {
	res, err := t.client.Incr(ctx, key).Result()
	return res, t.mapError("incr", err)
}

// HSet sets one field of hash.
func (t *Transport) HSet(ctx context.Context, hash, field, value string) (int64, error) {
	res, err := t.client.HSet(ctx, hash, field, value).Result()
	return res, t.mapError("hset", err)
}

// HGetAll reads every field of hash.
func (t *Transport) HGetAll(ctx context.Context, hash string) (map[string]string, error) {
	res, err := t.client.HGetAll(ctx, hash).Result()
	return res, t.mapError("hgetall", err)
}

// Quit stops the supervisor, closes the go-redis client and emits end.
// Later calls return the first result.
func (t *Transport) Quit(_ context.Context) error {
	t.quitOnce.Do(func() {
		t.cancel()
		<-t.done
		t.quitErr = t.client.Close()
		t.connected.Store(false)
		t.events.OnEnd()
	})
	return t.quitErr
}

// mapError turns command timeouts into jp-go-errors timeout errors so they
// classify as resilience.FailureTimeout.
func (t *Transport) mapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		t.logger.Debug("command timed out", "operation", op, "error", err)
		return pkgerrors.NewTimeoutError("command timed out", op, t.commandTimeout)
	}
	return err
}

// probeHook wakes the supervisor when a command fails at the connection level,
// so a drop is noticed before the next heartbeat.
type probeHook struct {
	nudge chan struct{}
}

func (h probeHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h probeHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if isConnectionError(err) {
			select {
			case h.nudge <- struct{}{}:
			default:
			}
		}
		return err
	}
}

func (h probeHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func isConnectionError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, redis.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
