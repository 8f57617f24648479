// Package memstore is an in-process key-value store that implements the
// resilience.Transport contract. It supports scripted failures and simulated
// connection drops, which makes it the store of choice for tests and for
// running the workload harness without a server.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	resilience "github.com/JohnPlummer/jp-go-cache-resilience"
)

// Operation names accepted by the fault injection methods and reported in Call.Op.
const (
	OpPing    = "ping"
	OpGet     = "get"
	OpSet     = "set"
	OpIncr    = "incr"
	OpHSet    = "hset"
	OpHGetAll = "hgetall"
)

var (
	// ErrUnavailable is returned while the store is dropped.
	ErrUnavailable = errors.New("memstore: store unavailable")

	// ErrClosed is returned by a connection after Quit.
	ErrClosed = errors.New("memstore: connection closed")

	// ErrNotInteger mirrors the store's reply to INCR on a non-integer value.
	ErrNotInteger = errors.New("memstore: value is not an integer or out of range")
)

// Call records one primitive invocation as the store received it.
type Call struct {
	Op   string
	Args []string
}

type entry struct {
	expiresAt time.Time
	value     string
}

type fault struct {
	err       error
	remaining int // negative means every call
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for key expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store is the shared data behind every connection dialed from it.
type Store struct {
	mu      sync.Mutex
	now     func() time.Time
	strings map[string]entry
	hashes  map[string]map[string]string
	faults  map[string]*fault
	conns   map[*conn]struct{}
	downErr error
	calls   []Call
	down    bool
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:     time.Now,
		strings: make(map[string]entry),
		hashes:  make(map[string]map[string]string),
		faults:  make(map[string]*fault),
		conns:   make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dialer returns a resilience.Dialer that connects to this store.
func (s *Store) Dialer() resilience.Dialer {
	return resilience.DialerFunc(func(cfg resilience.DialConfig) (resilience.Transport, error) {
		return s.Dial(cfg)
	})
}

// Dial opens a connection. The connect event is delivered before Dial returns
// unless the store is dropped, in which case the error event is.
func (s *Store) Dial(cfg resilience.DialConfig) (resilience.Transport, error) {
	if cfg.Events == nil {
		return nil, errors.New("memstore: dial config has no event sink")
	}

	policy := cfg.ReconnectPolicy
	if policy == nil {
		policy = resilience.DefaultReconnectPolicy
	}

	c := &conn{store: s, events: cfg.Events, policy: policy}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	down, downErr := s.down, s.downErr
	if down {
		c.reconnecting = true
	}
	s.mu.Unlock()

	if down {
		c.events.OnError(downErr)
		c.nextAttempt(downErr, 0)
		return c, nil
	}

	c.events.OnConnect()
	return c, nil
}

// FailNext makes the next n calls of op fail with err.
func (s *Store) FailNext(op string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = &fault{err: err, remaining: n}
}

// FailAlways makes every call of op fail with err until ClearFaults.
func (s *Store) FailAlways(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = &fault{err: err, remaining: -1}
}

// ClearFaults removes every scripted failure.
func (s *Store) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[string]*fault)
}

// Calls returns the recorded invocations of op, or of every op when op is empty.
func (s *Store) Calls(op string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Call
	for _, c := range s.calls {
		if op == "" || c.Op == op {
			out = append(out, Call{Op: c.Op, Args: append([]string(nil), c.Args...)})
		}
	}
	return out
}

// Drop simulates a lost connection: every open connection reports err and
// end, then asks its reconnect policy for the first attempt. Calls fail with
// ErrUnavailable until Restore.
func (s *Store) Drop(err error) {
	if err == nil {
		err = ErrUnavailable
	}

	s.mu.Lock()
	s.down = true
	s.downErr = err
	conns := s.openConns()
	for _, c := range conns {
		c.reconnecting = true
		c.attempt = 0
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.events.OnError(err)
		c.events.OnEnd()
		c.nextAttempt(err, 0)
	}
}

// FailReconnect simulates another failed reconnection attempt on every
// connection still reconnecting, after total time spent reconnecting.
func (s *Store) FailReconnect(total time.Duration) {
	s.mu.Lock()
	err := s.downErr
	var conns []*conn
	for _, c := range s.openConns() {
		if c.reconnecting {
			conns = append(conns, c)
		}
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.events.OnError(err)
		c.nextAttempt(err, total)
	}
}

// Restore brings the store back. Connections whose policy is still retrying
// reconnect; connections that gave up stay disconnected.
func (s *Store) Restore() {
	s.mu.Lock()
	s.down = false
	s.downErr = nil
	var conns []*conn
	for _, c := range s.openConns() {
		if c.reconnecting {
			c.reconnecting = false
			c.attempt = 0
			conns = append(conns, c)
		}
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.events.OnConnect()
	}
}

// openConns must be called with s.mu held.
func (s *Store) openConns() []*conn {
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

// begin records the call and returns the error it must fail with, if any.
// It must be called with s.mu held.
func (s *Store) begin(c *conn, op string, args ...string) error {
	s.calls = append(s.calls, Call{Op: op, Args: args})

	if c.closed {
		return ErrClosed
	}
	if s.down {
		return s.downErr
	}
	if f, ok := s.faults[op]; ok {
		if f.remaining < 0 {
			return f.err
		}
		if f.remaining > 0 {
			f.remaining--
			if f.remaining == 0 {
				delete(s.faults, op)
			}
			return f.err
		}
	}
	return nil
}

// conn is one logical connection to a Store.
type conn struct {
	store  *Store
	events resilience.TransportEvents
	policy resilience.ReconnectPolicy

	// guarded by store.mu
	attempt      int
	reconnecting bool
	closed       bool
}

var _ resilience.Transport = (*conn)(nil)

// nextAttempt consults the reconnect policy and reports the outcome.
func (c *conn) nextAttempt(cause error, total time.Duration) {
	c.store.mu.Lock()
	c.attempt++
	a := resilience.ReconnectAttempt{Attempt: c.attempt, TotalRetryTime: total, Err: cause}
	c.store.mu.Unlock()

	d := c.policy(a)
	switch d.Action {
	case resilience.ReconnectRetry:
		a.Delay = d.Delay
		c.events.OnReconnecting(a)
	case resilience.ReconnectSkip:
		c.stopReconnecting()
	case resilience.ReconnectAbandon:
		c.stopReconnecting()
		c.events.OnError(d.TerminalError(a))
	}
}

func (c *conn) stopReconnecting() {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.reconnecting = false
}

func (c *conn) Ping(_ context.Context) (string, error) {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(c, OpPing); err != nil {
		return "", err
	}
	return "PONG", nil
}

func (c *conn) Get(_ context.Context, key string) (string, bool, error) {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(c, OpGet, key); err != nil {
		return "", false, err
	}

	e, ok := s.lookup(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *conn) Set(_ context.Context, key, value string, expiry ...time.Duration) (string, error) {
	args := []string{key, value}
	if len(expiry) > 0 {
		args = append(args, "EX", strconv.FormatInt(int64(expiry[0]/time.Second), 10))
	}

	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(c, OpSet, args...); err != nil {
		return "", err
	}

	e := entry{value: value}
	if len(expiry) > 0 && expiry[0] > 0 {
		e.expiresAt = s.now().Add(expiry[0])
	}
	s.strings[key] = e
	return "OK", nil
}

func (c *conn) Incr(_ context.Context, key string) (int64, error) {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(c, OpIncr, key); err != nil {
		return 0, err
	}

	var n int64
	e, ok := s.lookup(key)
	if ok {
		parsed, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("incr %q: %w", key, ErrNotInteger)
		}
		n = parsed
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	s.strings[key] = e
	return n, nil
}

func (c *conn) HSet(_ context.Context, hash, field, value string) (int64, error) {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(c, OpHSet, hash, field, value); err != nil {
		return 0, err
	}

	h, ok := s.hashes[hash]
	if !ok {
		h = make(map[string]string)
		s.hashes[hash] = h
	}
	_, existed := h[field]
	h[field] = value
	if existed {
		return 0, nil
	}
	return 1, nil
}

func (c *conn) HGetAll(_ context.Context, hash string) (map[string]string, error) {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.begin(c, OpHGetAll, hash); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(s.hashes[hash]))
	for k, v := range s.hashes[hash] {
		out[k] = v
	}
	return out, nil
}

// Quit closes the connection and emits the end event once.
func (c *conn) Quit(_ context.Context) error {
	s := c.store
	s.mu.Lock()
	if c.closed {
		s.mu.Unlock()
		return nil
	}
	c.closed = true
	c.reconnecting = false
	delete(s.conns, c)
	s.mu.Unlock()

	c.events.OnEnd()
	return nil
}

// lookup returns the live entry for key, evicting it if expired.
// It must be called with s.mu held.
func (s *Store) lookup(key string) (entry, bool) {
	e, ok := s.strings[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.strings, key)
		return entry{}, false
	}
	return e, true
}
