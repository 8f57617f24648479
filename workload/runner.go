// Package workload drives a resilient store client with two patterns: a
// fixed-duration synthetic load and an indefinite low-frequency health poll.
// Both are built purely from the client's retrying operations.
package workload

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	resilience "github.com/JohnPlummer/jp-go-cache-resilience"
)

const (
	// OperationsPerCycle is the number of operations a load cycle accounts for.
	OperationsPerCycle = 6

	// DefaultCyclePause is the pause between load cycles.
	DefaultCyclePause = time.Second

	// DefaultMonitorInterval is the period of the monitor loop.
	DefaultMonitorInterval = 5 * time.Second

	// DefaultLoadDuration is the load duration used by the CLI.
	DefaultLoadDuration = 300 * time.Second

	// CacheExpiry is the expiry of the cache entries written by the load.
	CacheExpiry = 300 * time.Second

	progressEvery     = 50
	sessionIP         = "192.168.1.100"
	disconnectTimeout = 5 * time.Second
)

// Store is the part of resilience.Client the runner needs.
type Store interface {
	Ping(ctx context.Context) (string, error)
	Incr(ctx context.Context, key string) (int64, error)
	HSet(ctx context.Context, hash, field, value string) (int64, error)
	Set(ctx context.Context, key, value string, expiry ...time.Duration) (string, error)
	Get(ctx context.Context, key string) (string, bool, error)
	HGetAll(ctx context.Context, hash string) (map[string]string, error)
	Disconnect(ctx context.Context) error
}

var _ Store = (*resilience.Client)(nil)

// TickReport is the outcome of one monitor tick.
type TickReport struct {
	Time time.Time

	// Err is the connectivity failure, nil when the probe succeeded.
	Err error

	// Visits is the visit counter, "0" when absent or unreadable.
	Visits string

	Connected bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithClock sets the time source. Defaults to time.Now.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

// WithSleep sets the function used for the pause between load cycles.
func WithSleep(sleep resilience.SleepFunc) RunnerOption {
	return func(r *Runner) {
		r.sleep = sleep
	}
}

// WithCyclePause sets the pause between load cycles.
func WithCyclePause(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.cyclePause = d
	}
}

// WithMonitorInterval sets the monitor period.
func WithMonitorInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.monitorInterval = d
	}
}

// WithLogger sets the logger. Run and identity attributes are added to it.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) RunnerOption {
	return func(r *Runner) {
		r.runID = id
	}
}

// WithTickHandler registers a callback invoked after every monitor tick.
func WithTickHandler(fn func(TickReport)) RunnerOption {
	return func(r *Runner) {
		r.onTick = fn
	}
}

// Runner exercises a Store on behalf of one identity.
type Runner struct {
	store    Store
	logger   *slog.Logger
	now      func() time.Time
	sleep    resilience.SleepFunc
	onTick   func(TickReport)
	identity string
	runID    string

	cyclePause      time.Duration
	monitorInterval time.Duration
}

// NewRunner creates a runner for identity.
func NewRunner(store Store, identity string, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:           store,
		identity:        identity,
		logger:          slog.Default(),
		now:             time.Now,
		sleep:           resilience.SleepContext,
		cyclePause:      DefaultCyclePause,
		monitorInterval: DefaultMonitorInterval,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.runID == "" {
		r.runID = uuid.NewString()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.monitorInterval <= 0 {
		r.monitorInterval = DefaultMonitorInterval
	}
	r.logger = r.logger.With("run_id", r.runID, "identity", identity)

	return r
}

// RunID returns the identifier attached to every log line of this runner.
func (r *Runner) RunID() string {
	return r.runID
}

// Run dispatches to Load or Monitor.
func (r *Runner) Run(ctx context.Context, mode Mode, duration time.Duration) error {
	switch mode {
	case ModeLoad:
		r.Load(ctx, duration)
		return nil
	case ModeMonitor:
		return r.Monitor(ctx)
	default:
		return &InvalidModeError{Mode: string(mode)}
	}
}

func (r *Runner) visitsKey() string {
	return fmt.Sprintf("counter:%s:visits", r.identity)
}

// Load runs cycles until duration has elapsed or ctx is done.
//
// Every cycle issues, in order: ping, visit counter increment, three session
// hash writes, a cache write with CacheExpiry, a read of that key and a read
// of the whole session. Each is retried by the store on its own; a failure
// that survives the retries counts as an error and the cycle carries on.
// A cycle accounts for OperationsPerCycle operations whatever the outcome.
func (r *Runner) Load(ctx context.Context, duration time.Duration) LoadSummary {
	r.logger.Info("starting load simulation", "duration", duration)

	start := r.now()
	var operations, errs int

	for r.now().Sub(start) < duration {
		if ctx.Err() != nil {
			break
		}

		failed, visits := r.cycle(ctx)
		operations += OperationsPerCycle
		errs += failed

		if operations%progressEvery == 0 {
			r.logger.Info("load progress",
				"operations", operations,
				"visits", visits)
		}

		if err := r.sleep(ctx, r.cyclePause); err != nil {
			break
		}
	}

	summary := NewLoadSummary(operations, errs, r.now().Sub(start))
	r.logger.Info("load simulation finished",
		"total_time_seconds", summary.DurationSeconds,
		"operations", summary.TotalOperations,
		"errors", summary.Errors,
		"success_rate", fmt.Sprintf("%.1f%%", summary.SuccessRate))

	return summary
}

type step struct {
	run  func(ctx context.Context) error
	name string
}

// cycle runs one load cycle and returns the number of failed operations,
// capped at OperationsPerCycle, and the visit count it read.
func (r *Runner) cycle(ctx context.Context) (int, int64) {
	ts := r.now().Unix()
	sessionKey := fmt.Sprintf("session:%s:%d", r.identity, ts)
	cacheKey := fmt.Sprintf("cache:%s:data_%d", r.identity, ts%100)

	var visits int64
	hset := func(field, value string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			_, err := r.store.HSet(ctx, sessionKey, field, value)
			return err
		}
	}

	steps := []step{
		{name: "ping", run: func(ctx context.Context) error {
			_, err := r.store.Ping(ctx)
			return err
		}},
		{name: "incr", run: func(ctx context.Context) error {
			var err error
			visits, err = r.store.Incr(ctx, r.visitsKey())
			return err
		}},
		{name: "hset", run: hset("user_id", fmt.Sprintf("user_%d", ts%1000))},
		{name: "hset", run: hset("login_time", strconv.FormatInt(ts, 10))},
		{name: "hset", run: hset("ip", sessionIP)},
		{name: "set", run: func(ctx context.Context) error {
			_, err := r.store.Set(ctx, cacheKey, fmt.Sprintf("cached_data_%d", ts), CacheExpiry)
			return err
		}},
		{name: "get", run: func(ctx context.Context) error {
			_, _, err := r.store.Get(ctx, cacheKey)
			return err
		}},
		{name: "hgetall", run: func(ctx context.Context) error {
			_, err := r.store.HGetAll(ctx, sessionKey)
			return err
		}},
	}

	failed := 0
	for _, s := range steps {
		if err := s.run(ctx); err != nil {
			failed++
			r.logger.Error("operation failed",
				"operation", s.name,
				"kind", resilience.Classify(err),
				"error", err)
		}
	}

	return min(failed, OperationsPerCycle), visits
}

// Monitor polls connectivity every monitor interval until ctx is done, then
// disconnects the store and returns nil.
func (r *Runner) Monitor(ctx context.Context) error {
	r.logger.Info("starting continuous monitoring", "interval", r.monitorInterval)

	ticker := time.NewTicker(r.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("monitoring interrupted")
			r.disconnect(ctx)
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	report := TickReport{Time: r.now(), Visits: "0"}

	if _, err := r.store.Ping(ctx); err != nil {
		report.Err = err
		r.logger.Error("connectivity failure",
			"kind", resilience.Classify(err),
			"error", err)
	} else {
		report.Connected = true

		value, found, err := r.store.Get(ctx, r.visitsKey())
		switch {
		case err != nil:
			r.logger.Debug("visit counter unreadable", "error", err)
		case found:
			report.Visits = value
		}

		r.logger.Info("connected", "visits", report.Visits)
	}

	if r.onTick != nil {
		r.onTick(report)
	}
}

func (r *Runner) disconnect(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
	defer cancel()

	if err := r.store.Disconnect(ctx); err != nil {
		r.logger.Warn("disconnect failed", "error", err)
	}
}
