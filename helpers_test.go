package resilience_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	resilience "github.com/JohnPlummer/jp-go-cache-resilience"
	"github.com/JohnPlummer/jp-go-cache-resilience/memstore"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError, // Quiet during tests
	}))
}

// sleepRecorder records backoff delays instead of waiting for them.
type sleepRecorder struct {
	mu      sync.Mutex
	delays  []time.Duration
	onSleep func(n int)
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.delays = append(s.delays, d)
	n := len(s.delays)
	hook := s.onSleep
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type transition struct {
	from, to resilience.ConnectionState
}

type retryNote struct {
	err     error
	op      string
	attempt int
	delay   time.Duration
}

type failureNote struct {
	err      error
	op       string
	attempts int
}

// recordingObserver keeps every notification it receives.
type recordingObserver struct {
	mu          sync.Mutex
	transitions []transition
	retries     []retryNote
	failures    []failureNote
}

func (o *recordingObserver) StatusChanged(from, to resilience.ConnectionState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, transition{from: from, to: to})
}

func (o *recordingObserver) RetryAttempted(op string, attempt int, delay time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries = append(o.retries, retryNote{op: op, attempt: attempt, delay: delay, err: err})
}

func (o *recordingObserver) OperationFailed(op string, attempts int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, failureNote{op: op, attempts: attempts, err: err})
}

func (o *recordingObserver) Transitions() []transition {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]transition(nil), o.transitions...)
}

func (o *recordingObserver) Retries() []retryNote {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]retryNote(nil), o.retries...)
}

func (o *recordingObserver) Failures() []failureNote {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]failureNote(nil), o.failures...)
}

// newMemClient returns a client wired to store with quiet logging and
// recorded sleeps. Extra options are applied last.
func newMemClient(store *memstore.Store, sleeper *sleepRecorder, opts ...resilience.Option) *resilience.Client {
	base := []resilience.Option{
		resilience.WithLogger(quietLogger()),
		resilience.WithSleep(sleeper.Sleep),
		resilience.WithBaseRetryDelay(10 * time.Millisecond),
	}
	return resilience.NewClient("cache.test", store.Dialer(), append(base, opts...)...)
}
