package resilience_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	resilience "github.com/JohnPlummer/jp-go-cache-resilience"
	"github.com/JohnPlummer/jp-go-cache-resilience/memstore"
)

// flakyOperation fails its first failures invocations.
type flakyOperation struct {
	err      error
	failures int32
	calls    atomic.Int32
}

func (f *flakyOperation) Run(_ context.Context) (string, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return "", f.err
	}
	return "ok", nil
}

func (f *flakyOperation) getCallCount() int {
	return int(f.calls.Load())
}

var _ = Describe("ExecuteWithRetry", func() {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		store    *memstore.Store
		sleeper  *sleepRecorder
		observer *recordingObserver
		errBoom  = errors.New("boom")
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		store = memstore.New()
		sleeper = &sleepRecorder{}
		observer = &recordingObserver{}
	})

	AfterEach(func() {
		cancel()
	})

	connected := func(opts ...resilience.Option) *resilience.Client {
		client := newMemClient(store, sleeper, append([]resilience.Option{resilience.WithObserver(observer)}, opts...)...)
		Expect(client.Connect(ctx)).To(Succeed())
		Expect(client.State()).To(Equal(resilience.StateConnected))
		return client
	}

	Context("when the operation succeeds first time", func() {
		It("returns the value without sleeping", func() {
			client := connected()
			op := &flakyOperation{err: errBoom}

			out := resilience.Execute(ctx, client, "custom", op.Run)
			Expect(out.Err).NotTo(HaveOccurred())
			Expect(out.Value).To(Equal("ok"))
			Expect(out.Attempts).To(Equal(1))
			Expect(op.getCallCount()).To(Equal(1))
			Expect(sleeper.Delays()).To(BeEmpty())

			stats := client.GetRetryStats()
			Expect(stats.TotalAttempts).To(Equal(int64(1)))
			Expect(stats.TotalRetries).To(Equal(int64(0)))
			Expect(stats.TotalSuccesses).To(Equal(int64(1)))
			Expect(stats.TotalFailures).To(Equal(int64(0)))
		})
	})

	Context("when the operation fails a few times", func() {
		It("succeeds at attempt k+1 after exponential delays", func() {
			client := connected(resilience.WithMaxRetries(5))
			op := &flakyOperation{err: errBoom, failures: 2}

			out := resilience.Execute(ctx, client, "custom", op.Run)
			Expect(out.Err).NotTo(HaveOccurred())
			Expect(out.Value).To(Equal("ok"))
			Expect(out.Attempts).To(Equal(3))
			Expect(sleeper.Delays()).To(Equal([]time.Duration{
				10 * time.Millisecond,
				20 * time.Millisecond,
			}))

			stats := client.GetRetryStats()
			Expect(stats.TotalAttempts).To(Equal(int64(3)))
			Expect(stats.TotalRetries).To(Equal(int64(2)))
			Expect(stats.TotalSuccesses).To(Equal(int64(1)))
		})

		It("notifies the observer about every retry", func() {
			client := connected(resilience.WithMaxRetries(5))
			op := &flakyOperation{err: errBoom, failures: 2}

			_, err := resilience.ExecuteWithRetry(ctx, client, "custom", op.Run)
			Expect(err).NotTo(HaveOccurred())

			retries := observer.Retries()
			Expect(retries).To(HaveLen(2))
			Expect(retries[0].op).To(Equal("custom"))
			Expect(retries[0].attempt).To(Equal(1))
			Expect(retries[0].delay).To(Equal(10 * time.Millisecond))
			Expect(retries[1].attempt).To(Equal(2))
			Expect(retries[1].delay).To(Equal(20 * time.Millisecond))

			var transient *resilience.TransientOperationError
			Expect(errors.As(retries[0].err, &transient)).To(BeTrue())
			Expect(transient.Attempt).To(Equal(1))
			Expect(errors.Is(retries[0].err, errBoom)).To(BeTrue())
			Expect(observer.Failures()).To(BeEmpty())
		})
	})

	Context("when every attempt fails", func() {
		It("invokes the operation MaxRetries times with MaxRetries-1 sleeps", func() {
			client := connected(resilience.WithMaxRetries(4))
			op := &flakyOperation{err: errBoom, failures: 100}

			out := resilience.Execute(ctx, client, "custom", op.Run)
			Expect(out.Err).To(HaveOccurred())
			Expect(out.Attempts).To(Equal(4))
			Expect(op.getCallCount()).To(Equal(4))
			Expect(sleeper.Delays()).To(Equal([]time.Duration{
				10 * time.Millisecond,
				20 * time.Millisecond,
				40 * time.Millisecond,
			}))
		})

		It("surfaces the last error wrapped in a RetryExhaustedError", func() {
			client := connected(resilience.WithMaxRetries(3))
			op := &flakyOperation{err: errBoom, failures: 100}

			_, err := resilience.ExecuteWithRetry(ctx, client, "custom", op.Run)

			var exhausted *resilience.RetryExhaustedError
			Expect(errors.As(err, &exhausted)).To(BeTrue())
			Expect(exhausted.Op).To(Equal("custom"))
			Expect(exhausted.Attempts).To(Equal(3))
			Expect(errors.Is(err, errBoom)).To(BeTrue())

			failures := observer.Failures()
			Expect(failures).To(HaveLen(1))
			Expect(failures[0].attempts).To(Equal(3))

			stats := client.GetRetryStats()
			Expect(stats.TotalFailures).To(Equal(int64(1)))
			Expect(stats.LastError).To(MatchError(errBoom))
		})

		It("makes a single attempt when MaxRetries is 1", func() {
			client := connected(resilience.WithMaxRetries(1))
			op := &flakyOperation{err: errBoom, failures: 100}

			out := resilience.Execute(ctx, client, "custom", op.Run)
			Expect(out.Err).To(MatchError(errBoom))
			Expect(op.getCallCount()).To(Equal(1))
			Expect(sleeper.Delays()).To(BeEmpty())
		})

		It("does not wait when the base delay is zero", func() {
			client := connected(resilience.WithMaxRetries(3), resilience.WithBaseRetryDelay(0))
			op := &flakyOperation{err: errBoom, failures: 100}

			resilience.Execute(ctx, client, "custom", op.Run)
			Expect(sleeper.Delays()).To(Equal([]time.Duration{0, 0}))
		})
	})

	Context("with MaxRetries of zero", func() {
		It("never invokes the operation", func() {
			client := newMemClient(store, sleeper, resilience.WithMaxRetries(0))
			op := &flakyOperation{err: errBoom}

			out := resilience.Execute(ctx, client, "custom", op.Run)
			Expect(out.Err).To(HaveOccurred())
			Expect(out.Attempts).To(Equal(0))
			Expect(op.getCallCount()).To(Equal(0))
		})
	})

	Context("with context cancellation", func() {
		It("returns the context error without attempting", func() {
			client := connected()
			op := &flakyOperation{err: errBoom}
			cancel()

			out := resilience.Execute(ctx, client, "custom", op.Run)
			Expect(out.Err).To(MatchError(context.Canceled))
			Expect(op.getCallCount()).To(Equal(0))
		})

		It("stops during backoff", func() {
			client := connected(resilience.WithMaxRetries(5))
			sleeper.onSleep = func(int) { cancel() }
			op := &flakyOperation{err: errBoom, failures: 100}

			out := resilience.Execute(ctx, client, "custom", op.Run)
			Expect(out.Err).To(MatchError(context.Canceled))
			Expect(out.Attempts).To(Equal(1))
			Expect(op.getCallCount()).To(Equal(1))
			Expect(observer.Failures()).To(HaveLen(1))
		})
	})

	Context("when the connection is down", func() {
		It("fails every attempt fast without invoking the operation", func() {
			client := newMemClient(store, sleeper,
				resilience.WithMaxRetries(3),
				resilience.WithObserver(observer))
			op := &flakyOperation{err: errBoom}

			_, err := resilience.ExecuteWithRetry(ctx, client, "custom", op.Run)
			Expect(err).To(MatchError(resilience.ErrNotConnected))
			Expect(op.getCallCount()).To(Equal(0))
			Expect(sleeper.Delays()).To(HaveLen(2))
			Expect(resilience.Classify(err)).To(Equal(resilience.FailureNotConnected))
		})
	})
})
