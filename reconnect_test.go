package resilience_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	resilience "github.com/JohnPlummer/jp-go-cache-resilience"
)

var _ = Describe("DefaultReconnectPolicy", func() {
	DescribeTable("schedules linear backoff capped at 3s",
		func(attempt int, expected time.Duration) {
			d := resilience.DefaultReconnectPolicy(resilience.ReconnectAttempt{
				Attempt:        attempt,
				TotalRetryTime: time.Minute,
			})
			Expect(d.Action).To(Equal(resilience.ReconnectRetry))
			Expect(d.Delay).To(Equal(expected))
		},
		Entry("first attempt", 1, 100*time.Millisecond),
		Entry("third attempt", 3, 300*time.Millisecond),
		Entry("tenth attempt", 10, time.Second),
		Entry("zero treated as first", 0, 100*time.Millisecond),
	)

	DescribeTable("ReconnectDelay caps at MaxReconnectDelay",
		func(attempt int, expected time.Duration) {
			Expect(resilience.ReconnectDelay(attempt)).To(Equal(expected))
		},
		Entry("attempt 3", 3, 300*time.Millisecond),
		Entry("attempt 30", 30, 3*time.Second),
		Entry("attempt 40", 40, 3*time.Second),
		Entry("negative attempt", -2, 100*time.Millisecond),
	)

	It("skips once more than ten attempts were made", func() {
		d := resilience.DefaultReconnectPolicy(resilience.ReconnectAttempt{Attempt: 11})
		Expect(d.Action).To(Equal(resilience.ReconnectSkip))
		Expect(d.Err).To(BeNil())
	})

	It("abandons once the hour budget is exceeded", func() {
		a := resilience.ReconnectAttempt{
			Attempt:        4,
			TotalRetryTime: time.Hour + time.Millisecond,
		}
		d := resilience.DefaultReconnectPolicy(a)
		Expect(d.Action).To(Equal(resilience.ReconnectAbandon))

		var budgetErr *resilience.ReconnectBudgetExceededError
		Expect(errors.As(d.Err, &budgetErr)).To(BeTrue())
		Expect(budgetErr.Elapsed).To(Equal(a.TotalRetryTime))
		Expect(budgetErr.Attempts).To(Equal(4))
	})

	It("prefers abandoning over skipping", func() {
		d := resilience.DefaultReconnectPolicy(resilience.ReconnectAttempt{
			Attempt:        40,
			TotalRetryTime: 2 * time.Hour,
		})
		Expect(d.Action).To(Equal(resilience.ReconnectAbandon))
	})

	It("still retries at exactly one hour", func() {
		d := resilience.DefaultReconnectPolicy(resilience.ReconnectAttempt{
			Attempt:        2,
			TotalRetryTime: time.Hour,
		})
		Expect(d.Action).To(Equal(resilience.ReconnectRetry))
	})
})

var _ = Describe("ReconnectDecision", func() {
	Describe("TerminalError", func() {
		It("returns a budget error unchanged", func() {
			budgetErr := &resilience.ReconnectBudgetExceededError{Elapsed: 2 * time.Hour, Attempts: 3}
			d := resilience.ReconnectDecision{Action: resilience.ReconnectAbandon, Err: budgetErr}

			Expect(d.TerminalError(resilience.ReconnectAttempt{})).To(BeIdenticalTo(budgetErr))
		})

		It("wraps a custom policy error", func() {
			custom := errors.New("operator said stop")
			d := resilience.ReconnectDecision{Action: resilience.ReconnectAbandon, Err: custom}

			err := d.TerminalError(resilience.ReconnectAttempt{Attempt: 2, TotalRetryTime: time.Second})

			var budgetErr *resilience.ReconnectBudgetExceededError
			Expect(errors.As(err, &budgetErr)).To(BeTrue())
			Expect(budgetErr.Attempts).To(Equal(2))
			Expect(errors.Is(err, custom)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("operator said stop"))
		})

		It("builds a budget error when none was given", func() {
			d := resilience.ReconnectDecision{Action: resilience.ReconnectAbandon}
			err := d.TerminalError(resilience.ReconnectAttempt{Attempt: 1})
			Expect(resilience.Classify(err)).To(Equal(resilience.FailureAbandoned))
		})
	})

	It("names every action", func() {
		Expect(resilience.ReconnectRetry.String()).To(Equal("retry"))
		Expect(resilience.ReconnectSkip.String()).To(Equal("skip"))
		Expect(resilience.ReconnectAbandon.String()).To(Equal("abandon"))
	})
})
