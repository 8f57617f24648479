package resilience_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	resilience "github.com/JohnPlummer/jp-go-cache-resilience"
)

var _ = Describe("Observers", func() {
	It("fans notifications out in order", func() {
		first := &recordingObserver{}
		second := &recordingObserver{}
		obs := resilience.Observers(first, resilience.NopObserver{}, second)

		obs.StatusChanged(resilience.StateDisconnected, resilience.StateConnecting)
		obs.RetryAttempted("get", 1, time.Second, errors.New("boom"))
		obs.OperationFailed("get", 5, errors.New("boom"))

		for _, o := range []*recordingObserver{first, second} {
			Expect(o.Transitions()).To(HaveLen(1))
			Expect(o.Retries()).To(HaveLen(1))
			Expect(o.Failures()).To(HaveLen(1))
		}
	})

	It("names every connection state", func() {
		Expect(resilience.StateDisconnected.String()).To(Equal("disconnected"))
		Expect(resilience.StateConnecting.String()).To(Equal("connecting"))
		Expect(resilience.StateConnected.String()).To(Equal("connected"))
		Expect(resilience.ConnectionState(42).String()).To(Equal("unknown"))
	})
})

var _ = Describe("ClientConfig", func() {
	It("accepts the defaults", func() {
		Expect(resilience.DefaultClientConfig("cache.test").Validate()).To(Succeed())
	})

	It("reports every problem", func() {
		cfg := resilience.DefaultClientConfig("")
		cfg.Port = 70000
		cfg.MaxRetries = 0
		cfg.BaseRetryDelay = -time.Second

		err := cfg.Validate()
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("host"))
		Expect(err.Error()).To(ContainSubstring("port 70000"))
		Expect(err.Error()).To(ContainSubstring("max retries"))
		Expect(err.Error()).To(ContainSubstring("base retry delay"))
	})
})
