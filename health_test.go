package resilience_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	resilience "github.com/JohnPlummer/jp-go-cache-resilience"
	"github.com/JohnPlummer/jp-go-cache-resilience/memstore"
)

var _ = Describe("HealthStatus", func() {
	Describe("JSON Marshaling", func() {
		It("should marshal to JSON correctly", func() {
			health := resilience.HealthStatus{
				Healthy:        true,
				State:          "connected",
				TotalAttempts:  10,
				TotalRetries:   2,
				TotalSuccesses: 8,
				TotalFailures:  0,
			}

			data, err := json.Marshal(health)
			Expect(err).To(BeNil())

			var unmarshaled map[string]interface{}
			err = json.Unmarshal(data, &unmarshaled)
			Expect(err).To(BeNil())

			Expect(unmarshaled["healthy"]).To(BeTrue())
			Expect(unmarshaled["abandoned"]).To(BeFalse())
			Expect(unmarshaled["state"]).To(Equal("connected"))
			Expect(unmarshaled["total_attempts"]).To(BeNumerically("==", 10))
			Expect(unmarshaled["total_retries"]).To(BeNumerically("==", 2))
			Expect(unmarshaled["total_successes"]).To(BeNumerically("==", 8))
			Expect(unmarshaled).NotTo(HaveKey("last_error"))
		})
	})

	Describe("Client.Health", func() {
		var (
			ctx     context.Context
			cancel  context.CancelFunc
			store   *memstore.Store
			sleeper *sleepRecorder
			client  *resilience.Client
		)

		BeforeEach(func() {
			ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			store = memstore.New()
			sleeper = &sleepRecorder{}
			client = newMemClient(store, sleeper, resilience.WithMaxRetries(2))
		})

		AfterEach(func() {
			cancel()
		})

		It("is unhealthy before connecting", func() {
			health := client.Health()
			Expect(health.Healthy).To(BeFalse())
			Expect(health.State).To(Equal("disconnected"))
		})

		It("reflects successful operations", func() {
			Expect(client.Connect(ctx)).To(Succeed())
			_, err := client.Ping(ctx)
			Expect(err).NotTo(HaveOccurred())

			health := client.Health()
			Expect(health.Healthy).To(BeTrue())
			Expect(health.State).To(Equal("connected"))
			Expect(health.TotalAttempts).To(Equal(int64(1)))
			Expect(health.TotalSuccesses).To(Equal(int64(1)))
			Expect(health.LastError).To(BeEmpty())
		})

		It("records the last failure", func() {
			Expect(client.Connect(ctx)).To(Succeed())
			store.FailAlways(memstore.OpGet, errors.New("MOVED 3999 10.0.0.2:6379"))

			_, _, err := client.Get(ctx, "k")
			Expect(err).To(HaveOccurred())

			health := client.Health()
			Expect(health.Healthy).To(BeTrue())
			Expect(health.TotalAttempts).To(Equal(int64(2)))
			Expect(health.TotalRetries).To(Equal(int64(1)))
			Expect(health.TotalFailures).To(Equal(int64(1)))
			Expect(health.LastError).To(ContainSubstring("MOVED"))
		})
	})
})
