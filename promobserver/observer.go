// Package promobserver records resilience.Client notifications in Prometheus
// collectors.
package promobserver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	resilience "github.com/JohnPlummer/jp-go-cache-resilience"
)

// Namespace prefixes every metric name.
const Namespace = "cache_resilience"

var states = []resilience.ConnectionState{
	resilience.StateDisconnected,
	resilience.StateConnecting,
	resilience.StateConnected,
}

// Observer implements resilience.Observer with Prometheus collectors.
type Observer struct {
	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	retries     *prometheus.CounterVec
	failures    *prometheus.CounterVec
	retryDelay  *prometheus.HistogramVec
}

var _ resilience.Observer = (*Observer)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 for the others.",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "state_transitions_total",
			Help:      "Connection state transitions.",
		}, []string{"from", "to"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "retries_total",
			Help:      "Failed attempts that were followed by a retry.",
		}, []string{"operation", "kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operation_failures_total",
			Help:      "Operations that gave up after exhausting their attempts.",
		}, []string{"operation", "kind"}),
		retryDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "retry_delay_seconds",
			Help:      "Backoff delay before a retry.",
			Buckets:   prometheus.ExponentialBuckets(0.125, 2, 10),
		}, []string{"operation"}),
	}

	for _, c := range []prometheus.Collector{o.state, o.transitions, o.retries, o.failures, o.retryDelay} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	o.setState(resilience.StateDisconnected)
	return o, nil
}

// StatusChanged implements resilience.Observer.
func (o *Observer) StatusChanged(from, to resilience.ConnectionState) {
	o.transitions.WithLabelValues(from.String(), to.String()).Inc()
	o.setState(to)
}

// RetryAttempted implements resilience.Observer.
func (o *Observer) RetryAttempted(op string, _ int, delay time.Duration, err error) {
	o.retries.WithLabelValues(op, string(resilience.Classify(err))).Inc()
	o.retryDelay.WithLabelValues(op).Observe(delay.Seconds())
}

// OperationFailed implements resilience.Observer.
func (o *Observer) OperationFailed(op string, _ int, err error) {
	o.failures.WithLabelValues(op, string(resilience.Classify(err))).Inc()
}

func (o *Observer) setState(current resilience.ConnectionState) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		o.state.WithLabelValues(s.String()).Set(v)
	}
}
