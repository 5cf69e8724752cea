package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions      *prometheus.CounterVec
	StoreFailures  prometheus.Counter
	TrackedBuckets prometheus.Gauge
}

// New registers the rate limiter metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dncproxy_ratelimit_decisions_total",
			Help: "Rate limiter admissions by decision",
		}, []string{"decision"}),
		StoreFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "dncproxy_ratelimit_store_failures_total",
			Help: "Shared bucket store failures that fell back to the local limiter",
		}),
		TrackedBuckets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dncproxy_ratelimit_tracked_buckets",
			Help: "Identities currently tracked by the local limiter",
		}),
	}
}

func (m *Metrics) ObserveDecision(allowed bool) {
	if m == nil {
		return
	}
	if allowed {
		m.Decisions.WithLabelValues("allowed").Inc()
		return
	}
	m.Decisions.WithLabelValues("denied").Inc()
}

func (m *Metrics) IncrementStoreFailures() {
	if m == nil {
		return
	}
	m.StoreFailures.Inc()
}

func (m *Metrics) SetTrackedBuckets(n int) {
	if m == nil {
		return
	}
	m.TrackedBuckets.Set(float64(n))
}
