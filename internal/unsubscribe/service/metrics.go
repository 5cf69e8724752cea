package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks unsubscribe outcomes and audit writes. A nil *Metrics is a
// no-op.
type Metrics struct {
	Outcomes       *prometheus.CounterVec
	AppendFailures prometheus.Counter
	AppendDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dncproxy_unsubscribe_outcomes_total",
			Help: "Unsubscribe attempts by internal outcome",
		}, []string{"outcome"}),
		AppendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "dncproxy_action_log_append_failures_total",
			Help: "Audit records that could not be persisted",
		}),
		AppendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dncproxy_action_log_append_duration_seconds",
			Help:    "Time spent persisting one audit record",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}

func (m *Metrics) ObserveOutcome(o Outcome) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(o.String()).Inc()
}

func (m *Metrics) ObserveAppend(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.AppendDuration.Observe(d.Seconds())
	if err != nil {
		m.AppendFailures.Inc()
	}
}
