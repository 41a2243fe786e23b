package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records outcome and latency of every core operation.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics registers the core collectors with registerer. A nil registerer
// leaves them unregistered, which tests use to avoid global state.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goannotate",
			Name:      "operations_total",
			Help:      "Core operations by name and result.",
		}, []string{"operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "goannotate",
			Name:      "operation_duration_seconds",
			Help:      "Duration of core operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if registerer != nil {
		registerer.MustRegister(m.operations, m.duration)
	}
	return m
}

// track starts timing operation. The returned func records the outcome held in *err.
func (m *Metrics) track(operation string) func(err *error) {
	start := time.Now()
	return func(err *error) {
		m.observe(operation, start, *err)
	}
}

func (m *Metrics) observe(operation string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}
	m.operations.WithLabelValues(operation, result).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
