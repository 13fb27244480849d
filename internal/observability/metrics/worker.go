package metrics

import "github.com/prometheus/client_golang/prometheus"

// EventWorkerMetrics exposes counters/histograms for the appointment event consumer.
type EventWorkerMetrics struct {
	consumed *prometheus.CounterVec
	latency  prometheus.Histogram
}

func NewEventWorkerMetrics(reg prometheus.Registerer) *EventWorkerMetrics {
	m := &EventWorkerMetrics{
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appointments",
			Subsystem: "events",
			Name:      "consumed_total",
			Help:      "Appointment events consumed from the queue by type and status (delivered, duplicate, failed, invalid)",
		}, []string{"event_type", "status"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "appointments",
			Subsystem: "events",
			Name:      "delivery_seconds",
			Help:      "Time spent delivering one consumed event to all handlers",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.consumed, m.latency)
	return m
}

func (m *EventWorkerMetrics) ObserveConsumed(eventType, status string, seconds float64) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.consumed.WithLabelValues(eventType, status).Inc()
	if seconds > 0 {
		m.latency.Observe(seconds)
	}
}
