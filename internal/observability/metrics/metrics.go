package metrics

import "github.com/prometheus/client_golang/prometheus"

// IntentMetrics exposes counters/histograms for the intent pipeline.
type IntentMetrics struct {
	intentsTotal        *prometheus.CounterVec
	interpretLatency    *prometheus.HistogramVec
	slotsSuggested      prometheus.Counter
	customerResolutions *prometheus.CounterVec
	eventsPublished     *prometheus.CounterVec
}

func NewIntentMetrics(reg prometheus.Registerer) *IntentMetrics {
	m := &IntentMetrics{
		intentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appointments",
			Subsystem: "intents",
			Name:      "total",
			Help:      "Processed intents by action and outcome",
		}, []string{"action", "outcome"}),
		interpretLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "appointments",
			Subsystem: "interpretation",
			Name:      "seconds",
			Help:      "Latency of interpretation collaborator calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}, []string{"provider", "status"}),
		slotsSuggested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "appointments",
			Subsystem: "availability",
			Name:      "slots_suggested_total",
			Help:      "Slots returned by suggestion requests",
		}),
		customerResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appointments",
			Subsystem: "resolver",
			Name:      "customer_resolutions_total",
			Help:      "Customer resolutions by result (found, created, refetched)",
		}, []string{"result"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appointments",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Appointment lifecycle events by type and publish status",
		}, []string{"event_type", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.intentsTotal, m.interpretLatency, m.slotsSuggested, m.customerResolutions, m.eventsPublished)
	return m
}

func (m *IntentMetrics) ObserveIntent(action, outcome string) {
	if m == nil {
		return
	}
	if action == "" {
		action = "unknown"
	}
	m.intentsTotal.WithLabelValues(action, outcome).Inc()
}

func (m *IntentMetrics) ObserveInterpretation(provider, status string, seconds float64) {
	if m == nil {
		return
	}
	m.interpretLatency.WithLabelValues(provider, status).Observe(seconds)
}

func (m *IntentMetrics) AddSlotsSuggested(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.slotsSuggested.Add(float64(n))
}

func (m *IntentMetrics) ObserveCustomerResolution(result string) {
	if m == nil {
		return
	}
	m.customerResolutions.WithLabelValues(result).Inc()
}

func (m *IntentMetrics) ObserveEventPublished(eventType, status string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType, status).Inc()
}
