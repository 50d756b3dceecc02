package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics exposes counters for the schedule cache.
type CacheMetrics struct {
	lookups       *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	fillFailures  prometheus.Counter
	storeErrors   *prometheus.CounterVec
}

// NewCacheMetrics registers the schedule cache collectors on reg, or on the
// default registerer when reg is nil.
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Schedule cache lookups by result (hit, miss)",
		}, []string{"result"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Schedule cache invalidations by trigger",
		}, []string{"trigger"}),
		fillFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "cache",
			Name:      "fill_failures_total",
			Help:      "Cache fills that could not be written",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "cache",
			Name:      "store_errors_total",
			Help:      "Cache backend transport errors by operation",
		}, []string{"op"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.lookups, m.invalidations, m.fillFailures, m.storeErrors)
	return m
}

func (m *CacheMetrics) ObserveLookup(hit bool) {
	if m == nil {
		return
	}
	label := "miss"
	if hit {
		label = "hit"
	}
	m.lookups.WithLabelValues(label).Inc()
}

func (m *CacheMetrics) ObserveInvalidation(trigger string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(trigger).Inc()
}

func (m *CacheMetrics) ObserveFillFailure() {
	if m == nil {
		return
	}
	m.fillFailures.Inc()
}

func (m *CacheMetrics) ObserveStoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

// AssistantMetrics exposes counters/histograms for the virtual assistant.
type AssistantMetrics struct {
	intents *prometheus.CounterVec
	actions *prometheus.CounterVec
	latency prometheus.Histogram
}

// NewAssistantMetrics registers the assistant collectors the same way.
func NewAssistantMetrics(reg prometheus.Registerer) *AssistantMetrics {
	m := &AssistantMetrics{
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "assistant",
			Name:      "intents_total",
			Help:      "Classified assistant intents",
		}, []string{"intent"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "assistant",
			Name:      "actions_total",
			Help:      "Assistant responses by action_taken and success",
		}, []string{"action", "success"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "assistant",
			Name:      "handle_latency_seconds",
			Help:      "Latency of assistant message handling",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.intents, m.actions, m.latency)
	return m
}

func (m *AssistantMetrics) ObserveIntent(intent string) {
	if m == nil {
		return
	}
	m.intents.WithLabelValues(intent).Inc()
}

func (m *AssistantMetrics) ObserveAction(action string, success bool) {
	if m == nil {
		return
	}
	label := "false"
	if success {
		label = "true"
	}
	m.actions.WithLabelValues(action, label).Inc()
}

func (m *AssistantMetrics) ObserveLatency(seconds float64) {
	if m == nil {
		return
	}
	m.latency.Observe(seconds)
}
