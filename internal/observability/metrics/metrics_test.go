package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, c.Write(&metric))
	return metric.GetCounter().GetValue()
}

func TestCacheMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCacheMetrics(reg)
	m.ObserveLookup(true)
	m.ObserveLookup(false)
	m.ObserveLookup(false)
	m.ObserveInvalidation("create_appointment")
	m.ObserveFillFailure()
	m.ObserveStoreError("get")

	assert.Equal(t, 1.0, counterValue(t, m.lookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, counterValue(t, m.lookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, counterValue(t, m.invalidations.WithLabelValues("create_appointment")))
	assert.Equal(t, 1.0, counterValue(t, m.fillFailures))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestAssistantMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAssistantMetrics(reg)
	m.ObserveIntent("greeting")
	m.ObserveAction("slot_unavailable", false)
	m.ObserveLatency(0.02)

	assert.Equal(t, 1.0, counterValue(t, m.intents.WithLabelValues("greeting")))
	assert.Equal(t, 1.0, counterValue(t, m.actions.WithLabelValues("slot_unavailable", "false")))
}

func TestMetricsNilSafe(t *testing.T) {
	var cm *CacheMetrics
	cm.ObserveLookup(true)
	cm.ObserveInvalidation("cancel_appointment")
	cm.ObserveFillFailure()
	cm.ObserveStoreError("set")

	var am *AssistantMetrics
	am.ObserveIntent("unknown")
	am.ObserveAction("unknown", true)
	am.ObserveLatency(0.1)
}
