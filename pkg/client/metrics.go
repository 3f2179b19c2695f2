package client

import "github.com/prometheus/client_golang/prometheus"

// metricsCollector holds the facade-owned counters/gauges. Registered on a
// caller-supplied *prometheus.Registry (WithMetricsRegistry) or a private
// one if none is supplied — this module ships no HTTP exposition endpoint,
// only the instrumentation itself.
type metricsCollector struct {
	operations   *prometheus.CounterVec
	syncSessions *prometheus.CounterVec
	cacheEntities prometheus.Gauge
}

func newMetricsCollector(reg *prometheus.Registry) *metricsCollector {
	m := &metricsCollector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "d365fo_client",
			Name:      "operations_total",
			Help:      "Count of facade operations by kind and outcome.",
		}, []string{"operation", "outcome"}),
		syncSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "d365fo_client",
			Name:      "sync_sessions_started_total",
			Help:      "Count of sync sessions started, by strategy.",
		}, []string{"strategy"}),
		cacheEntities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "d365fo_client",
			Name:      "metadata_cache_entities",
			Help:      "Entity count last observed for the environment's active global version.",
		}),
	}
	reg.MustRegister(m.operations, m.syncSessions, m.cacheEntities)
	return m
}

func (m *metricsCollector) observe(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

func (m *metricsCollector) syncStarted(strategy string) {
	m.syncSessions.WithLabelValues(strategy).Inc()
}

func (m *metricsCollector) setCachedEntityCount(n int) {
	m.cacheEntities.Set(float64(n))
}
