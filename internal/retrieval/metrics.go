package retrieval

import "github.com/prometheus/client_golang/prometheus"

// Metrics captures provider call counters for the fan-out.
type Metrics struct {
	calls    *prometheus.CounterVec
	failures *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	cacheHit *prometheus.CounterVec
	dropped  prometheus.Counter
}

// NewMetrics builds the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "researcher",
			Subsystem: "retrieval",
			Name:      "provider_calls_total",
			Help:      "Provider search calls by provider tag.",
		}, []string{"provider"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "researcher",
			Subsystem: "retrieval",
			Name:      "provider_failures_total",
			Help:      "Provider search calls that failed or timed out.",
		}, []string{"provider"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "researcher",
			Subsystem: "retrieval",
			Name:      "provider_latency_seconds",
			Help:      "Provider search latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		cacheHit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "researcher",
			Subsystem: "retrieval",
			Name:      "cache_hits_total",
			Help:      "Provider searches served from the result cache.",
		}, []string{"provider"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "researcher",
			Subsystem: "retrieval",
			Name:      "dedup_dropped_total",
			Help:      "Sources dropped as duplicates or over the source cap.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.calls, m.failures, m.latency, m.cacheHit, m.dropped)
	}
	return m
}

func (m *Metrics) observeCall(provider string, seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(provider).Inc()
	m.latency.WithLabelValues(provider).Observe(seconds)
	if failed {
		m.failures.WithLabelValues(provider).Inc()
	}
}

func (m *Metrics) observeCacheHit(provider string) {
	if m == nil {
		return
	}
	m.cacheHit.WithLabelValues(provider).Inc()
}

func (m *Metrics) observeDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dropped.Add(float64(n))
}
