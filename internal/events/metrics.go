package events

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	deliveries  *prometheus.CounterVec
	subscribers prometheus.Gauge
}

// NewMetrics builds the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "researcher",
			Subsystem: "events",
			Name:      "deliveries_total",
			Help:      "Event deliveries by event type and outcome.",
		}, []string{"type", "outcome"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "researcher",
			Subsystem: "events",
			Name:      "subscribers",
			Help:      "Session subscribers currently registered.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.deliveries, m.subscribers)
	}
	return m
}

func (m *Metrics) observeDelivery(eventType string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.deliveries.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) setSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}
