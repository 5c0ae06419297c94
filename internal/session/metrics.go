package session

import (
	"github.com/mohammad-safakhou/researcher/models"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	created     prometheus.Counter
	transitions *prometheus.CounterVec
	failures    prometheus.Counter
	sessions    prometheus.Gauge
	swept       prometheus.Counter
}

// NewMetrics builds the session collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "researcher",
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Research sessions created.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "researcher",
			Subsystem: "session",
			Name:      "phase_transitions_total",
			Help:      "Phase transitions by target phase.",
		}, []string{"phase"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "researcher",
			Subsystem: "session",
			Name:      "task_failures_total",
			Help:      "Background research tasks that ended with an error or panic.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "researcher",
			Subsystem: "session",
			Name:      "registered",
			Help:      "Sessions currently held in the registry.",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "researcher",
			Subsystem: "session",
			Name:      "swept_total",
			Help:      "Sessions evicted by the sweeper.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.created, m.transitions, m.failures, m.sessions, m.swept)
	}
	return m
}

func (m *Metrics) observeCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
	m.transitions.WithLabelValues(string(models.PhasePlanning)).Inc()
}

func (m *Metrics) observeTransition(p models.Phase) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(p)).Inc()
}

func (m *Metrics) observeFailure() {
	if m == nil {
		return
	}
	m.failures.Inc()
}

func (m *Metrics) setSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Metrics) observeSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(float64(n))
}
