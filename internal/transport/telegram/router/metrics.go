package router

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is nil-safe.
type Metrics struct {
	updates   *prometheus.CounterVec
	forbidden prometheus.Counter
	dropped   prometheus.Counter
	handled   *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quizbot_router_updates_total",
			Help: "Routed updates by kind and sender role.",
		}, []string{"kind", "role"}),
		forbidden: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quizbot_router_forbidden_total",
			Help: "Callbacks rejected for missing capability.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quizbot_router_dropped_total",
			Help: "Updates dropped because a shard queue was full.",
		}),
		handled: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quizbot_router_handler_seconds",
			Help:    "Handler latency by route and result.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"route", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.updates, m.forbidden, m.dropped, m.handled)
	}
	return m
}

func (m *Metrics) update(kind string, role Role) {
	if m != nil {
		m.updates.WithLabelValues(kind, role.String()).Inc()
	}
}

func (m *Metrics) forbid() {
	if m != nil {
		m.forbidden.Inc()
	}
}

func (m *Metrics) drop() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) observe(route string, failed bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if failed {
		result = "error"
	}
	m.handled.WithLabelValues(route, result).Observe(d.Seconds())
}
