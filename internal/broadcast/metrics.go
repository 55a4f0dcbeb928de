package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"

	kit "quizbot/internal/transport"
)

// Metrics is nil-safe; a nil *Metrics records nothing.
type Metrics struct {
	sends   *prometheus.CounterVec
	creates prometheus.Counter
	acks    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quizbot_broadcast_sends_total",
			Help: "Fan-out send attempts by kind and outcome.",
		}, []string{"kind", "outcome"}),
		creates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quizbot_broadcasts_created_total",
			Help: "Confirmation-tracked broadcasts created.",
		}),
		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quizbot_acknowledgements_total",
			Help: "Acknowledgement attempts by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.sends, m.creates, m.acks)
	}
	return m
}

func (m *Metrics) send(kind string, out kit.Outcome) {
	if m != nil {
		m.sends.WithLabelValues(kind, string(out)).Inc()
	}
}

func (m *Metrics) created() {
	if m != nil {
		m.creates.Inc()
	}
}

func (m *Metrics) ack(result string) {
	if m != nil {
		m.acks.WithLabelValues(result).Inc()
	}
}
