package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Published prometheus.Counter
	Failures  prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Published: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pipscreen_audit_outbox_published_total",
			Help: "Total number of audit outbox entries delivered to Kafka",
		}),
		Failures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pipscreen_audit_outbox_relay_failures_total",
			Help: "Total number of failed audit outbox relay batches",
		}),
	}
}

func (m *Metrics) AddPublished(n int) {
	if m == nil || n == 0 {
		return
	}
	m.Published.Add(float64(n))
}

func (m *Metrics) IncrementFailures() {
	if m == nil {
		return
	}
	m.Failures.Inc()
}
