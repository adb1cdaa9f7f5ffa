package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks quota consumption and rejections by class.
type Metrics struct {
	Consumed   *prometheus.CounterVec
	Rejected   *prometheus.CounterVec
	StoreFails prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Consumed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pipscreen_quota_consumed_total",
			Help: "Total number of screening units committed to the ledger",
		}, []string{"class"}),
		Rejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pipscreen_quota_rejected_total",
			Help: "Total number of screenings rejected for insufficient quota",
		}, []string{"class", "stage"}),
		StoreFails: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pipscreen_quota_store_failures_total",
			Help: "Total number of ledger store failures",
		}),
	}
}

func (m *Metrics) AddConsumed(class string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Consumed.WithLabelValues(class).Add(float64(n))
}

// IncrementRejected records a rejection. Stage is "check" for the advisory
// pre-check and "commit" for the re-check inside the ledger transaction.
func (m *Metrics) IncrementRejected(class, stage string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(class, stage).Inc()
}

func (m *Metrics) IncrementStoreFailures() {
	if m == nil {
		return
	}
	m.StoreFails.Inc()
}
