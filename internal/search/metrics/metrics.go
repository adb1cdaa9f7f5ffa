package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for interactive search.
type Metrics struct {
	Searches       *prometheus.CounterVec
	SearchDuration prometheus.Histogram
	ResultCount    prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Searches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pipscreen_search_requests_total",
			Help: "Total number of interactive searches by outcome",
		}, []string{"outcome"}),
		SearchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipscreen_search_duration_seconds",
			Help:    "Duration of interactive searches",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		ResultCount: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipscreen_search_results",
			Help:    "Number of records returned per interactive search",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}),
	}
}

// ObserveSearch records one finished search.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveSearch(start time.Time, outcome string, results int) {
	if m == nil {
		return
	}
	m.Searches.WithLabelValues(outcome).Inc()
	m.SearchDuration.Observe(time.Since(start).Seconds())
	if outcome == "ok" {
		m.ResultCount.Observe(float64(results))
	}
}
