package tokenindex

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Refreshes       *prometheus.CounterVec
	RefreshFailures prometheus.Counter
	Words           prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		Refreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pipscreen_tokenindex_refresh_total",
			Help: "Total number of token index rebuilds by source",
		}, []string{"source"}),
		RefreshFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pipscreen_tokenindex_refresh_failures_total",
			Help: "Total number of failed token index rebuilds",
		}),
		Words: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pipscreen_tokenindex_words",
			Help: "Number of distinct words in the token index",
		}),
	}
}

func (m *Metrics) recordRefresh(source string, words int) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(source).Inc()
	m.Words.Set(float64(words))
}

func (m *Metrics) incrementFailures() {
	if m == nil {
		return
	}
	m.RefreshFailures.Inc()
}
