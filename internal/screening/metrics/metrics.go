package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for bulk screening.
type Metrics struct {
	Uploads          *prometheus.CounterVec
	RowsScreened     prometheus.Counter
	Matches          prometheus.Counter
	UnmatchedWords   prometheus.Counter
	ScreeningLatency prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Uploads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pipscreen_screening_uploads_total",
			Help: "Total number of bulk screening uploads by outcome",
		}, []string{"outcome"}),
		RowsScreened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pipscreen_screening_rows_total",
			Help: "Total number of rows screened and charged to batch quota",
		}),
		Matches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pipscreen_screening_matches_total",
			Help: "Total number of distinct PIPs returned by bulk screenings",
		}),
		UnmatchedWords: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pipscreen_screening_unmatched_keywords_total",
			Help: "Total number of unmatched keywords reported by bulk screenings",
		}),
		ScreeningLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipscreen_screening_duration_seconds",
			Help:    "Duration of bulk screenings",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

// ObserveUpload records a finished upload. rows, matches and unmatched are
// only counted for successful uploads.
func (m *Metrics) ObserveUpload(start time.Time, outcome string, rows, matches, unmatched int) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(outcome).Inc()
	m.ScreeningLatency.Observe(time.Since(start).Seconds())
	if outcome != "ok" {
		return
	}
	m.RowsScreened.Add(float64(rows))
	m.Matches.Add(float64(matches))
	m.UnmatchedWords.Add(float64(unmatched))
}
