package enrich

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/taxa-enrich/internal/model"
)

// Attempt outcomes used as the "outcome" label.
const (
	OutcomeAccepted    = "accepted"
	OutcomeNeedsReview = "needs_review"
	OutcomeNoMatch     = "no_match"
	OutcomeFailed      = "failed"
)

// Metrics holds the Prometheus metrics for enrichment runs. A nil *Metrics
// records nothing.
type Metrics struct {
	EntitiesTotal      *prometheus.CounterVec
	AttemptsTotal      *prometheus.CounterVec
	APICallsTotal      *prometheus.CounterVec
	Confidence         *prometheus.HistogramVec
	SearchSeconds      *prometheus.HistogramVec
	WriteFailuresTotal *prometheus.CounterVec
	LastRunTimestamp   prometheus.Gauge
}

// DefaultMetrics registers metrics with the default registerer.
func DefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

// NewMetrics creates and registers the enrichment metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EntitiesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taxa_enrich_entities_total",
				Help: "Entities taken from the pending feed, by status",
			},
			[]string{"status"},
		),
		AttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taxa_enrich_attempts_total",
				Help: "Per-source enrichment attempts by outcome",
			},
			[]string{"source", "outcome"},
		),
		APICallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taxa_enrich_api_calls_total",
				Help: "Outbound requests to naming sources",
			},
			[]string{"source"},
		),
		Confidence: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taxa_enrich_match_confidence",
				Help:    "Confidence of selected candidates",
				Buckets: []float64{0.3, 0.5, 0.7, 0.8, 0.9, 1.0},
			},
			[]string{"source"},
		),
		SearchSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taxa_enrich_search_seconds",
				Help:    "Source search latency including retries",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		),
		WriteFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taxa_enrich_write_failures_total",
				Help: "Failed persistence writes by target",
			},
			[]string{"target"},
		),
		LastRunTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "taxa_enrich_last_run_timestamp_seconds",
				Help: "Unix time the last run finished",
			},
		),
	}
}

// RecordEntity counts one entity by status (processed or skipped).
func (m *Metrics) RecordEntity(status string) {
	if m == nil {
		return
	}
	m.EntitiesTotal.WithLabelValues(status).Inc()
}

// RecordAttempt records one (entity, source) attempt.
func (m *Metrics) RecordAttempt(src model.Source, outcome string, calls int, latency time.Duration, res model.MatchResult) {
	if m == nil {
		return
	}
	s := string(src)
	m.AttemptsTotal.WithLabelValues(s, outcome).Inc()
	m.APICallsTotal.WithLabelValues(s).Add(float64(calls))
	m.SearchSeconds.WithLabelValues(s).Observe(latency.Seconds())
	if res.Selected() {
		m.Confidence.WithLabelValues(s).Observe(res.Confidence)
	}
}

// RecordWriteFailure counts a failed cache or audit write.
func (m *Metrics) RecordWriteFailure(target string) {
	if m == nil {
		return
	}
	m.WriteFailuresTotal.WithLabelValues(target).Inc()
}

// RecordRunFinished stamps the end of a run.
func (m *Metrics) RecordRunFinished(at time.Time) {
	if m == nil {
		return
	}
	m.LastRunTimestamp.Set(float64(at.Unix()))
}
