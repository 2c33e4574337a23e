// Package metrics defines the Prometheus collectors for indexing and
// recommendation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tagrec"

// Metrics holds all collectors. Components given a nil *Metrics use New(nil).
type Metrics struct {
	RecordsDropped     *prometheus.CounterVec
	DocumentsIndexed   prometheus.Counter
	DocumentsFailed    prometheus.Counter
	DuplicatesSkipped  prometheus.Counter
	CommitErrors       *prometheus.CounterVec
	BatchDuration      prometheus.Histogram
	RecommendDuration  prometheus.Histogram
	RecommendTotal     *prometheus.CounterVec
	QueryTerms         prometheus.Histogram
	Hits               prometheus.Histogram
	ConsistencyErrors  prometheus.Counter
	TransientDocuments prometheus.Gauge
}

// New creates the collectors and registers them with reg when non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Corpus records dropped while reading",
		}, []string{"reason"}),

		DocumentsIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_indexed_total",
			Help:      "Documents committed to the index",
		}),

		DocumentsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_failed_total",
			Help:      "Documents rejected by the index or lost to a failed commit",
		}),

		DuplicatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_skipped_total",
			Help:      "Corpus records skipped because their id was already indexed",
		}),

		CommitErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commit_errors_total",
			Help:      "Failed index commits",
		}, []string{"stage"}), // "index" / "query"

		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time to add and commit one indexing batch",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),

		RecommendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recommend_duration_seconds",
			Help:      "End-to-end recommendation latency",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		RecommendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommend_total",
			Help:      "Recommendation calls by outcome",
		}, []string{"status"}),

		QueryTerms: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_terms",
			Help:      "Terms selected for a similarity query",
			Buckets:   prometheus.LinearBuckets(0, 5, 6),
		}),

		Hits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "similar_questions",
			Help:      "Similar questions retrieved per recommendation",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 1000},
		}),

		ConsistencyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consistency_errors_total",
			Help:      "Transient query documents that could not be removed",
		}),

		TransientDocuments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transient_documents",
			Help:      "Query documents currently inserted in the index",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RecordsDropped,
			m.DocumentsIndexed,
			m.DocumentsFailed,
			m.DuplicatesSkipped,
			m.CommitErrors,
			m.BatchDuration,
			m.RecommendDuration,
			m.RecommendTotal,
			m.QueryTerms,
			m.Hits,
			m.ConsistencyErrors,
			m.TransientDocuments,
		)
	}
	return m
}
