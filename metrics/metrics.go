// Package metrics defines the Prometheus collectors fed by the indexing
// pipeline and the searcher.
//
// A nil *Metrics is valid and records nothing, so components can hold one
// unconditionally.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sift"

// Batch outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeFailed    = "failed"
	OutcomePoisoned  = "poisoned"
)

// Metrics holds all Prometheus collectors for an index.
type Metrics struct {
	BatchesTotal        *prometheus.CounterVec
	BatchDuration       prometheus.Histogram
	DocsIndexedTotal    prometheus.Counter
	DocsDeletedTotal    prometheus.Counter
	DocErrorsTotal      prometheus.Counter
	EmbedFailuresTotal  prometheus.Counter
	SearchLatency       prometheus.Histogram
	SearchResultsCount  prometheus.Histogram
	PartialResultsTotal prometheus.Counter
	VectorDegradedTotal prometheus.Counter
	IndexVersion        prometheus.Gauge
	IndexDocumentsCount prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is convenient in tests.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Indexing batches by outcome (committed, failed, poisoned).",
			},
			[]string{"outcome"},
		),
		BatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Time from batch receipt to commit or failure.",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_indexed_total",
				Help:      "Documents added or replaced by committed batches.",
			},
		),
		DocsDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_deleted_total",
				Help:      "Documents removed by committed batches.",
			},
		),
		DocErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "document_errors_total",
				Help:      "Documents rejected during validation.",
			},
		),
		EmbedFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embed_failures_total",
				Help:      "Embedding requests that failed after retries.",
			},
		),
		SearchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_latency_seconds",
				Help:      "Search query latency in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_results_count",
				Help:      "Number of hits returned per search query.",
				Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		PartialResultsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_partial_results_total",
				Help:      "Queries whose ranking was cut short by the deadline.",
			},
		),
		VectorDegradedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_vector_degraded_total",
				Help:      "Queries whose vector rule was disabled by an embedding failure.",
			},
		),
		IndexVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "index_version",
				Help:      "Last committed index version.",
			},
		),
		IndexDocumentsCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "index_documents",
				Help:      "Documents present after the last commit.",
			},
		),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.BatchesTotal,
		m.BatchDuration,
		m.DocsIndexedTotal,
		m.DocsDeletedTotal,
		m.DocErrorsTotal,
		m.EmbedFailuresTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.PartialResultsTotal,
		m.VectorDegradedTotal,
		m.IndexVersion,
		m.IndexDocumentsCount,
	}
}

// BatchFinished records the outcome of one indexing batch.
func (m *Metrics) BatchFinished(outcome string, elapsed time.Duration, indexed, deleted, rejected int) {
	if m == nil {
		return
	}
	m.BatchesTotal.WithLabelValues(outcome).Inc()
	m.BatchDuration.Observe(elapsed.Seconds())
	m.DocsIndexedTotal.Add(float64(indexed))
	m.DocsDeletedTotal.Add(float64(deleted))
	m.DocErrorsTotal.Add(float64(rejected))
}

// Committed records the index state after a commit.
func (m *Metrics) Committed(version uint64, documents uint64) {
	if m == nil {
		return
	}
	m.IndexVersion.Set(float64(version))
	m.IndexDocumentsCount.Set(float64(documents))
}

// EmbedFailed counts a failed embedding exchange.
func (m *Metrics) EmbedFailed() {
	if m == nil {
		return
	}
	m.EmbedFailuresTotal.Inc()
}

// SearchFinished records one query.
func (m *Metrics) SearchFinished(elapsed time.Duration, hits int, partial, vectorDegraded bool) {
	if m == nil {
		return
	}
	m.SearchLatency.Observe(elapsed.Seconds())
	m.SearchResultsCount.Observe(float64(hits))
	if partial {
		m.PartialResultsTotal.Inc()
	}
	if vectorDegraded {
		m.VectorDegradedTotal.Inc()
	}
}
