package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the engine's Prometheus instrumentation.
type Metrics struct {
	RecordsIngested    *prometheus.CounterVec
	Transitions        *prometheus.CounterVec
	SemanticDegraded   prometheus.Counter
	CandidatesPerDiff  prometheus.Histogram
	PipelineDuration   prometheus.Histogram
	PendingGauge       prometheus.Gauge
	RollbacksRequested *prometheus.CounterVec
}

// NewMetrics registers the engine metrics on the given registerer.
// Passing nil uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RecordsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gomend_records_ingested_total",
			Help: "Healing records created from failure intake, by risk tier.",
		}, []string{"risk_tier"}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gomend_state_transitions_total",
			Help: "Workflow state transitions, by target state.",
		}, []string{"state"}),
		SemanticDegraded: factory.NewCounter(prometheus.CounterOpts{
			Name: "gomend_semantic_signal_degraded_total",
			Help: "Scoring runs where the semantic signal timed out or errored.",
		}),
		CandidatesPerDiff: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gomend_candidates_per_record",
			Help:    "Viable candidates generated per healing record.",
			Buckets: prometheus.LinearBuckets(0, 1, 6),
		}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gomend_pipeline_duration_seconds",
			Help:    "End-to-end diff/generate/score duration per record.",
			Buckets: prometheus.DefBuckets,
		}),
		PendingGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gomend_pending_approvals",
			Help: "Records currently awaiting a human decision.",
		}),
		RollbacksRequested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gomend_rollbacks_total",
			Help: "Rollback requests, by outcome.",
		}, []string{"outcome"}),
	}
}
