// Package metrics holds the prometheus collectors for the assistant pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jarvis_pipeline_stage_duration_seconds",
			Help:    "Duration of each pipeline stage in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	PipelineRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_pipeline_requests_total",
			Help: "Total pipeline runs by final status",
		},
		[]string{"status"},
	)

	CollaboratorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_collaborator_failures_total",
			Help: "Recoverable collaborator failures by error kind",
		},
		[]string{"kind"},
	)

	ClassifierMethod = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_classifier_method_total",
			Help: "Emotion classifications by resolution method",
		},
		[]string{"method"}, // "hybrid_llm", "semantic_fallback"
	)

	CorpusPassages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jarvis_corpus_passages",
			Help: "Passages in the loaded corpus index",
		},
	)

	CorpusBuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_corpus_builds_total",
			Help: "Corpus index builds by source",
		},
		[]string{"source"}, // "cache", "rebuild"
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jarvis_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_circuit_breaker_requests_total",
			Help: "Requests through a circuit breaker by result",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected"
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jarvis_http_requests_total",
			Help: "HTTP API requests by route and status code",
		},
		[]string{"route", "code"},
	)
)

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, started time.Time) {
	PipelineStageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}
