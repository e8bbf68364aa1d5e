// Package telemetry holds the Prometheus collectors and the OpenTelemetry
// tracer setup shared by the CLI, API and worker.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "threatlens"

var (
	// HTTPRequests counts API requests by route pattern and status.
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "API requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	// HTTPDuration observes API latency by route pattern.
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// Predictions counts served predictions by label.
	Predictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "predictions_total",
		Help:      "Severity predictions by predicted label.",
	}, []string{"label"})

	// UnseenCategories counts categorical values missing from the vocabulary.
	UnseenCategories = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unseen_categories_total",
		Help:      "Categorical values not seen during training, by column and policy.",
	}, []string{"column", "policy"})

	// CacheRequests counts read-through cache lookups.
	CacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_requests_total",
		Help:      "Read-through cache lookups by result (hit, miss, error).",
	}, []string{"result"})

	// TrainingRuns counts completed training runs.
	TrainingRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "training_runs_total",
		Help:      "Completed classifier training runs.",
	})

	// ModelAccuracy is the held-out accuracy of the latest trained model.
	ModelAccuracy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "model_accuracy",
		Help:      "Held-out accuracy of the most recent training run.",
	})

	// PipelineRows reports row counts per pipeline stage of the last run.
	PipelineRows = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pipeline_rows",
		Help:      "Rows produced by each stage of the last pipeline run.",
	}, []string{"stage"})

	// Registry holds every ThreatLens collector plus the Go runtime ones.
	Registry = prometheus.NewRegistry()
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequests,
		HTTPDuration,
		Predictions,
		UnseenCategories,
		CacheRequests,
		TrainingRuns,
		ModelAccuracy,
		PipelineRows,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
