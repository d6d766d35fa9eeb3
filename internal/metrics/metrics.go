// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "opsassist"

var (
	// ModelCallDuration labels: capability (complete, embed), provider.
	ModelCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "model_call_duration_seconds",
		Help:      "Latency of outbound model calls.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 45, 90, 120},
	}, []string{"capability", "provider"})

	ModelCallErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "model_call_errors_total",
		Help:      "Outbound model calls that failed or timed out.",
	}, []string{"capability", "provider"})

	StoreQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "store_query_duration_seconds",
		Help:      "Latency of evidence store similarity queries.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"backend"})

	// Generations labels: kind (sop, process), outcome (ok, schema_invalid, model_call_failed, ...).
	Generations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generation_total",
		Help:      "Artifact generations by kind and outcome.",
	}, []string{"kind", "outcome"})

	VerificationConfidence = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verification_confidence_total",
		Help:      "Verification reports by overall confidence.",
	}, []string{"confidence"})

	IngestedChunks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingested_chunks_total",
		Help:      "Chunks written to the evidence store.",
	})
)

// ObserveModelCall records one model call.
func ObserveModelCall(capability, provider string, start time.Time, err error) {
	ModelCallDuration.WithLabelValues(capability, provider).Observe(time.Since(start).Seconds())
	if err != nil {
		ModelCallErrors.WithLabelValues(capability, provider).Inc()
	}
}

func ObserveStoreQuery(backend string, start time.Time) {
	StoreQueryDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
}
