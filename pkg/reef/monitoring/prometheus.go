package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements EngineMetrics using Prometheus collectors.
//
// All metrics are prefixed with "reef_" to avoid naming conflicts.
//
// Metrics exposed:
//   - reef_build_passes_total: counter of build passes by app and outcome
//   - reef_build_pass_seconds: histogram of pass durations by app
//   - reef_memo_lookups_total: counter of memo lookups by result
//   - reef_effects_reconciled_total: counter of reconcile calls by kind
//   - reef_sink_applies_total: counter of sink deliveries by outcome
//   - reef_sink_apply_seconds: histogram of sink delivery durations
//   - reef_sink_batch_actions: histogram of batch sizes
//
// Example:
//
//	metrics := monitoring.NewPrometheusMetrics(prometheus.DefaultRegisterer)
//	monitoring.SetGlobalMetrics(metrics)
//	http.Handle("/metrics", promhttp.Handler())
type PrometheusMetrics struct {
	buildPasses       *prometheus.CounterVec
	buildPassSeconds  *prometheus.HistogramVec
	memoLookups       *prometheus.CounterVec
	effectsReconciled *prometheus.CounterVec
	sinkApplies       *prometheus.CounterVec
	sinkApplySeconds  prometheus.Histogram
	sinkBatchActions  prometheus.Histogram
}

// NewPrometheusMetrics creates a Prometheus metrics collector and registers
// all collectors with reg. Registration failures (e.g. duplicates) panic;
// this is intentional fail-fast behavior at startup.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	buildPasses := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reef_build_passes_total",
			Help: "Total number of build passes, partitioned by app and outcome.",
		},
		[]string{"app", "outcome"},
	)

	buildPassSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reef_build_pass_seconds",
			Help:    "Build pass wall time in seconds, partitioned by app.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"app"},
	)

	memoLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reef_memo_lookups_total",
			Help: "Total number of memoization lookups, partitioned by result.",
		},
		[]string{"result"},
	)

	effectsReconciled := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reef_effects_reconciled_total",
			Help: "Total number of reconcile calls, partitioned by kind and whether an action was emitted.",
		},
		[]string{"kind", "acted"},
	)

	sinkApplies := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reef_sink_applies_total",
			Help: "Total number of batched sink deliveries, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	sinkApplySeconds := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reef_sink_apply_seconds",
			Help:    "Sink delivery wall time in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)

	sinkBatchActions := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reef_sink_batch_actions",
			Help:    "Number of actions per sink batch.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
		},
	)

	reg.MustRegister(
		buildPasses, buildPassSeconds, memoLookups,
		effectsReconciled, sinkApplies, sinkApplySeconds, sinkBatchActions,
	)

	return &PrometheusMetrics{
		buildPasses:       buildPasses,
		buildPassSeconds:  buildPassSeconds,
		memoLookups:       memoLookups,
		effectsReconciled: effectsReconciled,
		sinkApplies:       sinkApplies,
		sinkApplySeconds:  sinkApplySeconds,
		sinkBatchActions:  sinkBatchActions,
	}
}

// RecordBuildPass records one completed build pass.
func (m *PrometheusMetrics) RecordBuildPass(app string, duration time.Duration, err error) {
	m.buildPasses.WithLabelValues(app, outcomeLabel(err)).Inc()
	m.buildPassSeconds.WithLabelValues(app).Observe(duration.Seconds())
}

// RecordMemoHit records a memoization cache hit.
func (m *PrometheusMetrics) RecordMemoHit() {
	m.memoLookups.WithLabelValues("hit").Inc()
}

// RecordMemoMiss records a memoization cache miss.
func (m *PrometheusMetrics) RecordMemoMiss() {
	m.memoLookups.WithLabelValues("miss").Inc()
}

// RecordMemoDisabled records a lookup that found a non-reusable entry.
func (m *PrometheusMetrics) RecordMemoDisabled() {
	m.memoLookups.WithLabelValues("disabled").Inc()
}

// RecordEffectReconciled records one reconcile call.
func (m *PrometheusMetrics) RecordEffectReconciled(orphan, acted bool) {
	kind := "declared"
	if orphan {
		kind = "orphan"
	}
	actedLabel := "false"
	if acted {
		actedLabel = "true"
	}
	m.effectsReconciled.WithLabelValues(kind, actedLabel).Inc()
}

// RecordSinkApply records one batched sink delivery.
func (m *PrometheusMetrics) RecordSinkApply(actions int, duration time.Duration, err error) {
	m.sinkApplies.WithLabelValues(outcomeLabel(err)).Inc()
	m.sinkApplySeconds.Observe(duration.Seconds())
	m.sinkBatchActions.Observe(float64(actions))
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
