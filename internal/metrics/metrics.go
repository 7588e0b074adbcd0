package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Queue labels for drop counters.
const (
	QueueSnapshots = "snapshots"
	QueueLogs      = "logs"
)

var (
	snapshotsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vigil_agent",
			Name:      "snapshots_total",
			Help:      "Total snapshots consumed by the pipeline worker.",
		},
	)

	droppedSamplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil_agent",
			Name:      "dropped_samples_total",
			Help:      "Items dropped from a full ingestion queue, partitioned by queue.",
		},
		[]string{"queue"},
	)

	invalidSnapshotsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vigil_agent",
			Name:      "invalid_snapshots_total",
			Help:      "Snapshots rejected as malformed or out of order.",
		},
	)

	scoringFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vigil_agent",
			Name:      "scoring_failures_total",
			Help:      "Model scoring calls that failed or timed out.",
		},
	)

	correlationMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vigil_agent",
			Name:      "correlation_misses_total",
			Help:      "Correlation queries that produced no culprit.",
		},
	)

	alertTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil_agent",
			Name:      "alert_transitions_total",
			Help:      "Alert state transitions, partitioned by target state.",
		},
		[]string{"state"},
	)

	pipelineLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vigil_agent",
			Name:      "pipeline_seconds",
			Help:      "Per-snapshot pipeline processing latency in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)
)

// Register attaches vigil-agent collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		snapshotsTotal,
		droppedSamplesTotal,
		invalidSnapshotsTotal,
		scoringFailuresTotal,
		correlationMissesTotal,
		alertTransitionsTotal,
		pipelineLatencySeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveSnapshot records one consumed snapshot and its processing latency.
func ObserveSnapshot(duration time.Duration) {
	snapshotsTotal.Inc()
	if duration < 0 {
		duration = 0
	}
	pipelineLatencySeconds.Observe(duration.Seconds())
}

// IncDropped counts a backpressure drop on the named queue.
func IncDropped(queue string) {
	droppedSamplesTotal.WithLabelValues(queue).Inc()
}

// IncInvalidSnapshot counts a rejected snapshot.
func IncInvalidSnapshot() {
	invalidSnapshotsTotal.Inc()
}

// IncScoringFailure counts a failed or timed-out model call.
func IncScoringFailure() {
	scoringFailuresTotal.Inc()
}

// IncCorrelationMiss counts a correlation query with no culprit.
func IncCorrelationMiss() {
	correlationMissesTotal.Inc()
}

// IncAlertTransition counts a transition into the named state.
func IncAlertTransition(state string) {
	alertTransitionsTotal.WithLabelValues(state).Inc()
}
