package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Auto-send outcomes, labelled by the audit action they produced.
	AutoSendOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiva_autosend_outcomes_total",
			Help: "Auto-send queue item outcomes",
		},
		[]string{"action"}, // sent, failed, cancelled, rescheduled
	)

	AutoSendBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aiva_autosend_batch_duration_seconds",
			Help:    "Duration of one auto-send batch",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
	)

	IngestedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiva_ingested_messages_total",
			Help: "Messages seen by ingestion",
		},
		[]string{"result"}, // new, duplicate, error
	)

	AICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiva_ai_calls_total",
			Help: "Classification and drafting capability calls",
		},
		[]string{"operation", "status"},
	)

	AICallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aiva_ai_call_latency_ms",
			Help:    "Classification and drafting latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"operation"},
	)
)

func RecordAutoSendOutcome(action string) {
	AutoSendOutcomes.WithLabelValues(action).Inc()
}

func RecordAutoSendBatch(duration time.Duration) {
	AutoSendBatchDuration.Observe(duration.Seconds())
}

func RecordIngested(result string) {
	IngestedMessages.WithLabelValues(result).Inc()
}

// RecordAICall counts one capability call and its latency.
func RecordAICall(operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	AICalls.WithLabelValues(operation, status).Inc()
	AICallLatency.WithLabelValues(operation).Observe(float64(duration.Milliseconds()))
}
