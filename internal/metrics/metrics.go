// Package metrics exposes the agent runtime's Prometheus instrumentation,
// grounded on the same promauto/registry pattern as other repos in this
// corpus that serve a /metrics endpoint.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spamwatch_queue_depth",
			Help: "Number of runtime messages by status.",
		},
		[]string{"status"},
	)

	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spamwatch_decisions_total",
			Help: "Total scoring decisions by outcome.",
		},
		[]string{"decision"},
	)

	ScoringDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spamwatch_scoring_duration_seconds",
			Help:    "Duration of one ScoreMessage call.",
			Buckets: prometheus.DefBuckets,
		},
	)

	RetrainCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spamwatch_retrain_cycles_total",
			Help: "Total retrain ticks by outcome.",
		},
		[]string{"outcome"}, // "success", "failure"
	)

	ActiveModelVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "spamwatch_active_model_version",
			Help: "Currently active model version number.",
		},
	)
)

var registerOnce sync.Once
var registry *prometheus.Registry

// Registry returns the process-wide Prometheus registry, registering the
// agent's collectors exactly once.
func Registry() *prometheus.Registry {
	registerOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			QueueDepth,
			DecisionsTotal,
			ScoringDurationSeconds,
			RetrainCyclesTotal,
			ActiveModelVersion,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
	return registry
}
