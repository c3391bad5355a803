// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueriesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_queries_processed_total",
			Help: "Total number of queries processed, by terminal state",
		},
		[]string{"state"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "agent_query_duration_seconds",
			Help: "End-to-end duration of query processing in seconds",
		},
		[]string{"intent"},
	)

	AgentInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_invocations_total",
			Help: "Total number of agent invocations, by agent name",
		},
		[]string{"agent"},
	)

	ModelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "agent_model_call_duration_seconds",
			Help: "Duration of generative model calls in seconds",
		},
		[]string{"agent"},
	)

	SanitizerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_sanitizer_rejections_total",
			Help: "Total number of inputs rejected by the sanitizer, by layer",
		},
		[]string{"layer"},
	)

	LeakageDetections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_leakage_detections_total",
			Help: "Total number of model responses flagged by the leakage scanner",
		},
		[]string{"leak_type"},
	)

	SchemaViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_schema_violations_total",
			Help: "Total number of model responses rejected by schema validation, by schema",
		},
		[]string{"schema"},
	)

	PlanStepsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_plan_steps_executed_total",
			Help: "Total number of plan steps executed, by outcome",
		},
		[]string{"outcome"},
	)

	PlanStepsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agent_plan_steps_active",
			Help: "Number of plan steps currently executing",
		},
	)
)
