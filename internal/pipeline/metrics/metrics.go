package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsProcessed tracks pipeline outcomes per status
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lens_records_processed_total",
			Help: "Total number of records run through the pipeline",
		},
		[]string{"status"},
	)

	// BatchRuns tracks completed batch runs
	BatchRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lens_batch_runs_total",
			Help: "Total number of completed batch runs",
		},
	)

	// ToolCallsTotal tracks tool-server invocations per tool
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lens_tool_calls_total",
			Help: "Total number of tool server calls",
		},
		[]string{"tool", "outcome"},
	)

	// StageErrors tracks failures per pipeline stage and fault kind
	StageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lens_stage_errors_total",
			Help: "Total number of pipeline stage failures",
		},
		[]string{"stage", "kind"},
	)

	// RecordLatency tracks end-to-end per-record latency
	RecordLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lens_record_latency_seconds",
			Help:    "End-to-end record processing latency in seconds",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
		},
	)

	// VisionLatency tracks vision model call latency
	VisionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lens_vision_latency_seconds",
			Help:    "Vision model call latency in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		},
	)

	// VisionTokens tracks token consumption per direction
	VisionTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lens_vision_tokens_total",
			Help: "Total tokens consumed by vision calls",
		},
		[]string{"direction"},
	)

	// UnprocessedBacklog tracks the unprocessed records seen by the last query
	UnprocessedBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lens_unprocessed_backlog",
			Help: "Unprocessed records found by the most recent batch query",
		},
	)
)
