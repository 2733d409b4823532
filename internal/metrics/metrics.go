// Package metrics provides Prometheus metrics for the orchestration engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksTotal counts tasks reaching a terminal status.
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentmesh",
			Subsystem: "orchestrator",
			Name:      "tasks_total",
			Help:      "Total number of tasks by terminal status",
		},
		[]string{"status"}, // "completed", "failed", "cancelled"
	)

	// TasksActive tracks currently running tasks.
	TasksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agentmesh",
			Subsystem: "orchestrator",
			Name:      "tasks_active",
			Help:      "Number of currently running tasks",
		},
	)

	// TaskDuration tracks task execution duration.
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentmesh",
			Subsystem: "orchestrator",
			Name:      "task_duration_seconds",
			Help:      "Task execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"status"},
	)

	// TaskRetries tracks retry attempts per task.
	TaskRetries = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentmesh",
			Subsystem: "orchestrator",
			Name:      "task_retries",
			Help:      "Number of retry attempts per task",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		},
		[]string{"final_status"},
	)

	// ResourceDenials counts resource acquisition denials.
	ResourceDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentmesh",
			Subsystem: "orchestrator",
			Name:      "resource_denials_total",
			Help:      "Total number of resource acquisition denials",
		},
		[]string{"resource"},
	)

	// SchedulerQueueDepth tracks pending tasks awaiting scheduling.
	SchedulerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agentmesh",
			Subsystem: "orchestrator",
			Name:      "scheduler_queue_depth",
			Help:      "Number of tasks pending execution",
		},
	)

	// WorkflowsTotal counts workflow runs by final status.
	WorkflowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentmesh",
			Subsystem: "orchestrator",
			Name:      "workflows_total",
			Help:      "Total number of workflow runs by final status",
		},
		[]string{"status"},
	)

	// EventsTotal counts coordination events by type.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentmesh",
			Subsystem: "orchestrator",
			Name:      "events_total",
			Help:      "Total number of coordination events emitted",
		},
		[]string{"type"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentmesh",
			Subsystem: "orchestrator",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// SSEActiveConnections tracks live event-stream subscribers.
	SSEActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agentmesh",
			Subsystem: "orchestrator",
			Name:      "sse_active_connections",
			Help:      "Number of active SSE connections",
		},
	)

	// SSEConnectionDuration tracks how long SSE connections stay open.
	SSEConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "agentmesh",
			Subsystem: "orchestrator",
			Name:      "sse_connection_duration_seconds",
			Help:      "SSE connection duration in seconds",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		},
	)

	// HTTPRequestDuration tracks request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentmesh",
			Subsystem: "orchestrator",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
