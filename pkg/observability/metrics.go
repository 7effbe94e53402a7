// Package observability holds the Prometheus metrics for the meeting
// lifecycle, the task queue, and the transcript pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Webhook metrics
	WebhookEventsTotal    *prometheus.CounterVec
	WebhookRejectedTotal  *prometheus.CounterVec
	WebhookLatencySeconds *prometheus.HistogramVec

	// State machine metrics
	TransitionsTotal *prometheus.CounterVec

	// Task queue metrics
	TasksEnqueuedTotal  *prometheus.CounterVec
	TasksDeliveredTotal *prometheus.CounterVec
	TaskQueueDepth      *prometheus.GaugeVec
	DLQTasksTotal       *prometheus.CounterVec

	// Pipeline metrics
	PipelineRunsTotal      *prometheus.CounterVec
	PipelineSeconds        *prometheus.HistogramVec
	PipelineChunksTotal    *prometheus.CounterVec

	// Scheduler metrics
	ScheduledExecutionsTotal *prometheus.CounterVec
	SchedulerPollSeconds     prometheus.Histogram

	// Model metrics
	ModelCallsTotal     *prometheus.CounterVec
	ModelLatencySeconds *prometheus.HistogramVec
}

// Default creates metrics registered on the default registerer.
func Default() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// New creates the full metric set on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WebhookEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetscribe_webhook_events_total",
				Help: "Total webhook events received, by event name and outcome",
			},
			[]string{"event", "outcome"},
		),
		WebhookRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetscribe_webhook_rejected_total",
				Help: "Webhook deliveries rejected before dispatch",
			},
			[]string{"reason"},
		),
		WebhookLatencySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meetscribe_webhook_latency_seconds",
				Help:    "Webhook handling latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"event"},
		),

		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetscribe_transitions_total",
				Help: "Meeting status transitions by target status and outcome",
			},
			[]string{"to", "outcome"},
		),

		TasksEnqueuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetscribe_tasks_enqueued_total",
				Help: "Total tasks entering each queue",
			},
			[]string{"queue"},
		),
		TasksDeliveredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetscribe_tasks_delivered_total",
				Help: "Task callback deliveries by result",
			},
			[]string{"queue", "result"},
		),
		TaskQueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "meetscribe_task_queue_depth",
				Help: "Current queue depth",
			},
			[]string{"queue"},
		),
		DLQTasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetscribe_dlq_tasks_total",
				Help: "Tasks moved to the dead letter queue",
			},
			[]string{"queue", "error_type"},
		),

		PipelineRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetscribe_pipeline_runs_total",
				Help: "Transcript pipeline runs by plugin and status",
			},
			[]string{"plugin", "status"},
		),
		PipelineSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meetscribe_pipeline_seconds",
				Help:    "End-to-end pipeline latency per plugin",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"plugin"},
		),
		PipelineChunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetscribe_pipeline_chunks_total",
				Help: "Transcript chunks analyzed per plugin",
			},
			[]string{"plugin"},
		),

		ScheduledExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetscribe_scheduled_executions_total",
				Help: "Scheduled meeting executions by result",
			},
			[]string{"result"},
		),
		SchedulerPollSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "meetscribe_scheduler_poll_seconds",
				Help:    "Duration of one scheduler poll cycle",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
		),

		ModelCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetscribe_model_calls_total",
				Help: "Language model calls by operation and status",
			},
			[]string{"operation", "status"},
		),
		ModelLatencySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meetscribe_model_latency_seconds",
				Help:    "Language model call latency",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"operation"},
		),
	}
}
