package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobExecutionsTotal counts finished executions by template and outcome
	JobExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_executions_total",
			Help: "Total number of dynamic job executions by terminal status.",
		},
		[]string{"template_type", "status"},
	)

	// JobExecutionDuration observes wall-clock execution time
	JobExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_execution_duration_seconds",
			Help:    "Wall-clock duration of dynamic job executions.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"template_type"},
	)

	// JobsRunning tracks executions currently in flight
	JobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_running",
			Help: "Number of job executions currently in flight.",
		},
	)

	// SchedulerPollsTotal counts due-job poll cycles
	SchedulerPollsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_polls_total",
			Help: "Total number of due-job poll cycles.",
		},
	)

	// SchedulerDispatchesSkipped counts due jobs not dispatched because the
	// worker queue was full; they stay due and are retried next poll
	SchedulerDispatchesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_dispatches_skipped_total",
			Help: "Due jobs skipped because the worker queue was full.",
		},
	)

	// NotificationsTotal counts notification attempts by outcome
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_notifications_total",
			Help: "Total number of job notifications by delivery outcome.",
		},
		[]string{"outcome"},
	)
)
