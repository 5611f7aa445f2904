// Package metrics provides Prometheus metrics for monitoring the recalculation orchestrator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/indexops/recalc/internal/task"
)

var (
	TasksCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recalc_tasks_created_total",
			Help: "Total number of tasks created",
		},
		[]string{"type", "kind"},
	)
	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recalc_tasks_completed_total",
			Help: "Total number of tasks completed successfully",
		},
		[]string{"type"},
	)
	TasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recalc_tasks_failed_total",
			Help: "Total number of tasks that failed, by failure kind",
		},
		[]string{"type", "kind"},
	)
	TasksCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recalc_tasks_cancelled_total",
			Help: "Total number of tasks cancelled before execution",
		},
		[]string{"type"},
	)
	TasksByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recalc_tasks_by_status",
			Help: "Current number of tracked tasks by status and type",
		},
		[]string{"status", "type"},
	)
	RunningTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recalc_running_tasks",
			Help: "Number of tasks currently holding a concurrency slot",
		},
	)
	PendingTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recalc_pending_tasks",
			Help: "Number of tasks waiting for a concurrency slot",
		},
	)
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recalc_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"type", "status"},
	)
	TaskWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recalc_task_wait_time_seconds",
			Help:    "Time tasks spend pending before execution starts",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
		[]string{"type"},
	)
	BatchesCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recalc_batches_completed_total",
			Help: "Total number of batches run to completion",
		},
	)
	BatchChildrenFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recalc_batch_children_failed_total",
			Help: "Total number of batch children that finished in failure",
		},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recalc_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recalc_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func RecordTaskCreated(taskType string, kind task.Kind) {
	TasksCreated.WithLabelValues(taskType, string(kind)).Inc()
}

func RecordTaskCompleted(taskType string, duration time.Duration) {
	TasksCompleted.WithLabelValues(taskType).Inc()
	TaskDuration.WithLabelValues(taskType, "completed").Observe(duration.Seconds())
}

func RecordTaskFailed(taskType, failureKind string, duration time.Duration) {
	TasksFailed.WithLabelValues(taskType, failureKind).Inc()
	TaskDuration.WithLabelValues(taskType, "failed").Observe(duration.Seconds())
}

func RecordTaskCancelled(taskType string) {
	TasksCancelled.WithLabelValues(taskType).Inc()
}

func RecordTaskWaitTime(taskType string, waitTime time.Duration) {
	TaskWaitTime.WithLabelValues(taskType).Observe(waitTime.Seconds())
}

func RecordBatchCompleted(summary task.BatchSummary) {
	BatchesCompleted.Inc()
	BatchChildrenFailed.Add(float64(summary.Failed))
}

func UpdateTaskGauges(tasksByStatus map[task.Status]map[string]int) {
	TasksByStatus.Reset()
	for status, typeMap := range tasksByStatus {
		for taskType, count := range typeMap {
			TasksByStatus.WithLabelValues(string(status), taskType).Set(float64(count))
		}
	}
}

func UpdateGateGauges(running, pending int) {
	RunningTasks.Set(float64(running))
	PendingTasks.Set(float64(pending))
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
