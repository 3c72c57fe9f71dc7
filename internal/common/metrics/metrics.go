// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SourceFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loan_source_fetch_total",
			Help: "Adapter fetches by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	SourceFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loan_source_fetch_duration_seconds",
			Help:    "Duration of adapter fetches in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"source"},
	)

	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loan_cache_requests_total",
			Help: "Cache lookups by source and result (hit, miss, stale)",
		},
		[]string{"source", "result"},
	)

	CacheRemoteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loan_cache_remote_errors_total",
			Help: "Redis tier errors that were failed open",
		},
	)

	ValidationRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loan_validation_records_total",
			Help: "Validated records by source and verdict",
		},
		[]string{"source", "verdict"},
	)

	QueryResultSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "loan_query_result_size",
			Help:    "Number of records returned per query",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		},
	)

	SchedulerJobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loan_scheduler_job_runs_total",
			Help: "Scheduler job runs by job and status",
		},
		[]string{"job", "status"},
	)

	SchedulerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "loan_scheduler_job_duration_seconds",
			Help: "Duration of scheduler job runs in seconds",
		},
		[]string{"job"},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)
)
