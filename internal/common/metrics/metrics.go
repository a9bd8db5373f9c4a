// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage transition outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeReentry   = "reentry"
	OutcomeFailed    = "failed"
)

var (
	StageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loan_stage_transitions_total",
			Help: "Stage transitions by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	StageTransitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loan_stage_duration_seconds",
			Help:    "Duration of a stage transition including collaborator calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	StageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loan_stage_errors_total",
			Help: "Failed stage transitions by error code",
		},
		[]string{"stage", "error_code"},
	)

	ApplicationsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loan_applications_submitted_total",
			Help: "Loan applications accepted on submission",
		},
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

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loan_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"method", "route", "status"},
	)
)
