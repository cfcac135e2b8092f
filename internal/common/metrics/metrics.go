package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticker_worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticker_worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "sticker_worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sticker_worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)

var (
	ApplicationsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticker_applications_submitted_total",
			Help: "Applications persisted in the submitted state",
		},
		[]string{"application_type"},
	)

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticker_transitions_total",
			Help: "Lifecycle transitions by target status and outcome",
		},
		[]string{"to", "outcome"},
	)

	SerialsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticker_serials_issued_total",
			Help: "Serial numbers issued per session year",
		},
		[]string{"year"},
	)

	CapacityExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticker_capacity_exceeded_total",
			Help: "Approvals rejected because the session was full",
		},
		[]string{"year"},
	)

	AllocationRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sticker_allocation_retries_total",
			Help: "Transactions rerun after a uniqueness or serialization conflict",
		},
		[]string{"operation"},
	)

	DuplicateConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sticker_duplicate_conflicts_total",
			Help: "Submissions rejected by the uniqueness guard",
		},
	)
)
