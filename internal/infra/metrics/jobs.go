package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(jobsProcessedTotal, jobDurationSeconds, jobRetriesTotal, deadLettersTotal, queueDepth)
}

var (
	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Total number of queue jobs processed, labeled by type and outcome.",
		},
		[]string{"type", "outcome"}, // 'completed', 'failed', 'cancelled'
	)

	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Job handler execution time per job type.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"type"},
	)

	jobRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_retries_total",
			Help: "Jobs rescheduled after a failed attempt.",
		},
		[]string{"type"},
	)

	deadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dead_letters_total",
			Help: "Jobs moved to the dead letter store.",
		},
		[]string{"type"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current number of jobs per status.",
		},
		[]string{"status"}, // 'waiting', 'active', 'dead'
	)
)

func IncJobProcessed(jobType, outcome string) {
	jobsProcessedTotal.WithLabelValues(norm(jobType), norm(outcome)).Inc()
}

func ObserveJobDuration(jobType string, seconds float64) {
	jobDurationSeconds.WithLabelValues(norm(jobType)).Observe(seconds)
}

func IncJobRetried(jobType string) {
	jobRetriesTotal.WithLabelValues(norm(jobType)).Inc()
}

func IncDeadLetter(jobType string) {
	deadLettersTotal.WithLabelValues(norm(jobType)).Inc()
}

func SetQueueDepth(status string, count int) {
	queueDepth.WithLabelValues(norm(status)).Set(float64(count))
}
