package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(projectsCreatedTotal, stepTransitionsTotal)
}

var (
	projectsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "projects_created_total",
			Help: "Total number of video projects created.",
		},
	)

	stepTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_step_transitions_total",
			Help: "Pipeline step transitions by step number and event.",
		},
		[]string{"step", "event"}, // event: 'started', 'completed', 'failed', 'retried'
	)
)

func IncProjects() { projectsCreatedTotal.Inc() }

func IncStepStarted(step int)   { incStep(step, "started") }
func IncStepCompleted(step int) { incStep(step, "completed") }
func IncStepFailed(step int)    { incStep(step, "failed") }
func IncStepRetried(step int)   { incStep(step, "retried") }

func incStep(step int, event string) {
	stepTransitionsTotal.WithLabelValues(strconv.Itoa(step), event).Inc()
}
