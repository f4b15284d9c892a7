package provision

import "github.com/prometheus/client_golang/prometheus"

var (
	stateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ztp_state_transitions_total",
			Help: "Total workflow steps entered.",
		},
		[]string{"workflow", "state"},
	)
	workflowFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ztp_workflow_failures_total",
			Help: "Total workflows aborted, by failing step.",
		},
		[]string{"workflow", "state"},
	)
	workflowDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ztp_workflow_duration_seconds",
			Help:    "Workflow duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"workflow"},
	)
)

func init() {
	prometheus.MustRegister(stateTransitionsTotal)
	prometheus.MustRegister(workflowFailuresTotal)
	prometheus.MustRegister(workflowDuration)
}
