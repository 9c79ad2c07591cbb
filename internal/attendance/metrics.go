package attendance

import "github.com/prometheus/client_golang/prometheus"

var (
	stageCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Subsystem: "workflow",
		Name:      "stage_transitions_total",
		Help:      "Workflow stage transitions, labeled by target stage.",
	}, []string{"stage"})

	locationFailureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Subsystem: "workflow",
		Name:      "location_failures_total",
		Help:      "Failed location queries, labeled by reason.",
	}, []string{"reason"})

	captureRefusedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Subsystem: "workflow",
		Name:      "capture_refused_total",
		Help:      "Capture attempts refused because no subject was detected.",
	})

	submissionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Subsystem: "workflow",
		Name:      "submissions_total",
		Help:      "Attendance submissions, labeled by action and outcome.",
	}, []string{"action", "outcome"})

	submissionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "attendance",
		Subsystem: "workflow",
		Name:      "submission_duration_seconds",
		Help:      "Latency of attendance submissions.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"action"})
)

func init() {
	prometheus.MustRegister(stageCounter, locationFailureCounter, captureRefusedCounter, submissionCounter, submissionDuration)
}
