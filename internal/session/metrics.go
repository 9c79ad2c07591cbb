package session

import "github.com/prometheus/client_golang/prometheus"

var (
	transitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Subsystem: "session",
		Name:      "transitions_total",
		Help:      "Session state transitions, labeled by source and target state.",
	}, []string{"from", "to"})

	operationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Subsystem: "session",
		Name:      "operations_total",
		Help:      "Session operations, labeled by operation and result.",
	}, []string{"operation", "result"})
)

func init() {
	prometheus.MustRegister(transitionCounter, operationCounter)
}

func recordOperation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	operationCounter.WithLabelValues(operation, result).Inc()
}
