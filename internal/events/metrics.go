package events

import "github.com/prometheus/client_golang/prometheus"

var (
	publishedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Telemetry events handed to the publisher, labeled by type and result.",
	}, []string{"type", "result"})

	droppedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Telemetry events dropped because the queue was full.",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(publishedCounter, droppedCounter)
}
