package gateway

import "github.com/prometheus/client_golang/prometheus"

var (
	callCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Subsystem: "gateway",
		Name:      "calls_total",
		Help:      "Remote calls issued, labeled by method and outcome (ok or error kind).",
	}, []string{"method", "outcome"})

	callDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "attendance",
		Subsystem: "gateway",
		Name:      "call_duration_seconds",
		Help:      "Latency of remote calls including body decoding.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"method"})

	notificationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Subsystem: "gateway",
		Name:      "notifications_total",
		Help:      "User notifications emitted for classified errors, labeled by kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(callCounter, callDuration, notificationCounter)
}
