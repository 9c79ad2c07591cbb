// Package observability exposes watermark gauges shared across the kiosk.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	credentialWrittenGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "attendance",
		Subsystem: "session",
		Name:      "last_credential_written_timestamp_seconds",
		Help:      "Unix timestamp of the most recent credential written by login or refresh.",
	})
	attendanceSubmittedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "attendance",
		Subsystem: "workflow",
		Name:      "last_submission_timestamp_seconds",
		Help:      "Unix timestamp of the most recent accepted check-in or check-out.",
	})
)

func init() {
	prometheus.MustRegister(credentialWrittenGauge, attendanceSubmittedGauge)
}

// RecordCredentialWritten updates the credential watermark gauge.
func RecordCredentialWritten(ts time.Time) {
	if ts.IsZero() {
		return
	}
	credentialWrittenGauge.Set(float64(ts.Unix()))
}

// RecordAttendanceSubmitted updates the submission watermark gauge.
func RecordAttendanceSubmitted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	attendanceSubmittedGauge.Set(float64(ts.Unix()))
}
