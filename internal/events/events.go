// Package events publishes the outcome of attendance runs as telemetry.
package events

import (
	"context"
	"time"
)

// Event types.
const (
	TypeAttendanceRecorded = "attendance.recorded"
	TypeAttendanceFailed   = "attendance.failed"
)

// AttendanceRecorded is emitted when a check-in or check-out is accepted.
type AttendanceRecorded struct {
	EventID    string    `json:"event_id"`
	RunID      string    `json:"run_id"`
	UserID     string    `json:"user_id,omitempty"`
	Action     string    `json:"action"`
	Status     string    `json:"status"`
	RecordID   string    `json:"record_id,omitempty"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	AccuracyM  *float64  `json:"accuracy_m,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AttendanceFailed is emitted when a location query or a submission fails.
type AttendanceFailed struct {
	EventID    string    `json:"event_id"`
	RunID      string    `json:"run_id"`
	UserID     string    `json:"user_id,omitempty"`
	Action     string    `json:"action"`
	Stage      string    `json:"stage"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Event is one message bound for the events topic.
type Event struct {
	Type    string
	Key     string
	Payload any
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// NoopPublisher discards events. It is used when no brokers are configured.
type NoopPublisher struct{}

// Publish implements Publisher.
func (NoopPublisher) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (NoopPublisher) Close() error { return nil }
