package events

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"example.com/attendance/internal/attendance"
)

const (
	defaultQueueSize = 64
	drainTimeout     = 5 * time.Second
)

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithSubject sets the function resolving the signed-in user id.
func WithSubject(fn func() string) EmitterOption {
	return func(e *Emitter) {
		e.subject = fn
	}
}

// WithQueueSize bounds the number of queued events.
func WithQueueSize(n int) EmitterOption {
	return func(e *Emitter) {
		if n > 0 {
			e.queue = make(chan Event, n)
		}
	}
}

// WithEmitterLogger overrides the logger.
func WithEmitterLogger(logger *log.Logger) EmitterOption {
	return func(e *Emitter) {
		e.logger = logger
	}
}

// Emitter turns workflow transitions into events and publishes them from a
// background loop. It never blocks the workflow: events are dropped when the
// queue is full.
type Emitter struct {
	publisher        Publisher
	subject          func() string
	queue            chan Event
	logger           *log.Logger
	shutdownComplete chan struct{}
}

// NewEmitter constructs an Emitter publishing through publisher.
func NewEmitter(publisher Publisher, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		publisher:        publisher,
		subject:          func() string { return "" },
		queue:            make(chan Event, defaultQueueSize),
		logger:           log.New(log.Writer(), "[events] ", log.LstdFlags|log.Lshortfile),
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StageChanged implements attendance.Observer.
func (e *Emitter) StageChanged(t attendance.Transition) {
	evt, ok := e.eventFor(t)
	if !ok {
		return
	}
	select {
	case e.queue <- evt:
	default:
		droppedCounter.WithLabelValues(evt.Type).Inc()
		e.logger.Printf("queue full, dropped %s for run %s", evt.Type, t.Run.ID)
	}
}

func (e *Emitter) eventFor(t attendance.Transition) (Event, bool) {
	run := t.Run
	key := run.ID.String()
	at := t.At.UTC()

	switch {
	case t.To == attendance.StageCompleted && run.Result != nil && run.Location != nil:
		return Event{Type: TypeAttendanceRecorded, Key: key, Payload: AttendanceRecorded{
			EventID:    uuid.NewString(),
			RunID:      key,
			UserID:     e.subject(),
			Action:     string(run.Action),
			Status:     string(run.Result.Status),
			RecordID:   run.Result.RecordID,
			Lat:        run.Location.Lat,
			Lng:        run.Location.Lng,
			AccuracyM:  run.Location.Accuracy,
			OccurredAt: at,
		}}, true
	case t.Err != nil && (t.To == attendance.StageFailed || t.To == attendance.StageLocating):
		stage := "submitting"
		if t.To == attendance.StageLocating {
			stage = "locating"
		}
		return Event{Type: TypeAttendanceFailed, Key: key, Payload: AttendanceFailed{
			EventID:    uuid.NewString(),
			RunID:      key,
			UserID:     e.subject(),
			Action:     string(run.Action),
			Stage:      stage,
			Reason:     t.Err.Error(),
			OccurredAt: at,
		}}, true
	default:
		return Event{}, false
	}
}

// Start runs the publish loop until ctx is done, then drains what is queued.
// It should be called in a goroutine.
func (e *Emitter) Start(ctx context.Context) {
	defer close(e.shutdownComplete)
	for {
		select {
		case <-ctx.Done():
			e.drain(context.WithoutCancel(ctx))
			return
		case evt := <-e.queue:
			e.publish(ctx, evt)
		}
	}
}

// Wait waits until the publish loop stops.
func (e *Emitter) Wait() {
	<-e.shutdownComplete
}

func (e *Emitter) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	for {
		select {
		case evt := <-e.queue:
			e.publish(ctx, evt)
		default:
			return
		}
	}
}

func (e *Emitter) publish(ctx context.Context, evt Event) {
	if err := e.publisher.Publish(ctx, evt); err != nil {
		if !errors.Is(err, context.Canceled) {
			e.logger.Printf("publish %s: %v", evt.Type, err)
		}
		publishedCounter.WithLabelValues(evt.Type, "error").Inc()
		return
	}
	publishedCounter.WithLabelValues(evt.Type, "ok").Inc()
}
