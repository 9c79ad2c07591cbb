// Package attendance drives the verification run behind a check-in or check-out.
//
// A run moves Locate, then Capture, then Submit, one stage at a time. Only one
// run exists per Workflow. Each device call and the submission are awaited
// under their own bounded context.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/attendance/internal/contract"
	"example.com/attendance/internal/observability"
)

// Stage is a step of the verification run.
type Stage string

const (
	StageIdle            Stage = "idle"
	StageLocating        Stage = "locating"
	StageAwaitingCapture Stage = "awaiting_capture"
	StageReviewing       Stage = "reviewing"
	StageSubmitting      Stage = "submitting"
	StageCompleted       Stage = "completed"
	StageFailed          Stage = "failed"
	StageCancelled       Stage = "cancelled"
)

// Action is the outbound submission of a run.
type Action string

const (
	ActionCheckIn  Action = "check_in"
	ActionCheckOut Action = "check_out"
)

// ActionFor picks the action for the current status: a checked-in employee
// checks out, anyone else checks in.
func ActionFor(status contract.AttendanceStatus) Action {
	if status == contract.StatusCheckedIn {
		return ActionCheckOut
	}
	return ActionCheckIn
}

// Result is the status an accepted action leads to.
func (a Action) Result() contract.AttendanceStatus {
	if a == ActionCheckOut {
		return contract.StatusCheckedOut
	}
	return contract.StatusCheckedIn
}

// Facing selects the active capture device.
type Facing string

const (
	FacingFront Facing = "user"
	FacingBack  Facing = "environment"
)

// LocateOptions bound a single location query.
type LocateOptions struct {
	Timeout      time.Duration
	MaximumAge   time.Duration
	HighAccuracy bool
}

// DefaultLocateOptions returns the defaults used by NewWorkflow.
func DefaultLocateOptions() LocateOptions {
	return LocateOptions{Timeout: 15 * time.Second, MaximumAge: time.Minute, HighAccuracy: true}
}

// Locator answers one geolocation query.
type Locator interface {
	Locate(ctx context.Context, opts LocateOptions) (contract.Location, error)
}

// Camera takes one still image, encoded as a data URL.
type Camera interface {
	Capture(ctx context.Context, facing Facing) (string, error)
}

// Detector reports whether a subject is in frame.
type Detector interface {
	SubjectPresent(ctx context.Context) bool
}

// Submitter sends the run's action to the backend.
type Submitter interface {
	Submit(ctx context.Context, action Action, req contract.SubmitRequest) (contract.StatusResponse, error)
}

// Run is the ephemeral record of one verification attempt.
type Run struct {
	ID        uuid.UUID
	Action    Action
	StartedAt time.Time
	Location  *contract.Location
	Image     string
	Err       error
	Result    *contract.StatusResponse
}

func (r *Run) clone() Run {
	out := *r
	if r.Location != nil {
		loc := *r.Location
		out.Location = &loc
	}
	if r.Result != nil {
		res := *r.Result
		out.Result = &res
	}
	return out
}

// Transition describes one stage change. From equals To when a location query
// failed and the run stayed in Locating.
type Transition struct {
	From Stage
	To   Stage
	Run  Run
	Err  error
	At   time.Time
}

// Observer receives every transition in the order it happened.
type Observer interface {
	StageChanged(Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Transition)

// StageChanged implements Observer.
func (f ObserverFunc) StageChanged(t Transition) { f(t) }

// Snapshot is a point-in-time view of the Workflow.
type Snapshot struct {
	Stage  Stage
	Facing Facing
	Busy   bool
	// Run is nil while Idle.
	Run *Run
}

// Option configures optional behaviour for the Workflow.
type Option func(*Workflow)

// WithLocateOptions overrides the location query bounds.
func WithLocateOptions(opts LocateOptions) Option {
	return func(w *Workflow) {
		w.locateOpts = opts
	}
}

// WithObserver adds a transition observer.
func WithObserver(o Observer) Option {
	return func(w *Workflow) {
		w.observers = append(w.observers, o)
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(w *Workflow) {
		w.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) {
		w.now = now
	}
}

// Workflow is the verification state machine.
type Workflow struct {
	locator   Locator
	camera    Camera
	detector  Detector
	submitter Submitter

	locateOpts LocateOptions
	observers  []Observer
	logger     *log.Logger
	now        func() time.Time

	mu           sync.Mutex
	stage        Stage
	run          *Run
	facing       Facing
	busy         bool
	cancelLocate context.CancelFunc
	// pending holds transitions built under mu and not yet delivered.
	pending []Transition

	// emitMu serializes delivery; transitions leave pending in the order
	// they were built.
	emitMu sync.Mutex
}

// NewWorkflow constructs an idle Workflow.
func NewWorkflow(locator Locator, camera Camera, detector Detector, submitter Submitter, opts ...Option) *Workflow {
	w := &Workflow{
		locator:    locator,
		camera:     camera,
		detector:   detector,
		submitter:  submitter,
		locateOpts: DefaultLocateOptions(),
		logger:     log.New(log.Writer(), "[attendance] ", log.LstdFlags|log.Lshortfile),
		now:        time.Now,
		stage:      StageIdle,
		facing:     FacingFront,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Snapshot returns the current stage and a copy of the run.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	snap := Snapshot{Stage: w.stage, Facing: w.facing, Busy: w.busy}
	if w.run != nil {
		run := w.run.clone()
		snap.Run = &run
	}
	return snap
}

// Start begins a run for the given status and acquires the location. It
// returns ErrRunActive without any effect when a run already exists. A
// location failure leaves the run in Locating and is returned as *LocationError.
func (w *Workflow) Start(ctx context.Context, status contract.AttendanceStatus) error {
	w.mu.Lock()
	if w.stage != StageIdle {
		w.mu.Unlock()
		return ErrRunActive
	}
	run := &Run{ID: uuid.New(), Action: ActionFor(status), StartedAt: w.now()}
	w.run = run
	w.setStageLocked(StageLocating, nil)
	w.mu.Unlock()
	w.flush()

	return w.locate(ctx, run)
}

// RetryLocation re-issues the location query of the current run.
func (w *Workflow) RetryLocation(ctx context.Context) error {
	w.mu.Lock()
	run := w.run
	w.mu.Unlock()
	if run == nil {
		return ErrInvalidTransition
	}
	return w.locate(ctx, run)
}

func (w *Workflow) locate(ctx context.Context, run *Run) error {
	w.mu.Lock()
	if w.run != run || w.stage != StageLocating {
		w.mu.Unlock()
		return ErrInvalidTransition
	}
	if w.busy {
		w.mu.Unlock()
		return ErrBusy
	}
	var (
		locCtx context.Context
		cancel context.CancelFunc
	)
	if w.locateOpts.Timeout > 0 {
		locCtx, cancel = context.WithTimeout(ctx, w.locateOpts.Timeout)
	} else {
		locCtx, cancel = context.WithCancel(ctx)
	}
	w.busy = true
	w.cancelLocate = cancel
	run.Err = nil
	opts := w.locateOpts
	w.mu.Unlock()

	loc, err := w.locator.Locate(locCtx, opts)
	cancel()

	w.mu.Lock()
	if w.run != run {
		w.mu.Unlock()
		return ErrCancelled
	}
	w.busy = false
	w.cancelLocate = nil

	if err != nil {
		if ctx.Err() != nil {
			w.mu.Unlock()
			return ctx.Err()
		}
		locErr := asLocationError(err)
		run.Err = locErr
		locationFailureCounter.WithLabelValues(string(locErr.Reason)).Inc()
		w.setStageLocked(StageLocating, locErr)
		w.mu.Unlock()
		w.logger.Printf("run %s: location failed: %v", run.ID, err)
		w.flush()
		return locErr
	}

	run.Location = &loc
	w.setStageLocked(StageAwaitingCapture, nil)
	w.mu.Unlock()
	w.flush()
	return nil
}

// Capture takes a still image once a subject is in frame. Without a subject it
// returns ErrCaptureRefused and changes nothing.
func (w *Workflow) Capture(ctx context.Context) error {
	w.mu.Lock()
	if w.stage != StageAwaitingCapture {
		w.mu.Unlock()
		return ErrInvalidTransition
	}
	if w.run.Location == nil {
		w.mu.Unlock()
		return ErrNoLocation
	}
	if w.busy {
		w.mu.Unlock()
		return ErrBusy
	}
	run := w.run
	facing := w.facing
	w.busy = true
	w.mu.Unlock()

	release := func() {
		w.mu.Lock()
		if w.run == run {
			w.busy = false
		}
		w.mu.Unlock()
	}

	if !w.detector.SubjectPresent(ctx) {
		release()
		captureRefusedCounter.Inc()
		return ErrCaptureRefused
	}

	image, err := w.camera.Capture(ctx, facing)
	if err != nil {
		release()
		return fmt.Errorf("capture image: %w", err)
	}

	w.mu.Lock()
	if w.run != run {
		w.mu.Unlock()
		return ErrCancelled
	}
	w.busy = false
	run.Image = image
	w.setStageLocked(StageReviewing, nil)
	w.mu.Unlock()
	w.flush()
	return nil
}

// Retake discards the captured image and returns to AwaitingCapture.
func (w *Workflow) Retake() error {
	w.mu.Lock()
	if w.stage != StageReviewing || w.busy {
		w.mu.Unlock()
		return ErrInvalidTransition
	}
	w.run.Image = ""
	w.setStageLocked(StageAwaitingCapture, nil)
	w.mu.Unlock()
	w.flush()
	return nil
}

// FlipCamera switches between the front and back device while awaiting capture.
func (w *Workflow) FlipCamera() (Facing, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stage != StageAwaitingCapture || w.busy {
		return w.facing, ErrInvalidTransition
	}
	if w.facing == FacingFront {
		w.facing = FacingBack
	} else {
		w.facing = FacingFront
	}
	return w.facing, nil
}

// Confirm submits the reviewed image and location. The run settles back to
// Idle on success; on failure it stays Failed with its data kept for RetrySubmit.
func (w *Workflow) Confirm(ctx context.Context) (contract.StatusResponse, error) {
	return w.submit(ctx, StageReviewing)
}

// RetrySubmit re-issues the submission of a Failed run.
func (w *Workflow) RetrySubmit(ctx context.Context) (contract.StatusResponse, error) {
	return w.submit(ctx, StageFailed)
}

func (w *Workflow) submit(ctx context.Context, from Stage) (contract.StatusResponse, error) {
	w.mu.Lock()
	if w.stage != from {
		w.mu.Unlock()
		return contract.StatusResponse{}, ErrInvalidTransition
	}
	if w.busy {
		w.mu.Unlock()
		return contract.StatusResponse{}, ErrBusy
	}
	run := w.run
	run.Err = nil
	w.busy = true
	req := contract.SubmitRequest{Image: run.Image, Location: *run.Location}
	w.setStageLocked(StageSubmitting, nil)
	w.mu.Unlock()
	w.flush()

	start := w.now()
	resp, err := w.submitter.Submit(ctx, run.Action, req)
	submissionDuration.WithLabelValues(string(run.Action)).Observe(w.now().Sub(start).Seconds())

	w.mu.Lock()
	w.busy = false
	if err != nil {
		run.Err = err
		w.setStageLocked(StageFailed, err)
		w.mu.Unlock()
		submissionCounter.WithLabelValues(string(run.Action), "failed").Inc()
		w.logger.Printf("run %s: %s failed: %v", run.ID, run.Action, err)
		w.flush()
		return contract.StatusResponse{}, err
	}

	run.Result = &resp
	w.setStageLocked(StageCompleted, nil)
	w.run = nil
	w.setStageLocked(StageIdle, nil)
	w.mu.Unlock()

	submissionCounter.WithLabelValues(string(run.Action), "accepted").Inc()
	observability.RecordAttendanceSubmitted(w.now())
	w.flush()
	return resp, nil
}

// Cancel discards the run and returns to Idle. It is refused while Idle and
// while a submission is in flight. Cancelling during Locating aborts the query.
func (w *Workflow) Cancel() error {
	w.mu.Lock()
	switch w.stage {
	case StageLocating, StageAwaitingCapture, StageReviewing, StageFailed:
	default:
		w.mu.Unlock()
		return ErrInvalidTransition
	}
	if w.cancelLocate != nil {
		w.cancelLocate()
		w.cancelLocate = nil
	}
	w.setStageLocked(StageCancelled, nil)
	w.run = nil
	w.busy = false
	w.setStageLocked(StageIdle, nil)
	w.mu.Unlock()

	w.flush()
	return nil
}

// setStageLocked moves to next and queues the transition. Callers hold w.mu
// and call flush once they release it.
func (w *Workflow) setStageLocked(next Stage, err error) {
	t := Transition{From: w.stage, To: next, Err: err, At: w.now()}
	if w.run != nil {
		t.Run = w.run.clone()
	}
	w.stage = next
	w.pending = append(w.pending, t)
	stageCounter.WithLabelValues(string(next)).Inc()
}

// flush delivers queued transitions to the observers. Observers run without
// w.mu held, so they may call Snapshot.
func (w *Workflow) flush() {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()
	for {
		w.mu.Lock()
		if len(w.pending) == 0 {
			w.mu.Unlock()
			return
		}
		t := w.pending[0]
		w.pending = w.pending[1:]
		w.mu.Unlock()

		for _, o := range w.observers {
			o.StageChanged(t)
		}
	}
}

// IsLocationError reports whether err is a location failure and returns it.
func IsLocationError(err error) (*LocationError, bool) {
	var locErr *LocationError
	ok := errors.As(err, &locErr)
	return locErr, ok
}
