package attendance

import (
	"context"
	"errors"
)

var (
	// ErrRunActive is returned by Start while a run is already in progress.
	ErrRunActive = errors.New("attendance: a verification run is already active")
	// ErrInvalidTransition is returned when an operation is not valid in the current stage.
	ErrInvalidTransition = errors.New("attendance: operation not valid in current stage")
	// ErrBusy is returned when another operation of the run is still in flight.
	ErrBusy = errors.New("attendance: an operation is already in progress")
	// ErrCaptureRefused is returned when no subject is detected in frame. It is
	// not a failure: the stage is unchanged and nothing is recorded on the run.
	ErrCaptureRefused = errors.New("attendance: no subject detected in frame")
	// ErrNoLocation is returned by Capture when the run has no recorded position.
	ErrNoLocation = errors.New("attendance: location not yet acquired")
	// ErrCancelled is returned by an in-flight operation whose run was cancelled.
	ErrCancelled = errors.New("attendance: run cancelled")
)

// LocationReason classifies a failed location query.
type LocationReason string

const (
	LocationDenied      LocationReason = "denied"
	LocationUnavailable LocationReason = "unavailable"
	LocationTimeout     LocationReason = "timeout"
)

// LocationError reports why a location query failed.
type LocationError struct {
	Reason LocationReason
	Err    error
}

func (e *LocationError) Error() string {
	switch e.Reason {
	case LocationDenied:
		return "Location permission denied. Please enable location access."
	case LocationTimeout:
		return "Location request timed out."
	default:
		return "Location information unavailable."
	}
}

func (e *LocationError) Unwrap() error { return e.Err }

// asLocationError maps a locator failure onto a LocationError. A deadline hit
// by the query context is a timeout.
func asLocationError(err error) *LocationError {
	var locErr *LocationError
	if errors.As(err, &locErr) {
		return locErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &LocationError{Reason: LocationTimeout, Err: err}
	}
	return &LocationError{Reason: LocationUnavailable, Err: err}
}
