// Package device provides simulated kiosk peripherals: a geolocation source, a
// camera and a subject detector.
package device

import (
	"context"
	"sync"
	"time"

	"example.com/attendance/internal/attendance"
	"example.com/attendance/internal/contract"
)

// SimLocator answers location queries with a configured fix.
type SimLocator struct {
	fix     contract.Location
	latency time.Duration
	now     func() time.Time

	mu      sync.Mutex
	fail    attendance.LocationReason
	cached  *contract.Location
	fixedAt time.Time
	queries int
}

// LocatorOption configures a SimLocator.
type LocatorOption func(*SimLocator)

// WithLatency delays every fresh fix by d.
func WithLatency(d time.Duration) LocatorOption {
	return func(l *SimLocator) {
		l.latency = d
	}
}

// WithLocatorClock overrides the time source used for cache ageing.
func WithLocatorClock(now func() time.Time) LocatorOption {
	return func(l *SimLocator) {
		l.now = now
	}
}

// NewSimLocator returns a locator reporting lat/lng with the given accuracy in
// metres. A non-positive accuracy is omitted from the fix.
func NewSimLocator(lat, lng, accuracy float64, opts ...LocatorOption) *SimLocator {
	fix := contract.Location{Lat: lat, Lng: lng}
	if accuracy > 0 {
		fix.Accuracy = &accuracy
	}
	l := &SimLocator{fix: fix, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FailWith makes subsequent fresh queries fail with reason. An empty reason
// restores normal operation.
func (l *SimLocator) FailWith(reason attendance.LocationReason) {
	l.mu.Lock()
	l.fail = reason
	l.mu.Unlock()
}

// Queries returns how many fresh fixes were attempted.
func (l *SimLocator) Queries() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queries
}

// Locate implements attendance.Locator. A cached fix younger than
// opts.MaximumAge is returned without a new query.
func (l *SimLocator) Locate(ctx context.Context, opts attendance.LocateOptions) (contract.Location, error) {
	l.mu.Lock()
	if l.cached != nil && opts.MaximumAge > 0 && l.now().Sub(l.fixedAt) <= opts.MaximumAge {
		fix := *l.cached
		l.mu.Unlock()
		return fix, nil
	}
	l.queries++
	fail := l.fail
	l.mu.Unlock()

	if l.latency > 0 {
		timer := time.NewTimer(l.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return contract.Location{}, ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return contract.Location{}, err
	}
	if fail != "" {
		return contract.Location{}, &attendance.LocationError{Reason: fail}
	}

	l.mu.Lock()
	fix := l.fix
	l.cached = &fix
	l.fixedAt = l.now()
	l.mu.Unlock()
	return fix, nil
}
