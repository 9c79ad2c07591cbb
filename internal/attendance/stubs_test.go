package attendance

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"example.com/attendance/internal/contract"
)

var defaultFix = contract.Location{Lat: 40.7128, Lng: -74.0060}

type locateResult struct {
	loc contract.Location
	err error
}

// stubLocator pops one result per call; the last result repeats. When
// blocking is set it waits for the query context instead.
type stubLocator struct {
	mu       sync.Mutex
	results  []locateResult
	blocking bool
	entered  chan struct{}
	calls    int
	lastOpts LocateOptions
}

func (s *stubLocator) Locate(ctx context.Context, opts LocateOptions) (contract.Location, error) {
	s.mu.Lock()
	s.calls++
	s.lastOpts = opts
	blocking := s.blocking
	entered := s.entered
	r := locateResult{loc: defaultFix}
	if len(s.results) > 0 {
		r = s.results[0]
		if len(s.results) > 1 {
			s.results = s.results[1:]
		}
	}
	s.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if blocking {
		<-ctx.Done()
		return contract.Location{}, ctx.Err()
	}
	return r.loc, r.err
}

func (s *stubLocator) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubCamera struct {
	shots   atomic.Int32
	mu      sync.Mutex
	facings []Facing
}

func (c *stubCamera) Capture(_ context.Context, facing Facing) (string, error) {
	n := c.shots.Add(1)
	c.mu.Lock()
	c.facings = append(c.facings, facing)
	c.mu.Unlock()
	return fmt.Sprintf("data:image/jpeg;base64,img-%d", n), nil
}

type stubDetector struct {
	absent atomic.Bool
}

func (d *stubDetector) SubjectPresent(context.Context) bool { return !d.absent.Load() }

type submission struct {
	action Action
	req    contract.SubmitRequest
}

type stubSubmitter struct {
	mu      sync.Mutex
	calls   []submission
	errs    []error
	entered chan struct{}
	release chan struct{}
}

func (s *stubSubmitter) Submit(_ context.Context, action Action, req contract.SubmitRequest) (contract.StatusResponse, error) {
	s.mu.Lock()
	s.calls = append(s.calls, submission{action: action, req: req})
	var err error
	if len(s.errs) > 0 {
		err = s.errs[0]
		s.errs = s.errs[1:]
	}
	entered, release := s.entered, s.release
	s.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return contract.StatusResponse{}, err
	}
	return contract.StatusResponse{Status: action.Result(), RecordID: "rec-1"}, nil
}

func (s *stubSubmitter) Calls() []submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]submission, len(s.calls))
	copy(out, s.calls)
	return out
}

type transitionLog struct {
	mu    sync.Mutex
	items []Transition
}

func (l *transitionLog) StageChanged(t Transition) {
	l.mu.Lock()
	l.items = append(l.items, t)
	l.mu.Unlock()
}

func (l *transitionLog) Pairs() [][2]Stage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][2]Stage, 0, len(l.items))
	for _, t := range l.items {
		out = append(out, [2]Stage{t.From, t.To})
	}
	return out
}

type harness struct {
	workflow  *Workflow
	locator   *stubLocator
	camera    *stubCamera
	detector  *stubDetector
	submitter *stubSubmitter
	log       *transitionLog
}

func newHarness(opts ...Option) *harness {
	h := &harness{
		locator:   &stubLocator{},
		camera:    &stubCamera{},
		detector:  &stubDetector{},
		submitter: &stubSubmitter{},
		log:       &transitionLog{},
	}
	opts = append([]Option{WithObserver(h.log), WithLogger(log.New(io.Discard, "", 0))}, opts...)
	h.workflow = NewWorkflow(h.locator, h.camera, h.detector, h.submitter, opts...)
	return h
}
