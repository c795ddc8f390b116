package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/email-harvester/internal/app"
	"github.com/JakeFAU/email-harvester/internal/harvest"
)

// ErrRunInProgress is returned when a run is started while another is active.
var ErrRunInProgress = errors.New("a run is already in progress")

// RunFunc executes one harvest to completion.
type RunFunc func(ctx context.Context, in app.Input) (app.Result, error)

// RunState is the lifecycle state of the tracked run.
type RunState string

// Run states.
const (
	RunIdle      RunState = "idle"
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
	RunCanceled  RunState = "canceled"
)

// RunStatus is the JSON view of the tracked run.
type RunStatus struct {
	State     RunState             `json:"state"`
	Submitted time.Time            `json:"submitted,omitzero"`
	Finished  time.Time            `json:"finished,omitzero"`
	Progress  harvest.Progress     `json:"progress"`
	Result    *app.Result          `json:"result,omitempty"`
	Tiers     map[harvest.Tier]int `json:"tiers,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// Runs runs at most one harvest at a time in the background.
type Runs struct {
	run      RunFunc
	progress func() harvest.Progress
	clock    harvest.Clock
	base     context.Context

	mu     sync.Mutex
	status RunStatus
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRuns builds a run manager. Background runs derive from base, so
// canceling base stops them. progress may be nil.
func NewRuns(base context.Context, run RunFunc, progress func() harvest.Progress, clock harvest.Clock) *Runs {
	return &Runs{
		run:      run,
		progress: progress,
		clock:    clock,
		base:     base,
		status:   RunStatus{State: RunIdle},
	}
}

// Start launches a run unless one is already running.
func (r *Runs) Start(in app.Input) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.State == RunRunning {
		return ErrRunInProgress
	}
	ctx, cancel := context.WithCancel(r.base)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.status = RunStatus{State: RunRunning, Submitted: r.now()}
	go r.execute(ctx, cancel, r.done, in)
	return nil
}

func (r *Runs) execute(ctx context.Context, cancel context.CancelFunc, done chan struct{}, in app.Input) {
	defer close(done)
	defer cancel()
	res, err := r.run(ctx, in)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Finished = r.now()
	r.status.Progress = res.Progress
	r.status.Result = &res
	r.status.Tiers = res.Summary()
	switch {
	case err == nil:
		r.status.State = RunSucceeded
	case errors.Is(err, context.Canceled):
		r.status.State = RunCanceled
		r.status.Error = err.Error()
	default:
		r.status.State = RunFailed
		r.status.Error = err.Error()
	}
}

// Cancel stops the running harvest and reports whether one was running.
func (r *Runs) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.State != RunRunning || r.cancel == nil {
		return false
	}
	r.cancel()
	return true
}

// Wait blocks until the current run (if any) finishes or ctx is done.
func (r *Runs) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot of the tracked run.
func (r *Runs) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.status
	if st.State == RunRunning && r.progress != nil {
		st.Progress = r.progress()
	}
	return st
}

// Records returns the finished run's records.
func (r *Runs) Records() ([]harvest.EmailRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Result == nil {
		return nil, false
	}
	return r.status.Result.Records, true
}

func (r *Runs) now() time.Time {
	if r.clock == nil {
		return time.Now().UTC()
	}
	return r.clock.Now()
}
