package operations

import (
	"sync"
	"time"

	"wrdspanel/pkg/contracts/domain"
)

// Keys of the values passed between steps through RunState.
const (
	KeyCompustat = "compustat_quarterly"
	KeyCRSP      = "crsp_quarterly"
	KeyPanel     = "panel"
)

// RunState is the shared state of one pipeline run.
type RunState struct {
	mu        sync.RWMutex
	id        string
	refresh   bool
	status    domain.RunStatus
	startTime time.Time
	endTime   *time.Time
	order     []string
	steps     map[string]*StepState
	values    map[string]any
	outputs   []string
	err       error
}

// NewRunState creates the state of a pending run.
func NewRunState(id string, refresh bool) *RunState {
	return &RunState{
		id:      id,
		refresh: refresh,
		status:  domain.RunStatusPending,
		steps:   make(map[string]*StepState),
		values:  make(map[string]any),
	}
}

// ID returns the run id.
func (r *RunState) ID() string { return r.id }

// Refresh reports whether caches must be bypassed.
func (r *RunState) Refresh() bool { return r.refresh }

// Status returns the run status.
func (r *RunState) Status() domain.RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// AddStep registers a step in execution order.
func (r *RunState) AddStep(id, name string) *StepState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.steps[id]; ok {
		return s
	}
	s := NewStepState(id, name)
	r.steps[id] = s
	r.order = append(r.order, id)
	return s
}

// Step returns the state of a step, or nil.
func (r *RunState) Step(id string) *StepState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.steps[id]
}

// Start marks the run running.
func (r *RunState) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = domain.RunStatusRunning
	r.startTime = time.Now()
}

// Complete marks the run completed.
func (r *RunState) Complete() { r.finish(domain.RunStatusCompleted, nil) }

// Fail marks the run failed.
func (r *RunState) Fail(err error) { r.finish(domain.RunStatusFailed, err) }

// Cancel marks the run cancelled.
func (r *RunState) Cancel(err error) { r.finish(domain.RunStatusCancelled, err) }

func (r *RunState) finish(status domain.RunStatus, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.status = status
	r.endTime = &now
	r.err = err
}

// Set stores a value for later steps.
func (r *RunState) Set(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
}

// Get returns a value stored by an earlier step.
func (r *RunState) Get(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[key]
	return v, ok
}

// AddOutputs records files produced by the run.
func (r *RunState) AddOutputs(files ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs = append(r.outputs, files...)
}

// Outputs returns a copy of the recorded files.
func (r *RunState) Outputs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.outputs...)
}

// Snapshot returns a copy of the run for reporting.
func (r *RunState) Snapshot() *domain.PipelineRun {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run := &domain.PipelineRun{
		ID:          r.id,
		Status:      r.status,
		Refresh:     r.refresh,
		StartedAt:   r.startTime,
		CompletedAt: r.endTime,
		Steps:       make([]domain.Step, 0, len(r.order)),
		Outputs:     append([]string(nil), r.outputs...),
	}
	if r.endTime != nil {
		run.Duration = r.endTime.Sub(r.startTime).Round(time.Millisecond).String()
	}
	if r.err != nil {
		run.Error = r.err.Error()
	}
	for _, id := range r.order {
		run.Steps = append(run.Steps, r.steps[id].Snapshot())
	}
	return run
}
