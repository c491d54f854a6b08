package operations

import (
	"context"
	"sync"
	"time"

	"wrdspanel/pkg/contracts/domain"
)

// Step is one unit of work in a pipeline run.
type Step interface {
	ID() string
	Name() string
	Dependencies() []string
	// Validate checks the preconditions of the step. Returning ErrSkip marks
	// the step skipped without failing the run.
	Validate(state *RunState) error
	Execute(ctx context.Context, state *RunState) error
}

// BaseStep carries the identity shared by every step.
type BaseStep struct {
	id           string
	name         string
	dependencies []string
}

// NewBaseStep creates a base step.
func NewBaseStep(id, name string, dependencies ...string) BaseStep {
	return BaseStep{id: id, name: name, dependencies: dependencies}
}

func (b BaseStep) ID() string   { return b.id }
func (b BaseStep) Name() string { return b.name }

// Dependencies returns a copy of the step ids that must complete first.
func (b BaseStep) Dependencies() []string {
	return append([]string(nil), b.dependencies...)
}

// Validate accepts by default.
func (b BaseStep) Validate(*RunState) error { return nil }

// StepState tracks the progress of one step within a run.
type StepState struct {
	mu        sync.RWMutex
	id        string
	name      string
	status    domain.StepStatus
	startTime *time.Time
	endTime   *time.Time
	message   string
	err       error
	metadata  map[string]any
}

// NewStepState creates a pending step state.
func NewStepState(id, name string) *StepState {
	return &StepState{
		id:       id,
		name:     name,
		status:   domain.StepStatusPending,
		metadata: make(map[string]any),
	}
}

// ID returns the step id.
func (s *StepState) ID() string { return s.id }

// Status returns the current status.
func (s *StepState) Status() domain.StepStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Err returns the failure, if any.
func (s *StepState) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Start marks the step running.
func (s *StepState) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.status = domain.StepStatusRunning
	s.startTime = &now
	s.endTime = nil
	s.err = nil
}

// Complete marks the step completed.
func (s *StepState) Complete(message string) {
	s.finish(domain.StepStatusCompleted, message, nil)
}

// Fail marks the step failed.
func (s *StepState) Fail(err error) {
	s.finish(domain.StepStatusFailed, "", err)
}

// Skip marks the step skipped.
func (s *StepState) Skip(reason string) {
	s.finish(domain.StepStatusSkipped, reason, nil)
}

func (s *StepState) finish(status domain.StepStatus, message string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.status = status
	s.endTime = &now
	if message != "" {
		s.message = message
	}
	s.err = err
}

// SetMessage updates the progress message.
func (s *StepState) SetMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

// SetMetadata records a key/value pair reported with the step.
func (s *StepState) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
}

// Duration returns the elapsed time of a started step.
func (s *StepState) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime == nil {
		return 0
	}
	if s.endTime == nil {
		return time.Since(*s.startTime)
	}
	return s.endTime.Sub(*s.startTime)
}

// Snapshot returns a copy suitable for JSON output.
func (s *StepState) Snapshot() domain.Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := domain.Step{
		ID:          s.id,
		Name:        s.name,
		Status:      s.status,
		StartedAt:   s.startTime,
		CompletedAt: s.endTime,
		Message:     s.message,
	}
	if s.err != nil {
		out.Error = s.err.Error()
	}
	if len(s.metadata) > 0 {
		out.Metadata = make(map[string]any, len(s.metadata))
		for k, v := range s.metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
