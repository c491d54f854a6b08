package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"wrdspanel/internal/infrastructure"
	"wrdspanel/pkg/contracts/domain"
)

// Request selects what a run does.
type Request struct {
	// ID is generated when empty.
	ID      string
	Refresh bool
	// Steps limits the run to these step ids. Empty runs every step.
	Steps []string
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Tracer *Tracer
	Logger *slog.Logger
	// ManifestPath is where the run manifest is written. Empty disables it.
	ManifestPath string
	StartDate    string
	EndDate      string
}

// Manager executes the registered steps strictly in dependency order and
// keeps the state of every run it started.
type Manager struct {
	registry *Registry
	opts     ManagerOptions
	logger   *slog.Logger

	mu   sync.RWMutex
	runs map[string]*RunState
}

// NewManager creates a manager over registry.
func NewManager(registry *Registry, opts ManagerOptions) (*Manager, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		t, err := NewTracer(nil)
		if err != nil {
			return nil, err
		}
		opts.Tracer = t
	}
	return &Manager{
		registry: registry,
		opts:     opts,
		logger:   infrastructure.WithComponent(opts.Logger, "operations"),
		runs:     make(map[string]*RunState),
	}, nil
}

// Run prepares and executes a run, returning its final snapshot.
func (m *Manager) Run(ctx context.Context, req Request) (*domain.PipelineRun, error) {
	state, steps, err := m.Prepare(req)
	if err != nil {
		return nil, err
	}
	err = m.Execute(ctx, state, steps)
	return state.Snapshot(), err
}

// Prepare validates the request and registers a pending run. The returned
// steps are passed to Execute.
func (m *Manager) Prepare(req Request) (*RunState, []Step, error) {
	ordered, err := m.registry.DependencyOrder()
	if err != nil {
		return nil, nil, err
	}
	steps, err := selectSteps(ordered, req.Steps)
	if err != nil {
		return nil, nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	state := NewRunState(id, req.Refresh)
	for _, s := range steps {
		state.AddStep(s.ID(), s.Name())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[id]; exists {
		return nil, nil, fmt.Errorf("run %s already exists", id)
	}
	m.runs[id] = state
	return state, steps, nil
}

func selectSteps(ordered []Step, want []string) ([]Step, error) {
	if len(want) == 0 {
		return ordered, nil
	}
	keep := make(map[string]bool, len(want))
	for _, id := range want {
		keep[id] = true
	}
	out := make([]Step, 0, len(want))
	for _, s := range ordered {
		if keep[s.ID()] {
			out = append(out, s)
			delete(keep, s.ID())
		}
	}
	if len(keep) > 0 {
		unknown := make([]string, 0, len(keep))
		for id := range keep {
			unknown = append(unknown, id)
		}
		sort.Strings(unknown)
		return nil, NewValidationError("", fmt.Sprintf("unknown steps: %v", unknown))
	}
	return out, nil
}

// Execute runs the steps one after another. The first failure aborts the
// run and marks the remaining steps skipped.
func (m *Manager) Execute(ctx context.Context, state *RunState, steps []Step) error {
	ctx = infrastructure.EnsureTraceID(ctx)
	log := infrastructure.LoggerFromContext(ctx, m.logger).With(slog.String("run_id", state.ID()))
	ctx, span := m.opts.Tracer.StartRun(ctx, state.ID(), state.Refresh())

	manifest := NewManifest(state.ID(), state.Refresh(), m.opts.StartDate, m.opts.EndDate)
	state.Start()
	log.InfoContext(ctx, "pipeline_run_start",
		slog.Int("steps", len(steps)),
		slog.Bool("refresh", state.Refresh()))

	var runErr error
	for _, step := range steps {
		ss := state.Step(step.ID())
		if runErr != nil {
			ss.Skip("previous step failed")
			continue
		}
		if err := ctx.Err(); err != nil {
			runErr = NewCancellationError(step.ID(), err)
			ss.Skip("run cancelled")
			continue
		}
		runErr = m.executeStep(ctx, log, state, manifest, step, ss)
		m.saveManifest(log, manifest)
	}

	status := domain.RunStatusCompleted
	switch {
	case runErr == nil:
		state.Complete()
	case GetErrorType(runErr) == ErrorTypeCancellation:
		status = domain.RunStatusCancelled
		state.Cancel(runErr)
	default:
		status = domain.RunStatusFailed
		state.Fail(runErr)
	}
	manifest.Finish(status, state.Outputs(), runErr)
	m.saveManifest(log, manifest)
	m.opts.Tracer.EndRun(ctx, span, string(status), runErr)

	if runErr != nil {
		log.ErrorContext(ctx, "pipeline_run_end",
			slog.String("status", string(status)),
			slog.String("error", runErr.Error()))
	} else {
		log.InfoContext(ctx, "pipeline_run_end",
			slog.String("status", string(status)),
			slog.Int("outputs", len(state.Outputs())))
	}
	return runErr
}

func (m *Manager) executeStep(ctx context.Context, log *slog.Logger, state *RunState, manifest *Manifest, step Step, ss *StepState) error {
	id := step.ID()
	log = log.With(slog.String("step", id))

	if err := step.Validate(state); err != nil {
		if errors.Is(err, ErrSkip) {
			ss.Skip(err.Error())
			log.InfoContext(ctx, "step_skipped", slog.String("reason", err.Error()))
			return nil
		}
		wrapped := WrapError(err, id)
		if GetErrorType(wrapped) == ErrorTypeExecution {
			wrapped = NewValidationError(id, err.Error())
		}
		ss.Fail(wrapped)
		log.ErrorContext(ctx, "step_validation_failed", slog.String("error", err.Error()))
		return wrapped
	}

	sctx, span := m.opts.Tracer.StartStep(ctx, state.ID(), id)
	ss.Start()
	manifest.RecordStepStart(id)
	log.InfoContext(sctx, "step_start", slog.String("name", step.Name()))

	err := step.Execute(sctx, state)

	var (
		status domain.StepStatus
		result error
	)
	switch {
	case err == nil:
		status = domain.StepStatusCompleted
		ss.Complete("")
	case errors.Is(err, ErrSkip):
		status = domain.StepStatusSkipped
		ss.Skip(err.Error())
	case ctx.Err() != nil:
		status = domain.StepStatusFailed
		result = NewCancellationError(id, ctx.Err())
		ss.Fail(result)
	default:
		status = domain.StepStatusFailed
		result = WrapError(err, id)
		ss.Fail(result)
	}

	snap := ss.Snapshot()
	if rows, ok := snap.Metadata["rows"].(int); ok {
		m.opts.Tracer.RecordRows(sctx, id, rows)
	}
	m.opts.Tracer.EndStep(sctx, span, id, string(status), ss.Duration(), result)
	manifest.RecordStepEnd(id, status, result, snap.Metadata)

	if result != nil {
		log.ErrorContext(ctx, "step_failed",
			slog.String("error", result.Error()),
			slog.Duration("duration", ss.Duration()))
	} else {
		log.InfoContext(ctx, "step_end",
			slog.String("status", string(status)),
			slog.Duration("duration", ss.Duration()))
	}
	return result
}

func (m *Manager) saveManifest(log *slog.Logger, manifest *Manifest) {
	if m.opts.ManifestPath == "" {
		return
	}
	if err := manifest.Save(m.opts.ManifestPath); err != nil {
		log.Warn("failed to save manifest",
			slog.String("path", m.opts.ManifestPath),
			slog.String("error", err.Error()))
	}
}

// Get returns a snapshot of a run.
func (m *Manager) Get(id string) (*domain.PipelineRun, error) {
	m.mu.RLock()
	state, ok := m.runs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return state.Snapshot(), nil
}

// List returns snapshots of every run, oldest first.
func (m *Manager) List() []*domain.PipelineRun {
	m.mu.RLock()
	runs := make([]*domain.PipelineRun, 0, len(m.runs))
	for _, state := range m.runs {
		runs = append(runs, state.Snapshot())
	}
	m.mu.RUnlock()
	sort.Slice(runs, func(a, b int) bool { return runs[a].StartedAt.Before(runs[b].StartedAt) })
	return runs
}
