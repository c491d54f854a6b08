package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"wrdspanel/internal/infrastructure"
	"wrdspanel/internal/operations"
	api "wrdspanel/pkg/contracts/api/v1"
	"wrdspanel/pkg/contracts/domain"
)

// RunManager is the part of operations.Manager the service drives.
type RunManager interface {
	Prepare(req operations.Request) (*operations.RunState, []operations.Step, error)
	Execute(ctx context.Context, state *operations.RunState, steps []operations.Step) error
	Get(id string) (*domain.PipelineRun, error)
	List() []*domain.PipelineRun
}

// PipelineService starts pipeline runs in the background, one at a time.
type PipelineService struct {
	manager RunManager
	logger  *slog.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	active  string
	closing bool
}

// NewPipelineService creates a pipeline service over manager.
func NewPipelineService(manager RunManager, logger *slog.Logger) *PipelineService {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &PipelineService{
		manager: manager,
		logger:  infrastructure.WithComponent(logger, "pipeline_service"),
		baseCtx: ctx,
		stop:    stop,
	}
}

// Start launches a run and returns its initial snapshot. Only one run may
// be in progress; a second call fails with ErrRunInProgress.
func (s *PipelineService) Start(ctx context.Context, req api.StartRunRequest) (*domain.PipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return nil, ErrShuttingDown
	}
	if s.active != "" {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, s.active)
	}

	state, steps, err := s.manager.Prepare(operations.Request{
		Refresh: req.Refresh,
		Steps:   req.Steps,
	})
	if err != nil {
		if operations.GetErrorType(err) == operations.ErrorTypeValidation {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, err
	}

	// The run outlives the request; keep only its trace id.
	runCtx := s.baseCtx
	if traceID := infrastructure.GetTraceID(ctx); traceID != "" {
		runCtx = infrastructure.WithTraceID(runCtx, traceID)
	}

	id := state.ID()
	s.active = id
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.manager.Execute(runCtx, state, steps)

		s.mu.Lock()
		s.active = ""
		s.mu.Unlock()

		if err != nil {
			s.logger.Error("pipeline run failed",
				slog.String("run_id", id),
				slog.String("error", err.Error()))
			return
		}
		s.logger.Info("pipeline run completed", slog.String("run_id", id))
	}()

	s.logger.InfoContext(ctx, "pipeline run started",
		slog.String("run_id", id),
		slog.Bool("refresh", req.Refresh),
		slog.Any("steps", req.Steps))
	return state.Snapshot(), nil
}

// Status returns the current snapshot of a run.
func (s *PipelineService) Status(id string) (*domain.PipelineRun, error) {
	run, err := s.manager.Get(id)
	if err != nil {
		if errors.Is(err, operations.ErrRunNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, err
	}
	return run, nil
}

// List returns every run started by this process.
func (s *PipelineService) List() []*domain.PipelineRun {
	return s.manager.List()
}

// Active returns the id of the run in progress, or "".
func (s *PipelineService) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Close cancels the run in progress and waits for it to stop or for ctx
// to expire.
func (s *PipelineService) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for pipeline run: %w", ctx.Err())
	}
}
