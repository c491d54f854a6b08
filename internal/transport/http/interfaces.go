package http

import (
	"context"

	"wrdspanel/internal/diagnostics"
	"wrdspanel/internal/services"
	api "wrdspanel/pkg/contracts/api/v1"
	"wrdspanel/pkg/contracts/domain"
)

// PipelineService starts and reports pipeline runs.
type PipelineService interface {
	Start(ctx context.Context, req api.StartRunRequest) (*domain.PipelineRun, error)
	Status(id string) (*domain.PipelineRun, error)
	List() []*domain.PipelineRun
}

// PanelService answers questions about the saved final panel.
type PanelService interface {
	Info(ctx context.Context) (*domain.PanelInfo, error)
	Diagnostics(ctx context.Context, q api.DiagnosticsQuery) (*diagnostics.Report, error)
	Coverage(ctx context.Context) (*domain.CoverageResponse, error)
}

// HealthChecker reports process health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) services.HealthStatus
}

var (
	_ PipelineService = (*services.PipelineService)(nil)
	_ PanelService    = (*services.PanelService)(nil)
	_ HealthChecker   = (*services.HealthService)(nil)
)
