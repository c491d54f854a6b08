package services

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

// HealthService provides health check functionality
type HealthService struct {
	version   string
	pipeline  *PipelineService
	panel     *PanelService
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]any           `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewHealthService creates a health service. pipeline and panel may be nil.
func NewHealthService(version string, pipeline *PipelineService, panel *PanelService, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:   version,
		pipeline:  pipeline,
		panel:     panel,
		startTime: time.Now(),
		logger:    logger,
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]any{
			"uptime_seconds": time.Since(hs.startTime).Seconds(),
			"go_version":     runtime.Version(),
			"goroutines":     runtime.NumGoroutine(),
		},
		Services: map[string]ServiceHealth{
			"pipeline": hs.checkPipeline(),
			"panel":    hs.checkPanel(),
		},
	}
	hs.logger.DebugContext(ctx, "health check completed", slog.String("status", status.Status))
	return status
}

func (hs *HealthService) checkPipeline() ServiceHealth {
	if hs.pipeline == nil {
		return ServiceHealth{Status: "unavailable", Message: "pipeline service not configured"}
	}
	if id := hs.pipeline.Active(); id != "" {
		return ServiceHealth{Status: "running", Message: "run " + id}
	}
	return ServiceHealth{Status: "idle"}
}

func (hs *HealthService) checkPanel() ServiceHealth {
	if hs.panel == nil {
		return ServiceHealth{Status: "unavailable", Message: "panel service not configured"}
	}
	if !hs.panel.Exists() {
		return ServiceHealth{Status: "missing", Message: "no final panel on disk"}
	}
	return ServiceHealth{Status: "ready"}
}
