package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "wrdspanel/internal/errors"
	"wrdspanel/internal/middleware"
	api "wrdspanel/pkg/contracts/api/v1"
	"wrdspanel/pkg/contracts/domain"
)

// PipelineHandler handles pipeline run requests
type PipelineHandler struct {
	service PipelineService
	binder  *middleware.Binder
	errors  *apierrors.ErrorHandler
	logger  *slog.Logger
}

// NewPipelineHandler creates a new pipeline handler
func NewPipelineHandler(service PipelineService, errs *apierrors.ErrorHandler, logger *slog.Logger) *PipelineHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PipelineHandler{
		service: service,
		binder:  middleware.NewBinder(),
		errors:  errs,
		logger:  logger.With(slog.String("handler", "pipeline")),
	}
}

// Routes mounts under /pipeline.
func (h *PipelineHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/runs", h.StartRun)
	r.Get("/runs", h.ListRuns)
	r.Get("/runs/{id}", h.GetRun)
	return r
}

// RunList is the body of the list endpoint.
type RunList struct {
	Runs  []*domain.PipelineRun `json:"runs"`
	Total int                   `json:"total"`
}

// StartRun handles POST /pipeline/runs
func (h *PipelineHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req api.StartRunRequest
	if err := h.binder.DecodeJSON(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	run, err := h.service.Start(r.Context(), req)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "pipeline run accepted",
		slog.String("run_id", run.ID),
		slog.Bool("refresh", req.Refresh))

	w.Header().Set("Location", r.URL.Path+"/"+run.ID)
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, run)
}

// ListRuns handles GET /pipeline/runs
func (h *PipelineHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.service.List()
	if runs == nil {
		runs = []*domain.PipelineRun{}
	}
	render.JSON(w, r, RunList{Runs: runs, Total: len(runs)})
}

// GetRun handles GET /pipeline/runs/{id}
func (h *PipelineHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.Status(chi.URLParam(r, "id"))
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, run)
}
