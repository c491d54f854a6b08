package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "wrdspanel/internal/errors"
	"wrdspanel/internal/middleware"
	"wrdspanel/internal/operations"
	"wrdspanel/internal/services"
	api "wrdspanel/pkg/contracts/api/v1"
)

// PanelHandler serves checks over the final panel.
type PanelHandler struct {
	service PanelService
	binder  *middleware.Binder
	errors  *apierrors.ErrorHandler
	logger  *slog.Logger
}

// NewPanelHandler creates a new panel handler
func NewPanelHandler(service PanelService, errs *apierrors.ErrorHandler, logger *slog.Logger) *PanelHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PanelHandler{
		service: service,
		binder:  middleware.NewBinder(),
		errors:  errs,
		logger:  logger.With(slog.String("handler", "panel")),
	}
}

// Routes mounts under /panel.
func (h *PanelHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetInfo)
	r.Get("/diagnostics", h.GetDiagnostics)
	r.Get("/coverage", h.GetCoverage)
	return r
}

// GetInfo handles GET /panel
func (h *PanelHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.Info(r.Context())
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, info)
}

// GetDiagnostics handles GET /panel/diagnostics. unit_id and time_id
// default to the pipeline's panel keys.
func (h *PanelHandler) GetDiagnostics(w http.ResponseWriter, r *http.Request) {
	q := api.DiagnosticsQuery{
		UnitID: operations.PanelUnitID,
		TimeID: operations.PanelTimeID,
	}
	if err := h.binder.BindQuery(r, &q); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	report, err := h.service.Diagnostics(r.Context(), q)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, report)
}

// GetCoverage handles GET /panel/coverage?format=json|latex
func (h *PanelHandler) GetCoverage(w http.ResponseWriter, r *http.Request) {
	q := api.CoverageQuery{Format: "json"}
	if err := h.binder.BindQuery(r, &q); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	resp, err := h.service.Coverage(r.Context())
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if q.Format == "latex" {
		w.Header().Set("Content-Type", "application/x-latex; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(services.CoverageLaTeX(resp, q.Caption)))
		return
	}
	render.JSON(w, r, resp)
}
