package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"wrdspanel/internal/config"
	apierrors "wrdspanel/internal/errors"
	"wrdspanel/internal/infrastructure"
	customMiddleware "wrdspanel/internal/middleware"
	"wrdspanel/internal/operations"
	"wrdspanel/internal/services"
	handlers "wrdspanel/internal/transport/http"
	"wrdspanel/pkg/contracts"
)

// Application is the API server and the services behind it.
type Application struct {
	Config          *config.Config
	Logger          *slog.Logger
	Router          *chi.Mux
	Server          *http.Server
	OTelProviders   *infrastructure.OTelProviders
	PipelineService *services.PipelineService
	PanelService    *services.PanelService
	HealthService   *services.HealthService
	ErrorHandler    *apierrors.ErrorHandler
}

// NewApplication builds the services and the router. providers may be nil.
func NewApplication(cfg *config.Config, logger *slog.Logger, providers *infrastructure.OTelProviders, manager *operations.Manager) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if manager == nil {
		return nil, errors.New("app: nil pipeline manager")
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &Application{
		Config:        cfg,
		Logger:        infrastructure.WithComponent(logger, "app"),
		OTelProviders: providers,
		ErrorHandler:  apierrors.NewErrorHandler(logger, cfg.Logging.Level == "debug"),
	}
	a.PipelineService = services.NewPipelineService(manager, logger)
	a.PanelService = services.NewPanelService(cfg, logger)
	a.HealthService = services.NewHealthService(contracts.Version, a.PipelineService, a.PanelService, logger)

	a.setupRouter(logger)
	a.createServer()
	return a, nil
}

func (a *Application) setupRouter(logger *slog.Logger) {
	r := chi.NewRouter()
	r.NotFound(a.ErrorHandler.NotFound)
	r.MethodNotAllowed(a.ErrorHandler.MethodNotAllowed)

	// Scrapes stay outside the request middleware.
	if a.OTelProviders != nil && a.OTelProviders.MetricsHandler != nil {
		r.Handle("/metrics", a.OTelProviders.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders)
		if err != nil {
			a.Logger.Error("failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
		} else {
			r.Use(otelMiddleware.Handler)
		}
		r.Use(customMiddleware.RequestID)
		r.Use(chimw.RealIP)
		r.Use(customMiddleware.StructuredLogger(logger))
		r.Use(customMiddleware.Recoverer(a.ErrorHandler))

		healthHandler := handlers.NewHealthHandler(a.HealthService)
		r.Get("/healthz", healthHandler.HealthCheck)

		r.Route("/api/"+contracts.APIVersion, func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))
			if rl := a.Config.Server.RateLimit; rl.Enabled {
				r.Use(customMiddleware.NewRateLimiter(rl.RPS, rl.Burst, logger).Handler)
			}
			if a.Config.Server.ReadTimeout > 0 {
				r.Use(chimw.Timeout(a.Config.Server.ReadTimeout))
			}

			r.Mount("/pipeline", handlers.NewPipelineHandler(a.PipelineService, a.ErrorHandler, logger).Routes())
			r.Mount("/panel", handlers.NewPanelHandler(a.PanelService, a.ErrorHandler, logger).Routes())
		})
	})

	a.Router = r
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:           a.Router,
		ReadTimeout:       a.Config.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      a.Config.Server.WriteTimeout,
	}
}

// Run listens on the configured port and serves until ctx is done.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfoContext(ctx, "server listening",
			slog.String("address", ln.Addr().String()),
			slog.String("version", contracts.Version))
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Stop(context.WithoutCancel(ctx))
	})

	return g.Wait()
}

// Stop shuts the server down and cancels the run in progress, bounded by
// the configured shutdown timeout.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down")

	timeout := a.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := a.PipelineService.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	a.Logger.InfoContext(ctx, "shutdown complete")
	return errors.Join(errs...)
}
