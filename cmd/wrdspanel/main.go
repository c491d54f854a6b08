// Command wrdspanel builds a firm-quarter panel from Compustat and CRSP
// on WRDS and serves checks over it.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"wrdspanel/internal/config"
	"wrdspanel/internal/infrastructure"
	"wrdspanel/internal/operations"
	"wrdspanel/internal/storage"
	"wrdspanel/internal/wrds"
	"wrdspanel/pkg/contracts"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configFile string
	dataDir    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "wrdspanel",
		Short: "Build a Compustat/CRSP firm-quarter panel from WRDS",
		Long: `wrdspanel pulls Compustat fundamentals and CRSP monthly stock data
from WRDS, links them through the CRSP-Compustat crosswalk, computes
financial ratios and writes a cleaned quarterly panel as CSV, Stata and
a binary snapshot.

Credentials are read from WRDS_USERNAME and WRDS_PASSWORD, or a .env file
in the working directory.`,
		Version:       contracts.VersionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "YAML config file (default: $WRDSPANEL_CONFIG or ./config.yaml)")
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "override the data directory")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(opts),
		newPullCmd(opts),
		newMergeCmd(opts),
		newValidateCmd(opts),
		newCoverageCmd(),
		newCheckCmd(opts),
		newServeCmd(opts),
	)
	return root
}

// runtimeEnv is the configuration, logger and telemetry of one command.
type runtimeEnv struct {
	cfg    *config.Config
	paths  *config.Paths
	logger *infrastructure.Logger
	otel   *infrastructure.OTelProviders
}

func loadEnv(opts *rootOptions, requireCredentials bool) (*runtimeEnv, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}
	if opts.dataDir != "" {
		cfg.Paths.DataDir = opts.dataDir
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if requireCredentials {
		if err := cfg.RequireCredentials(); err != nil {
			return nil, err
		}
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger.Logger)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	paths := cfg.ResolvePaths()
	if err := paths.EnsureDirectories(); err != nil {
		logger.Close()
		return nil, err
	}
	paths.LogPathResolution(logger.Logger)

	return &runtimeEnv{cfg: cfg, paths: paths, logger: logger, otel: providers}, nil
}

func (e *runtimeEnv) Close(ctx context.Context) {
	if err := e.otel.Shutdown(ctx); err != nil {
		e.logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
	}
	e.logger.Close()
}

// manager wires the five pipeline steps and a run manager.
func (e *runtimeEnv) manager() (*operations.Manager, error) {
	deps := operations.StageDeps{
		Config: e.cfg,
		Dial:   wrds.NewDialer(e.cfg.WRDS, e.logger.Logger),
		Logger: e.logger.Logger,
	}
	if e.cfg.Storage.Enabled {
		pub, err := storage.NewPublisher(e.cfg.Storage, e.logger.Logger)
		switch {
		case errors.Is(err, storage.ErrDisabled):
		case err != nil:
			return nil, err
		default:
			deps.Publisher = pub
		}
	}

	registry, err := operations.DefaultRegistry(deps)
	if err != nil {
		return nil, err
	}
	tracer, err := operations.NewTracer(e.otel.Meter)
	if err != nil {
		return nil, err
	}
	return operations.NewManager(registry, operations.ManagerOptions{
		Tracer:       tracer,
		Logger:       e.logger.Logger,
		ManifestPath: e.paths.ManifestFile,
		StartDate:    e.cfg.Pipeline.StartDate,
		EndDate:      e.cfg.Pipeline.EndDate,
	})
}
