package services

import (
	"context"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"wrdspanel/internal/config"
	"wrdspanel/internal/diagnostics"
	"wrdspanel/internal/exporter"
	"wrdspanel/internal/frame"
	"wrdspanel/internal/operations"
	"wrdspanel/internal/panel"
	api "wrdspanel/pkg/contracts/api/v1"
	"wrdspanel/pkg/contracts/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func ptr[T any](v T) *T { return &v }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// gateStep blocks until released or cancelled.
type gateStep struct {
	operations.BaseStep
	release chan struct{}
}

func (s *gateStep) Execute(ctx context.Context, _ *operations.RunState) error {
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newPipelineService(t *testing.T) (*PipelineService, chan struct{}) {
	t.Helper()
	release := make(chan struct{})
	reg := operations.NewRegistry()
	require.NoError(t, reg.Register(&gateStep{
		BaseStep: operations.NewBaseStep(config.StageCompustat, "Compustat Pull"),
		release:  release,
	}))
	mgr, err := operations.NewManager(reg, operations.ManagerOptions{Logger: quietLogger()})
	require.NoError(t, err)
	return NewPipelineService(mgr, quietLogger()), release
}

func waitIdle(t *testing.T, s *PipelineService) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Active() == "" }, 5*time.Second, 10*time.Millisecond)
}

func TestPipelineServiceSingleRun(t *testing.T) {
	svc, release := newPipelineService(t)
	ctx := context.Background()

	run, err := svc.Start(ctx, api.StartRunRequest{Refresh: true})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.True(t, run.Refresh)
	assert.Equal(t, run.ID, svc.Active())

	_, err = svc.Start(ctx, api.StartRunRequest{})
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	waitIdle(t, svc)

	got, err := svc.Status(run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, got.Status)
	assert.Len(t, svc.List(), 1)

	// Idle again, so a new run is accepted.
	second, err := svc.Start(ctx, api.StartRunRequest{})
	require.NoError(t, err)
	waitIdle(t, svc)
	assert.NotEqual(t, run.ID, second.ID)

	require.NoError(t, svc.Close(ctx))
}

func TestPipelineServiceCloseCancelsRun(t *testing.T) {
	svc, _ := newPipelineService(t)

	run, err := svc.Start(context.Background(), api.StartRunRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Close(ctx))

	got, err := svc.Status(run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, got.Status)

	_, err = svc.Start(context.Background(), api.StartRunRequest{})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestPipelineServiceErrors(t *testing.T) {
	svc, _ := newPipelineService(t)
	defer svc.Close(context.Background())

	_, err := svc.Start(context.Background(), api.StartRunRequest{Steps: []string{"bogus"}})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, svc.Active())

	_, err = svc.Status("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func writePanel(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Pipeline.OutputName = "panel_test"
	f := frame.MustNew(
		frame.NewString("gvkey", []string{"001000", "001000", "002000", "002000"}),
		frame.NewString("year_quarter", []string{"2020Q1", "2020Q2", "2020Q1", "2020Q1"}),
		frame.NewFloat("year", []float64{2020, 2020, 2020, 2020}),
		frame.NewFloat("atq", []float64{1, 2, 3, math.NaN()}),
		frame.NewFloat("seqq", []float64{1, -1, 1, 1}),
	)
	require.NoError(t, exporter.WriteBinary(panel.OutputTargets(cfg).Binary, f))
	return cfg
}

func TestPanelServiceDiagnostics(t *testing.T) {
	cfg := writePanel(t)
	svc := NewPanelService(cfg, quietLogger())
	ctx := context.Background()

	report, err := svc.Diagnostics(ctx, api.DiagnosticsQuery{UnitID: "gvkey", TimeID: "year_quarter"})
	require.NoError(t, err)
	assert.Equal(t, 0.25, report.Coverage.Threshold)
	assert.True(t, report.Duplicates.HasDuplicates)
	assert.Equal(t, 1, report.Duplicates.Keys)
	assert.Equal(t, diagnostics.Balanced, report.Balance.Type)
	assert.Equal(t, 1, report.Issues["negative_book_equity"].Count)

	report, err = svc.Diagnostics(ctx, api.DiagnosticsQuery{UnitID: "gvkey", TimeID: "year_quarter", Threshold: ptr(0.1)})
	require.NoError(t, err)
	assert.Equal(t, 0.1, report.Coverage.Threshold)
	require.Len(t, report.Coverage.HighMissing, 1)
	assert.Equal(t, "atq", report.Coverage.HighMissing[0].Column)

	// Zero is a real threshold, not "use the default".
	report, err = svc.Diagnostics(ctx, api.DiagnosticsQuery{UnitID: "gvkey", TimeID: "year_quarter", Threshold: ptr(0.0)})
	require.NoError(t, err)
	assert.Equal(t, 0.0, report.Coverage.Threshold)
	require.Len(t, report.Coverage.HighMissing, 1)

	_, err = svc.Diagnostics(ctx, api.DiagnosticsQuery{UnitID: "permno", TimeID: "year_quarter"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPanelServiceCoverage(t *testing.T) {
	cfg := writePanel(t)
	svc := NewPanelService(cfg, quietLogger())

	info, err := svc.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, info.Rows)
	assert.Equal(t, 2, info.Firms)

	resp, err := svc.Coverage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, resp.Panel.Rows)
	require.Len(t, resp.Rows, 4, "year is not a coverage row")
	last := resp.Rows[len(resp.Rows)-1]
	assert.Equal(t, "atq", last.Variable)
	assert.Equal(t, 75.0, last.Pct)

	tex := CoverageLaTeX(resp, "")
	assert.Contains(t, tex, "\\caption{Variable Coverage}")
	assert.Contains(t, tex, "year\\_quarter")
}

func TestPanelServiceMissingPanel(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	svc := NewPanelService(cfg, quietLogger())

	assert.False(t, svc.Exists())
	_, err := svc.Coverage(context.Background())
	assert.ErrorIs(t, err, ErrPanelNotFound)
	_, err = svc.Diagnostics(context.Background(), api.DiagnosticsQuery{UnitID: "gvkey", TimeID: "year_quarter"})
	assert.ErrorIs(t, err, ErrPanelNotFound)
}

func TestHealthService(t *testing.T) {
	cfg := writePanel(t)
	pipeline, release := newPipelineService(t)
	defer pipeline.Close(context.Background())
	hs := NewHealthService("1.0.0", pipeline, NewPanelService(cfg, quietLogger()), quietLogger())

	status := hs.HealthCheck(context.Background())
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "1.0.0", status.Version)
	assert.Equal(t, "idle", status.Services["pipeline"].Status)
	assert.Equal(t, "ready", status.Services["panel"].Status)

	_, err := pipeline.Start(context.Background(), api.StartRunRequest{})
	require.NoError(t, err)
	assert.Equal(t, "running", hs.HealthCheck(context.Background()).Services["pipeline"].Status)
	close(release)
	waitIdle(t, pipeline)

	empty := NewHealthService("1.0.0", nil, nil, quietLogger())
	assert.Equal(t, "unavailable", empty.HealthCheck(context.Background()).Services["panel"].Status)
}
