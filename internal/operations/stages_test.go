package operations

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wrdspanel/internal/config"
	"wrdspanel/internal/diagnostics"
	"wrdspanel/internal/exporter"
	"wrdspanel/internal/frame"
	"wrdspanel/internal/link"
	"wrdspanel/internal/wrds/wrdstest"
	"wrdspanel/pkg/contracts/domain"
)

func d(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Pipeline.OutputName = "panel_test"
	cfg.Pipeline.CompustatVars = []string{"gvkey", "datadate", "datacqtr", "cusip", "at", "seq", "csho", "capx"}
	list := filepath.Join(cfg.Paths.DataDir, "gvkeys.csv")
	require.NoError(t, os.WriteFile(list, []byte("gvkey\n001000\n002000\n"), 0644))
	cfg.Pipeline.GvkeyListFile = list
	return cfg
}

func fakeWRDS() *wrdstest.Server {
	nan := math.NaN()
	fields := map[string][]string{
		"comp.company": {"gvkey", "conm", "sic", "cik"},
		"comp.fundq":   {"gvkey", "datadate", "datacqtr", "cusip", "atq", "seqq", "cshoq", "capxy"},
		"comp.funda":   {"gvkey", "datadate", "cusip", "at", "seq", "csho", "capx"},
		"crsp.msf":     {"cusip", "permno", "permco", "date", "prc", "ret", "retx", "vol", "shrout"},
	}
	return wrdstest.NewServer(fields, func(query string, args []any) (*frame.Frame, error) {
		switch {
		case strings.Contains(query, `"company"`):
			return frame.MustNew(
				frame.NewString("gvkey", []string{"001000", "002000"}),
				frame.NewString("sic", []string{"6798", "6512"}),
			), nil
		case strings.Contains(query, `"fundq"`):
			return frame.MustNew(
				frame.NewString("gvkey", []string{"001000", "001000", "002000"}),
				frame.NewTime("datadate", []time.Time{d(2020, 3, 31), d(2020, 6, 30), d(2020, 3, 31)}),
				frame.NewString("datacqtr", []string{"2020Q1", "2020Q2", "2020Q1"}),
				frame.NewString("cusip", []string{"11111111X", "11111111X", "22222222X"}),
				frame.NewFloat("atq", []float64{100, 110, 50}),
				frame.NewFloat("seqq", []float64{50, 55, -5}),
				frame.NewFloat("cshoq", []float64{10, 10, 5}),
				frame.NewFloat("capxy", []float64{1, 2, nan}),
			), nil
		case strings.Contains(query, `"funda"`):
			return frame.MustNew(
				frame.NewString("gvkey", []string{"001000"}),
				frame.NewTime("datadate", []time.Time{d(2020, 12, 31)}),
				frame.NewString("cusip", []string{"11111111X"}),
				frame.NewFloat("at", []float64{120}),
			), nil
		case strings.Contains(query, `"msf"`):
			return frame.MustNew(
				frame.NewFloat("permno", []float64{10001, 10001, 10001, 10001}),
				frame.NewTime("date", []time.Time{d(2020, 1, 31), d(2020, 2, 28), d(2020, 3, 31), d(2020, 4, 30)}),
				frame.NewString("cusip", []string{"11111111", "11111111", "11111111", "11111111"}),
				frame.NewFloat("permco", []float64{500, 500, 500, 500}),
				frame.NewFloat("prc", []float64{10, 11, -12, 13}),
				frame.NewFloat("ret", []float64{0.1, 0.0, 0.05, 0.02}),
				frame.NewFloat("retx", []float64{0.1, 0.0, 0.05, 0.02}),
				frame.NewFloat("vol", []float64{100, 200, 300, 50}),
				frame.NewFloat("shrout", []float64{1000, 1000, 1100, 1200}),
			), nil
		}
		return nil, nil
	})
}

func crosswalk(t *testing.T) *link.Table {
	t.Helper()
	table, err := link.FromFrame(frame.MustNew(
		frame.NewString("gvkey", []string{"001000", "002000"}),
		frame.NewFloat("LPERMNO", []float64{10001, 20001}),
		frame.NewString("LINKDT", []string{"19900101", "19900101"}),
		frame.NewString("LINKENDDT", []string{"E", "E"}),
	))
	require.NoError(t, err)
	return table
}

type fakePublisher struct {
	runID string
	files []string
	err   error
}

func (p *fakePublisher) Publish(_ context.Context, runID string, files []string) ([]string, error) {
	p.runID = runID
	p.files = files
	if p.err != nil {
		return nil, p.err
	}
	keys := make([]string, len(files))
	for i, f := range files {
		keys[i] = "wrdspanel/" + runID + "/" + filepath.Base(f)
	}
	return keys, nil
}

func pipelineManager(t *testing.T, cfg *config.Config, deps StageDeps) *Manager {
	t.Helper()
	deps.Config = cfg
	if deps.Logger == nil {
		deps.Logger = quietLogger()
	}
	reg, err := DefaultRegistry(deps)
	require.NoError(t, err)
	m, err := NewManager(reg, ManagerOptions{
		Logger:       quietLogger(),
		ManifestPath: cfg.ResolvePaths().ManifestFile,
		StartDate:    cfg.Pipeline.StartDate,
		EndDate:      cfg.Pipeline.EndDate,
	})
	require.NoError(t, err)
	return m
}

func TestDefaultRegistryOrder(t *testing.T) {
	reg, err := DefaultRegistry(StageDeps{Config: config.Default()})
	require.NoError(t, err)
	ordered, err := reg.DependencyOrder()
	require.NoError(t, err)
	ids := make([]string, len(ordered))
	for i, s := range ordered {
		ids[i] = s.ID()
	}
	assert.Equal(t, []string{
		config.StageCompustat, config.StageCRSP, config.StageMerge,
		config.StageDiagnostics, config.StagePublish,
	}, ids)

	_, err = DefaultRegistry(StageDeps{})
	assert.Error(t, err)
}

func TestPipelineRun(t *testing.T) {
	cfg := testConfig(t)
	srv := fakeWRDS()
	pub := &fakePublisher{}
	m := pipelineManager(t, cfg, StageDeps{
		Dial:      srv.Dialer(),
		Crosswalk: crosswalk(t),
		Publisher: pub,
	})

	run, err := m.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, 0, srv.Open(), "connections must be closed")
	for _, s := range run.Steps {
		assert.Equal(t, domain.StepStatusCompleted, s.Status, s.ID)
	}

	assert.Equal(t, 3, run.Step(config.StageCompustat).Metadata["rows"])
	assert.Equal(t, 2, run.Step(config.StageCompustat).Metadata["firms"])
	assert.Equal(t, 3, run.Step(config.StageMerge).Metadata["rows"])
	assert.Equal(t, false, run.Step(config.StageMerge).Metadata["compustat_only"])

	paths := cfg.ResolvePaths()
	binary := paths.FinalOutput("panel_test") + config.ExtBinary
	assert.Contains(t, run.Outputs, binary)
	for _, name := range []string{DiagnosticsJSONName, DiagnosticsTextName, CoverageTableName} {
		path := filepath.Join(paths.ProcessedDir, name)
		assert.Contains(t, run.Outputs, path)
		assert.FileExists(t, path)
	}

	panel, err := exporter.ReadBinary(binary)
	require.NoError(t, err)
	assert.Equal(t, []string{"001000", "001000", "002000"}, panel.Strings("gvkey"))
	assert.True(t, panel.Has("ret_quarterly"))

	text, err := os.ReadFile(filepath.Join(paths.ProcessedDir, DiagnosticsTextName))
	require.NoError(t, err)
	assert.Contains(t, string(text), "PANEL STRUCTURE")
	assert.Contains(t, string(text), "Negative Book Equity")

	assert.Equal(t, run.ID, pub.runID)
	assert.Equal(t, run.Outputs, pub.files)
	objects, ok := run.Step(config.StagePublish).Metadata["objects"].([]string)
	require.True(t, ok)
	assert.Len(t, objects, len(run.Outputs))

	manifest, err := LoadManifest(paths.ManifestFile)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, manifest.Status)
	assert.Equal(t, cfg.Pipeline.StartDate, manifest.StartDate)

	// A second run is served from the pull caches.
	queries := srv.QueryCount()
	_, err = m.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, queries, srv.QueryCount())

	// Refresh bypasses them.
	_, err = m.Run(context.Background(), Request{Refresh: true})
	require.NoError(t, err)
	assert.Greater(t, srv.QueryCount(), queries)
}

func TestPipelineWithoutPublisher(t *testing.T) {
	cfg := testConfig(t)
	m := pipelineManager(t, cfg, StageDeps{Dial: fakeWRDS().Dialer(), Crosswalk: crosswalk(t)})

	run, err := m.Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, domain.StepStatusSkipped, run.Step(config.StagePublish).Status)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
}

func TestCompustatWithoutFirmsIsFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.GvkeyListFile = filepath.Join(cfg.Paths.DataDir, "missing.csv")
	cfg.Pipeline.SICFilter = nil
	srv := fakeWRDS()
	m := pipelineManager(t, cfg, StageDeps{Dial: srv.Dialer(), Crosswalk: crosswalk(t)})

	run, err := m.Run(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Equal(t, domain.StepStatusFailed, run.Step(config.StageCompustat).Status)
	assert.Equal(t, domain.StepStatusSkipped, run.Step(config.StageMerge).Status)
	assert.Zero(t, srv.QueryCount())
}

func TestCRSPWithoutCUSIPsContinuesCompustatOnly(t *testing.T) {
	cfg := testConfig(t)
	paths := cfg.ResolvePaths()
	cached := frame.MustNew(
		frame.NewString("gvkey", []string{"001000", "001000"}),
		frame.NewTime("datadate", []time.Time{d(2020, 3, 31), d(2020, 6, 30)}),
		frame.NewString("datacqtr", []string{"2020Q1", "2020Q2"}),
		frame.NewString("cusip", []string{"", ""}),
		frame.NewFloat("atq", []float64{100, 110}),
	)
	require.NoError(t, exporter.WriteBinary(filepath.Join(paths.CompustatDir, config.CompustatQuarterlyName+config.ExtBinary), cached))

	srv := fakeWRDS()
	m := pipelineManager(t, cfg, StageDeps{Dial: srv.Dialer()})
	run, err := m.Run(context.Background(), Request{Steps: []string{config.StageCRSP, config.StageMerge}})
	require.NoError(t, err)

	crspStep := run.Step(config.StageCRSP)
	assert.Equal(t, domain.StepStatusCompleted, crspStep.Status)
	assert.Equal(t, true, crspStep.Metadata["compustat_only"])
	assert.Equal(t, true, run.Step(config.StageMerge).Metadata["compustat_only"])
	assert.Equal(t, 2, run.Step(config.StageMerge).Metadata["rows"])
	assert.Zero(t, srv.Dials)
}

func TestMergeWithoutCompustatIsFatal(t *testing.T) {
	cfg := testConfig(t)
	m := pipelineManager(t, cfg, StageDeps{})

	run, err := m.Run(context.Background(), Request{Steps: []string{config.StageMerge}})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, domain.RunStatusFailed, run.Status)
}

func TestCompustatStepRequiresDialer(t *testing.T) {
	cfg := testConfig(t)
	m := pipelineManager(t, cfg, StageDeps{})
	_, err := m.Run(context.Background(), Request{Steps: []string{config.StageCompustat}})
	require.Error(t, err)
	assert.Equal(t, ErrorTypeValidation, GetErrorType(err))
}

func TestPublishFailureFailsRun(t *testing.T) {
	cfg := testConfig(t)
	pub := &fakePublisher{err: errors.New("bucket unreachable")}
	m := pipelineManager(t, cfg, StageDeps{
		Dial:      fakeWRDS().Dialer(),
		Crosswalk: crosswalk(t),
		Publisher: pub,
	})

	run, err := m.Run(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unreachable")
	assert.Equal(t, domain.StepStatusFailed, run.Step(config.StagePublish).Status)
	assert.Equal(t, domain.StepStatusCompleted, run.Step(config.StageDiagnostics).Status)
}

func TestWriteDiagnostics(t *testing.T) {
	dir := t.TempDir()
	f := frame.MustNew(
		frame.NewString("gvkey", []string{"001000", "001000", "002000", "002000"}),
		frame.NewString("year_quarter", []string{"2020Q1", "2020Q2", "2020Q1", "2020Q2"}),
		frame.NewFloat("atq", []float64{1, 2, 3, math.NaN()}),
	)
	report, err := diagnostics.ValidatePanel(f, PanelUnitID, PanelTimeID, diagnostics.Options{})
	require.NoError(t, err)

	files, err := WriteDiagnostics(dir, f, report)
	require.NoError(t, err)
	require.Len(t, files, 3)

	tex, err := os.ReadFile(filepath.Join(dir, CoverageTableName))
	require.NoError(t, err)
	assert.Contains(t, string(tex), "atq & 4 & 3 & 75.0\\%")

	data, err := os.ReadFile(filepath.Join(dir, DiagnosticsJSONName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type": "balanced"`)
}
