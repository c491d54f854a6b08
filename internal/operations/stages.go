package operations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"wrdspanel/internal/cache"
	"wrdspanel/internal/compustat"
	"wrdspanel/internal/config"
	"wrdspanel/internal/crsp"
	"wrdspanel/internal/diagnostics"
	"wrdspanel/internal/exporter"
	"wrdspanel/internal/frame"
	"wrdspanel/internal/link"
	"wrdspanel/internal/panel"
	"wrdspanel/internal/ratios"
	"wrdspanel/internal/storage"
	"wrdspanel/internal/wrds"
)

// Panel keys used by the diagnostics step.
const (
	PanelUnitID = "gvkey"
	PanelTimeID = "year_quarter"
)

// Files written by the diagnostics step into the processed directory.
const (
	DiagnosticsJSONName = "panel_diagnostics.json"
	DiagnosticsTextName = "panel_diagnostics.txt"
	CoverageTableName   = "coverage_table.tex"
)

// StageDeps are the collaborators shared by the pipeline steps.
type StageDeps struct {
	Config *config.Config
	Dial   wrds.Dialer
	Logger *slog.Logger
	// Publisher is optional; the publish step is skipped without it.
	Publisher storage.Publisher
	// Crosswalk overrides the linking file. Tests inject it.
	Crosswalk *link.Table
	Ratios    ratios.Registry
}

func (d StageDeps) logger(stage string) *slog.Logger {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return log.With(slog.String("stage", stage))
}

func (d StageDeps) cache(state *RunState, log *slog.Logger) *cache.Store {
	return cache.NewStore(state.Refresh() || d.Config.Pipeline.Refresh, log)
}

// DefaultRegistry registers the five pipeline steps in execution order.
func DefaultRegistry(deps StageDeps) (*Registry, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	r := NewRegistry()
	for _, s := range []Step{
		NewCompustatStep(deps),
		NewCRSPStep(deps),
		NewMergeStep(deps),
		NewDiagnosticsStep(deps),
		NewPublishStep(deps),
	} {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// CompustatStep pulls the Compustat fundamentals and company metadata.
type CompustatStep struct {
	BaseStep
	deps StageDeps
}

// NewCompustatStep creates the Compustat pull step.
func NewCompustatStep(deps StageDeps) *CompustatStep {
	return &CompustatStep{
		BaseStep: NewBaseStep(config.StageCompustat, "Compustat Pull"),
		deps:     deps,
	}
}

// Validate requires a WRDS dialer.
func (s *CompustatStep) Validate(*RunState) error {
	if s.deps.Dial == nil {
		return NewValidationError(s.ID(), "no WRDS connection configured")
	}
	return nil
}

// Execute pulls the annual and quarterly files. An empty quarterly result
// is fatal because every later step builds on it.
func (s *CompustatStep) Execute(ctx context.Context, state *RunState) error {
	log := s.deps.logger(s.ID())
	res, err := compustat.Pull(ctx, s.deps.Config, compustat.Deps{
		Dial:   s.deps.Dial,
		Cache:  s.deps.cache(state, log),
		Logger: log,
	})
	if err != nil {
		if errors.Is(err, compustat.ErrNoFirms) {
			return NewFatalError(s.ID(), "no firms to pull", err)
		}
		return err
	}
	if res.Quarterly == nil || res.Quarterly.Len() == 0 {
		return NewFatalError(s.ID(), "compustat quarterly pull returned no rows", nil)
	}
	state.Set(KeyCompustat, res.Quarterly)

	ss := state.Step(s.ID())
	ss.SetMetadata("rows", res.Quarterly.Len())
	ss.SetMetadata("firms", distinct(res.Quarterly, "gvkey"))
	if res.Annual != nil {
		ss.SetMetadata("annual_rows", res.Annual.Len())
	}
	ss.SetMessage(fmt.Sprintf("%d quarterly rows", res.Quarterly.Len()))
	return nil
}

// CRSPStep pulls monthly CRSP data for the Compustat CUSIPs and aggregates
// it to calendar quarters.
type CRSPStep struct {
	BaseStep
	deps StageDeps
}

// NewCRSPStep creates the CRSP pull step.
func NewCRSPStep(deps StageDeps) *CRSPStep {
	return &CRSPStep{
		BaseStep: NewBaseStep(config.StageCRSP, "CRSP Pull", config.StageCompustat),
		deps:     deps,
	}
}

// Validate requires a WRDS dialer.
func (s *CRSPStep) Validate(*RunState) error {
	if s.deps.Dial == nil {
		return NewValidationError(s.ID(), "no WRDS connection configured")
	}
	return nil
}

// Execute runs the pull. Without usable Compustat identifiers the run
// continues with Compustat data only.
func (s *CRSPStep) Execute(ctx context.Context, state *RunState) error {
	log := s.deps.logger(s.ID())
	comp, _ := frameValue(state, KeyCompustat)
	q, err := crsp.Pull(ctx, s.deps.Config, crsp.Deps{
		Dial:   s.deps.Dial,
		Cache:  s.deps.cache(state, log),
		Logger: log,
	}, comp)
	ss := state.Step(s.ID())
	if errors.Is(err, crsp.ErrNoCompustat) || errors.Is(err, crsp.ErrNoCUSIPs) {
		log.Warn("CRSP data unavailable, continuing with compustat only",
			slog.String("reason", err.Error()))
		ss.SetMetadata("compustat_only", true)
		ss.SetMessage("no CRSP data, continuing with Compustat only")
		return nil
	}
	if err != nil {
		return err
	}
	state.Set(KeyCRSP, q)
	ss.SetMetadata("rows", q.Len())
	ss.SetMetadata("securities", distinct(q, "permno"))
	ss.SetMessage(fmt.Sprintf("%d security-quarters", q.Len()))
	return nil
}

// MergeStep builds the final panel.
type MergeStep struct {
	BaseStep
	deps StageDeps
}

// NewMergeStep creates the merge and process step.
func NewMergeStep(deps StageDeps) *MergeStep {
	return &MergeStep{
		BaseStep: NewBaseStep(config.StageMerge, "Merge & Process", config.StageCompustat, config.StageCRSP),
		deps:     deps,
	}
}

// Execute merges the pulled data. Inputs not produced in this run are read
// from the pull caches. An empty panel is fatal.
func (s *MergeStep) Execute(ctx context.Context, state *RunState) error {
	log := s.deps.logger(s.ID())
	paths := s.deps.Config.ResolvePaths()

	comp, ok := frameValue(state, KeyCompustat)
	if !ok {
		cached, err := exporter.ReadBinary(filepath.Join(paths.CompustatDir, config.CompustatQuarterlyName+config.ExtBinary))
		if err != nil {
			return NewFatalError(s.ID(), "no compustat data: run the compustat pull first", panel.ErrNoCompustat)
		}
		log.Info("using cached compustat data", slog.Int("rows", cached.Len()))
		comp = cached
	}

	crspQ, ok := frameValue(state, KeyCRSP)
	if !ok && state.Step(config.StageCRSP) == nil {
		path := filepath.Join(paths.CRSPDir, config.CRSPQuarterlyName+config.ExtBinary)
		if cached, err := exporter.ReadBinary(path); err == nil {
			log.Info("using cached CRSP data", slog.Int("rows", cached.Len()))
			crspQ = cached
		}
	}

	res, err := panel.MergeAndProcess(ctx, s.deps.Config, comp, crspQ, panel.Deps{
		Logger:    s.deps.Logger,
		Crosswalk: s.deps.Crosswalk,
		Ratios:    s.deps.Ratios,
	})
	if err != nil {
		return err
	}
	if res.Frame.Len() == 0 {
		return NewFatalError(s.ID(), "final panel is empty", nil)
	}
	state.Set(KeyPanel, res.Frame)
	state.AddOutputs(res.Summary.Files...)

	ss := state.Step(s.ID())
	ss.SetMetadata("rows", res.Summary.Rows)
	ss.SetMetadata("firms", res.Summary.Firms)
	ss.SetMetadata("quarters", res.Summary.Quarters)
	ss.SetMetadata("compustat_only", res.Summary.CompustatOnly)
	ss.SetMetadata("crsp_matched", res.Summary.CRSPMatched)
	ss.SetMessage(fmt.Sprintf("%d firm-quarters for %d firms", res.Summary.Rows, res.Summary.Firms))
	return nil
}

// DiagnosticsStep validates the final panel and writes the reports.
type DiagnosticsStep struct {
	BaseStep
	deps StageDeps
}

// NewDiagnosticsStep creates the panel diagnostics step.
func NewDiagnosticsStep(deps StageDeps) *DiagnosticsStep {
	return &DiagnosticsStep{
		BaseStep: NewBaseStep(config.StageDiagnostics, "Panel Diagnostics", config.StageMerge),
		deps:     deps,
	}
}

// Execute runs the panel checks on the merged frame, or on the saved
// panel when merge was not part of the run.
func (s *DiagnosticsStep) Execute(ctx context.Context, state *RunState) error {
	log := s.deps.logger(s.ID())
	f, ok := frameValue(state, KeyPanel)
	if !ok {
		path := panel.OutputTargets(s.deps.Config).Binary
		saved, err := exporter.ReadBinary(path)
		if err != nil {
			return fmt.Errorf("read final panel %s: %w", path, err)
		}
		f = saved
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	report, err := diagnostics.ValidatePanel(f, PanelUnitID, PanelTimeID, diagnostics.Threshold(s.deps.Config.Pipeline.CoverageThreshold))
	if err != nil {
		return err
	}
	files, err := WriteDiagnostics(s.deps.Config.ResolvePaths().ProcessedDir, f, report)
	if err != nil {
		return err
	}
	state.AddOutputs(files...)

	if report.Duplicates.HasDuplicates {
		log.Warn("duplicate panel keys found",
			slog.Int("keys", report.Duplicates.Keys),
			slog.Int("extra_rows", report.Duplicates.ExtraRows))
	}
	log.Info("panel diagnostics complete",
		slog.String("panel_type", report.Balance.Type),
		slog.Float64("balance_ratio", report.Balance.Ratio),
		slog.Int("high_missing_vars", len(report.Coverage.HighMissing)),
		slog.Any("files", files))

	ss := state.Step(s.ID())
	ss.SetMetadata("panel_type", report.Balance.Type)
	ss.SetMetadata("balance_ratio", report.Balance.Ratio)
	ss.SetMetadata("duplicate_keys", report.Duplicates.Keys)
	ss.SetMessage(fmt.Sprintf("%s panel, balance %.1f%%", report.Balance.Type, 100*report.Balance.Ratio))
	return nil
}

// WriteDiagnostics writes the JSON report, the text report and the LaTeX
// coverage table into dir and returns their paths.
func WriteDiagnostics(dir string, f *frame.Frame, report *diagnostics.Report) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	jsonPath := filepath.Join(dir, DiagnosticsJSONName)
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal diagnostics: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return nil, fmt.Errorf("write %s: %w", jsonPath, err)
	}

	textPath := filepath.Join(dir, DiagnosticsTextName)
	var b strings.Builder
	if err := diagnostics.WriteText(&b, report); err != nil {
		return nil, err
	}
	if err := os.WriteFile(textPath, []byte(b.String()), 0644); err != nil {
		return nil, fmt.Errorf("write %s: %w", textPath, err)
	}

	texPath := filepath.Join(dir, CoverageTableName)
	tex := diagnostics.FormatLaTeX(diagnostics.CoverageTable(f), "Variable Coverage")
	if err := os.WriteFile(texPath, []byte(tex), 0644); err != nil {
		return nil, fmt.Errorf("write %s: %w", texPath, err)
	}
	return []string{jsonPath, textPath, texPath}, nil
}

// PublishStep uploads the outputs of the run to object storage.
type PublishStep struct {
	BaseStep
	deps StageDeps
}

// NewPublishStep creates the publish step.
func NewPublishStep(deps StageDeps) *PublishStep {
	return &PublishStep{
		BaseStep: NewBaseStep(config.StagePublish, "Publish Outputs", config.StageMerge, config.StageDiagnostics),
		deps:     deps,
	}
}

// Validate skips the step when no publisher is configured.
func (s *PublishStep) Validate(*RunState) error {
	if s.deps.Publisher == nil {
		return fmt.Errorf("%w: storage publishing disabled", ErrSkip)
	}
	return nil
}

// Execute uploads every file recorded by earlier steps.
func (s *PublishStep) Execute(ctx context.Context, state *RunState) error {
	files := state.Outputs()
	if len(files) == 0 {
		return fmt.Errorf("%w: no outputs to publish", ErrSkip)
	}
	keys, err := s.deps.Publisher.Publish(ctx, state.ID(), files)
	if err != nil {
		return err
	}
	ss := state.Step(s.ID())
	ss.SetMetadata("objects", keys)
	ss.SetMessage(fmt.Sprintf("published %d files", len(keys)))
	return nil
}

func frameValue(state *RunState, key string) (*frame.Frame, bool) {
	v, ok := state.Get(key)
	if !ok {
		return nil, false
	}
	f, ok := v.(*frame.Frame)
	return f, ok && f != nil
}

func distinct(f *frame.Frame, name string) int {
	c := f.Column(name)
	if c == nil {
		return 0
	}
	seen := make(map[string]bool)
	for i := 0; i < c.Len(); i++ {
		if !c.IsMissing(i) {
			seen[c.Format(i)] = true
		}
	}
	return len(seen)
}
