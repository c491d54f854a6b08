package compustat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"wrdspanel/internal/cache"
	"wrdspanel/internal/config"
	"wrdspanel/internal/frame"
	"wrdspanel/internal/wrds"
)

// ErrNoFirms is returned when neither a firm list nor an industry filter is available.
var ErrNoFirms = errors.New("no firm filter: firm list is empty and no SIC codes are configured")

// Deps are the collaborators shared by the pull functions.
type Deps struct {
	Dial   wrds.Dialer
	Cache  *cache.Store
	Logger *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Result holds the three outputs of a full Compustat pull.
type Result struct {
	Annual      *frame.Frame
	Quarterly   *frame.Frame
	CompanyInfo *frame.Frame
}

// frequency describes one fundamentals file.
type frequency struct {
	stage     string
	table     string
	entryName string
	vars      func([]string) []string
}

var (
	annual = frequency{
		stage:     "compustat_annual",
		table:     config.CompustatAnnualTable,
		entryName: config.CompustatAnnualName,
		vars:      config.AnnualCompatibleVars,
	}
	quarterly = frequency{
		stage:     "compustat_quarterly",
		table:     config.CompustatQuarterlyTable,
		entryName: config.CompustatQuarterlyName,
		vars:      config.AddQuarterlySuffix,
	}
)

// Pull runs the annual and quarterly pulls and returns the company metadata
// used for both.
func Pull(ctx context.Context, cfg *config.Config, deps Deps) (*Result, error) {
	p, err := newPuller(cfg, deps)
	if err != nil {
		return nil, err
	}
	defer p.close()

	res := &Result{}
	if res.Annual, err = p.pull(ctx, annual); err != nil {
		return nil, fmt.Errorf("annual: %w", err)
	}
	if res.Quarterly, err = p.pull(ctx, quarterly); err != nil {
		return nil, fmt.Errorf("quarterly: %w", err)
	}
	if res.CompanyInfo, err = p.companyInfo(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

// PullAnnual returns annual fundamentals from comp.funda.
func PullAnnual(ctx context.Context, cfg *config.Config, deps Deps) (*frame.Frame, error) {
	p, err := newPuller(cfg, deps)
	if err != nil {
		return nil, err
	}
	defer p.close()
	return p.pull(ctx, annual)
}

// PullQuarterly returns quarterly fundamentals from comp.fundq.
func PullQuarterly(ctx context.Context, cfg *config.Config, deps Deps) (*frame.Frame, error) {
	p, err := newPuller(cfg, deps)
	if err != nil {
		return nil, err
	}
	defer p.close()
	return p.pull(ctx, quarterly)
}

// puller shares one lazily opened connection and the company metadata
// between the pulls of a single stage.
type puller struct {
	cfg    *config.Config
	deps   Deps
	log    *slog.Logger
	paths  *config.Paths
	filter config.FirmFilter

	conn wrds.Conn
	info *frame.Frame
}

func newPuller(cfg *config.Config, deps Deps) (*puller, error) {
	log := deps.logger().With(slog.String("stage", config.StageCompustat))
	filter, ok := cfg.ResolveFirmFilter(log)
	if !ok {
		return nil, ErrNoFirms
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewStore(cfg.Pipeline.Refresh, deps.Logger)
	}
	return &puller{
		cfg:    cfg,
		deps:   deps,
		log:    log,
		paths:  cfg.ResolvePaths(),
		filter: filter,
	}, nil
}

func (p *puller) connect(ctx context.Context) (wrds.Conn, error) {
	if p.conn != nil {
		return p.conn, nil
	}
	conn, err := p.deps.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to WRDS: %w", err)
	}
	p.conn = conn
	return conn, nil
}

func (p *puller) close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Close(); err != nil {
		p.log.Warn("failed to close WRDS connection", slog.String("error", err.Error()))
	}
	p.conn = nil
}

func (p *puller) filterParams() map[string]any {
	if p.filter.ByGvkey() {
		return map[string]any{"gvkeys": p.filter.Gvkeys}
	}
	return map[string]any{"sic": p.filter.SIC}
}

func (p *puller) companyEntry() cache.Entry {
	return cache.Entry{
		Dir:  p.paths.CompustatDir,
		Name: config.CompanyInfoName,
		Key: cache.Key{
			Stage:         "company_info",
			SchemaVersion: p.cfg.Pipeline.SchemaVersion,
			Params:        map[string]any{"filter": p.filterParams()},
		},
	}
}

func (p *puller) entry(freq frequency, vars []string) cache.Entry {
	return cache.Entry{
		Dir:  p.paths.CompustatDir,
		Name: freq.entryName,
		Key: cache.Key{
			Stage:         freq.stage,
			SchemaVersion: p.cfg.Pipeline.SchemaVersion,
			Params: map[string]any{
				"start_date": p.cfg.Pipeline.StartDate,
				"end_date":   p.cfg.Pipeline.EndDate,
				"vars":       vars,
				"filter":     p.filterParams(),
			},
		},
	}
}

// companyInfo returns the cached company metadata or pulls it.
func (p *puller) companyInfo(ctx context.Context) (*frame.Frame, error) {
	if p.info != nil {
		return p.info, nil
	}
	entry := p.companyEntry()
	if f, ok := p.deps.Cache.Load(entry); ok {
		p.info = f
		return f, nil
	}

	conn, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	info, err := fetchCompanyInfo(ctx, conn, p.filter, p.log)
	if err != nil {
		return nil, err
	}
	if _, err := p.deps.Cache.Save(entry, info); err != nil {
		return nil, fmt.Errorf("save company info: %w", err)
	}
	p.info = info
	return info, nil
}

func (p *puller) pull(ctx context.Context, freq frequency) (*frame.Frame, error) {
	requested := freq.vars(p.cfg.Pipeline.CompustatVars)
	entry := p.entry(freq, requested)
	log := p.log.With(slog.String("table", freq.table))

	if f, ok := p.deps.Cache.Load(entry); ok {
		return sortPanel(f)
	}

	start := time.Now()
	info, err := p.companyInfo(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}

	fields, err := conn.TableFields(ctx, config.CompustatLibrary, freq.table)
	if err != nil {
		return nil, err
	}
	cols, dropped := wrds.FilterAvailable(requested, fields)
	if len(dropped) > 0 {
		log.Warn("requested columns not available, skipping",
			slog.Int("count", len(dropped)),
			slog.Any("columns", dropped))
	}
	if !contains(cols, "gvkey") || !contains(cols, "datadate") {
		return nil, fmt.Errorf("%s.%s lacks gvkey or datadate", config.CompustatLibrary, freq.table)
	}

	gvkeys := distinct(info.Strings("gvkey"))
	log.Info("downloading fundamentals",
		slog.Int("firms", len(gvkeys)),
		slog.Int("columns", len(cols)),
		slog.String("start_date", p.cfg.Pipeline.StartDate),
		slog.String("end_date", p.cfg.Pipeline.EndDate))

	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE datadate BETWEEN $1 AND $2
		AND indfmt = $3 AND datafmt = $4 AND popsrc = $5 AND consol = $6
		AND gvkey = ANY($7)`,
		wrds.SelectList("", cols),
		wrds.Table(config.CompustatLibrary, freq.table))

	raw, err := conn.Query(ctx, query,
		p.cfg.Pipeline.StartDate, p.cfg.Pipeline.EndDate,
		config.IndustryFormat, config.DataFormat, config.PopulationSrc, config.Consolidation,
		wrds.Array(gvkeys))
	if err != nil {
		return nil, err
	}
	log.Info("downloaded fundamentals", slog.Int("rows", raw.Len()))

	merged, stats, err := raw.LeftJoin(info, []string{"gvkey"}, "_company")
	if err != nil {
		return nil, fmt.Errorf("merge company info: %w", err)
	}
	log.Debug("merged company info",
		slog.Int("matched", stats.Matched),
		slog.Int("unmatched", stats.Unmatched))

	if _, err := p.deps.Cache.Save(entry, merged); err != nil {
		return nil, fmt.Errorf("save %s: %w", freq.entryName, err)
	}

	out, err := sortPanel(merged)
	if err != nil {
		return nil, err
	}
	log.Info("compustat pull complete",
		slog.Int("rows", out.Len()),
		slog.Int("columns", out.Width()),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}

func sortPanel(f *frame.Frame) (*frame.Frame, error) {
	if !f.Has("gvkey") || !f.Has("datadate") {
		return f, nil
	}
	return f.SortBy("gvkey", "datadate")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func distinct(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
