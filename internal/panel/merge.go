package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"wrdspanel/internal/config"
	"wrdspanel/internal/exporter"
	"wrdspanel/internal/frame"
	"wrdspanel/internal/link"
	"wrdspanel/internal/ratios"
	"wrdspanel/internal/stats"
)

// ErrNoCompustat is returned when MergeAndProcess is called without the
// accounting frame.
var ErrNoCompustat = errors.New("compustat data is required")

// KeyOrder is the column order of the final panel. Columns not listed follow
// in their existing order.
var KeyOrder = []string{
	// identifiers
	"gvkey", "cusip", "permno", "permco", "conm",
	// calendar
	"datadate", "year", "quarter", "year_quarter", "year_quarter_numeric",
	"sic",
	// CRSP quarterly
	"prc", "ret_quarterly", "retx_quarterly", "vol", "shrout", "mktcap_crsp",
	// Compustat
	"atq", "ltq", "cheq", "dlcq", "dlttq", "seqq", "ceqq", "cshoq",
	"dpq", "niq", "oibdpq", "xintq", "txtq", "xrdq", "prccq", "capxy", "dvpspq",
	"ffoq", "affoq", "ffopsq",
	// ratios
	"td", "mktcap", "ev", "debt_equity_ratio", "debt_assets_ratio", "lev",
	"roa", "roe", "eps", "dividend_per_share", "dividend_payout_ratio", "pe_ratio",
	"ln_at", "roa_oibdp", "RDI", "RDI_no_fill", "tbq", "CAPEX",
	"cash", "CF", "bm", "tax", "mtb",
	"ffo_atq", "affo_atq", "oibdp_atq", "invested_capital_q",
	"lag_atq",
}

// WinsorizeExclude lists float columns that are never clipped: identifiers,
// calendar keys and industry codes.
var WinsorizeExclude = []string{
	"gvkey", "permno", "permco", "cik",
	"year", "quarter", "year_quarter_numeric",
	"fyearq", "fqtr", "fyr",
	"sic", "naics", "gsector", "ggroup", "gind", "gsubind",
	"ptype", "psub",
}

// WinsorizeExcludePrefixes marks dummy columns by prefix.
var WinsorizeExcludePrefixes = []string{"psub_", "Property_"}

// Deps are the optional collaborators of MergeAndProcess.
type Deps struct {
	Logger *slog.Logger
	// Crosswalk overrides loading the linking file from disk.
	Crosswalk *link.Table
	// Ratios defaults to ratios.Default().
	Ratios ratios.Registry
	// SkipOutput disables writing files.
	SkipOutput bool
}

// Summary describes what each step did.
type Summary struct {
	InputRows         int
	Rows              int
	Firms             int
	Quarters          int
	QuarterFallbacks  int
	CompustatOnly     bool
	LinkedRows        int
	CRSPMatched       int
	MissingGvkey      int
	DuplicatesDropped int
	Ratios            *ratios.Results
	Winsorized        []string
	InfReplaced       int
	Files             []string
	StataDropped      []string
	Duration          time.Duration
}

// Result is the processed panel with its summary.
type Result struct {
	Frame   *frame.Frame
	Summary Summary
}

// MergeAndProcess builds the final firm-quarter panel:
//
//  1. calendar year/quarter from datacqtr, falling back to datadate
//  2. crosswalk load (skipped when crspQuarterly is nil)
//  3. permno per accounting row, then a left join to CRSP on
//     (permno, year, quarter); accounting rows are always kept
//  4. drop rows without gvkey and duplicate (gvkey, datadate) rows, sort
//  5. ratios
//  6. winsorize numeric columns outside the exclusion set
//  7. ±Inf to missing
//  8. reorder columns and write the outputs
//
// The input frames are not modified.
func MergeAndProcess(ctx context.Context, cfg *config.Config, compustat, crspQuarterly *frame.Frame, deps Deps) (*Result, error) {
	if compustat == nil {
		return nil, ErrNoCompustat
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("stage", config.StageMerge))
	registry := deps.Ratios
	if registry == nil {
		registry = ratios.Default()
	}

	start := time.Now()
	sum := Summary{InputRows: compustat.Len()}
	f := compustat.Clone()
	log.Info("starting merge with compustat as the primary dataset",
		slog.Int("rows", f.Len()))

	// 1. Calendar quarter.
	if err := ensureDate(f, "datadate"); err != nil {
		return nil, err
	}
	if !f.Has("datacqtr") {
		log.Warn("datacqtr not found, deriving calendar quarters from datadate")
	}
	fallbacks, err := AddCalendarQuarter(f, "datacqtr", "datadate")
	if err != nil {
		return nil, err
	}
	sum.QuarterFallbacks = fallbacks
	if fallbacks > 0 && f.Has("datacqtr") {
		log.Warn("rows missing datacqtr, using datadate fallback",
			slog.Int("rows", fallbacks))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 2-3. Crosswalk and CRSP.
	if crspQuarterly == nil {
		sum.CompustatOnly = true
		log.Warn("no CRSP data available, proceeding with compustat only")
	} else {
		f, err = mergeCRSP(cfg, f, crspQuarterly, deps.Crosswalk, log, &sum)
		if err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 4. Clean keys.
	f, err = cleanKeys(f, &sum)
	if err != nil {
		return nil, err
	}
	log.Info("cleaned panel keys",
		slog.Int("rows", f.Len()),
		slog.Int("missing_gvkey_dropped", sum.MissingGvkey),
		slog.Int("duplicates_dropped", sum.DuplicatesDropped))

	// 5. Ratios.
	res, err := registry.Evaluate(f)
	if err != nil {
		return nil, fmt.Errorf("derive ratios: %w", err)
	}
	sum.Ratios = res
	log.Info("financial ratios calculated",
		slog.Int("computed", len(res.Computed)),
		slog.Int("skipped", len(res.Skipped)))
	for _, s := range res.Skipped {
		log.Debug("ratio skipped", slog.String("ratio", s.Name), slog.Any("missing", s.Missing))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 6. Winsorize.
	w := cfg.Pipeline.Winsorize
	sum.Winsorized = WinsorizeFrame(f, w.Lower, w.Upper, append(append([]string(nil), WinsorizeExclude...), w.Exclude...))
	log.Info("winsorized numeric variables",
		slog.Int("columns", len(sum.Winsorized)),
		slog.Float64("lower", w.Lower),
		slog.Float64("upper", w.Upper))

	// 7. Non-finite values.
	sum.InfReplaced = ReplaceInfinite(f)
	if sum.InfReplaced > 0 {
		log.Info("replaced infinite values with missing", slog.Int("values", sum.InfReplaced))
	}

	// 8. Order and persist.
	f.Reorder(KeyOrder)
	sum.Rows = f.Len()
	sum.Firms = distinctCount(f, "gvkey")
	sum.Quarters = distinctCount(f, "year_quarter")

	if !deps.SkipOutput {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		written, err := exporter.WriteAll(f, OutputTargets(cfg), log)
		if err != nil {
			return nil, err
		}
		sum.Files = written.Files
		sum.StataDropped = written.StataDropped
	}
	sum.Duration = time.Since(start)

	logSummary(log, f, &sum)
	return &Result{Frame: f, Summary: sum}, nil
}

// OutputTargets returns the final output locations: the binary snapshot in
// the processed directory and the text/statistical copies in their own
// subdirectories.
func OutputTargets(cfg *config.Config) exporter.Targets {
	paths := cfg.ResolvePaths()
	name := cfg.Pipeline.OutputName
	t := exporter.Targets{
		Binary: paths.FinalOutput(name) + config.ExtBinary,
		CSV:    filepath.Join(paths.CSVDir, name+config.ExtCSV),
		Stata:  filepath.Join(paths.StataDir, name+config.ExtStata),
		Label:  name,
	}
	if cfg.Pipeline.ExcelOutput {
		t.Excel = filepath.Join(paths.ExcelDir, name+config.ExtExcel)
	}
	return t
}

func mergeCRSP(cfg *config.Config, f, crspQ *frame.Frame, table *link.Table, log *slog.Logger, sum *Summary) (*frame.Frame, error) {
	if table == nil {
		var err error
		table, err = link.Load(cfg.ResolvePaths().LinkingFile, log)
		if err != nil {
			return nil, err
		}
	}
	linked, err := table.Attach(f, "gvkey", "datadate", "permno")
	if err != nil {
		return nil, fmt.Errorf("attach permno: %w", err)
	}
	sum.LinkedRows = linked
	log.Info("linked compustat rows to CRSP securities",
		slog.Int("linked", linked),
		slog.Float64("pct", pct(linked, f.Len())))

	for _, k := range []string{"permno", "year", "quarter"} {
		if crspQ.Floats(k) == nil {
			return nil, fmt.Errorf("CRSP quarterly data lacks numeric %q", k)
		}
	}
	merged, js, err := f.LeftJoin(crspQ, []string{"permno", "year", "quarter"}, "_crsp")
	if err != nil {
		return nil, fmt.Errorf("merge CRSP: %w", err)
	}
	sum.CRSPMatched = js.Matched
	log.Info("merged CRSP quarterly data",
		slog.Int("matched", js.Matched),
		slog.Int("unmatched", js.Unmatched),
		slog.Float64("pct", pct(js.Matched, merged.Len())))
	return merged, nil
}

func cleanKeys(f *frame.Frame, sum *Summary) (*frame.Frame, error) {
	gv := f.Column("gvkey")
	if gv == nil {
		return nil, fmt.Errorf("compustat data has no gvkey column")
	}
	before := f.Len()
	f = f.Filter(func(i int) bool { return !gv.IsMissing(i) })
	sum.MissingGvkey = before - f.Len()

	sorted, err := f.SortBy("gvkey", "datadate")
	if err != nil {
		return nil, err
	}
	out, dropped, err := sorted.DropDuplicates("gvkey", "datadate")
	if err != nil {
		return nil, err
	}
	sum.DuplicatesDropped = dropped
	return out, nil
}

// WinsorizeFrame clips every float column not excluded (by name or dummy
// prefix) to its [lower, upper] quantiles. It returns the clipped columns.
func WinsorizeFrame(f *frame.Frame, lower, upper float64, exclude []string) []string {
	skip := make(map[string]bool, len(exclude))
	for _, n := range exclude {
		skip[n] = true
	}
	var done []string
	for _, c := range f.Columns() {
		if c.Kind != frame.Float || skip[c.Name] || hasAnyPrefix(c.Name, WinsorizeExcludePrefixes) {
			continue
		}
		if countFinite(c.Floats) == 0 {
			continue
		}
		stats.Winsorize(c.Floats, lower, upper)
		done = append(done, c.Name)
	}
	return done
}

// ReplaceInfinite turns ±Inf into missing in every float column.
func ReplaceInfinite(f *frame.Frame) int {
	n := 0
	for _, c := range f.Columns() {
		if c.Kind == frame.Float {
			n += stats.ReplaceNonFinite(c.Floats)
		}
	}
	return n
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func distinctCount(f *frame.Frame, name string) int {
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

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

var coverageVars = []string{"atq", "niq", "prccq", "cshoq", "seqq", "permno", "prc", "ret_quarterly", "mktcap_crsp", "td", "mktcap", "lev", "roa", "tbq"}

func logSummary(log *slog.Logger, f *frame.Frame, sum *Summary) {
	coverage := make([]any, 0, len(coverageVars))
	for _, v := range coverageVars {
		c := f.Column(v)
		if c == nil {
			continue
		}
		coverage = append(coverage, slog.Float64(v, pct(c.Len()-c.MissingCount(), c.Len())))
	}
	attrs := []any{
		slog.Int("rows", sum.Rows),
		slog.Int("firms", sum.Firms),
		slog.Int("quarters", sum.Quarters),
		slog.Int("columns", f.Width()),
		slog.Bool("compustat_only", sum.CompustatOnly),
		slog.Duration("duration", sum.Duration),
		slog.Group("coverage_pct", coverage...),
	}
	if sum.Firms > 0 {
		attrs = append(attrs, slog.Float64("avg_obs_per_firm", float64(sum.Rows)/float64(sum.Firms)))
	}
	log.Info("final quarterly panel", attrs...)
}
