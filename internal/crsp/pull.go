package crsp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"wrdspanel/internal/cache"
	"wrdspanel/internal/config"
	"wrdspanel/internal/exporter"
	"wrdspanel/internal/frame"
	"wrdspanel/internal/stats"
	"wrdspanel/internal/wrds"
)

var (
	// ErrNoCompustat is returned when no Compustat frame was passed and no
	// cached Compustat pull exists to derive the CUSIP filter from.
	ErrNoCompustat = errors.New("no compustat data available: run the compustat pull first")

	// ErrNoCUSIPs is returned when the Compustat frame carries no usable CUSIPs.
	ErrNoCUSIPs = errors.New("compustat data has no cusip values")
)

// Deps are the collaborators of a CRSP pull.
type Deps struct {
	Dial   wrds.Dialer
	Cache  *cache.Store
	Logger *slog.Logger
}

// CompoundReturns links monthly returns into a period return.
func CompoundReturns(returns []float64) float64 {
	return stats.Compound(returns)
}

// MarketCap computes market capitalization from a CRSP price and shares
// outstanding in thousands.
func MarketCap(prc, shrout float64) float64 {
	return stats.MarketCap(prc, shrout, SharesMultiplier)
}

// Pull returns quarterly CRSP security data for the securities whose CUSIP
// prefix appears in the Compustat frame. When compustat is nil the cached
// Compustat quarterly pull is used instead.
//
// The monthly rows are cached as crsp_identifiers_raw and the aggregated
// quarters as crsp_quarterly; both are keyed on the window, the variable list
// and the CUSIP set.
func Pull(ctx context.Context, cfg *config.Config, deps Deps, compustat *frame.Frame) (*frame.Frame, error) {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("stage", config.StageCRSP))
	if deps.Cache == nil {
		deps.Cache = cache.NewStore(cfg.Pipeline.Refresh, log)
	}
	paths := cfg.ResolvePaths()

	if compustat == nil {
		cached, err := loadCompustat(paths)
		if err != nil {
			log.Error("no compustat data available for the CRSP filter",
				slog.String("path", compustatCachePath(paths)),
				slog.String("error", err.Error()))
			return nil, ErrNoCompustat
		}
		compustat = cached
	}

	prefixLen := cfg.Pipeline.CUSIPPrefixLength
	if prefixLen <= 0 {
		prefixLen = 8
	}
	cusips := CUSIPPrefixes(compustat, prefixLen)
	if len(cusips) == 0 {
		return nil, ErrNoCUSIPs
	}

	vars := cfg.Pipeline.CRSPVars
	if len(vars) == 0 {
		vars = config.CRSPVars()
	}
	params := map[string]any{
		"start_date":    cfg.Pipeline.StartDate,
		"end_date":      cfg.Pipeline.EndDate,
		"vars":          vars,
		"cusip_count":   len(cusips),
		"cusip_digest":  digest(cusips),
		"prefix_length": prefixLen,
	}
	monthlyEntry := cache.Entry{
		Dir:  paths.CRSPDir,
		Name: config.CRSPMonthlyName,
		Key:  cache.Key{Stage: "crsp_monthly", SchemaVersion: cfg.Pipeline.SchemaVersion, Params: params},
	}
	quarterlyEntry := cache.Entry{
		Dir:  paths.CRSPDir,
		Name: config.CRSPQuarterlyName,
		Key:  cache.Key{Stage: "crsp_quarterly", SchemaVersion: cfg.Pipeline.SchemaVersion, Params: params},
	}

	if q, ok := deps.Cache.Load(quarterlyEntry); ok {
		return q, nil
	}

	start := time.Now()
	monthly, ok := deps.Cache.Load(monthlyEntry)
	if !ok {
		var err error
		monthly, err = queryMonthly(ctx, cfg, deps.Dial, log, vars, cusips, prefixLen)
		if err != nil {
			return nil, err
		}
		if _, err := deps.Cache.Save(monthlyEntry, monthly); err != nil {
			return nil, fmt.Errorf("save monthly CRSP data: %w", err)
		}
	}

	quarterly, err := AggregateQuarterly(monthly)
	if err != nil {
		return nil, fmt.Errorf("aggregate CRSP quarters: %w", err)
	}
	if _, err := deps.Cache.Save(quarterlyEntry, quarterly); err != nil {
		return nil, fmt.Errorf("save quarterly CRSP data: %w", err)
	}

	log.Info("crsp pull complete",
		slog.Int("monthly_rows", monthly.Len()),
		slog.Int("quarterly_rows", quarterly.Len()),
		slog.Duration("duration", time.Since(start)))
	return quarterly, nil
}

func queryMonthly(ctx context.Context, cfg *config.Config, dial wrds.Dialer, log *slog.Logger, vars, cusips []string, prefixLen int) (*frame.Frame, error) {
	conn, err := dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to WRDS: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Warn("failed to close WRDS connection", slog.String("error", err.Error()))
		}
	}()

	fields, err := conn.TableFields(ctx, config.CRSPLibrary, config.CRSPMonthlyTable)
	if err != nil {
		return nil, err
	}
	cols, dropped := wrds.FilterAvailable(vars, fields)
	if len(dropped) > 0 {
		log.Warn("requested CRSP columns not available, skipping", slog.Any("columns", dropped))
	}
	for _, req := range []string{"permno", "date", "cusip"} {
		if !contains(cols, req) {
			return nil, fmt.Errorf("%s.%s query needs column %q", config.CRSPLibrary, config.CRSPMonthlyTable, req)
		}
	}

	log.Info("downloading CRSP monthly data",
		slog.Int("cusips", len(cusips)),
		slog.Int("columns", len(cols)))

	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE date BETWEEN $1 AND $2
		AND SUBSTR(cusip, 1, %d) = ANY($3)
		ORDER BY permno, date`,
		wrds.SelectList("", cols),
		wrds.Table(config.CRSPLibrary, config.CRSPMonthlyTable),
		prefixLen)

	monthly, err := conn.Query(ctx, query, cfg.Pipeline.StartDate, cfg.Pipeline.EndDate, wrds.Array(cusips))
	if err != nil {
		return nil, err
	}
	if err := AddCalendarQuarter(monthly, "date"); err != nil {
		return nil, err
	}
	log.Info("downloaded CRSP monthly data", slog.Int("rows", monthly.Len()))
	return monthly, nil
}

// CUSIPPrefixes returns the distinct, sorted, non-missing CUSIPs of f cut to
// n characters. Shorter CUSIPs are kept whole.
func CUSIPPrefixes(f *frame.Frame, n int) []string {
	c := f.Column("cusip")
	if c == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			continue
		}
		v := strings.TrimSpace(c.Format(i))
		if len(v) > n {
			v = v[:n]
		}
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func loadCompustat(paths *config.Paths) (*frame.Frame, error) {
	path := compustatCachePath(paths)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return exporter.ReadBinary(path)
}

func compustatCachePath(paths *config.Paths) string {
	e := cache.Entry{Dir: paths.CompustatDir, Name: config.CompustatQuarterlyName}
	return e.Path(config.ExtBinary)
}

func digest(values []string) string {
	sum := sha256.Sum256([]byte(strings.Join(values, ",")))
	return hex.EncodeToString(sum[:])
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
