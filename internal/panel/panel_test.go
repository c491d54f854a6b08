package panel

import (
	"context"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wrdspanel/internal/config"
	"wrdspanel/internal/frame"
	"wrdspanel/internal/link"
)

var nan = math.NaN()

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func d(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Pipeline.OutputName = "panel_test"
	return cfg
}

func compustatFrame() *frame.Frame {
	return frame.MustNew(
		frame.NewString("gvkey", []string{"001000", "001000", "001000", "002000", ""}),
		frame.NewTime("datadate", []time.Time{d(2020, 3, 31), d(2020, 6, 30), d(2020, 3, 31), d(2020, 9, 30), d(2020, 3, 31)}),
		frame.NewString("datacqtr", []string{"2020Q1", "2020Q2", "2020Q1", "", "2020Q1"}),
		frame.NewString("cusip", []string{"11111111X", "11111111X", "11111111X", "22222222X", ""}),
		frame.NewFloat("atq", []float64{100, 110, 999, 50, 1}),
		frame.NewFloat("niq", []float64{5, 6, 7, -1, 0}),
		frame.NewFloat("cshoq", []float64{10, 10, 10, 5, 1}),
		frame.NewFloat("prccq", []float64{8, 9, 9, 4, 1}),
		frame.NewFloat("dlttq", []float64{30, 30, 30, 10, 0}),
		frame.NewFloat("dlcq", []float64{10, 10, 10, 0, 0}),
		frame.NewFloat("seqq", []float64{50, 55, 55, 0, 1}),
	)
}

func crspFrame() *frame.Frame {
	return frame.MustNew(
		frame.NewFloat("permno", []float64{10001, 10001, 20001}),
		frame.NewFloat("year", []float64{2020, 2020, 2020}),
		frame.NewFloat("quarter", []float64{1, 2, 3}),
		frame.NewString("cusip", []string{"11111111", "11111111", "22222222"}),
		frame.NewFloat("permco", []float64{500, 500, 600}),
		frame.NewString("year_quarter", []string{"2020Q1", "2020Q2", "2020Q3"}),
		frame.NewFloat("prc", []float64{8.5, 9.5, 4}),
		frame.NewFloat("ret_quarterly", []float64{0.1, 0.05, 0}),
		frame.NewFloat("mktcap_crsp", []float64{85000, 95000, 20000}),
	)
}

func crosswalk(t *testing.T) *link.Table {
	t.Helper()
	table, err := link.FromFrame(frame.MustNew(
		frame.NewString("gvkey", []string{"001000", "002000"}),
		frame.NewFloat("LPERMNO", []float64{10001, 20001}),
		frame.NewString("LINKDT", []string{"19900101", "20210101"}),
		frame.NewString("LINKENDDT", []string{"E", "E"}),
	))
	require.NoError(t, err)
	return table
}

func TestMergeAndProcess(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.ExcelOutput = true
	input := compustatFrame()

	res, err := MergeAndProcess(context.Background(), cfg, input, crspFrame(), Deps{
		Logger:    quietLogger(),
		Crosswalk: crosswalk(t),
	})
	require.NoError(t, err)
	f := res.Frame
	sum := res.Summary

	// Two firms, three firm-quarters after dropping the duplicate and the
	// row without gvkey.
	require.Equal(t, 3, f.Len())
	assert.Equal(t, 2, sum.Firms)
	assert.Equal(t, 3, sum.Quarters)
	assert.Equal(t, 1, sum.MissingGvkey)
	assert.Equal(t, 1, sum.DuplicatesDropped)
	assert.Equal(t, 1, sum.QuarterFallbacks)
	assert.Equal(t, []string{"001000", "001000", "002000"}, f.Strings("gvkey"))
	assert.Equal(t, []string{"2020Q1", "2020Q2", "2020Q3"}, f.Strings("year_quarter"))
	assert.Equal(t, []float64{20201, 20202, 20203}, f.Floats("year_quarter_numeric"))

	// The 2020 row of 002000 predates its link and keeps missing market data.
	// Join counts include the duplicate row dropped afterwards.
	assert.Equal(t, 3, sum.LinkedRows)
	assert.Equal(t, 3, sum.CRSPMatched)
	permno := f.Floats("permno")
	assert.Equal(t, 10001.0, permno[0])
	assert.True(t, math.IsNaN(permno[2]))
	ret := f.Floats("ret_quarterly")
	assert.InDelta(t, 0.0995, ret[0], 1e-12, "clipped to the 99th percentile")
	assert.InDelta(t, 0.0505, ret[1], 1e-12)
	assert.True(t, math.IsNaN(ret[2]))
	assert.True(t, math.IsNaN(f.Floats("prc")[2]))
	assert.Equal(t, "11111111", f.Strings("cusip_crsp")[0])

	// First occurrence of the duplicate survives, then winsorized at 1%/99%:
	// sorted atq is 50, 100, 110.
	atq := f.Floats("atq")
	assert.InDelta(t, 100, atq[0], 1e-9)
	assert.InDelta(t, 109.8, atq[1], 1e-9)
	assert.InDelta(t, 51, atq[2], 1e-9)

	// Ratios were derived and infinities cleaned.
	assert.True(t, sum.Ratios.Has("td"))
	assert.True(t, f.Has("lev"))
	assert.True(t, math.IsNaN(f.Floats("debt_equity_ratio")[2]))
	assert.GreaterOrEqual(t, sum.InfReplaced, 1)
	for _, c := range f.Columns() {
		if c.Kind != frame.Float {
			continue
		}
		for _, v := range c.Floats {
			assert.False(t, math.IsInf(v, 0), c.Name)
		}
	}

	// Identifiers and calendar keys are never clipped.
	assert.NotContains(t, sum.Winsorized, "permno")
	assert.NotContains(t, sum.Winsorized, "year_quarter_numeric")
	assert.Contains(t, sum.Winsorized, "atq")

	assert.Equal(t, []string{"gvkey", "cusip", "permno", "permco", "datadate"}, f.Names()[:5])

	targets := OutputTargets(cfg)
	for _, p := range []string{targets.Binary, targets.CSV, targets.Stata, targets.Excel} {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}
	assert.Len(t, sum.Files, 4)

	// Inputs are untouched.
	assert.Equal(t, 5, input.Len())
	assert.False(t, input.Has("year"))
}

func TestMergeAndProcessAccountingPrimary(t *testing.T) {
	cfg := testConfig(t)
	accounting := frame.MustNew(
		frame.NewString("gvkey", []string{"001000", "001000", "002000"}),
		frame.NewTime("datadate", []time.Time{d(2020, 3, 31), d(2020, 6, 30), d(2020, 3, 31)}),
		frame.NewString("datacqtr", []string{"2020Q1", "2020Q2", "2020Q1"}),
		frame.NewString("cusip", []string{"11111111X", "11111111X", "22222222X"}),
		frame.NewFloat("atq", []float64{100, 110, 50}),
	)
	// Market data exists for both firms in both quarters.
	market := frame.MustNew(
		frame.NewFloat("permno", []float64{10001, 10001, 20001, 20001}),
		frame.NewFloat("year", []float64{2020, 2020, 2020, 2020}),
		frame.NewFloat("quarter", []float64{1, 2, 1, 2}),
		frame.NewFloat("permco", []float64{500, 500, 600, 600}),
		frame.NewFloat("prc", []float64{8.5, 9.5, 4, 4.5}),
		frame.NewFloat("ret_quarterly", []float64{0.1, 0.05, -0.02, 0.03}),
		frame.NewFloat("mktcap_crsp", []float64{85000, 95000, 20000, 22500}),
	)
	table, err := link.FromFrame(frame.MustNew(
		frame.NewString("gvkey", []string{"001000", "002000"}),
		frame.NewFloat("LPERMNO", []float64{10001, 20001}),
		frame.NewString("LINKDT", []string{"19900101", "19900101"}),
		frame.NewString("LINKENDDT", []string{"E", "E"}),
	))
	require.NoError(t, err)

	res, err := MergeAndProcess(context.Background(), cfg, accounting, market, Deps{
		Logger:     quietLogger(),
		Crosswalk:  table,
		SkipOutput: true,
	})
	require.NoError(t, err)
	f := res.Frame

	// One row per accounting observation; the quarter 002000 lacks in
	// Compustat is not filled in from market data.
	require.Equal(t, 3, f.Len())
	assert.Equal(t, []string{"001000", "001000", "002000"}, f.Strings("gvkey"))
	assert.Equal(t, []string{"2020Q1", "2020Q2", "2020Q1"}, f.Strings("year_quarter"))
	assert.Equal(t, 3, res.Summary.CRSPMatched)

	for _, name := range []string{"permno", "permco", "prc", "ret_quarterly", "mktcap_crsp"} {
		for i, v := range f.Floats(name) {
			assert.False(t, math.IsNaN(v), "%s row %d", name, i)
		}
	}
	assert.Equal(t, []float64{10001, 10001, 20001}, f.Floats("permno"))
}

func TestMergeAndProcessCompustatOnly(t *testing.T) {
	cfg := testConfig(t)
	res, err := MergeAndProcess(context.Background(), cfg, compustatFrame(), nil, Deps{Logger: quietLogger(), SkipOutput: true})
	require.NoError(t, err)

	assert.True(t, res.Summary.CompustatOnly)
	assert.Equal(t, 3, res.Frame.Len())
	assert.False(t, res.Frame.Has("permno"))
	assert.Empty(t, res.Summary.Files)
}

func TestMergeAndProcessErrors(t *testing.T) {
	cfg := testConfig(t)

	_, err := MergeAndProcess(context.Background(), cfg, nil, nil, Deps{Logger: quietLogger()})
	assert.ErrorIs(t, err, ErrNoCompustat)

	_, err = MergeAndProcess(context.Background(), cfg, compustatFrame(), crspFrame(), Deps{Logger: quietLogger()})
	assert.ErrorIs(t, err, link.ErrCrosswalkNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = MergeAndProcess(ctx, cfg, compustatFrame(), nil, Deps{Logger: quietLogger()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseCalendarQuarter(t *testing.T) {
	tests := []struct {
		in      string
		year    int
		quarter int
		ok      bool
	}{
		{"1979Q4", 1979, 4, true},
		{" 2020q1 ", 2020, 1, true},
		{"2020Q5", 0, 0, false},
		{"Q1", 0, 0, false},
		{"2020Q", 0, 0, false},
		{"", 0, 0, false},
		{"abcdQ1", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			y, q, ok := ParseCalendarQuarter(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.year, y)
			assert.Equal(t, tt.quarter, q)
		})
	}
}

func TestAddCalendarQuarterFallback(t *testing.T) {
	// datacqtr absent: every row uses the report date.
	f := frame.MustNew(frame.NewTime("datadate", []time.Time{d(2019, 11, 30), {}}))
	n, err := AddCalendarQuarter(f, "datacqtr", "datadate")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"2019Q4", ""}, f.Strings("year_quarter"))
	assert.True(t, math.IsNaN(f.Floats("year")[1]))
}

func TestWinsorizeFrameExclusions(t *testing.T) {
	f := frame.MustNew(
		frame.NewFloat("gvkey_num", []float64{1, 2, 3, 100}),
		frame.NewFloat("psub_office", []float64{0, 0, 1, 1}),
		frame.NewFloat("sic", []float64{6798, 6512, 6798, 6500}),
		frame.NewFloat("empty", []float64{nan, nan, nan, nan}),
		frame.NewString("name", []string{"a", "b", "c", "d"}),
	)
	done := WinsorizeFrame(f, 0.25, 0.75, []string{"gvkey_num", "sic"})
	assert.Empty(t, done)
	assert.Equal(t, []float64{1, 2, 3, 100}, f.Floats("gvkey_num"))
}
