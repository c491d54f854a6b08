package ratios

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wrdspanel/internal/frame"
)

var nan = math.NaN()

func panelFrame() *frame.Frame {
	return frame.MustNew(
		frame.NewString("gvkey", []string{"001000", "001000", "002000"}),
		frame.NewFloat("atq", []float64{100, 200, 50}),
		frame.NewFloat("dlttq", []float64{30, nan, 10}),
		frame.NewFloat("dlcq", []float64{10, 20, nan}),
		frame.NewFloat("seqq", []float64{50, 0, nan}),
		frame.NewFloat("ceqq", []float64{45, 90, nan}),
		frame.NewFloat("cshoq", []float64{10, 10, 5}),
		frame.NewFloat("prccq", []float64{8, 9, 4}),
		frame.NewFloat("niq", []float64{5, 6, -1}),
		frame.NewFloat("cheq", []float64{4, 6, 2}),
		frame.NewFloat("oibdpq", []float64{12, nan, 0}),
		frame.NewFloat("txtq", []float64{2, 1, 1}),
	)
}

func TestEvaluateDefault(t *testing.T) {
	f := panelFrame()
	res, err := Default().Evaluate(f)
	require.NoError(t, err)

	tests := []struct {
		name string
		want []float64
	}{
		{"td", []float64{40, 20, 10}},
		{"mktcap", []float64{80, 90, 20}},
		{"ev", []float64{116, 104, 28}},
		{"debt_assets_ratio", []float64{0.4, 0.1, 0.2}},
		{"lev", []float64{0.4, 0.1, 0.2}},
		{"roa", []float64{0.05, 0.03, -0.02}},
		{"eps", []float64{0.5, 0.6, -0.2}},
		{"tbq", []float64{(100 - 50 + 80) / 100.0, (200 + 90) / 200.0, (50 + 20) / 50.0}},
		{"lag_atq", []float64{nan, 100, nan}},
		{"cash", []float64{nan, 0.06, nan}},
		{"bm", []float64{45.0 / 80, 1, 0}},
		{"tax", []float64{2.0 / 12, 1, nan}},
		{"mtb", []float64{80.0 / 50, nan, 20}},
		{"ln_at", []float64{math.Log(100), math.Log(200), math.Log(50)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.Floats(tt.name)
			require.NotNil(t, got, "ratio %s missing", tt.name)
			for i := range tt.want {
				if math.IsNaN(tt.want[i]) {
					assert.True(t, math.IsNaN(got[i]), "row %d: want NaN, got %v", i, got[i])
					continue
				}
				assert.InDelta(t, tt.want[i], got[i], 1e-9, "row %d", i)
			}
		})
	}

	// Division by a zero book equity is left to produce ±Inf for the later
	// clean-up step.
	assert.True(t, math.IsInf(f.Floats("debt_equity_ratio")[1], 1))

	assert.True(t, res.Has("td"))
	assert.False(t, res.Has("ffopsq"))
	assert.False(t, f.Has("RDI"))

	skipped := map[string][]string{}
	for _, s := range res.Skipped {
		skipped[s.Name] = s.Missing
	}
	assert.Equal(t, []string{"ffoq"}, skipped["ffopsq"])
	assert.Contains(t, skipped, "RDI")
	assert.NotContains(t, skipped, "td", "satisfied alternative is not reported")
}

func TestEvaluateAlternatives(t *testing.T) {
	f := frame.MustNew(
		frame.NewFloat("debt_at", []float64{0.5}),
		frame.NewFloat("assets", []float64{200}),
		frame.NewFloat("ni", []float64{10}),
	)
	res, err := Default().Evaluate(f)
	require.NoError(t, err)

	assert.Equal(t, []float64{100}, f.Floats("td"))
	assert.Equal(t, []float64{0.5}, f.Floats("debt_assets_ratio"))
	assert.Equal(t, []float64{0.05}, f.Floats("roa"))
	assert.InDelta(t, math.Log(200), f.Floats("ln_at")[0], 1e-12)
	assert.True(t, res.Has("lev"))
}

func TestEvaluateRDI(t *testing.T) {
	f := frame.MustNew(
		frame.NewFloat("atq", []float64{100, 100}),
		frame.NewFloat("xrdq", []float64{5, nan}),
	)
	_, err := Default().Evaluate(f)
	require.NoError(t, err)

	assert.Equal(t, []float64{0.05, 0}, f.Floats("RDI"))
	assert.Equal(t, 0.05, f.Floats("RDI_no_fill")[0])
	assert.True(t, math.IsNaN(f.Floats("RDI_no_fill")[1]))
}

func TestSupplementaryRatios(t *testing.T) {
	f := frame.MustNew(
		frame.NewFloat("atq", []float64{100}),
		frame.NewFloat("cshoq", []float64{10}),
		frame.NewFloat("prccq", []float64{-8}),
		frame.NewFloat("dlttq", []float64{30}),
		frame.NewFloat("dlcq", []float64{10}),
		frame.NewFloat("cheq", []float64{4}),
		frame.NewFloat("seqq", []float64{40}),
		frame.NewFloat("niq", []float64{5}),
		frame.NewFloat("dpq", []float64{3}),
	)
	_, err := Default().Evaluate(f)
	require.NoError(t, err)

	assert.InDelta(t, (80+40-4)/100.0, f.Floats("tobins_q_kz")[0], 1e-12)
	assert.InDelta(t, 40/80.0, f.Floats("lev_market")[0], 1e-12)
	assert.InDelta(t, 40/80.0, f.Floats("book_to_market")[0], 1e-12)
	assert.Equal(t, 8.0, f.Floats("ffo_simple")[0])
	assert.InDelta(t, (8-4)/4.0, f.Floats("nav_discount")[0], 1e-12)
}

func TestSelect(t *testing.T) {
	reg, err := Default().Select("ev")
	require.NoError(t, err)
	assert.Equal(t, []string{"td", "mktcap", "ev"}, reg.Names())

	f := panelFrame()
	res, err := reg.Evaluate(f)
	require.NoError(t, err)
	assert.Equal(t, []string{"td", "mktcap", "ev"}, res.Computed)
	assert.False(t, f.Has("roa"))

	_, err = Default().Select("nope")
	assert.Error(t, err)
}

func TestNamesAreUnique(t *testing.T) {
	names := Default().Names()
	seen := map[string]bool{}
	for _, n := range names {
		assert.False(t, seen[n], n)
		seen[n] = true
	}
	for _, want := range []string{"td", "mktcap", "ev", "ffopsq", "affoq", "affo_atq", "ffo_atq", "oibdp_atq",
		"invested_capital_q", "debt_equity_ratio", "debt_assets_ratio", "lev", "roa", "roe", "eps",
		"dividend_per_share", "dividend_payout_ratio", "pe_ratio", "ln_at", "roa_oibdp", "RDI_no_fill",
		"RDI", "tbq", "CAPEX", "lag_atq", "cash", "CF", "bm", "tax", "mtb"} {
		assert.True(t, seen[want], want)
	}
}
