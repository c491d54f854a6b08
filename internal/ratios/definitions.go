package ratios

import (
	"math"
)

// Default returns the quarterly panel ratios in dependency order.
func Default() Registry {
	return Registry{
		{
			Name:        "td",
			Description: "total debt, long-term plus current (missing parts as 0)",
			Requires:    []string{"dlttq", "dlcq"},
			Compute: func(in Inputs) []float64 {
				return add(in.Filled("dlttq", 0), in.Filled("dlcq", 0))
			},
		},
		{
			Name:     "td",
			Requires: []string{"debt_at", "assets"},
			Compute: func(in Inputs) []float64 {
				return mul(in.Col("debt_at"), in.Col("assets"))
			},
		},
		{
			Name:        "mktcap",
			Description: "Compustat market capitalization",
			Requires:    []string{"prccq", "cshoq"},
			Compute: func(in Inputs) []float64 {
				return mul(in.Col("prccq"), in.Col("cshoq"))
			},
		},
		{
			Name:     "mktcap",
			Requires: []string{"prc", "shares"},
			Compute: func(in Inputs) []float64 {
				return mul(in.Col("prc"), in.Col("shares"))
			},
		},
		{
			Name:        "ev",
			Description: "enterprise value: mktcap + td + preferred + minority interest - cash",
			Requires:    []string{"mktcap", "td"},
			Compute: func(in Inputs) []float64 {
				ev := add(in.Col("mktcap"), in.Col("td"))
				ev = add(ev, in.Filled("pstkq", 0))
				ev = add(ev, in.Filled("mibq", 0))
				return sub(ev, in.Filled("cheq", 0))
			},
		},
		{
			Name:     "ffopsq",
			Requires: []string{"ffoq", "cshoq"},
			Compute:  func(in Inputs) []float64 { return div(in.Col("ffoq"), in.Col("cshoq")) },
		},
		{
			Name:        "affoq",
			Description: "AFFO proxy: FFO less capital expenditure",
			Requires:    []string{"ffoq", "capxy"},
			Compute: func(in Inputs) []float64 {
				return sub(in.Col("ffoq"), in.Filled("capxy", 0))
			},
		},
		{
			Name:     "affo_atq",
			Requires: []string{"affoq", "atq"},
			Compute:  func(in Inputs) []float64 { return div(in.Col("affoq"), in.Col("atq")) },
		},
		{
			Name:     "ffo_atq",
			Requires: []string{"ffoq", "atq"},
			Compute:  func(in Inputs) []float64 { return div(in.Col("ffoq"), in.Col("atq")) },
		},
		{
			Name:        "oibdp_atq",
			Description: "NOI proxy over assets",
			Requires:    []string{"oibdpq", "atq"},
			Compute:     func(in Inputs) []float64 { return div(in.Col("oibdpq"), in.Col("atq")) },
		},
		{
			Name:     "invested_capital_q",
			Requires: []string{"dlttq", "dlcq", "ceqq"},
			Compute: func(in Inputs) []float64 {
				ic := add(in.Filled("dlttq", 0), in.Filled("dlcq", 0))
				ic = add(ic, in.Filled("pstkq", 0))
				ic = add(ic, in.Filled("mibq", 0))
				return add(ic, in.Filled("ceqq", 0))
			},
		},
		{
			Name:     "debt_equity_ratio",
			Requires: []string{"td", "seqq"},
			Compute:  func(in Inputs) []float64 { return div(in.Col("td"), in.Col("seqq")) },
		},
		{
			Name:     "debt_assets_ratio",
			Requires: []string{"td", "atq"},
			Compute:  func(in Inputs) []float64 { return div(in.Col("td"), in.Col("atq")) },
		},
		{
			Name:     "debt_assets_ratio",
			Requires: []string{"td", "assets"},
			Compute:  func(in Inputs) []float64 { return div(in.Col("td"), in.Col("assets")) },
		},
		{
			Name:        "lev",
			Description: "alias of debt_assets_ratio",
			Requires:    []string{"debt_assets_ratio"},
			Compute:     func(in Inputs) []float64 { return in.Filled("debt_assets_ratio", math.NaN()) },
		},
		{
			Name:     "roa",
			Requires: []string{"niq", "atq"},
			Compute:  func(in Inputs) []float64 { return div(in.Col("niq"), in.Col("atq")) },
		},
		{
			Name:     "roa",
			Requires: []string{"ni", "assets"},
			Compute:  func(in Inputs) []float64 { return div(in.Col("ni"), in.Col("assets")) },
		},
		{
			Name:     "roe",
			Requires: []string{"niq", "seqq"},
			Compute:  func(in Inputs) []float64 { return div(in.Col("niq"), in.Col("seqq")) },
		},
		{
			Name:     "eps",
			Requires: []string{"niq", "cshoq"},
			Compute:  func(in Inputs) []float64 { return div(in.Col("niq"), in.Col("cshoq")) },
		},
		{
			Name:     "dividend_per_share",
			Requires: []string{"dvpspq"},
			Compute:  func(in Inputs) []float64 { return in.Filled("dvpspq", math.NaN()) },
		},
		{
			Name:     "dividend_payout_ratio",
			Requires: []string{"dividend_per_share", "eps"},
			Compute:  func(in Inputs) []float64 { return div(in.Col("dividend_per_share"), in.Col("eps")) },
		},
		{
			Name:     "pe_ratio",
			Requires: []string{"prccq", "eps"},
			Compute:  func(in Inputs) []float64 { return div(in.Col("prccq"), in.Col("eps")) },
		},
		{
			Name:     "ln_at",
			Requires: []string{"atq"},
			Compute:  func(in Inputs) []float64 { return apply(in.Col("atq"), math.Log) },
		},
		{
			Name:     "ln_at",
			Requires: []string{"assets"},
			Compute:  func(in Inputs) []float64 { return apply(in.Col("assets"), math.Log) },
		},
		{
			Name:     "roa_oibdp",
			Requires: []string{"oibdpq", "atq"},
			Compute:  func(in Inputs) []float64 { return div(in.Filled("oibdpq", 0), in.Col("atq")) },
		},
		{
			Name:        "RDI_no_fill",
			Description: "R&D intensity, missing R&D left missing",
			Requires:    []string{"xrdq", "atq"},
			Compute:     func(in Inputs) []float64 { return div(in.Col("xrdq"), in.Col("atq")) },
		},
		{
			Name:        "RDI",
			Description: "R&D intensity, missing treated as 0",
			Requires:    []string{"xrdq", "atq"},
			Compute: func(in Inputs) []float64 {
				return fillNaN(div(in.Col("xrdq"), in.Col("atq")), 0)
			},
		},
		{
			Name:        "tbq",
			Description: "Tobin's Q: (assets - book equity + market cap) / assets",
			Requires:    []string{"atq", "mktcap", "seqq"},
			Compute: func(in Inputs) []float64 {
				num := add(sub(in.Col("atq"), in.Filled("seqq", 0)), in.Filled("mktcap", 0))
				return div(num, in.Col("atq"))
			},
		},
		{
			Name:     "tbq",
			Requires: []string{"atq", "mktcap"},
			Compute:  func(in Inputs) []float64 { return div(in.Col("mktcap"), in.Col("atq")) },
		},
		{
			Name:     "CAPEX",
			Requires: []string{"capxy", "atq"},
			Compute:  func(in Inputs) []float64 { return div(in.Col("capxy"), in.Col("atq")) },
		},
		{
			Name:        "lag_atq",
			Description: "previous quarter's assets within the firm",
			Requires:    []string{"cheq", "atq"},
			Compute:     func(in Inputs) []float64 { return laggedWithinFirm(in, "atq") },
		},
		{
			Name:     "cash",
			Requires: []string{"cheq", "lag_atq"},
			Compute:  func(in Inputs) []float64 { return div(in.Col("cheq"), in.Col("lag_atq")) },
		},
		{
			Name:        "CF",
			Description: "cash flow: (oibdp - interest - taxes - capex) / assets",
			Requires:    []string{"oibdpq", "atq"},
			Compute: func(in Inputs) []float64 {
				cf := sub(in.Col("oibdpq"), in.Filled("xintq", 0))
				cf = sub(cf, in.Filled("txtq", 0))
				cf = sub(cf, in.Filled("capxy", 0))
				return div(cf, in.Col("atq"))
			},
		},
		{
			Name:     "bm",
			Requires: []string{"mktcap", "ceqq"},
			Compute: func(in Inputs) []float64 {
				return div(in.Filled("ceqq", 0), apply(in.Col("mktcap"), nz))
			},
		},
		{
			Name:     "bm",
			Requires: []string{"mktcap", "book_equity"},
			Compute: func(in Inputs) []float64 {
				return div(in.Filled("book_equity", 0), apply(in.Col("mktcap"), nz))
			},
		},
		{
			Name:     "tax",
			Requires: []string{"txtq", "oibdpq"},
			Compute: func(in Inputs) []float64 {
				return div(in.Filled("txtq", 0), apply(in.Filled("oibdpq", 1), nz))
			},
		},
		{
			Name:     "mtb",
			Requires: []string{"mktcap", "seqq"},
			Compute: func(in Inputs) []float64 {
				return div(in.Col("mktcap"), apply(in.Filled("seqq", 1), nz))
			},
		},
		{
			Name:        "tobins_q_kz",
			Description: "Kaplan-Zingales Q: (|price|*shares + debt - cash) / assets",
			Requires:    []string{"atq", "cshoq", "prccq", "dlttq", "dlcq", "cheq"},
			Compute: func(in Inputs) []float64 {
				mv := add(marketEquity(in), add(in.Filled("dlttq", 0), in.Filled("dlcq", 0)))
				return div(sub(mv, in.Filled("cheq", 0)), in.Col("atq"))
			},
		},
		{
			Name:        "lev_market",
			Description: "total debt over market equity",
			Requires:    []string{"dlttq", "dlcq", "prccq", "cshoq"},
			Compute: func(in Inputs) []float64 {
				return div(add(in.Filled("dlttq", 0), in.Filled("dlcq", 0)), marketEquity(in))
			},
		},
		{
			Name:        "book_to_market",
			Description: "book equity over market equity",
			Requires:    []string{"seqq", "prccq", "cshoq"},
			Compute:     func(in Inputs) []float64 { return div(in.Col("seqq"), marketEquity(in)) },
		},
		{
			Name:        "ffo_simple",
			Description: "FFO approximation: net income plus depreciation",
			Requires:    []string{"niq", "dpq"},
			Compute:     func(in Inputs) []float64 { return add(in.Col("niq"), in.Col("dpq")) },
		},
		{
			Name:        "nav_discount",
			Description: "price premium over book value per share",
			Requires:    []string{"seqq", "cshoq", "prccq"},
			Compute: func(in Inputs) []float64 {
				nav := div(in.Col("seqq"), in.Col("cshoq"))
				return div(sub(apply(in.Col("prccq"), math.Abs), nav), nav)
			},
		},
	}
}

func marketEquity(in Inputs) []float64 {
	return mul(apply(in.Col("prccq"), math.Abs), in.Col("cshoq"))
}

// laggedWithinFirm shifts a column down one row inside each gvkey run. The
// frame must already be sorted by gvkey and date.
func laggedWithinFirm(in Inputs, name string) []float64 {
	src := in.Col(name)
	out := make([]float64, len(src))
	gvkey := in.Frame().Column("gvkey")
	for i := range out {
		if i == 0 || (gvkey != nil && gvkey.Format(i) != gvkey.Format(i-1)) {
			out[i] = math.NaN()
			continue
		}
		out[i] = src[i-1]
	}
	return out
}

func zip(a, b []float64, op func(x, y float64) float64) []float64 {
	out := make([]float64, len(a))
	for i := range out {
		out[i] = op(a[i], b[i])
	}
	return out
}

func add(a, b []float64) []float64 { return zip(a, b, func(x, y float64) float64 { return x + y }) }
func sub(a, b []float64) []float64 { return zip(a, b, func(x, y float64) float64 { return x - y }) }
func mul(a, b []float64) []float64 { return zip(a, b, func(x, y float64) float64 { return x * y }) }
func div(a, b []float64) []float64 { return zip(a, b, func(x, y float64) float64 { return x / y }) }

func apply(a []float64, fn func(float64) float64) []float64 {
	out := make([]float64, len(a))
	for i, v := range a {
		out[i] = fn(v)
	}
	return out
}

func fillNaN(a []float64, v float64) []float64 {
	for i := range a {
		if math.IsNaN(a[i]) {
			a[i] = v
		}
	}
	return a
}
