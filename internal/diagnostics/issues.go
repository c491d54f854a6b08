package diagnostics

import (
	"math"

	"wrdspanel/internal/frame"
)

// Issue counts rows affected by a known data problem.
type Issue struct {
	Count int     `json:"count"`
	Pct   float64 `json:"pct"`
	Note  string  `json:"note,omitempty"`
}

// KnownIssues checks for data problems common in Compustat extracts.
// Checks whose columns are absent are skipped. Negative assets are only
// reported when present.
func KnownIssues(f *frame.Frame) map[string]Issue {
	issues := make(map[string]Issue)
	n := f.Len()
	if n == 0 {
		return issues
	}
	pct := func(c int) float64 { return 100 * float64(c) / float64(n) }

	if v := firstFloat(f, "seqq", "seq"); v != nil {
		c := countWhere(v, func(x float64) bool { return x < 0 })
		issues["negative_book_equity"] = Issue{Count: c, Pct: pct(c)}
	}
	if v := firstFloat(f, "cshoq", "csho"); v != nil {
		c := countWhere(v, func(x float64) bool { return math.IsNaN(x) || x == 0 })
		issues["zero_or_missing_shares"] = Issue{Count: c, Pct: pct(c)}
	}
	if col := f.Column("cusip"); col != nil {
		c := col.MissingCount()
		issues["missing_cusip"] = Issue{Count: c, Pct: pct(c)}
	}
	if v := firstFloat(f, "atq", "at"); v != nil {
		if c := countWhere(v, func(x float64) bool { return x < 0 }); c > 0 {
			issues["negative_assets"] = Issue{
				Count: c,
				Pct:   pct(c),
				Note:  "DATA ERROR - investigate these observations",
			}
		}
	}
	return issues
}

func firstFloat(f *frame.Frame, names ...string) []float64 {
	for _, name := range names {
		if v := f.Floats(name); v != nil {
			return v
		}
	}
	return nil
}

func countWhere(values []float64, pred func(float64) bool) int {
	n := 0
	for _, v := range values {
		if pred(v) {
			n++
		}
	}
	return n
}
