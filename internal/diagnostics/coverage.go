package diagnostics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"wrdspanel/internal/frame"
)

// coverageSkip are calendar keys left out of the coverage table.
var coverageSkip = map[string]bool{
	"year":     true,
	"quarter":  true,
	"datacqtr": true,
	"date":     true,
}

// CoverageRow is one variable's line in the coverage table.
type CoverageRow struct {
	Variable   string  `json:"variable"`
	Obs        int     `json:"obs"`
	NonMissing int     `json:"non_missing"`
	Pct        float64 `json:"pct"`
}

// CoverageTable reports the non-missing share of each variable, best
// covered first.
func CoverageTable(f *frame.Frame) []CoverageRow {
	n := f.Len()
	rows := make([]CoverageRow, 0, f.Width())
	for _, c := range f.Columns() {
		if coverageSkip[c.Name] {
			continue
		}
		present := n - c.MissingCount()
		pct := 0.0
		if n > 0 {
			pct = 100 * float64(present) / float64(n)
		}
		rows = append(rows, CoverageRow{Variable: c.Name, Obs: n, NonMissing: present, Pct: pct})
	}
	sort.SliceStable(rows, func(a, b int) bool { return rows[a].Pct > rows[b].Pct })
	return rows
}

// FormatLaTeX renders the coverage table as a booktabs table.
func FormatLaTeX(rows []CoverageRow, caption string) string {
	var b strings.Builder
	b.WriteString("\\begin{table}[htbp]\n")
	b.WriteString("\\centering\n")
	fmt.Fprintf(&b, "\\caption{%s}\n", caption)
	b.WriteString("\\label{tab:coverage}\n")
	b.WriteString("\\begin{tabular}{lrrc}\n")
	b.WriteString("\\toprule\n")
	b.WriteString("Variable & N & Non-Missing & Coverage (\\%) \\\\\n")
	b.WriteString("\\midrule\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%s & %s & %s & %.1f\\%% \\\\\n",
			strings.ReplaceAll(r.Variable, "_", "\\_"),
			thousands(r.Obs), thousands(r.NonMissing), r.Pct)
	}
	b.WriteString("\\bottomrule\n")
	b.WriteString("\\end{tabular}\n")
	b.WriteString("\\end{table}\n")
	return b.String()
}

// thousands formats n with comma separators.
func thousands(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var out []byte
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
