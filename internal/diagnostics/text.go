package diagnostics

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

const (
	sampleDuplicates = 10
	sampleMissing    = 10
)

var rule = strings.Repeat("=", 70)

// WriteText renders r as the plain-text validation report.
func WriteText(w io.Writer, r *Report) error {
	var b strings.Builder
	section := func(title string, first bool) {
		if !first {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s\n%s\n%s\n", rule, title, rule)
	}

	section("PANEL STRUCTURE", true)
	bal := r.Balance
	fmt.Fprintf(&b, "Panel type: %s\n", strings.ToUpper(bal.Type))
	fmt.Fprintf(&b, "Units: %s\n", thousands(bal.Units))
	fmt.Fprintf(&b, "Periods: %s\n", thousands(bal.Periods))
	fmt.Fprintf(&b, "Observations: %s / %s expected\n", thousands(bal.Observations), thousands(bal.Expected))
	fmt.Fprintf(&b, "Balance ratio: %.1f%%\n", 100*bal.Ratio)
	fmt.Fprintf(&b, "Periods per unit: %d to %d\n", bal.MinPeriodsPerUnit, bal.MaxPeriodsPerUnit)

	section("DUPLICATE DETECTION", false)
	dup := r.Duplicates
	if dup.HasDuplicates {
		fmt.Fprintf(&b, "DUPLICATES FOUND: %d unique keys\n", dup.Keys)
		fmt.Fprintf(&b, "Total extra observations: %d\n", dup.ExtraRows)
		fmt.Fprintf(&b, "\nSample duplicate keys (showing up to %d):\n", sampleDuplicates)
		for i, k := range dup.Duplicates {
			if i == sampleDuplicates {
				break
			}
			fmt.Fprintf(&b, "  (%s, %s): %d occurrences\n", k.Unit, k.Time, k.Count)
		}
	} else {
		b.WriteString("No duplicates detected\n")
	}

	section("DATA COVERAGE", false)
	cov := r.Coverage
	fmt.Fprintf(&b, "Observations per period: %s to %s\n", thousands(cov.PeriodObsMin), thousands(cov.PeriodObsMax))
	fmt.Fprintf(&b, "Average: %.0f\n", cov.PeriodObsMean)
	pct := 100 * cov.Threshold
	if len(cov.HighMissing) > 0 {
		fmt.Fprintf(&b, "\nVariables with >%.0f%% missing data:\n", pct)
		for i, m := range cov.HighMissing {
			if i == sampleMissing {
				break
			}
			fmt.Fprintf(&b, "  %s: %.1f%% missing\n", m.Column, 100*m.Fraction)
		}
	} else {
		fmt.Fprintf(&b, "\nNo variables with >%.0f%% missing data\n", pct)
	}

	section("KNOWN DATA ISSUES", false)
	if len(r.Issues) == 0 {
		b.WriteString("No known issues detected\n")
	}
	names := make([]string, 0, len(r.Issues))
	for name := range r.Issues {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		is := r.Issues[name]
		fmt.Fprintf(&b, "\n%s:\n", title(name))
		fmt.Fprintf(&b, "  Count: %s (%.1f%%)\n", thousands(is.Count), is.Pct)
		if is.Note != "" {
			fmt.Fprintf(&b, "  %s\n", is.Note)
		}
	}
	fmt.Fprintf(&b, "\n%s\n", rule)

	_, err := io.WriteString(w, b.String())
	return err
}

// title turns negative_book_equity into Negative Book Equity.
func title(name string) string {
	words := strings.Split(name, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
