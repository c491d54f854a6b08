package diagnostics

import (
	"fmt"
	"math"
	"sort"

	"wrdspanel/internal/frame"
)

// Panel classifications.
const (
	Balanced       = "balanced"
	MostlyBalanced = "mostly_balanced"
	Unbalanced     = "unbalanced"
)

// Balance ratio thresholds. Both are inclusive lower bounds.
const (
	BalancedThreshold       = 0.95
	MostlyBalancedThreshold = 0.70
)

// DefaultCoverageThreshold flags columns missing more than a quarter of rows.
const DefaultCoverageThreshold = 0.25

// Options tune ValidatePanel.
type Options struct {
	// CoverageThreshold flags columns whose missing fraction exceeds it.
	// Nil means DefaultCoverageThreshold; zero flags any missing value.
	CoverageThreshold *float64
}

// Threshold returns an Options value with the given coverage threshold.
func Threshold(v float64) Options {
	return Options{CoverageThreshold: &v}
}

// Report is the combined result of the panel checks.
type Report struct {
	Unit       string           `json:"unit_id"`
	Time       string           `json:"time_id"`
	Balance    BalanceReport    `json:"balance"`
	Duplicates DuplicateReport  `json:"duplicates"`
	Coverage   CoverageReport   `json:"coverage"`
	Issues     map[string]Issue `json:"known_issues,omitempty"`
}

// BalanceReport compares the observed rows to a fully balanced panel.
type BalanceReport struct {
	Type              string  `json:"type"`
	Units             int     `json:"n_units"`
	Periods           int     `json:"n_periods"`
	Observations      int     `json:"total_obs"`
	Expected          int     `json:"expected_obs"`
	Ratio             float64 `json:"balance_ratio"`
	MinPeriodsPerUnit int     `json:"min_periods_per_unit"`
	MaxPeriodsPerUnit int     `json:"max_periods_per_unit"`
}

// DuplicateKey is a (unit, time) pair seen more than once.
type DuplicateKey struct {
	Unit  string `json:"unit"`
	Time  string `json:"time"`
	Count int    `json:"count"`
}

// DuplicateReport lists repeated primary keys.
type DuplicateReport struct {
	HasDuplicates bool           `json:"has_duplicates"`
	Keys          int            `json:"n_duplicate_keys"`
	ExtraRows     int            `json:"total_duplicate_obs"`
	Duplicates    []DuplicateKey `json:"duplicate_keys,omitempty"`
}

// CoverageReport summarizes missing data.
type CoverageReport struct {
	Threshold       float64            `json:"threshold"`
	Missing         map[string]float64 `json:"missing_fraction"`
	HighMissing     []ColumnMissing    `json:"high_missing_vars"`
	AverageCoverage float64            `json:"avg_coverage"`
	CompleteColumns int                `json:"n_complete_vars"`
	PeriodObsMin    int                `json:"period_obs_min"`
	PeriodObsMax    int                `json:"period_obs_max"`
	PeriodObsMean   float64            `json:"period_obs_mean"`
}

// ColumnMissing is a column and its missing fraction.
type ColumnMissing struct {
	Column   string  `json:"column"`
	Fraction float64 `json:"fraction"`
}

// ValidatePanel runs the balance, duplicate, coverage and known-issue checks
// on f keyed by (unit, time). It does not modify f.
func ValidatePanel(f *frame.Frame, unit, time string, opts Options) (*Report, error) {
	if f == nil {
		return nil, fmt.Errorf("no data")
	}
	u := f.Column(unit)
	if u == nil {
		return nil, fmt.Errorf("unit id %q not found in data", unit)
	}
	t := f.Column(time)
	if t == nil {
		return nil, fmt.Errorf("time id %q not found in data", time)
	}
	threshold := DefaultCoverageThreshold
	if opts.CoverageThreshold != nil {
		threshold = *opts.CoverageThreshold
	}
	if threshold < 0 || threshold >= 1 {
		return nil, fmt.Errorf("coverage threshold %g outside [0, 1)", threshold)
	}

	return &Report{
		Unit:       unit,
		Time:       time,
		Balance:    CheckBalance(u, t),
		Duplicates: CheckDuplicates(u, t),
		Coverage:   Coverage(f, t, threshold),
		Issues:     KnownIssues(f),
	}, nil
}

// Classify maps a balance ratio to a panel type.
func Classify(ratio float64) string {
	switch {
	case ratio >= BalancedThreshold:
		return Balanced
	case ratio >= MostlyBalancedThreshold:
		return MostlyBalanced
	default:
		return Unbalanced
	}
}

// CheckBalance compares the row count to units × periods. Rows with a
// missing unit or time still count as observations.
func CheckBalance(unit, time *frame.Column) BalanceReport {
	periods := make(map[string]bool)
	perUnit := make(map[string]map[string]bool)
	for i := 0; i < unit.Len(); i++ {
		if !time.IsMissing(i) {
			periods[time.Format(i)] = true
		}
		if unit.IsMissing(i) {
			continue
		}
		u := unit.Format(i)
		if perUnit[u] == nil {
			perUnit[u] = make(map[string]bool)
		}
		if !time.IsMissing(i) {
			perUnit[u][time.Format(i)] = true
		}
	}

	r := BalanceReport{
		Units:        len(perUnit),
		Periods:      len(periods),
		Observations: unit.Len(),
	}
	r.Expected = r.Units * r.Periods
	if r.Expected > 0 {
		r.Ratio = float64(r.Observations) / float64(r.Expected)
	}
	r.Type = Classify(r.Ratio)

	first := true
	for _, ps := range perUnit {
		n := len(ps)
		if first || n < r.MinPeriodsPerUnit {
			r.MinPeriodsPerUnit = n
		}
		if first || n > r.MaxPeriodsPerUnit {
			r.MaxPeriodsPerUnit = n
		}
		first = false
	}
	return r
}

// CheckDuplicates finds (unit, time) keys that occur more than once. Keys
// are sorted by unit then time.
func CheckDuplicates(unit, time *frame.Column) DuplicateReport {
	type key struct{ u, t string }
	counts := make(map[key]int)
	for i := 0; i < unit.Len(); i++ {
		if unit.IsMissing(i) || time.IsMissing(i) {
			continue
		}
		counts[key{unit.Format(i), time.Format(i)}]++
	}

	var r DuplicateReport
	for k, n := range counts {
		if n > 1 {
			r.Duplicates = append(r.Duplicates, DuplicateKey{Unit: k.u, Time: k.t, Count: n})
			r.ExtraRows += n - 1
		}
	}
	sort.Slice(r.Duplicates, func(a, b int) bool {
		da, db := r.Duplicates[a], r.Duplicates[b]
		if da.Unit != db.Unit {
			return da.Unit < db.Unit
		}
		return da.Time < db.Time
	})
	r.Keys = len(r.Duplicates)
	r.HasDuplicates = r.Keys > 0
	return r
}

// Coverage computes the missing fraction of every column and the number of
// observations per period.
func Coverage(f *frame.Frame, time *frame.Column, threshold float64) CoverageReport {
	r := CoverageReport{
		Threshold: threshold,
		Missing:   make(map[string]float64, f.Width()),
	}
	n := f.Len()
	if n == 0 || f.Width() == 0 {
		return r
	}

	total := 0.0
	for _, c := range f.Columns() {
		frac := float64(c.MissingCount()) / float64(n)
		r.Missing[c.Name] = frac
		total += frac
		if frac == 0 {
			r.CompleteColumns++
		}
		if frac > threshold {
			r.HighMissing = append(r.HighMissing, ColumnMissing{Column: c.Name, Fraction: frac})
		}
	}
	r.AverageCoverage = 1 - total/float64(f.Width())
	sort.SliceStable(r.HighMissing, func(a, b int) bool {
		return r.HighMissing[a].Fraction > r.HighMissing[b].Fraction
	})

	if time != nil {
		perPeriod := make(map[string]int)
		for i := 0; i < time.Len(); i++ {
			if !time.IsMissing(i) {
				perPeriod[time.Format(i)]++
			}
		}
		if len(perPeriod) > 0 {
			r.PeriodObsMin = math.MaxInt
			sum := 0
			for _, c := range perPeriod {
				sum += c
				if c < r.PeriodObsMin {
					r.PeriodObsMin = c
				}
				if c > r.PeriodObsMax {
					r.PeriodObsMax = c
				}
			}
			r.PeriodObsMean = float64(sum) / float64(len(perPeriod))
		}
	}
	return r
}
