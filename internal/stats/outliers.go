package stats

import (
	"fmt"
	"math"
)

// OutlierMethod selects the rule used by Outliers.
type OutlierMethod string

const (
	OutlierIQR    OutlierMethod = "iqr"
	OutlierZScore OutlierMethod = "zscore"
)

// Outliers flags values outside the fences of the chosen method.
// IQR uses [Q1 − k·IQR, Q3 + k·IQR]; z-score flags |z| > k.
// Missing values are never flagged.
func Outliers(values []float64, method OutlierMethod, k float64) ([]bool, error) {
	flags := make([]bool, len(values))

	switch method {
	case OutlierIQR:
		sorted := SortedFinite(values)
		if len(sorted) == 0 {
			return flags, nil
		}
		q1 := QuantileSorted(sorted, 0.25)
		q3 := QuantileSorted(sorted, 0.75)
		iqr := q3 - q1
		lo, hi := q1-k*iqr, q3+k*iqr
		for i, v := range values {
			flags[i] = !math.IsNaN(v) && (v < lo || v > hi)
		}
	case OutlierZScore:
		mean := Mean(values)
		sd := StdDev(values)
		if math.IsNaN(sd) || sd == 0 {
			return flags, nil
		}
		for i, v := range values {
			flags[i] = !math.IsNaN(v) && math.Abs((v-mean)/sd) > k
		}
	default:
		return nil, fmt.Errorf("unknown outlier method %q", method)
	}
	return flags, nil
}
