package diagnostics

import (
	"fmt"

	"wrdspanel/internal/frame"
	"wrdspanel/internal/stats"
)

// DetectOutliers flags the rows of variable lying outside the fences of
// method. k is the IQR multiplier or the z-score cutoff.
func DetectOutliers(f *frame.Frame, variable string, method stats.OutlierMethod, k float64) ([]bool, error) {
	v := f.Floats(variable)
	if v == nil {
		return nil, fmt.Errorf("variable %q not found or not numeric", variable)
	}
	return stats.Outliers(v, method, k)
}

// WinsorizeVariable returns a copy of variable clipped to its [lower, upper]
// quantiles, together with the bounds used. f is not modified.
func WinsorizeVariable(f *frame.Frame, variable string, lower, upper float64) ([]float64, stats.Bounds, error) {
	if lower < 0 || upper > 1 || lower >= upper {
		return nil, stats.Bounds{}, fmt.Errorf("invalid quantiles %v/%v", lower, upper)
	}
	v := f.Floats(variable)
	if v == nil {
		return nil, stats.Bounds{}, fmt.Errorf("variable %q not found or not numeric", variable)
	}
	out := append([]float64(nil), v...)
	b := stats.Winsorize(out, lower, upper)
	return out, b, nil
}
