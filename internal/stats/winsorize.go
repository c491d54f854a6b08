package stats

import "math"

// Bounds are the clipping limits produced by Winsorize.
type Bounds struct {
	Lower float64
	Upper float64
}

// Valid reports whether both bounds are finite numbers.
func (b Bounds) Valid() bool {
	return !math.IsNaN(b.Lower) && !math.IsNaN(b.Upper)
}

// WinsorizationBounds returns the lower and upper quantiles of the finite values.
func WinsorizationBounds(values []float64, lower, upper float64) Bounds {
	sorted := SortedFinite(values)
	return Bounds{
		Lower: QuantileSorted(sorted, lower),
		Upper: QuantileSorted(sorted, upper),
	}
}

// Winsorize clips values in place to the [lower, upper] quantiles computed over
// the finite values. NaN and ±Inf entries are left untouched. A column without
// finite values is returned unchanged with invalid bounds.
func Winsorize(values []float64, lower, upper float64) Bounds {
	b := WinsorizationBounds(values, lower, upper)
	if !b.Valid() {
		return b
	}
	Clip(values, b)
	return b
}

// Clip limits every finite value to the bounds, in place.
func Clip(values []float64, b Bounds) {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if v < b.Lower {
			values[i] = b.Lower
		} else if v > b.Upper {
			values[i] = b.Upper
		}
	}
}

// ReplaceNonFinite turns ±Inf into NaN in place and returns how many were replaced.
func ReplaceNonFinite(values []float64) int {
	n := 0
	for i, v := range values {
		if math.IsInf(v, 0) {
			values[i] = math.NaN()
			n++
		}
	}
	return n
}
