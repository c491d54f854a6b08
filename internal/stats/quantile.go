package stats

import (
	"math"
	"sort"
)

// Finite returns the finite values of a slice, dropping NaN and ±Inf.
func Finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// SortedFinite returns the finite values in ascending order.
func SortedFinite(values []float64) []float64 {
	out := Finite(values)
	sort.Float64s(out)
	return out
}

// Quantile returns the q-th quantile of the finite values using linear
// interpolation between closest ranks. Returns NaN when there are no finite values.
func Quantile(values []float64, q float64) float64 {
	return QuantileSorted(SortedFinite(values), q)
}

// QuantileSorted is Quantile over an already sorted, finite slice.
func QuantileSorted(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[n-1]
	}

	index := q * float64(n-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}

	// Linear interpolation
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Mean of the finite values, NaN when there are none.
func Mean(values []float64) float64 {
	sum, n := 0.0, 0
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// StdDev is the sample standard deviation of the finite values.
func StdDev(values []float64) float64 {
	fin := Finite(values)
	if len(fin) < 2 {
		return math.NaN()
	}
	mean := Mean(fin)
	ss := 0.0
	for _, v := range fin {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(fin)-1))
}

// Median of the finite values.
func Median(values []float64) float64 {
	return Quantile(values, 0.5)
}
