package stats

import "math"

// Compound geometrically links periodic returns: ∏(1+r) − 1.
// Missing returns count as zero, so an all-missing input compounds to 0.
func Compound(returns []float64) float64 {
	growth := 1.0
	for _, r := range returns {
		if math.IsNaN(r) {
			continue
		}
		growth *= 1 + r
	}
	return growth - 1
}

// MarketCap returns |price| × shares × multiplier. Negative CRSP prices mark
// bid/ask midpoints, hence the absolute value. Missing inputs yield NaN.
func MarketCap(price, shares, multiplier float64) float64 {
	if math.IsNaN(price) || math.IsNaN(shares) {
		return math.NaN()
	}
	return math.Abs(price) * shares * multiplier
}
