// Package stats holds the numeric helpers shared by the panel stages:
// quantiles, winsorization, return compounding and outlier rules.
// All functions skip NaN and ±Inf when estimating distribution parameters.
package stats
