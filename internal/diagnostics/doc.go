// Package diagnostics checks a firm-quarter panel for balance, repeated keys,
// missing data and known Compustat data problems, and renders the results as
// text, JSON or a LaTeX coverage table.
package diagnostics
