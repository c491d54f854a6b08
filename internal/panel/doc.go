// Package panel merges the Compustat and CRSP pulls into the final
// firm-quarter panel, derives ratios, cleans numeric columns and writes the
// outputs.
package panel
