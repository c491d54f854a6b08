// Package link reads the CRSP/Compustat linking table and resolves a firm
// (gvkey) to a single security (permno) on a given report date.
package link
