// Package crsp pulls monthly security data from the CRSP monthly stock file
// and aggregates it to calendar quarters.
//
// Securities are selected by matching the first eight characters of their
// CUSIP against the CUSIPs found in the Compustat pull. Levels take the last
// observation in the quarter, volume is averaged and returns are compounded.
package crsp
