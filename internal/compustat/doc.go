// Package compustat pulls annual and quarterly fundamentals from WRDS.
//
// The firm universe comes from the configured gvkey list or, when that is
// empty, from the SIC filter applied to the company master table. Requested
// variables are checked against the live schema; missing ones are logged and
// skipped. Results are merged with company metadata (sic, cik), sorted by
// gvkey and datadate, and cached in the raw Compustat directory.
package compustat
