// Package exporter writes frames to disk.
//
// Formats:
//
//	WriteBinary / ReadBinary  gob snapshot, the format read back on cache hits
//	WriteFrameCSV             plain CSV, empty fields for missing values
//	WriteStata                Stata 118 .dta (doubles, %td dates, str#)
//	WriteExcel                .xlsx workbook via excelize
//
// WriteAll produces the standard bundle for a stage. Only binary and CSV
// failures are fatal; the statistical and spreadsheet copies are best effort.
//
// Example usage:
//
//	written, err := exporter.WriteAll(panel, exporter.Targets{
//	    Binary: "data/processed/panel.gob",
//	    CSV:    "data/processed/csv/panel.csv",
//	    Stata:  "data/processed/stata/panel.dta",
//	}, logger)
package exporter
