package config

import "time"

// Application constants
const (
	AppName    = "wrdspanel"
	AppVersion = "1.0.0"
)

// Stage identifiers, in execution order.
const (
	StageCompustat   = "compustat"
	StageCRSP        = "crsp"
	StageMerge       = "merge"
	StageDiagnostics = "diagnostics"
	StagePublish     = "publish"
)

// Cache entry names under the raw directories.
const (
	CompustatAnnualName    = "compustat_annual_raw"
	CompustatQuarterlyName = "compustat_quarterly_raw"
	CompanyInfoName        = "company_info_raw"
	CRSPMonthlyName        = "crsp_identifiers_raw"
	CRSPQuarterlyName      = "crsp_quarterly"
)

// WRDS source tables.
const (
	CompustatLibrary        = "comp"
	CompustatAnnualTable    = "funda"
	CompustatQuarterlyTable = "fundq"
	CompanyTable            = "company"
	CRSPLibrary             = "crsp"
	CRSPMonthlyTable        = "msf"
)

// Compustat standard filters applied to every fundamentals query.
const (
	IndustryFormat = "INDL"
	DataFormat     = "STD"
	PopulationSrc  = "D"
	Consolidation  = "C"
)

// File extensions for the three cache formats.
const (
	ExtBinary = ".gob"
	ExtCSV    = ".csv"
	ExtStata  = ".dta"
	ExtExcel  = ".xlsx"
)

// Network timeouts
const (
	DefaultQueryTimeout = 30 * time.Minute
	HealthCheckTimeout  = 5 * time.Second
)
