package config

import "strings"

var compustatBaseVars = []string{
	// Identifiers and dates
	"gvkey", "cusip", "datadate", "conm", "datacqtr", "datafqtr", "fqtr", "fyearq", "rdq",
	// Industry
	"sic", "sich", "gsector", "ggroup", "gsubind", "naics",
	// Balance sheet
	"at", "lt", "che", "dlc", "dltt", "seq", "ceq", "csho", "dt", "teq", "pstk",
	"mib", "mibt", "icapt", "ret", "ip", "ppent",
	// Income statement
	"dp", "ni", "oibdp", "xint", "txt", "xrd", "ffo", "ib", "revt", "sale", "cogs",
	"xsga", "oiadp", "pi", "sret", "wda", "gdwlia", "mii", "dvp",
	// REIT income items
	"irent", "iire", "iore", "xore", "xdvre", "xivre", "xrent",
	"ebit", "ebitda",
	// Market
	"prcc", "mkvalt", "cshfd", "prcc_f",
	// Cash flow and payout
	"capx", "oancf", "dvpsp", "dvpsx", "dvc",
}

var crspBaseVars = []string{"cusip", "permno", "permco", "date", "prc", "ret", "retx", "vol", "shrout"}

// Variables that keep their name in the quarterly file.
var quarterlyIdentifiers = map[string]bool{
	"gvkey": true, "cusip": true, "datadate": true, "conm": true,
	"datacqtr": true, "datafqtr": true, "fqtr": true, "fyearq": true, "rdq": true,
}

// Quarterly names that do not follow the "+q" rule.
var quarterlySpecialCases = map[string]string{
	"capx":  "capxy",
	"dvpsp": "dvpspq",
}

// Variables that only exist in the annual file.
var annualOnlyVars = map[string]bool{
	"prcc_f": true,
}

// Variables that only exist in the quarterly file.
var quarterlyOnlyVars = map[string]bool{
	"prcc": true, "dvpsp": true, "datacqtr": true, "datafqtr": true,
	"fqtr": true, "fyearq": true, "rdq": true,
}

// CompustatVars returns the default Compustat base variable list, de-duplicated in order.
func CompustatVars() []string {
	return dedupe(compustatBaseVars)
}

// CRSPVars returns the default CRSP monthly variable list.
func CRSPVars() []string {
	return append([]string(nil), crspBaseVars...)
}

// AddQuarterlySuffix maps base names to their quarterly-file names.
// Identifiers pass through, special cases are remapped, annual-only variables
// are dropped and everything else gets a "q" suffix.
func AddQuarterlySuffix(vars []string) []string {
	out := make([]string, 0, len(vars))
	for _, v := range vars {
		lv := strings.ToLower(v)
		switch {
		case quarterlyIdentifiers[lv]:
			out = append(out, v)
		case quarterlySpecialCases[lv] != "":
			out = append(out, quarterlySpecialCases[lv])
		case annualOnlyVars[lv]:
			continue
		default:
			out = append(out, v+"q")
		}
	}
	return out
}

// StripQuarterlySuffix reverses AddQuarterlySuffix for a single quarterly name.
func StripQuarterlySuffix(name string) string {
	lv := strings.ToLower(name)
	if quarterlyIdentifiers[lv] {
		return name
	}
	for base, q := range quarterlySpecialCases {
		if lv == q {
			return base
		}
	}
	return strings.TrimSuffix(name, "q")
}

// AnnualCompatibleVars removes quarterly-only variables (case-insensitive).
func AnnualCompatibleVars(vars []string) []string {
	out := make([]string, 0, len(vars))
	for _, v := range vars {
		if quarterlyOnlyVars[strings.ToLower(v)] {
			continue
		}
		out = append(out, v)
	}
	return out
}

func dedupe(vars []string) []string {
	seen := make(map[string]bool, len(vars))
	out := make([]string, 0, len(vars))
	for _, v := range vars {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
