package domain

// PanelInfo describes the final panel file served by the API.
type PanelInfo struct {
	Path    string `json:"path"`
	Rows    int    `json:"rows"`
	Columns int    `json:"columns"`
	Firms   int    `json:"firms"`
}

// CoverageRow is a variable's non-missing share in the final panel.
type CoverageRow struct {
	Variable   string  `json:"variable"`
	Obs        int     `json:"obs"`
	NonMissing int     `json:"non_missing"`
	Pct        float64 `json:"pct"`
}

// CoverageResponse is the body of the coverage endpoint.
type CoverageResponse struct {
	Panel PanelInfo     `json:"panel"`
	Rows  []CoverageRow `json:"rows"`
}
