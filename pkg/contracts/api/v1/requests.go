// Package api contains the request contracts of the HTTP API, version v1.
package api

// StartRunRequest starts a pipeline run. An empty Steps list runs every step.
type StartRunRequest struct {
	Refresh bool     `json:"refresh"`
	Steps   []string `json:"steps,omitempty" validate:"omitempty,dive,oneof=compustat crsp merge diagnostics publish"`
}

// DiagnosticsQuery selects the panel keys and the missing-data threshold.
// A nil Threshold uses the configured default.
type DiagnosticsQuery struct {
	UnitID    string   `form:"unit_id" validate:"required"`
	TimeID    string   `form:"time_id" validate:"required"`
	Threshold *float64 `form:"threshold" validate:"omitempty,gte=0,lt=1"`
}

// CoverageQuery selects the output format of the coverage table.
type CoverageQuery struct {
	Format  string `form:"format" validate:"omitempty,oneof=json latex"`
	Caption string `form:"caption"`
}
