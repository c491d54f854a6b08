// Package services implements the business logic behind the HTTP API.
//
// PipelineService starts pipeline runs in a background goroutine and
// refuses a second run while one is in progress. PanelService reads the
// saved final panel and serves diagnostics and coverage over it.
// HealthService reports on both.
package services
