// Package http implements the HTTP handlers of the panel API. Handlers
// decode and validate the request, call a service, and render the result
// or an RFC 7807 problem.
//
// Routes, relative to /api/v1:
//
//	POST /pipeline/runs            start a run (202, 409 while one is running)
//	GET  /pipeline/runs            list runs
//	GET  /pipeline/runs/{id}       one run
//	GET  /panel                    describe the saved final panel
//	GET  /panel/diagnostics        validate the panel
//	GET  /panel/coverage           coverage table as JSON or LaTeX
package http
