// Package app wires the services, handlers and middleware of the panel
// API into one HTTP server and manages its lifecycle.
//
// The command line builds the pipeline manager and telemetry providers,
// then hands them to NewApplication:
//
//	a, err := app.NewApplication(cfg, logger, providers, manager)
//	if err != nil {
//	    return err
//	}
//	return a.Run(ctx)
//
// Run serves until ctx is cancelled, then stops accepting requests,
// cancels any pipeline run in progress and waits for it within the
// configured shutdown timeout.
package app
