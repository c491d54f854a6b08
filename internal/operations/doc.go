// Package operations runs the panel pipeline as a sequence of steps.
//
// Core Components:
//
// Manager: executes the registered steps one at a time in dependency order,
// records their state, writes the run manifest after every step and emits a
// span per run and per step.
//
// Step: a single unit of work. The pipeline registers compustat, crsp,
// merge, diagnostics and publish. A failing step aborts the run; the
// remaining steps are marked skipped. A step may skip itself by returning
// ErrSkip from Validate or Execute.
//
// Registry: holds the steps and sorts them topologically, keeping
// registration order between independent steps.
//
// RunState: values passed between steps (the pulled frames and the final
// panel) and the files the run produced.
//
// There are no retries and steps never run concurrently.
package operations
