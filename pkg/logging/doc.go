// Package logging provides a structured logging system for satchel built on
// Go's standard slog package.
//
// All log entries carry a subsystem identifier so that output from the
// different stages of a build (Config, Tools, Process, Scaffold, Pipeline,
// and the individual backends) can be filtered and categorized.
//
// Usage:
//
//	logging.Init(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Pipeline", "Starting compile stage for %s", app.AppName)
//	logging.Error("Tools", err, "Failed to acquire %s", spec.Name)
//
// The verbosity level is controlled by the --verbosity flag and the
// SATCHEL_VERBOSITY environment variable; see ParseLevel.
package logging
