// Package app wires the service together: logger, configuration,
// collaborators, the compiled pipeline graph and the run manager. The CLI
// frontend hands it parsed options; embedding callers can reuse the same
// wiring and drive the run manager directly.
package app
