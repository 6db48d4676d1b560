// Package services implements the application layer between the transports
// (HTTP handlers, the job queue and the command line) and the simulation
// core.
//
// SimulationService turns a SimulationRequest into a run: it validates the
// request, applies the scenario YAML and the individual overrides on top of
// the configured model, loads the country data, builds the time axis from the
// historical series and executes the simulation with the requested output
// sinks. RunBatch runs several countries in parallel on a bounded errgroup.
//
// HealthService reports liveness, readiness and runtime statistics for the
// server. It depends on small interfaces so it can be wired to the websocket
// hub and job queue without importing them.
package services
