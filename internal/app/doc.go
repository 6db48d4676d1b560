// Package app wires the simulation server together and manages its
// lifecycle.
//
// New builds, in order: telemetry providers and simulation metrics, the
// dataset loader and SimulationService, the websocket hub, the job queue
// (with the hub as its event sink), the health service, and the chi router
// with its middleware chain. Start binds the listener and starts the hub and
// the job workers; Stop drains HTTP requests, cancels running jobs,
// disconnects websocket clients and flushes telemetry.
//
// The usual entry point is:
//
//	a, err := app.NewApplication(configFile)
//	if err != nil {
//	    return err
//	}
//	return a.Run(ctx)
package app
