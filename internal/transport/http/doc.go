// Package http implements the HTTP API of the simulation server.
//
// Handlers stay thin: they decode and validate the request, call a service
// interface and render the result. Every error goes through
// errors.ErrorHandler, so clients always receive RFC 7807 problem details
// with the request's trace_id.
//
// Routes:
//
//	GET    /api/health            liveness summary
//	GET    /api/health/ready      readiness of data, output, hub and queue
//	GET    /api/countries         supported countries
//	GET    /api/countries/{name}  profile, age weights and data overview
//	POST   /api/simulations       synchronous run
//	POST   /api/jobs              enqueue an asynchronous run
//	GET    /api/jobs              list jobs (status, country, since, limit)
//	GET    /api/jobs/{id}         job status, progress and result
//	DELETE /api/jobs/{id}         cancel a pending or running job
//	GET    /ws                    job events over a websocket
//	GET    /metrics               Prometheus scrape endpoint
package http
