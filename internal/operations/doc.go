// Package operations runs simulations asynchronously.
//
// A JobQueue owns a fixed pool of workers reading job IDs from a bounded
// channel. Enqueue plans the request first so malformed requests fail
// synchronously, stores the job as pending and hands it to a worker. The
// worker moves it to running, streams progress every ProgressEvery steps
// through the Notifier (the websocket hub in the server) and records the
// final SimulationResult.
//
// Jobs are cancelled through CancelJob: a pending job is marked cancelled
// and skipped when dequeued, a running job has its context cancelled and
// stops at the integrator's next cancellation check. Stop cancels every
// running job and waits for the workers.
//
// MemoryJobStore keeps jobs in memory and hands out copies, so callers never
// share a *Job with a worker.
package operations
