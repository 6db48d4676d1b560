package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"covidseir/internal/epidemic"
	apperrors "covidseir/internal/errors"
	"covidseir/internal/infrastructure"
	"covidseir/internal/services"
	ws "covidseir/internal/websocket"
)

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s JobStatus) Finished() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Progress is the latest integration step seen for a running job.
type Progress struct {
	Step int     `json:"step"`
	Time float64 `json:"time"`
	Dt   float64 `json:"dt"`
	Beta float64 `json:"beta"`
	Rt   float64 `json:"rt"`
}

// Job is one asynchronous simulation run.
type Job struct {
	ID          string                     `json:"id"`
	Status      JobStatus                  `json:"status"`
	Request     services.SimulationRequest `json:"request"`
	Progress    Progress                   `json:"progress"`
	Result      *services.SimulationResult `json:"result,omitempty"`
	Error       string                     `json:"error,omitempty"`
	TraceID     string                     `json:"trace_id,omitempty"`
	CreatedAt   time.Time                  `json:"created_at"`
	StartedAt   *time.Time                 `json:"started_at,omitempty"`
	CompletedAt *time.Time                 `json:"completed_at,omitempty"`
}

func (j *Job) clone() *Job {
	c := *j
	return &c
}

// JobStore persists jobs.
type JobStore interface {
	CreateJob(job *Job) error
	GetJob(id string) (*Job, error)
	UpdateJob(job *Job) error
	ListJobs(filter JobFilter) ([]*Job, error)
	// CleanupOldJobs removes finished jobs older than the retention and
	// returns how many were removed.
	CleanupOldJobs(olderThan time.Duration) (int, error)
}

// JobFilter for querying jobs
type JobFilter struct {
	Status  JobStatus
	Country string
	Since   time.Time
	Limit   int
}

// Runner executes simulations.
type Runner interface {
	Plan(ctx context.Context, req services.SimulationRequest) (*services.RunPlan, error)
	RunWithRecorder(ctx context.Context, req services.SimulationRequest, rec epidemic.Recorder) (*services.SimulationResult, error)
}

// Notifier pushes job events to listeners.
type Notifier interface {
	Broadcast(ctx context.Context, msgType string, data interface{})
}

// QueueOptions sizes a JobQueue.
type QueueOptions struct {
	Workers   int
	QueueSize int
	// ProgressEvery is the number of steps between progress events.
	ProgressEvery int
	// Retention is how long finished jobs are kept. Zero keeps them forever.
	Retention       time.Duration
	CleanupInterval time.Duration
}

// JobQueue runs simulation jobs on a fixed pool of workers.
type JobQueue struct {
	mu       sync.Mutex
	jobs     chan string
	opts     QueueOptions
	wg       sync.WaitGroup
	runner   Runner
	store    JobStore
	notifier Notifier
	metrics  *infrastructure.SimulationMetrics
	logger   *slog.Logger
	shutdown chan struct{}
	stopOnce sync.Once
	cancels  map[string]context.CancelFunc
}

// NewJobQueue creates a job queue. notifier and metrics may be nil.
func NewJobQueue(opts QueueOptions, runner Runner, store JobStore, notifier Notifier, metrics *infrastructure.SimulationMetrics, logger *slog.Logger) *JobQueue {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = opts.Workers * 2
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 250
	}
	if opts.Retention > 0 && opts.CleanupInterval <= 0 {
		opts.CleanupInterval = opts.Retention / 4
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &JobQueue{
		jobs:     make(chan string, opts.QueueSize),
		opts:     opts,
		runner:   runner,
		store:    store,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "jobqueue")),
		shutdown: make(chan struct{}),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Start begins processing jobs until ctx is done or Stop is called.
func (q *JobQueue) Start(ctx context.Context) {
	q.logger.Info("starting job queue",
		slog.Int("workers", q.opts.Workers),
		slog.Int("queue_size", q.opts.QueueSize))

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	if q.opts.Retention > 0 {
		q.wg.Add(1)
		go q.janitor(ctx)
	}
}

// Cleanup drops finished jobs older than the retention period.
func (q *JobQueue) Cleanup(ctx context.Context) int {
	if q.opts.Retention <= 0 {
		return 0
	}
	n, err := q.store.CleanupOldJobs(q.opts.Retention)
	if err != nil {
		q.logger.ErrorContext(ctx, "job cleanup failed", slog.String("error", err.Error()))
		return n
	}
	if n > 0 {
		q.logger.InfoContext(ctx, "removed finished jobs",
			slog.Int("removed", n),
			slog.Duration("retention", q.opts.Retention))
	}
	return n
}

func (q *JobQueue) janitor(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.opts.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.shutdown:
			return
		case <-ticker.C:
			q.Cleanup(ctx)
		}
	}
}

// Stop cancels running jobs and waits for the workers to exit.
func (q *JobQueue) Stop(timeout time.Duration) error {
	q.stopOnce.Do(func() {
		q.logger.Info("stopping job queue")
		close(q.shutdown)
		q.mu.Lock()
		for _, cancel := range q.cancels {
			cancel()
		}
		q.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("job queue stopped")
		return nil
	case <-time.After(timeout):
		q.logger.Warn("job queue stop timeout exceeded")
		return fmt.Errorf("timeout waiting for workers to finish")
	}
}

// Enqueue validates req and queues it as a new job.
func (q *JobQueue) Enqueue(ctx context.Context, req services.SimulationRequest) (*Job, error) {
	select {
	case <-q.shutdown:
		return nil, apperrors.New(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "job queue is shutting down")
	default:
	}
	if _, err := q.runner.Plan(ctx, req); err != nil {
		return nil, err
	}

	job := &Job{
		ID:        uuid.New().String(),
		Status:    JobStatusPending,
		Request:   req,
		TraceID:   infrastructure.GetTraceID(ctx),
		CreatedAt: time.Now(),
	}
	if err := q.store.CreateJob(job); err != nil {
		return nil, apperrors.NewStorageError("save job", err)
	}

	select {
	case q.jobs <- job.ID:
	default:
		job.Status = JobStatusFailed
		job.Error = "job queue is full"
		now := time.Now()
		job.CompletedAt = &now
		if err := q.store.UpdateJob(job); err != nil {
			q.logger.ErrorContext(ctx, "failed to update rejected job", slog.String("error", err.Error()))
		}
		return nil, apperrors.New(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "job queue is full")
	}

	q.metrics.RecordJobEnqueued(ctx)
	q.notify(ctx, ws.TypeJobQueued, job)
	q.logger.InfoContext(ctx, "job enqueued",
		slog.String("job_id", job.ID),
		slog.String("country", req.Country))
	return job.clone(), nil
}

// GetJob retrieves a job by ID
func (q *JobQueue) GetJob(id string) (*Job, error) {
	return q.store.GetJob(id)
}

// ListJobs returns jobs matching the filter
func (q *JobQueue) ListJobs(filter JobFilter) ([]*Job, error) {
	return q.store.ListJobs(filter)
}

// CancelJob cancels a pending or running job. A pending job is marked
// cancelled at once; a running job stops at its next cancellation check.
func (q *JobQueue) CancelJob(ctx context.Context, id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case JobStatusPending:
		job.Status = JobStatusCancelled
		now := time.Now()
		job.CompletedAt = &now
		if err := q.store.UpdateJob(job); err != nil {
			return nil, err
		}
		q.notify(ctx, ws.TypeJobCancel, job)
	case JobStatusRunning:
		if cancel, ok := q.cancels[id]; ok {
			cancel()
		}
	default:
		return nil, apperrors.NewConflictError(fmt.Sprintf("job %s cannot be cancelled (status: %s)", id, job.Status))
	}

	q.logger.InfoContext(ctx, "job cancellation requested",
		slog.String("job_id", id),
		slog.String("status", string(job.Status)))
	return job, nil
}

// Stats returns queue statistics
func (q *JobQueue) Stats() map[string]interface{} {
	q.mu.Lock()
	running := len(q.cancels)
	q.mu.Unlock()

	return map[string]interface{}{
		"workers":   q.opts.Workers,
		"queued":    len(q.jobs),
		"queue_cap": cap(q.jobs),
		"running":   running,
	}
}

func (q *JobQueue) worker(ctx context.Context, workerID int) {
	defer q.wg.Done()

	logger := q.logger.With(slog.Int("worker_id", workerID))
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped by context")
			return
		case <-q.shutdown:
			logger.Debug("worker stopped by shutdown")
			return
		case id := <-q.jobs:
			q.process(ctx, id, logger)
		}
	}
}

// begin moves a pending job to running and registers its cancel func. It
// returns nil when the job was cancelled while queued.
func (q *JobQueue) begin(ctx context.Context, id string) (*Job, context.Context, context.CancelFunc, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.store.GetJob(id)
	if err != nil {
		return nil, nil, nil, err
	}
	if job.Status != JobStatusPending {
		return nil, nil, nil, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	if job.TraceID != "" {
		runCtx = infrastructure.WithTraceID(runCtx, job.TraceID)
	}
	now := time.Now()
	job.Status = JobStatusRunning
	job.StartedAt = &now
	if err := q.store.UpdateJob(job); err != nil {
		cancel()
		return nil, nil, nil, err
	}
	q.cancels[id] = cancel
	return job, runCtx, cancel, nil
}

func (q *JobQueue) process(ctx context.Context, id string, logger *slog.Logger) {
	logger = logger.With(slog.String("job_id", id))

	job, runCtx, cancel, err := q.begin(ctx, id)
	if err != nil {
		logger.Error("failed to start job", slog.String("error", err.Error()))
		return
	}
	if job == nil {
		logger.Debug("skipping job that is no longer pending")
		return
	}

	defer func() {
		cancel()
		q.mu.Lock()
		delete(q.cancels, id)
		q.mu.Unlock()

		// Recover from any panics to prevent server crash
		if r := recover(); r != nil {
			logger.ErrorContext(runCtx, "job processing panicked", slog.Any("panic", r))
			q.finish(runCtx, job, nil, fmt.Errorf("job processing panicked: %v", r), logger)
		}
	}()

	logger.InfoContext(runCtx, "processing job started", slog.String("country", job.Request.Country))

	every := q.opts.ProgressEvery
	progress := epidemic.RecorderFunc(func(f epidemic.Frame) error {
		if f.Step%every != 0 {
			return nil
		}
		job.Progress = Progress{Step: f.Step, Time: f.Time, Dt: f.Dt, Beta: f.Beta, Rt: f.Rt}
		if err := q.store.UpdateJob(job); err != nil {
			return err
		}
		q.notify(runCtx, ws.TypeJobProgress, map[string]interface{}{
			"job_id":  job.ID,
			"country": job.Request.Country,
			"step":    f.Step,
			"time":    f.Time,
			"rt":      f.Rt,
		})
		return nil
	})

	res, err := q.runner.RunWithRecorder(runCtx, job.Request, progress)
	q.finish(runCtx, job, res, err, logger)
}

func (q *JobQueue) finish(ctx context.Context, job *Job, res *services.SimulationResult, err error, logger *slog.Logger) {
	now := time.Now()
	job.CompletedAt = &now
	job.Result = res
	if res != nil {
		job.Progress.Step = res.Steps
	}

	event := ws.TypeJobComplete
	switch {
	case err == nil:
		job.Status = JobStatusCompleted
		logger.InfoContext(ctx, "processing job completed")
	case errors.Is(err, context.Canceled):
		job.Status = JobStatusCancelled
		job.Error = err.Error()
		event = ws.TypeJobCancel
		logger.InfoContext(ctx, "job cancelled")
	default:
		job.Status = JobStatusFailed
		job.Error = err.Error()
		event = ws.TypeJobFailed
		logger.ErrorContext(ctx, "job failed", slog.String("error", err.Error()))
	}

	if err := q.store.UpdateJob(job); err != nil {
		logger.ErrorContext(ctx, "failed to update finished job", slog.String("error", err.Error()))
	}

	summary := map[string]interface{}{
		"job_id":  job.ID,
		"country": job.Request.Country,
		"status":  job.Status,
		"error":   job.Error,
	}
	if res != nil {
		summary["termination"] = res.Termination
		summary["steps"] = res.Steps
		summary["summary"] = res.Summary
	}
	q.notify(ctx, event, summary)
}

func (q *JobQueue) notify(ctx context.Context, msgType string, data interface{}) {
	if q.notifier != nil {
		q.notifier.Broadcast(ctx, msgType, data)
	}
}
