package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/journeys/pkg/models"
	"github.com/dukex/journeys/pkg/otelhelper"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultConcurrency        = 5
	DefaultMaxRetries         = 3
	DefaultPollInterval       = time.Second
	DefaultCleanSchedule      = "@hourly"
	DefaultCompletedRetention = 24 * time.Hour
	DefaultFailedRetention    = 7 * 24 * time.Hour

	// DefaultStaleAfter is how long an active job may go without a heartbeat
	// before another worker takes it over.
	DefaultStaleAfter = 5 * time.Minute
)

var _ Scheduler = (*Durable)(nil)

// Durable persists continuation jobs in a Store and executes them from a
// fixed-size worker pool. Jobs are delivered at least once.
type Durable struct {
	store  Store
	logger *slog.Logger
	tracer trace.Tracer

	concurrency        int
	pollInterval       time.Duration
	maxRetries         int
	backoff            Backoff
	clock              func() time.Time
	cleanSchedule      string
	completedRetention time.Duration
	failedRetention    time.Duration
	staleAfter         time.Duration

	mu      sync.Mutex
	handler JobHandler
	running bool
	closed  bool
	cron    *cron.Cron
	stopCh  chan struct{}
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

type Option func(*Durable)

// WithConcurrency sets the number of worker goroutines. Zero makes the
// process a producer only.
func WithConcurrency(n int) Option {
	return func(d *Durable) { d.concurrency = n }
}

func WithPollInterval(interval time.Duration) Option {
	return func(d *Durable) { d.pollInterval = interval }
}

func WithMaxRetries(n int) Option {
	return func(d *Durable) { d.maxRetries = n }
}

func WithBackoff(b Backoff) Option {
	return func(d *Durable) { d.backoff = b }
}

// WithClock replaces time.Now for due-time and retention computations.
func WithClock(clock func() time.Time) Option {
	return func(d *Durable) { d.clock = clock }
}

// WithCleanSchedule sets the cron spec of the cleanup job. An empty spec
// disables scheduled cleanup.
func WithCleanSchedule(spec string) Option {
	return func(d *Durable) { d.cleanSchedule = spec }
}

func WithRetention(completed, failed time.Duration) Option {
	return func(d *Durable) {
		d.completedRetention = completed
		d.failedRetention = failed
	}
}

// WithStaleAfter sets how long an active job may go without a heartbeat
// before it is requeued. Workers heartbeat three times per period.
func WithStaleAfter(after time.Duration) Option {
	return func(d *Durable) { d.staleAfter = after }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(d *Durable) { d.tracer = tracer }
}

func NewDurable(store Store, logger *slog.Logger, opts ...Option) *Durable {
	d := &Durable{
		store:              store,
		logger:             logger.With("module", "durable_scheduler"),
		tracer:             otelhelper.Tracer("journeys/scheduler"),
		concurrency:        DefaultConcurrency,
		pollInterval:       DefaultPollInterval,
		maxRetries:         DefaultMaxRetries,
		backoff:            NewExponentialBackoff(5*time.Second, 5*time.Minute),
		clock:              time.Now,
		cleanSchedule:      DefaultCleanSchedule,
		completedRetention: DefaultCompletedRetention,
		failedRetention:    DefaultFailedRetention,
		staleAfter:         DefaultStaleAfter,
		stopCh:             make(chan struct{}),
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.staleAfter <= 0 {
		d.staleAfter = DefaultStaleAfter
	}

	return d
}

// Start launches the worker goroutines and the cleanup schedule. It returns immediately.
func (d *Durable) Start(ctx context.Context, handler JobHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running || d.closed {
		return nil
	}

	d.handler = handler
	d.running = true

	if d.cleanSchedule != "" {
		d.cron = cron.New()

		_, err := d.cron.AddFunc(d.cleanSchedule, func() {
			err := d.Clean(context.Background())
			if err != nil {
				d.logger.Error("scheduled cleanup failed", "error", err)
			}
		})
		if err != nil {
			d.running = false

			return fmt.Errorf("invalid clean schedule %q: %w", d.cleanSchedule, err)
		}

		d.cron.Start()
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel

	d.logger.InfoContext(ctx, "durable scheduler starting", "concurrency", d.concurrency)

	for i := range d.concurrency {
		d.wg.Add(1)

		go d.workerLoop(workerCtx, i)
	}

	if d.concurrency > 0 {
		d.wg.Add(1)

		go d.reapLoop(workerCtx)
	}

	return nil
}

func (d *Durable) ScheduleDelayed(ctx context.Context, job models.StepJob, delay time.Duration) (string, error) {
	if delay < 0 {
		delay = 0
	}

	now := d.clock()

	record := &Job{
		ID:        uuid.NewString(),
		Payload:   job,
		State:     JobStateScheduled,
		RunAt:     now.Add(delay),
		CreatedAt: now,
	}

	err := d.store.Enqueue(ctx, record)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	d.logger.DebugContext(ctx, "job scheduled",
		"job_id", record.ID,
		"enrollment_id", job.EnrollmentID,
		"step_index", job.StepIndex,
		"run_at", record.RunAt)

	return record.ID, nil
}

func (d *Durable) ScheduleImmediate(ctx context.Context, job models.StepJob) (string, error) {
	return d.ScheduleDelayed(ctx, job, 0)
}

func (d *Durable) Stats(ctx context.Context) (models.SchedulerStats, error) {
	return d.store.Stats(ctx, d.clock())
}

func (d *Durable) Cancel(ctx context.Context, jobID string) error {
	return d.store.Remove(ctx, jobID)
}

// Pause stops every worker sharing the store from claiming jobs. Running
// jobs finish normally.
func (d *Durable) Pause(ctx context.Context) error {
	return d.store.SetPaused(ctx, true)
}

func (d *Durable) Resume(ctx context.Context) error {
	return d.store.SetPaused(ctx, false)
}

// Clean requeues jobs abandoned by dead workers and prunes completed and
// failed jobs past their retention.
func (d *Durable) Clean(ctx context.Context) error {
	now := d.clock()

	reaped, errReap := d.reapStale(ctx)
	completed, errCompleted := d.store.Prune(ctx, JobStateCompleted, now.Add(-d.completedRetention))
	failed, errFailed := d.store.Prune(ctx, JobStateFailed, now.Add(-d.failedRetention))

	err := errors.Join(errReap, errCompleted, errFailed)
	if err != nil {
		return fmt.Errorf("failed to clean jobs: %w", err)
	}

	d.logger.InfoContext(ctx, "scheduler cleanup finished",
		"stale_requeued", reaped,
		"completed_pruned", completed,
		"failed_pruned", failed)

	return nil
}

func (d *Durable) reapStale(ctx context.Context) (int64, error) {
	now := d.clock()

	reaped, err := d.store.ReapStale(ctx, now.Add(-d.staleAfter), now)
	if err != nil {
		return 0, err
	}

	if reaped > 0 {
		d.logger.WarnContext(ctx, "requeued jobs abandoned by a worker", "jobs", reaped)
	}

	return reaped, nil
}

// reapLoop requeues stale jobs at startup and then every half stale period.
func (d *Durable) reapLoop(ctx context.Context) {
	defer d.wg.Done()

	for {
		_, err := d.reapStale(ctx)
		if err != nil {
			d.logger.ErrorContext(ctx, "failed to requeue stale jobs", "error", err)
		}

		select {
		case <-d.stopCh:
			return
		case <-time.After(d.staleAfter / 2):
		}
	}
}

// heartbeat keeps the claim on jobID alive until ctx is done.
func (d *Durable) heartbeat(ctx context.Context, logger *slog.Logger, jobID string) {
	ticker := time.NewTicker(d.staleAfter / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := d.store.Heartbeat(ctx, jobID, d.clock())
			if err != nil {
				logger.WarnContext(ctx, "failed to record job heartbeat", "error", err)
			}
		}
	}
}

// Close stops the cleanup schedule, waits for running jobs and closes the store.
func (d *Durable) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()

		return nil
	}

	wasRunning := d.running
	d.running = false
	d.closed = true
	d.mu.Unlock()

	if wasRunning {
		if d.cron != nil {
			<-d.cron.Stop().Done()
		}

		close(d.stopCh)

		done := make(chan struct{})

		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			d.logger.InfoContext(ctx, "durable scheduler stopped")
		case <-ctx.Done():
			d.logger.WarnContext(ctx, "durable scheduler shutdown timed out, cancelling running jobs")
			d.cancel()
			<-done
		}

		d.cancel()
	}

	return d.store.Close()
}

func (d *Durable) workerLoop(ctx context.Context, worker int) {
	defer d.wg.Done()

	logger := d.logger.With("worker", worker)

	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		paused, err := d.store.Paused(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "failed to read pause flag", "error", err)
			d.sleep()

			continue
		}

		if paused {
			d.sleep()

			continue
		}

		job, err := d.store.Claim(ctx, d.clock())
		if err != nil {
			logger.ErrorContext(ctx, "failed to claim job", "error", err)
			d.sleep()

			continue
		}

		if job == nil {
			d.sleep()

			continue
		}

		d.execute(ctx, logger, job)
	}
}

func (d *Durable) sleep() {
	select {
	case <-d.stopCh:
	case <-time.After(d.pollInterval):
	}
}

func (d *Durable) execute(ctx context.Context, logger *slog.Logger, job *Job) {
	attempt := job.Attempts + 1

	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "scheduler.run_job",
		attribute.String(otelhelper.JobIDKey, job.ID),
		attribute.String(otelhelper.EnrollmentIDKey, job.Payload.EnrollmentID),
		attribute.Int(otelhelper.StepIndexKey, job.Payload.StepIndex),
		attribute.Int(otelhelper.JobAttemptKey, attempt),
	)
	defer span.End()

	logger = logger.With("job_id", job.ID, "enrollment_id", job.Payload.EnrollmentID, "step_index", job.Payload.StepIndex)

	d.mu.Lock()
	handler := d.handler
	d.mu.Unlock()

	// Finishing writes outlive shutdown cancellation.
	finishCtx := context.WithoutCancel(ctx)

	heartbeatCtx, stopHeartbeat := context.WithCancel(finishCtx)
	go d.heartbeat(heartbeatCtx, logger, job.ID)

	runErr := invoke(ctx, handler, job.Payload)

	stopHeartbeat()

	if runErr == nil {
		err := d.store.Complete(finishCtx, job.ID, d.clock())
		if err != nil {
			logger.ErrorContext(ctx, "failed to mark job completed", "error", err)
		}

		return
	}

	otelhelper.SetError(span, runErr)

	if attempt <= d.maxRetries {
		runAt := d.clock().Add(d.backoff.Delay(attempt))

		logger.WarnContext(ctx, "job failed, retrying", "attempt", attempt, "run_at", runAt, "error", runErr)

		err := d.store.Retry(finishCtx, job.ID, runAt, attempt, runErr.Error())
		if err != nil {
			logger.ErrorContext(ctx, "failed to reschedule job", "error", err)
		}

		return
	}

	logger.ErrorContext(ctx, "job failed permanently", "attempts", attempt, "error", runErr)

	err := d.store.Fail(finishCtx, job.ID, d.clock(), attempt, runErr.Error())
	if err != nil {
		logger.ErrorContext(ctx, "failed to mark job failed", "error", err)
	}
}
