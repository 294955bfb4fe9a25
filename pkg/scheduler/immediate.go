package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukex/journeys/pkg/models"
)

var _ Scheduler = (*Immediate)(nil)

type trampolineKey struct{}

// trampoline holds the continuations scheduled while a chain is running.
type trampoline struct {
	queue []models.StepJob
}

// Immediate runs continuations synchronously and ignores delays. Nothing
// survives a restart. A continuation scheduled from inside a running handler
// is queued on the chain's trampoline and runs after the handler returns, so
// a chain of any length runs within the first ScheduleDelayed call with a
// constant stack depth.
type Immediate struct {
	logger *slog.Logger

	mu      sync.RWMutex
	handler JobHandler

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

func NewImmediate(logger *slog.Logger) *Immediate {
	return &Immediate{logger: logger.With("module", "immediate_scheduler")}
}

func (s *Immediate) Start(_ context.Context, handler JobHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handler = handler

	return nil
}

func (s *Immediate) ScheduleDelayed(ctx context.Context, job models.StepJob, delay time.Duration) (string, error) {
	if delay > 0 {
		s.logger.DebugContext(ctx, "running delayed job immediately",
			"enrollment_id", job.EnrollmentID,
			"step_index", job.StepIndex,
			"delay", delay)
	}

	return "", s.run(ctx, job)
}

func (s *Immediate) ScheduleImmediate(ctx context.Context, job models.StepJob) (string, error) {
	return "", s.run(ctx, job)
}

func (s *Immediate) run(ctx context.Context, job models.StepJob) error {
	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()

	if handler == nil {
		return ErrNotStarted
	}

	if t, ok := ctx.Value(trampolineKey{}).(*trampoline); ok {
		t.queue = append(t.queue, job)

		return nil
	}

	t := &trampoline{queue: []models.StepJob{job}}
	chainCtx := context.WithValue(ctx, trampolineKey{}, t)

	for len(t.queue) > 0 {
		next := t.queue[0]
		t.queue = t.queue[1:]

		s.active.Add(1)
		err := invoke(chainCtx, handler, next)
		s.active.Add(-1)

		if err != nil {
			s.failed.Add(1)
			s.logger.ErrorContext(ctx, "immediate job failed",
				"enrollment_id", next.EnrollmentID,
				"step_index", next.StepIndex,
				"error", err)

			continue
		}

		s.completed.Add(1)
	}

	return nil
}

func (s *Immediate) Stats(_ context.Context) (models.SchedulerStats, error) {
	return models.SchedulerStats{
		Active:    s.active.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
	}, nil
}

// Cancel always fails: immediate jobs have already run when scheduling returns.
func (s *Immediate) Cancel(_ context.Context, jobID string) error {
	return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
}

func (s *Immediate) Pause(_ context.Context) error {
	return ErrNotSupported
}

func (s *Immediate) Resume(_ context.Context) error {
	return ErrNotSupported
}

func (s *Immediate) Clean(_ context.Context) error {
	return nil
}

func (s *Immediate) Close(_ context.Context) error {
	return nil
}

// invoke calls handler, converting a panic into an error.
func invoke(ctx context.Context, handler JobHandler, job models.StepJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()

	return handler(ctx, job)
}
