// Package scheduler resumes enrollments after delay steps. The Durable
// scheduler persists continuation jobs in a Store and runs them from a worker
// pool; the Immediate scheduler is the degraded mode used when no broker is
// configured and runs continuations synchronously, ignoring the delay.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/dukex/journeys/pkg/models"
)

var (
	// ErrJobNotFound is returned when a job does not exist or is no longer waiting.
	ErrJobNotFound = errors.New("job not found")

	// ErrNotStarted is returned when a job must run but Start was never called.
	ErrNotStarted = errors.New("scheduler not started")

	// ErrNotSupported is returned by operations the degraded scheduler cannot honor.
	ErrNotSupported = errors.New("operation not supported by the immediate scheduler")
)

// JobHandler runs a continuation. A returned error makes the durable
// scheduler retry the job.
type JobHandler func(ctx context.Context, job models.StepJob) error

type Scheduler interface {
	// Start registers the handler and starts consuming jobs. Producer-only
	// processes still call Start so that cleanup is scheduled.
	Start(ctx context.Context, handler JobHandler) error

	// ScheduleDelayed enqueues job to run after delay. The immediate scheduler
	// runs it right away and returns an empty id.
	ScheduleDelayed(ctx context.Context, job models.StepJob, delay time.Duration) (string, error)
	ScheduleImmediate(ctx context.Context, job models.StepJob) (string, error)

	Stats(ctx context.Context) (models.SchedulerStats, error)
	Cancel(ctx context.Context, jobID string) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Clean(ctx context.Context) error
	Close(ctx context.Context) error
}

// IsJobNotFound checks if an error indicates a job was not found.
func IsJobNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}
