package scheduler

import (
	"context"
	"time"

	"github.com/dukex/journeys/pkg/models"
)

type JobState string

const (
	JobStateScheduled JobState = "scheduled"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Job is a persisted continuation.
type Job struct {
	ID         string
	Payload    models.StepJob
	State      JobState
	Attempts   int
	RunAt      time.Time
	CreatedAt  time.Time
	FinishedAt time.Time
	LastError  string

	// HeartbeatAt is the last time the worker running the job reported it
	// alive. Zero unless the job is active.
	HeartbeatAt time.Time
}

// Store persists jobs for the durable scheduler. Every method must be safe
// for concurrent use by several processes sharing the same backend.
type Store interface {
	Enqueue(ctx context.Context, job *Job) error

	// Claim atomically moves the earliest scheduled job due at now to active
	// with a heartbeat at now. It returns nil when nothing is due.
	Claim(ctx context.Context, now time.Time) (*Job, error)

	// Heartbeat refreshes the heartbeat of an active job. Jobs that are no
	// longer active are left untouched.
	Heartbeat(ctx context.Context, id string, at time.Time) error

	// ReapStale moves active jobs whose heartbeat is older than staleBefore
	// back to scheduled, due at now, and reports how many were moved.
	ReapStale(ctx context.Context, staleBefore, now time.Time) (int64, error)

	Complete(ctx context.Context, id string, at time.Time) error
	Retry(ctx context.Context, id string, runAt time.Time, attempts int, lastErr string) error
	Fail(ctx context.Context, id string, at time.Time, attempts int, lastErr string) error

	// Remove deletes a scheduled job. Active and finished jobs are not
	// removable and report ErrJobNotFound.
	Remove(ctx context.Context, id string) error

	// Stats counts jobs; scheduled jobs due at now count as waiting, the
	// rest as delayed.
	Stats(ctx context.Context, now time.Time) (models.SchedulerStats, error)

	// Prune deletes finished jobs in state that finished before olderThan.
	Prune(ctx context.Context, state JobState, olderThan time.Time) (int64, error)

	SetPaused(ctx context.Context, paused bool) error
	Paused(ctx context.Context) (bool, error)

	Close() error
}
