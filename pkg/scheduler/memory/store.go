// Package memory provides a process-local scheduler.Store for tests and
// single-process development setups. Jobs do not survive a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dukex/journeys/pkg/models"
	"github.com/dukex/journeys/pkg/scheduler"
)

var _ scheduler.Store = (*Store)(nil)

type Store struct {
	mu     sync.RWMutex
	jobs   map[string]*scheduler.Job
	paused bool
}

func New() *Store {
	return &Store{jobs: make(map[string]*scheduler.Job)}
}

func (s *Store) Enqueue(_ context.Context, job *scheduler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *job
	clone.State = scheduler.JobStateScheduled
	s.jobs[job.ID] = &clone

	return nil
}

func (s *Store) Claim(_ context.Context, now time.Time) (*scheduler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *scheduler.Job

	for _, job := range s.jobs {
		if job.State != scheduler.JobStateScheduled || job.RunAt.After(now) {
			continue
		}

		if next == nil || job.RunAt.Before(next.RunAt) {
			next = job
		}
	}

	if next == nil {
		return nil, nil
	}

	next.State = scheduler.JobStateActive
	next.HeartbeatAt = now
	clone := *next

	return &clone, nil
}

func (s *Store) Heartbeat(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return scheduler.ErrJobNotFound
	}

	if job.State == scheduler.JobStateActive {
		job.HeartbeatAt = at
	}

	return nil
}

func (s *Store) ReapStale(_ context.Context, staleBefore, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reaped int64

	for _, job := range s.jobs {
		if job.State != scheduler.JobStateActive || !job.HeartbeatAt.Before(staleBefore) {
			continue
		}

		job.State = scheduler.JobStateScheduled
		job.RunAt = now
		job.HeartbeatAt = time.Time{}
		reaped++
	}

	return reaped, nil
}

func (s *Store) Complete(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(job *scheduler.Job) {
		job.State = scheduler.JobStateCompleted
		job.FinishedAt = at
		job.HeartbeatAt = time.Time{}
	})
}

func (s *Store) Retry(_ context.Context, id string, runAt time.Time, attempts int, lastErr string) error {
	return s.update(id, func(job *scheduler.Job) {
		job.State = scheduler.JobStateScheduled
		job.RunAt = runAt
		job.HeartbeatAt = time.Time{}
		job.Attempts = attempts
		job.LastError = lastErr
	})
}

func (s *Store) Fail(_ context.Context, id string, at time.Time, attempts int, lastErr string) error {
	return s.update(id, func(job *scheduler.Job) {
		job.State = scheduler.JobStateFailed
		job.FinishedAt = at
		job.HeartbeatAt = time.Time{}
		job.Attempts = attempts
		job.LastError = lastErr
	})
}

func (s *Store) update(id string, fn func(job *scheduler.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return scheduler.ErrJobNotFound
	}

	fn(job)

	return nil
}

func (s *Store) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.State != scheduler.JobStateScheduled {
		return scheduler.ErrJobNotFound
	}

	delete(s.jobs, id)

	return nil
}

// Get returns a copy of the job. Used by tests to inspect retries.
func (s *Store) Get(id string) (*scheduler.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, false
	}

	clone := *job

	return &clone, true
}

func (s *Store) Stats(_ context.Context, now time.Time) (models.SchedulerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats models.SchedulerStats

	for _, job := range s.jobs {
		switch job.State {
		case scheduler.JobStateScheduled:
			if job.RunAt.After(now) {
				stats.Delayed++
			} else {
				stats.Waiting++
			}
		case scheduler.JobStateActive:
			stats.Active++
		case scheduler.JobStateCompleted:
			stats.Completed++
		case scheduler.JobStateFailed:
			stats.Failed++
		}
	}

	return stats, nil
}

func (s *Store) Prune(_ context.Context, state scheduler.JobState, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int64

	for id, job := range s.jobs {
		if job.State == state && job.FinishedAt.Before(olderThan) {
			delete(s.jobs, id)
			pruned++
		}
	}

	return pruned, nil
}

func (s *Store) SetPaused(_ context.Context, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paused = paused

	return nil
}

func (s *Store) Paused(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.paused, nil
}

func (s *Store) Close() error { return nil }
