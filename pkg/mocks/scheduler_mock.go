package mocks

import (
	"context"
	"time"

	"github.com/dukex/journeys/pkg/models"
	"github.com/dukex/journeys/pkg/scheduler"
	"github.com/stretchr/testify/mock"
)

// MockScheduler is a mock implementation of scheduler.Scheduler interface.
type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) Start(ctx context.Context, handler scheduler.JobHandler) error {
	args := m.Called(ctx, handler)

	return args.Error(0)
}

func (m *MockScheduler) ScheduleDelayed(ctx context.Context, job models.StepJob, delay time.Duration) (string, error) {
	args := m.Called(ctx, job, delay)

	return args.String(0), args.Error(1)
}

func (m *MockScheduler) ScheduleImmediate(ctx context.Context, job models.StepJob) (string, error) {
	args := m.Called(ctx, job)

	return args.String(0), args.Error(1)
}

func (m *MockScheduler) Stats(ctx context.Context) (models.SchedulerStats, error) {
	args := m.Called(ctx)

	return args.Get(0).(models.SchedulerStats), args.Error(1)
}

func (m *MockScheduler) Cancel(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)

	return args.Error(0)
}

func (m *MockScheduler) Pause(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockScheduler) Resume(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockScheduler) Clean(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockScheduler) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
