// Package workflow implements the journey engine: the trigger dispatcher,
// the enrollment manager and the step executor, wired together by Engine.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/journeys/pkg/condition"
	"github.com/dukex/journeys/pkg/mail"
	"github.com/dukex/journeys/pkg/models"
	"github.com/dukex/journeys/pkg/persistence"
	"github.com/dukex/journeys/pkg/scheduler"
)

// Engine is the entry point used by the surrounding platform.
type Engine struct {
	persistence persistence.Persistence
	scheduler   scheduler.Scheduler
	manager     *EnrollmentManager
	executor    *Executor
	dispatcher  *Dispatcher
	logger      *slog.Logger
}

type EngineOption func(*engineConfig)

type engineConfig struct {
	clock func() time.Time
}

// WithClock replaces time.Now for enrollment timestamps.
func WithClock(clock func() time.Time) EngineOption {
	return func(c *engineConfig) { c.clock = clock }
}

func NewEngine(
	p persistence.Persistence,
	sched scheduler.Scheduler,
	mailQueue mail.Queue,
	logger *slog.Logger,
	opts ...EngineOption,
) *Engine {
	cfg := engineConfig{clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	manager := NewEnrollmentManager(p.EnrollmentRepository(), cfg.clock, logger)
	evaluator := condition.NewEvaluator(p.ContactRepository(), logger)
	executor := NewExecutor(p.WorkflowRepository(), p.ContactRepository(), manager, sched, mailQueue, evaluator, logger)
	manager.firstStep = executor.ExecuteStep

	if _, degraded := sched.(*scheduler.Immediate); !degraded {
		manager.requeue = func(ctx context.Context, job models.StepJob) error {
			_, err := sched.ScheduleImmediate(ctx, job)

			return err
		}
	}

	return &Engine{
		persistence: p,
		scheduler:   sched,
		manager:     manager,
		executor:    executor,
		dispatcher:  NewDispatcher(p.WorkflowRepository(), manager, logger),
		logger:      logger.With("module", "engine"),
	}
}

// Start hands the executor to the scheduler so continuation jobs resume
// enrollments.
func (e *Engine) Start(ctx context.Context) error {
	return e.scheduler.Start(ctx, e.executor.ExecuteStep)
}

func (e *Engine) TriggerWorkflows(ctx context.Context, trigger models.TriggerType, contactID string, triggerData map[string]any) {
	e.dispatcher.TriggerWorkflows(ctx, trigger, contactID, triggerData)
}

func (e *Engine) Enroll(ctx context.Context, workflowID, contactID string, triggerData map[string]any) (string, error) {
	return e.manager.Enroll(ctx, workflowID, contactID, triggerData)
}

func (e *Engine) ExitWorkflow(ctx context.Context, enrollmentID string) error {
	return e.manager.Exit(ctx, enrollmentID)
}

func (e *Engine) WorkflowAnalytics(ctx context.Context, workflowID string) (models.WorkflowAnalytics, error) {
	return e.manager.Analytics(ctx, workflowID)
}

func (e *Engine) SchedulerStats(ctx context.Context) (models.SchedulerStats, error) {
	return e.scheduler.Stats(ctx)
}

func (e *Engine) GetEnrollment(ctx context.Context, enrollmentID string) (*models.Enrollment, error) {
	return e.manager.Get(ctx, enrollmentID)
}

func (e *Engine) Scheduler() scheduler.Scheduler {
	return e.scheduler
}

func (e *Engine) Dispatcher() *Dispatcher {
	return e.dispatcher
}

func (e *Engine) HealthCheck(ctx context.Context) error {
	return e.persistence.HealthCheck(ctx)
}

// Close drains the scheduler before closing the store it writes to.
func (e *Engine) Close(ctx context.Context) error {
	errScheduler := e.scheduler.Close(ctx)
	errPersistence := e.persistence.Close(ctx)

	err := errors.Join(errScheduler, errPersistence)
	if err != nil {
		e.logger.ErrorContext(ctx, "engine shutdown failed", "error", err)

		return err
	}

	e.logger.InfoContext(ctx, "engine stopped")

	return nil
}
