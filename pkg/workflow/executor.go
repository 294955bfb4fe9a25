package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/journeys/pkg/condition"
	"github.com/dukex/journeys/pkg/log"
	"github.com/dukex/journeys/pkg/mail"
	"github.com/dukex/journeys/pkg/models"
	"github.com/dukex/journeys/pkg/otelhelper"
	"github.com/dukex/journeys/pkg/persistence"
	"github.com/dukex/journeys/pkg/scheduler"
	"github.com/dukex/journeys/pkg/template"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Executor is the enrollment state machine. ExecuteStep advances one
// enrollment from a step index until the chain suspends on a delay step or
// the enrollment reaches a terminal status.
type Executor struct {
	workflows persistence.WorkflowRepository
	contacts  persistence.ContactRepository
	manager   *EnrollmentManager
	scheduler scheduler.Scheduler
	mail      mail.Queue
	evaluator *condition.Evaluator
	tracer    trace.Tracer
	logger    *slog.Logger
}

func NewExecutor(
	workflows persistence.WorkflowRepository,
	contacts persistence.ContactRepository,
	manager *EnrollmentManager,
	sched scheduler.Scheduler,
	mailQueue mail.Queue,
	evaluator *condition.Evaluator,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		workflows: workflows,
		contacts:  contacts,
		manager:   manager,
		scheduler: sched,
		mail:      mailQueue,
		evaluator: evaluator,
		tracer:    otelhelper.Tracer("journeys/workflow"),
		logger:    logger.With("module", "step_executor"),
	}
}

// ExecuteStep runs job.StepIndex of the enrollment and every following step
// that does not suspend. Step failures are recorded as a failed enrollment;
// the returned error only reports that this transition could not be
// persisted, so a durable queue retries the job.
func (e *Executor) ExecuteStep(ctx context.Context, job models.StepJob) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute_step",
		attribute.String(otelhelper.EnrollmentIDKey, job.EnrollmentID),
		attribute.String(otelhelper.WorkflowIDKey, job.WorkflowID),
		attribute.String(otelhelper.ContactIDKey, job.ContactID),
		attribute.Int(otelhelper.StepIndexKey, job.StepIndex),
	)
	defer span.End()

	logger := e.logger.With(
		"enrollment_id", job.EnrollmentID,
		"workflow_id", job.WorkflowID,
		"contact_id", job.ContactID,
	)
	ctx = log.ContextWithLogger(ctx, logger)

	runErr := e.safeRun(ctx, logger, job)
	if runErr == nil {
		return nil
	}

	otelhelper.SetError(span, runErr)
	logger.ErrorContext(ctx, "step execution failed", "error", runErr)

	err := e.manager.UpdateStatus(ctx, job.EnrollmentID, models.EnrollmentStatusFailed)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to mark enrollment %s failed: %w", job.EnrollmentID, err)
	}

	return nil
}

func (e *Executor) safeRun(ctx context.Context, logger *slog.Logger, job models.StepJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step execution panicked: %v", r)
		}
	}()

	return e.run(ctx, logger, job)
}

func (e *Executor) run(ctx context.Context, logger *slog.Logger, job models.StepJob) error {
	for {
		enrollment, err := e.manager.Get(ctx, job.EnrollmentID)
		if err != nil {
			if persistence.IsEnrollmentNotFound(err) {
				logger.WarnContext(ctx, "enrollment not found, dropping step", "step_index", job.StepIndex)

				return nil
			}

			return err
		}

		if enrollment.Status != models.EnrollmentStatusActive {
			logger.InfoContext(ctx, "enrollment no longer active, stopping",
				"status", enrollment.Status,
				"step_index", job.StepIndex)

			return nil
		}

		// A redelivered job for a step the enrollment already passed.
		if job.StepIndex < enrollment.CurrentStepIndex {
			logger.InfoContext(ctx, "step already executed, dropping job",
				"step_index", job.StepIndex,
				"current_step_index", enrollment.CurrentStepIndex)

			return nil
		}

		workflow, err := e.workflows.GetByID(ctx, job.WorkflowID)
		if err != nil {
			return fmt.Errorf("failed to load workflow %s: %w", job.WorkflowID, err)
		}

		if !workflow.IsActive() {
			logger.InfoContext(ctx, "workflow not active, exiting enrollment", "workflow_status", workflow.Status)

			return e.manager.UpdateStatus(ctx, job.EnrollmentID, models.EnrollmentStatusExited)
		}

		if job.StepIndex >= len(workflow.Steps) {
			logger.InfoContext(ctx, "enrollment completed", "steps", len(workflow.Steps))

			return e.manager.UpdateStatus(ctx, job.EnrollmentID, models.EnrollmentStatusCompleted)
		}

		err = e.manager.UpdateStepIndex(ctx, job.EnrollmentID, job.StepIndex)
		if err != nil {
			return err
		}

		step := workflow.Steps[job.StepIndex]
		trace.SpanFromContext(ctx).AddEvent("step", trace.WithAttributes(
			attribute.Int(otelhelper.StepIndexKey, job.StepIndex),
			attribute.String(otelhelper.StepTypeKey, string(step.Type)),
		))

		stepLogger := logger.With("step_index", job.StepIndex, "step_type", step.Type)

		advance, err := e.dispatch(log.ContextWithLogger(ctx, stepLogger), stepLogger, job, step)
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", job.StepIndex, step.Type, err)
		}

		if !advance {
			return nil
		}

		job = job.Next()
	}
}

// dispatch executes one step and reports whether the chain continues with
// the next index.
func (e *Executor) dispatch(ctx context.Context, logger *slog.Logger, job models.StepJob, step models.Step) (bool, error) {
	switch {
	case step.Type == models.StepTypeEmail && step.Email != nil:
		return true, e.executeEmail(ctx, logger, job, step.Email)
	case step.Type == models.StepTypeDelay && step.Delay != nil:
		return false, e.executeDelay(ctx, logger, job, step.Delay)
	case step.Type == models.StepTypeCondition && step.Condition != nil:
		e.executeCondition(ctx, logger, job, step.Condition)

		return true, nil
	default:
		return false, fmt.Errorf("%w: %q", models.ErrUnknownStepType, step.Type)
	}
}

func (e *Executor) executeEmail(ctx context.Context, logger *slog.Logger, job models.StepJob, step *models.EmailStep) error {
	contact, err := e.contacts.GetByID(ctx, job.ContactID)
	if err != nil {
		return fmt.Errorf("failed to load contact %s: %w", job.ContactID, err)
	}

	if !contact.IsSubscribed() {
		logger.InfoContext(ctx, "contact not subscribed, skipping email",
			"subscription_status", contact.SubscriptionStatus)

		return nil
	}

	data := template.ContactContext(contact, job.TriggerData)

	email := mail.Email{
		To:          []mail.Recipient{{Email: contact.Email, Name: fullName(contact)}},
		From:        mail.Recipient{Email: step.FromEmail, Name: step.FromName},
		Subject:     template.Render(step.Subject, data),
		TrackOpens:  true,
		TrackClicks: true,
	}

	if step.TextBody != "" {
		email.Content = append(email.Content, mail.Content{Type: mail.ContentTypeText, Value: template.Render(step.TextBody, data)})
	}

	email.Content = append(email.Content, mail.Content{Type: mail.ContentTypeHTML, Value: template.Render(step.HTMLBody, data)})

	err = e.mail.QueueEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to queue email: %w", err)
	}

	logger.InfoContext(ctx, "email queued", "subject", email.Subject)

	return nil
}

func (e *Executor) executeDelay(ctx context.Context, logger *slog.Logger, job models.StepJob, step *models.DelayStep) error {
	delay, err := step.Duration()
	if err != nil {
		return err
	}

	jobID, err := e.scheduler.ScheduleDelayed(ctx, job.Next(), delay)
	if err != nil {
		return fmt.Errorf("failed to schedule next step: %w", err)
	}

	logger.InfoContext(ctx, "next step scheduled", "job_id", jobID, "delay", delay)

	return nil
}

func (e *Executor) executeCondition(ctx context.Context, logger *slog.Logger, job models.StepJob, step *models.ConditionStep) {
	result := e.evaluator.Evaluate(ctx, job.ContactID, step.Field, step.Operator, step.Value, job.TriggerData)

	// Branch step lists are not spliced into the chain.
	logger.InfoContext(ctx, "condition evaluated",
		"field", step.Field,
		"operator", step.Operator,
		"result", result)
}

func fullName(contact *models.Contact) string {
	switch {
	case contact.FirstName != "" && contact.LastName != "":
		return contact.FirstName + " " + contact.LastName
	case contact.FirstName != "":
		return contact.FirstName
	default:
		return contact.LastName
	}
}
