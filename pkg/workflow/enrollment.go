package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/journeys/pkg/models"
	"github.com/dukex/journeys/pkg/persistence"
	"github.com/dukex/journeys/pkg/scheduler"
	"github.com/google/uuid"
)

// EnrollmentManager owns the enrollment lifecycle: creation, forward-only
// step index updates and terminal transitions.
type EnrollmentManager struct {
	enrollments persistence.EnrollmentRepository
	clock       func() time.Time
	logger      *slog.Logger

	// firstStep runs step 0 of a new enrollment. Bound by the engine to the
	// executor.
	firstStep scheduler.JobHandler
	// requeue hands step 0 to a durable queue when firstStep could not even
	// record the failure. Nil in degraded mode.
	requeue   func(ctx context.Context, job models.StepJob) error
}

func NewEnrollmentManager(enrollments persistence.EnrollmentRepository, clock func() time.Time, logger *slog.Logger) *EnrollmentManager {
	if clock == nil {
		clock = time.Now
	}

	return &EnrollmentManager{
		enrollments: enrollments,
		clock:       clock,
		logger:      logger.With("module", "enrollment_manager"),
	}
}

// Enroll returns the id of the active enrollment of the contact in the
// workflow, creating it and running its first step when there is none.
// Step failures end up in the enrollment status; only failing to create or
// read the enrollment is returned.
func (m *EnrollmentManager) Enroll(ctx context.Context, workflowID, contactID string, triggerData map[string]any) (string, error) {
	if triggerData == nil {
		triggerData = map[string]any{}
	}

	enrollment, created, err := m.enrollments.CreateActive(ctx, &models.Enrollment{
		ID:          uuid.NewString(),
		WorkflowID:  workflowID,
		ContactID:   contactID,
		Status:      models.EnrollmentStatusActive,
		TriggerData: triggerData,
		EnrolledAt:  m.clock().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to enroll contact %s in workflow %s: %w", contactID, workflowID, err)
	}

	logger := m.logger.With("enrollment_id", enrollment.ID, "workflow_id", workflowID, "contact_id", contactID)

	if !created {
		logger.DebugContext(ctx, "contact already enrolled")

		return enrollment.ID, nil
	}

	logger.InfoContext(ctx, "contact enrolled")

	if m.firstStep == nil {
		return enrollment.ID, nil
	}

	job := models.StepJob{
		EnrollmentID: enrollment.ID,
		WorkflowID:   workflowID,
		ContactID:    contactID,
		StepIndex:    0,
		TriggerData:  enrollment.TriggerData,
	}

	err = m.firstStep(ctx, job)
	if err == nil {
		return enrollment.ID, nil
	}

	if m.requeue == nil {
		logger.ErrorContext(ctx, "first step could not be recorded", "error", err)

		return enrollment.ID, nil
	}

	errRequeue := m.requeue(ctx, job)
	if errRequeue != nil {
		logger.ErrorContext(ctx, "first step could not be recorded or requeued",
			"error", err,
			"requeue_error", errRequeue)

		return enrollment.ID, nil
	}

	logger.WarnContext(ctx, "first step could not be recorded, requeued", "error", err)

	return enrollment.ID, nil
}

func (m *EnrollmentManager) Get(ctx context.Context, enrollmentID string) (*models.Enrollment, error) {
	return m.enrollments.GetByID(ctx, enrollmentID)
}

// UpdateStatus moves an active enrollment to a terminal status. Terminal
// enrollments are left untouched and no error is returned.
func (m *EnrollmentManager) UpdateStatus(ctx context.Context, enrollmentID string, status models.EnrollmentStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("cannot transition enrollment %s to non-terminal status %q", enrollmentID, status)
	}

	changed, err := m.enrollments.UpdateStatus(ctx, enrollmentID, status, m.clock().UTC())
	if err != nil {
		return fmt.Errorf("failed to update enrollment status: %w", err)
	}

	if !changed {
		m.logger.DebugContext(ctx, "enrollment already terminal, status unchanged",
			"enrollment_id", enrollmentID,
			"requested_status", status)

		return nil
	}

	m.logger.InfoContext(ctx, "enrollment status updated", "enrollment_id", enrollmentID, "status", status)

	return nil
}

// UpdateStepIndex records the step an active enrollment is executing.
func (m *EnrollmentManager) UpdateStepIndex(ctx context.Context, enrollmentID string, stepIndex int) error {
	err := m.enrollments.UpdateStepIndex(ctx, enrollmentID, stepIndex)
	if err != nil {
		return fmt.Errorf("failed to update step index: %w", err)
	}

	return nil
}

// Exit forces the enrollment to exited whatever its current status. A delay
// job already scheduled still fires and stops at the status check.
func (m *EnrollmentManager) Exit(ctx context.Context, enrollmentID string) error {
	err := m.enrollments.ForceStatus(ctx, enrollmentID, models.EnrollmentStatusExited)
	if err != nil {
		return fmt.Errorf("failed to exit enrollment: %w", err)
	}

	m.logger.InfoContext(ctx, "enrollment exited", "enrollment_id", enrollmentID)

	return nil
}

func (m *EnrollmentManager) Analytics(ctx context.Context, workflowID string) (models.WorkflowAnalytics, error) {
	counts, err := m.enrollments.CountByStatus(ctx, workflowID)
	if err != nil {
		return models.WorkflowAnalytics{}, fmt.Errorf("failed to count enrollments: %w", err)
	}

	return models.NewWorkflowAnalytics(workflowID, counts), nil
}
