// Package persistence provides the storage abstraction for workflow definitions,
// contacts and enrollments.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/journeys/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ContactRepository() ContactRepository
	EnrollmentRepository() EnrollmentRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository reads workflow definitions. Save exists for seeding and
// administration; the engine itself only reads.
type WorkflowRepository interface {
	// GetByID returns ErrWorkflowNotFound when no definition has the id.
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	GetActiveByTrigger(ctx context.Context, trigger models.TriggerType) ([]*models.WorkflowDefinition, error)
	Save(ctx context.Context, workflow *models.WorkflowDefinition) error
}

type ContactRepository interface {
	// GetByID returns ErrContactNotFound when no contact has the id.
	GetByID(ctx context.Context, id string) (*models.Contact, error)
	Save(ctx context.Context, contact *models.Contact) error
}

// EnrollmentRepository stores enrollments. Implementations guarantee at most
// one active enrollment per (workflow, contact) pair and never move an
// enrollment out of a terminal status except through ForceStatus.
type EnrollmentRepository interface {
	// GetByID returns ErrEnrollmentNotFound when no enrollment has the id.
	GetByID(ctx context.Context, id string) (*models.Enrollment, error)

	// GetActive returns ErrEnrollmentNotFound when the pair has no active enrollment.
	GetActive(ctx context.Context, workflowID, contactID string) (*models.Enrollment, error)

	// CreateActive inserts the enrollment unless the pair already has an active
	// one, in which case the existing enrollment is returned and created is false.
	CreateActive(ctx context.Context, enrollment *models.Enrollment) (stored *models.Enrollment, created bool, err error)

	// UpdateStepIndex moves an active enrollment forward. Updates that would
	// move the index backwards or touch a terminal enrollment are ignored.
	UpdateStepIndex(ctx context.Context, id string, stepIndex int) error

	// UpdateStatus transitions an active enrollment to status, stamping
	// CompletedAt with at when status is completed. It reports whether the
	// row changed; terminal enrollments are left untouched.
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, at time.Time) (bool, error)

	// ForceStatus sets status regardless of the current one.
	ForceStatus(ctx context.Context, id string, status models.EnrollmentStatus) error

	CountByStatus(ctx context.Context, workflowID string) (map[models.EnrollmentStatus]int, error)
}
