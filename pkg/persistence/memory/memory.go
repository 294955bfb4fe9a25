// Package memory provides an in-process persistence implementation, optionally
// seeded from a YAML file. Safe for concurrent access. Intended for tests,
// local development and single-process deployments without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dukex/journeys/pkg/models"
	"github.com/dukex/journeys/pkg/persistence"
	"github.com/google/uuid"
)

var (
	_ persistence.Persistence          = (*Persistence)(nil)
	_ persistence.WorkflowRepository   = (*WorkflowRepository)(nil)
	_ persistence.ContactRepository    = (*ContactRepository)(nil)
	_ persistence.EnrollmentRepository = (*EnrollmentRepository)(nil)
)

// Persistence keeps every entity in maps guarded by one lock per repository.
type Persistence struct {
	workflows   *WorkflowRepository
	contacts    *ContactRepository
	enrollments *EnrollmentRepository
}

// NewPersistence returns an empty store.
func NewPersistence() *Persistence {
	return &Persistence{
		workflows:   &WorkflowRepository{items: make(map[string]*models.WorkflowDefinition)},
		contacts:    &ContactRepository{items: make(map[string]*models.Contact)},
		enrollments: &EnrollmentRepository{items: make(map[string]*models.Enrollment)},
	}
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflows
}

func (p *Persistence) ContactRepository() persistence.ContactRepository {
	return p.contacts
}

func (p *Persistence) EnrollmentRepository() persistence.EnrollmentRepository {
	return p.enrollments
}

// HealthCheck always succeeds for the memory store.
func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (p *Persistence) Close(_ context.Context) error { return nil }

type WorkflowRepository struct {
	mu    sync.RWMutex
	items map[string]*models.WorkflowDefinition
}

func (r *WorkflowRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflow, ok := r.items[id]
	if !ok {
		return nil, persistence.ErrWorkflowNotFound
	}

	clone := *workflow

	return &clone, nil
}

func (r *WorkflowRepository) GetActiveByTrigger(_ context.Context, trigger models.TriggerType) ([]*models.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflows := make([]*models.WorkflowDefinition, 0)

	for _, workflow := range r.items {
		if workflow.TriggerType == trigger && workflow.IsActive() {
			clone := *workflow
			workflows = append(workflows, &clone)
		}
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (r *WorkflowRepository) Save(_ context.Context, workflow *models.WorkflowDefinition) error {
	err := models.ValidateWorkflowDefinition(workflow)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	if workflow.ID == "" {
		workflow.ID = uuid.NewString()
	}

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *workflow
	clone.Steps = append([]models.Step(nil), workflow.Steps...)
	r.items[workflow.ID] = &clone

	return nil
}

type ContactRepository struct {
	mu    sync.RWMutex
	items map[string]*models.Contact
}

func (r *ContactRepository) GetByID(_ context.Context, id string) (*models.Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	contact, ok := r.items[id]
	if !ok {
		return nil, persistence.ErrContactNotFound
	}

	clone := *contact
	clone.Attributes = cloneData(contact.Attributes)

	return &clone, nil
}

func (r *ContactRepository) Save(_ context.Context, contact *models.Contact) error {
	if contact.ID == "" {
		contact.ID = uuid.NewString()
	}

	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *contact
	clone.Attributes = cloneData(contact.Attributes)
	r.items[contact.ID] = &clone

	return nil
}

type EnrollmentRepository struct {
	mu    sync.RWMutex
	items map[string]*models.Enrollment
}

func cloneEnrollment(e *models.Enrollment) *models.Enrollment {
	clone := *e
	clone.TriggerData = cloneData(e.TriggerData)

	if e.CompletedAt != nil {
		completedAt := *e.CompletedAt
		clone.CompletedAt = &completedAt
	}

	return &clone
}

// cloneData deep-copies the nested maps and slices of decoded JSON data.
func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}

	clone := make(map[string]any, len(data))
	for key, value := range data {
		clone[key] = cloneValue(value)
	}

	return clone
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return cloneData(v)
	case []any:
		clone := make([]any, len(v))
		for i, item := range v {
			clone[i] = cloneValue(item)
		}

		return clone
	default:
		return v
	}
}

func (r *EnrollmentRepository) GetByID(_ context.Context, id string) (*models.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enrollment, ok := r.items[id]
	if !ok {
		return nil, persistence.ErrEnrollmentNotFound
	}

	return cloneEnrollment(enrollment), nil
}

func (r *EnrollmentRepository) GetActive(_ context.Context, workflowID, contactID string) (*models.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := r.findActive(workflowID, contactID)
	if active == nil {
		return nil, persistence.ErrEnrollmentNotFound
	}

	return cloneEnrollment(active), nil
}

func (r *EnrollmentRepository) findActive(workflowID, contactID string) *models.Enrollment {
	for _, enrollment := range r.items {
		if enrollment.WorkflowID == workflowID &&
			enrollment.ContactID == contactID &&
			enrollment.Status == models.EnrollmentStatusActive {
			return enrollment
		}
	}

	return nil
}

func (r *EnrollmentRepository) CreateActive(_ context.Context, enrollment *models.Enrollment) (*models.Enrollment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing := r.findActive(enrollment.WorkflowID, enrollment.ContactID); existing != nil {
		return cloneEnrollment(existing), false, nil
	}

	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}

	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}

	enrollment.Status = models.EnrollmentStatusActive
	enrollment.CompletedAt = nil

	r.items[enrollment.ID] = cloneEnrollment(enrollment)

	return cloneEnrollment(enrollment), true, nil
}

func (r *EnrollmentRepository) UpdateStepIndex(_ context.Context, id string, stepIndex int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	enrollment, ok := r.items[id]
	if !ok {
		return persistence.NewEnrollmentError("UpdateStepIndex", id, persistence.ErrEnrollmentNotFound)
	}

	if enrollment.Status == models.EnrollmentStatusActive && stepIndex >= enrollment.CurrentStepIndex {
		enrollment.CurrentStepIndex = stepIndex
	}

	return nil
}

func (r *EnrollmentRepository) UpdateStatus(_ context.Context, id string, status models.EnrollmentStatus, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	enrollment, ok := r.items[id]
	if !ok {
		return false, persistence.NewEnrollmentError("UpdateStatus", id, persistence.ErrEnrollmentNotFound)
	}

	if enrollment.Status != models.EnrollmentStatusActive {
		return false, nil
	}

	enrollment.Status = status

	if status == models.EnrollmentStatusCompleted {
		completedAt := at
		enrollment.CompletedAt = &completedAt
	}

	return true, nil
}

func (r *EnrollmentRepository) ForceStatus(_ context.Context, id string, status models.EnrollmentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	enrollment, ok := r.items[id]
	if !ok {
		return persistence.NewEnrollmentError("ForceStatus", id, persistence.ErrEnrollmentNotFound)
	}

	enrollment.Status = status

	return nil
}

func (r *EnrollmentRepository) CountByStatus(_ context.Context, workflowID string) (map[models.EnrollmentStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[models.EnrollmentStatus]int)

	for _, enrollment := range r.items {
		if enrollment.WorkflowID == workflowID {
			counts[enrollment.Status]++
		}
	}

	return counts, nil
}
