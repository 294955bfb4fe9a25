package mocks

import (
	"context"
	"time"

	"github.com/dukex/journeys/pkg/models"
	"github.com/dukex/journeys/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowRepository) GetActiveByTrigger(ctx context.Context, trigger models.TriggerType) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.WorkflowDefinition) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

// MockContactRepository is a mock implementation of persistence.ContactRepository interface.
type MockContactRepository struct {
	mock.Mock
}

func (m *MockContactRepository) GetByID(ctx context.Context, id string) (*models.Contact, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Contact), args.Error(1)
}

func (m *MockContactRepository) Save(ctx context.Context, contact *models.Contact) error {
	args := m.Called(ctx, contact)

	return args.Error(0)
}

// MockEnrollmentRepository is a mock implementation of persistence.EnrollmentRepository interface.
type MockEnrollmentRepository struct {
	mock.Mock
}

func (m *MockEnrollmentRepository) GetByID(ctx context.Context, id string) (*models.Enrollment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Enrollment), args.Error(1)
}

func (m *MockEnrollmentRepository) GetActive(ctx context.Context, workflowID, contactID string) (*models.Enrollment, error) {
	args := m.Called(ctx, workflowID, contactID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Enrollment), args.Error(1)
}

func (m *MockEnrollmentRepository) CreateActive(ctx context.Context, enrollment *models.Enrollment) (*models.Enrollment, bool, error) {
	args := m.Called(ctx, enrollment)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}

	return args.Get(0).(*models.Enrollment), args.Bool(1), args.Error(2)
}

func (m *MockEnrollmentRepository) UpdateStepIndex(ctx context.Context, id string, stepIndex int) error {
	args := m.Called(ctx, id, stepIndex)

	return args.Error(0)
}

func (m *MockEnrollmentRepository) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, at time.Time) (bool, error) {
	args := m.Called(ctx, id, status, at)

	return args.Bool(0), args.Error(1)
}

func (m *MockEnrollmentRepository) ForceStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	args := m.Called(ctx, id, status)

	return args.Error(0)
}

func (m *MockEnrollmentRepository) CountByStatus(ctx context.Context, workflowID string) (map[models.EnrollmentStatus]int, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[models.EnrollmentStatus]int), args.Error(1)
}

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) WorkflowRepository() persistence.WorkflowRepository {
	args := m.Called()

	return args.Get(0).(persistence.WorkflowRepository)
}

func (m *MockPersistence) ContactRepository() persistence.ContactRepository {
	args := m.Called()

	return args.Get(0).(persistence.ContactRepository)
}

func (m *MockPersistence) EnrollmentRepository() persistence.EnrollmentRepository {
	args := m.Called()

	return args.Get(0).(persistence.EnrollmentRepository)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
