package memory

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dukex/journeys/pkg/models"
	"github.com/dukex/journeys/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkflow(id string, trigger models.TriggerType, status models.WorkflowStatus) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:          id,
		Name:        "Workflow " + id,
		TriggerType: trigger,
		Status:      status,
		Steps:       []models.Step{models.NewDelayStep(1, models.DelayUnitHours)},
	}
}

func TestWorkflowRepository_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence()

	workflow := newWorkflow("wf-1", models.TriggerNewSubscriber, models.WorkflowStatusActive)
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	stored, err := p.WorkflowRepository().GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Workflow wf-1", stored.Name)
	assert.False(t, stored.CreatedAt.IsZero())
	assert.Len(t, stored.Steps, 1)

	_, err = p.WorkflowRepository().GetByID(ctx, "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_SaveRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence()

	workflow := newWorkflow("wf-1", models.TriggerNewSubscriber, models.WorkflowStatusActive)
	workflow.Steps = []models.Step{{Type: "sms"}}

	err := p.WorkflowRepository().Save(ctx, workflow)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidWorkflowDefinition)

	_, err = p.WorkflowRepository().GetByID(ctx, "wf-1")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_GetActiveByTrigger(t *testing.T) {
	ctx := context.Background()
	p := NewPersistence()
	repo := p.WorkflowRepository()

	require.NoError(t, repo.Save(ctx, newWorkflow("a", models.TriggerCartAbandoned, models.WorkflowStatusActive)))
	require.NoError(t, repo.Save(ctx, newWorkflow("b", models.TriggerCartAbandoned, models.WorkflowStatusPaused)))
	require.NoError(t, repo.Save(ctx, newWorkflow("c", models.TriggerCartAbandoned, models.WorkflowStatusDraft)))
	require.NoError(t, repo.Save(ctx, newWorkflow("d", models.TriggerOrderPlaced, models.WorkflowStatusActive)))

	workflows, err := repo.GetActiveByTrigger(ctx, models.TriggerCartAbandoned)
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, "a", workflows[0].ID)

	workflows, err = repo.GetActiveByTrigger(ctx, models.TriggerOrderShipped)
	require.NoError(t, err)
	assert.Empty(t, workflows)
}

func TestEnrollmentRepository_CreateActiveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence().EnrollmentRepository()

	first, created, err := repo.CreateActive(ctx, &models.Enrollment{WorkflowID: "wf", ContactID: "c1"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, models.EnrollmentStatusActive, first.Status)

	second, created, err := repo.CreateActive(ctx, &models.Enrollment{WorkflowID: "wf", ContactID: "c1"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	ok, err := repo.UpdateStatus(ctx, first.ID, models.EnrollmentStatusCompleted, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	third, created, err := repo.CreateActive(ctx, &models.Enrollment{WorkflowID: "wf", ContactID: "c1"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestEnrollmentRepository_TriggerDataIsCopied(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence().EnrollmentRepository()

	input := map[string]any{"cart": map[string]any{"id": "c-1"}, "items": []any{"sku-1"}}

	created, _, err := repo.CreateActive(ctx, &models.Enrollment{WorkflowID: "wf", ContactID: "c1", TriggerData: input})
	require.NoError(t, err)

	input["cart"].(map[string]any)["id"] = "changed"
	created.TriggerData["coupon"] = "SAVE10"

	read, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)

	read.TriggerData["cart"].(map[string]any)["id"] = "mutated"
	read.TriggerData["items"].([]any)[0] = "mutated"

	stored, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"cart": map[string]any{"id": "c-1"}, "items": []any{"sku-1"}}, stored.TriggerData)
}

func TestContactRepository_AttributesAreCopied(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence().ContactRepository()

	contact := &models.Contact{ID: "c1", Attributes: map[string]any{"plan": "pro"}}
	require.NoError(t, repo.Save(ctx, contact))

	contact.Attributes["plan"] = "free"

	read, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)

	read.Attributes["plan"] = "enterprise"

	stored, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "pro", stored.Attributes["plan"])
}

func TestEnrollmentRepository_ConcurrentCreateActive(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence().EnrollmentRepository()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)

	for range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, ok, err := repo.CreateActive(ctx, &models.Enrollment{WorkflowID: "wf", ContactID: "c1"})
			assert.NoError(t, err)

			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, created)

	counts, err := repo.CountByStatus(ctx, "wf")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.EnrollmentStatusActive])
}

func TestEnrollmentRepository_StepIndexOnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence().EnrollmentRepository()

	enrollment, _, err := repo.CreateActive(ctx, &models.Enrollment{WorkflowID: "wf", ContactID: "c1"})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateStepIndex(ctx, enrollment.ID, 3))
	require.NoError(t, repo.UpdateStepIndex(ctx, enrollment.ID, 1))

	stored, err := repo.GetByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.CurrentStepIndex)

	require.NoError(t, repo.ForceStatus(ctx, enrollment.ID, models.EnrollmentStatusExited))
	require.NoError(t, repo.UpdateStepIndex(ctx, enrollment.ID, 5))

	stored, err = repo.GetByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.CurrentStepIndex)

	err = repo.UpdateStepIndex(ctx, "missing", 1)
	assert.True(t, persistence.IsEnrollmentNotFound(err))
}

func TestEnrollmentRepository_TerminalStatusIsSticky(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence().EnrollmentRepository()

	enrollment, _, err := repo.CreateActive(ctx, &models.Enrollment{WorkflowID: "wf", ContactID: "c1"})
	require.NoError(t, err)

	completedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	ok, err := repo.UpdateStatus(ctx, enrollment.ID, models.EnrollmentStatusCompleted, completedAt)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateStatus(ctx, enrollment.ID, models.EnrollmentStatusFailed, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := repo.GetByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	assert.True(t, completedAt.Equal(*stored.CompletedAt))

	_, err = repo.GetActive(ctx, "wf", "c1")
	assert.True(t, persistence.IsEnrollmentNotFound(err))
}

func TestEnrollmentRepository_FailedHasNoCompletedAt(t *testing.T) {
	ctx := context.Background()
	repo := NewPersistence().EnrollmentRepository()

	enrollment, _, err := repo.CreateActive(ctx, &models.Enrollment{WorkflowID: "wf", ContactID: "c1"})
	require.NoError(t, err)

	ok, err := repo.UpdateStatus(ctx, enrollment.ID, models.EnrollmentStatusFailed, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := repo.GetByID(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.CompletedAt)
}

const seedYAML = `
workflows:
  - id: welcome
    name: Welcome series
    trigger_type: new_subscriber
    status: active
    steps:
      - type: email
        config:
          subject: "Welcome {{first_name}}"
          htmlBody: "<p>Hi</p>"
          fromEmail: hello@example.com
          fromName: Shop
      - type: delay
        amount: 2
        unit: days
contacts:
  - id: c1
    email: ana@example.com
    first_name: Ana
    subscription_status: subscribed
    attributes:
      country: BR
`

func TestNewPersistenceFromURL_Seed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	p, err := NewPersistenceFromURL(ctx, "memory://"+path)
	require.NoError(t, err)

	workflow, err := p.WorkflowRepository().GetByID(ctx, "welcome")
	require.NoError(t, err)
	require.Len(t, workflow.Steps, 2)
	assert.Equal(t, "Welcome {{first_name}}", workflow.Steps[0].Email.Subject)
	assert.Equal(t, 2, workflow.Steps[1].Delay.Amount)

	contact, err := p.ContactRepository().GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, contact.IsSubscribed())
	assert.Equal(t, "BR", contact.Attributes["country"])
}

func TestNewPersistenceFromURL_Empty(t *testing.T) {
	p, err := NewPersistenceFromURL(context.Background(), "memory://")
	require.NoError(t, err)
	assert.NoError(t, p.HealthCheck(context.Background()))
}

func TestSeed_InvalidWorkflow(t *testing.T) {
	p := NewPersistence()

	err := p.Seed(context.Background(), []byte(`
workflows:
  - id: broken
    name: Broken
    trigger_type: new_subscriber
    status: active
    steps:
      - type: delay
        config:
          amount: 1
          unit: weeks
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}
