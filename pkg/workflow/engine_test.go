package workflow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/journeys/pkg/mail"
	"github.com/dukex/journeys/pkg/mocks"
	"github.com/dukex/journeys/pkg/models"
	"github.com/dukex/journeys/pkg/persistence"
	"github.com/dukex/journeys/pkg/persistence/memory"
	"github.com/dukex/journeys/pkg/scheduler"
	schedulermemory "github.com/dukex/journeys/pkg/scheduler/memory"
	"github.com/dukex/journeys/pkg/testutil"
	"github.com/dukex/journeys/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// recordingMail stores every queued email.
type recordingMail struct {
	mu     sync.Mutex
	emails []mail.Email
	err    error
}

func (r *recordingMail) QueueEmail(_ context.Context, email mail.Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}

	r.emails = append(r.emails, email)

	return nil
}

func (r *recordingMail) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	subjects := make([]string, 0, len(r.emails))
	for _, email := range r.emails {
		subjects = append(subjects, email.Subject)
	}

	return subjects
}

// recordingEnrollments records every step index written.
type recordingEnrollments struct {
	persistence.EnrollmentRepository

	mu      sync.Mutex
	indexes map[string][]int
}

func (r *recordingEnrollments) UpdateStepIndex(ctx context.Context, id string, stepIndex int) error {
	r.mu.Lock()
	r.indexes[id] = append(r.indexes[id], stepIndex)
	r.mu.Unlock()

	return r.EnrollmentRepository.UpdateStepIndex(ctx, id, stepIndex)
}

func (r *recordingEnrollments) Indexes(id string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]int(nil), r.indexes[id]...)
}

// testStore overrides individual repositories of the in-memory store.
type testStore struct {
	*memory.Persistence

	workflows   persistence.WorkflowRepository
	enrollments persistence.EnrollmentRepository
}

func (s *testStore) WorkflowRepository() persistence.WorkflowRepository {
	if s.workflows != nil {
		return s.workflows
	}

	return s.Persistence.WorkflowRepository()
}

func (s *testStore) EnrollmentRepository() persistence.EnrollmentRepository {
	if s.enrollments != nil {
		return s.enrollments
	}

	return s.Persistence.EnrollmentRepository()
}

type harness struct {
	engine      *workflow.Engine
	store       *testStore
	mail        *recordingMail
	clock       *fakeClock
	jobs        *schedulermemory.Store
	enrollments *recordingEnrollments
}

func newHarness(t *testing.T, durable bool, opts ...scheduler.Option) *harness {
	t.Helper()

	clock := newFakeClock()
	base := memory.NewPersistence()
	recorder := &recordingEnrollments{EnrollmentRepository: base.EnrollmentRepository(), indexes: map[string][]int{}}
	store := &testStore{Persistence: base, enrollments: recorder}
	mailQueue := &recordingMail{}

	h := &harness{store: store, mail: mailQueue, clock: clock, enrollments: recorder}

	var sched scheduler.Scheduler = scheduler.NewImmediate(discardLogger())

	if durable {
		h.jobs = schedulermemory.New()
		defaults := []scheduler.Option{
			scheduler.WithClock(clock.Now),
			scheduler.WithPollInterval(5 * time.Millisecond),
			scheduler.WithCleanSchedule(""),
		}
		sched = scheduler.NewDurable(h.jobs, discardLogger(), append(defaults, opts...)...)
	}

	h.engine = workflow.NewEngine(store, sched, mailQueue, discardLogger(), workflow.WithClock(clock.Now))
	require.NoError(t, h.engine.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		assert.NoError(t, h.engine.Close(ctx))
	})

	return h
}

func (h *harness) saveWorkflow(t *testing.T, trigger models.TriggerType, steps ...models.Step) *models.WorkflowDefinition {
	t.Helper()

	definition := testutil.CreateTestWorkflow(testutil.WithTrigger(trigger), testutil.WithSteps(steps...))

	require.NoError(t, h.store.Persistence.WorkflowRepository().Save(context.Background(), definition))

	return definition
}

func (h *harness) saveContact(t *testing.T, contact *models.Contact) {
	t.Helper()

	require.NoError(t, h.store.ContactRepository().Save(context.Background(), contact))
}

func (h *harness) enrollment(t *testing.T, id string) *models.Enrollment {
	t.Helper()

	enrollment, err := h.engine.GetEnrollment(context.Background(), id)
	require.NoError(t, err)

	return enrollment
}

func ana() *models.Contact {
	return testutil.CreateTestContact("contact-ana", "Ana", func(c *models.Contact) {
		c.Email = "ana@example.com"
	})
}

func TestEngine_EndToEndDurable(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	definition := h.saveWorkflow(t, models.TriggerNewSubscriber,
		testutil.EmailStep("Hi {{first_name}}"),
		models.NewDelayStep(1, models.DelayUnitDays),
		testutil.EmailStep("Still there?"),
	)
	h.saveContact(t, ana())

	enrollmentID, err := h.engine.Enroll(ctx, definition.ID, "contact-ana", map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hi Ana"}, h.mail.Subjects())

	enrollment := h.enrollment(t, enrollmentID)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.Equal(t, 1, enrollment.CurrentStepIndex)
	assert.Nil(t, enrollment.CompletedAt)

	stats, err := h.engine.SchedulerStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Delayed)

	time.Sleep(30 * time.Millisecond)
	assert.Len(t, h.mail.Subjects(), 1)

	h.clock.Advance(24 * time.Hour)

	assert.Eventually(t, func() bool {
		e, err := h.engine.GetEnrollment(ctx, enrollmentID)

		return err == nil && e.Status == models.EnrollmentStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	enrollment = h.enrollment(t, enrollmentID)
	assert.Equal(t, 2, enrollment.CurrentStepIndex)
	require.NotNil(t, enrollment.CompletedAt)
	assert.Equal(t, h.clock.Now(), *enrollment.CompletedAt)
	assert.Equal(t, []string{"Hi Ana", "Still there?"}, h.mail.Subjects())
	assert.Equal(t, []int{0, 1, 2}, h.enrollments.Indexes(enrollmentID))
}

func TestEngine_DegradedModeCompletesSynchronously(t *testing.T) {
	h := newHarness(t, false)

	definition := h.saveWorkflow(t, models.TriggerNewSubscriber,
		testutil.EmailStep("Welcome"),
		models.NewDelayStep(1, models.DelayUnitDays),
		testutil.EmailStep("Day two"),
	)
	h.saveContact(t, ana())

	enrollmentID, err := h.engine.Enroll(context.Background(), definition.ID, "contact-ana", nil)
	require.NoError(t, err)

	enrollment := h.enrollment(t, enrollmentID)
	assert.Equal(t, models.EnrollmentStatusCompleted, enrollment.Status)
	assert.NotNil(t, enrollment.CompletedAt)
	assert.Equal(t, []string{"Welcome", "Day two"}, h.mail.Subjects())
}

func TestEngine_LongImmediateChain(t *testing.T) {
	h := newHarness(t, false)

	steps := make([]models.Step, 0, 600)
	for range 300 {
		steps = append(steps, models.NewDelayStep(5, models.DelayUnitMinutes), models.NewConditionStep(models.ConditionStep{
			Field:    "trigger.plan",
			Operator: models.OperatorEquals,
			Value:    "pro",
		}))
	}

	definition := h.saveWorkflow(t, models.TriggerCustom, steps...)

	enrollmentID, err := h.engine.Enroll(context.Background(), definition.ID, "contact-1", map[string]any{"plan": "pro"})
	require.NoError(t, err)

	enrollment := h.enrollment(t, enrollmentID)
	assert.Equal(t, models.EnrollmentStatusCompleted, enrollment.Status)
	assert.Equal(t, len(steps)-1, enrollment.CurrentStepIndex)
}

func TestEngine_EnrollIsIdempotentWhileActive(t *testing.T) {
	h := newHarness(t, true, scheduler.WithConcurrency(0))
	ctx := context.Background()

	definition := h.saveWorkflow(t, models.TriggerCartAbandoned, models.NewDelayStep(1, models.DelayUnitHours))

	first, err := h.engine.Enroll(ctx, definition.ID, "contact-1", map[string]any{"cart": "c-1"})
	require.NoError(t, err)

	second, err := h.engine.Enroll(ctx, definition.ID, "contact-1", map[string]any{"cart": "c-2"})
	require.NoError(t, err)

	assert.Equal(t, first, second)

	analytics, err := h.engine.WorkflowAnalytics(ctx, definition.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, analytics.TotalEnrolled)
	assert.Equal(t, 1, analytics.Active)

	stats, err := h.engine.SchedulerStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Delayed)
}

func TestEngine_ReenrollAfterCompletion(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	definition := h.saveWorkflow(t, models.TriggerOrderPlaced, testutil.EmailStep("Thanks"))
	h.saveContact(t, ana())

	first, err := h.engine.Enroll(ctx, definition.ID, "contact-ana", nil)
	require.NoError(t, err)

	second, err := h.engine.Enroll(ctx, definition.ID, "contact-ana", nil)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, []string{"Thanks", "Thanks"}, h.mail.Subjects())
}

func TestEngine_UnsubscribedContactSkipsEmails(t *testing.T) {
	h := newHarness(t, false)

	definition := h.saveWorkflow(t, models.TriggerNewSubscriber, testutil.EmailStep("One"), testutil.EmailStep("Two"))

	contact := testutil.CreateTestContact("contact-ana", "Ana", testutil.WithUnsubscribed())
	h.saveContact(t, contact)

	enrollmentID, err := h.engine.Enroll(context.Background(), definition.ID, contact.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentStatusCompleted, h.enrollment(t, enrollmentID).Status)
	assert.Empty(t, h.mail.Subjects())
}

func TestEngine_TerminalStatusIsSticky(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	definition := h.saveWorkflow(t, models.TriggerNewSubscriber, testutil.EmailStep("Only"))
	h.saveContact(t, ana())

	enrollmentID, err := h.engine.Enroll(ctx, definition.ID, "contact-ana", nil)
	require.NoError(t, err)

	completed := h.enrollment(t, enrollmentID)
	require.Equal(t, models.EnrollmentStatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	h.clock.Advance(time.Hour)

	manager := workflow.NewEnrollmentManager(h.store.EnrollmentRepository(), h.clock.Now, discardLogger())
	require.NoError(t, manager.UpdateStatus(ctx, enrollmentID, models.EnrollmentStatusFailed))
	require.NoError(t, manager.UpdateStatus(ctx, enrollmentID, models.EnrollmentStatusCompleted))

	after := h.enrollment(t, enrollmentID)
	assert.Equal(t, models.EnrollmentStatusCompleted, after.Status)
	assert.Equal(t, *completed.CompletedAt, *after.CompletedAt)
	assert.Equal(t, []string{"Only"}, h.mail.Subjects())
}

func TestEngine_StaleJobOnCompletedEnrollmentIsIgnored(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	definition := h.saveWorkflow(t, models.TriggerNewSubscriber, testutil.EmailStep("Only"))
	h.saveContact(t, ana())

	enrollmentID, err := h.engine.Enroll(ctx, definition.ID, "contact-ana", nil)
	require.NoError(t, err)

	completed := h.enrollment(t, enrollmentID)
	require.Equal(t, models.EnrollmentStatusCompleted, completed.Status)

	_, err = h.engine.Scheduler().ScheduleImmediate(ctx, models.StepJob{
		EnrollmentID: enrollmentID,
		WorkflowID:   definition.ID,
		ContactID:    "contact-ana",
		StepIndex:    0,
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		stats, err := h.engine.SchedulerStats(ctx)

		return err == nil && stats.Completed == 1
	}, 5*time.Second, 10*time.Millisecond)

	after := h.enrollment(t, enrollmentID)
	assert.Equal(t, models.EnrollmentStatusCompleted, after.Status)
	assert.Equal(t, *completed.CompletedAt, *after.CompletedAt)
	assert.Equal(t, []string{"Only"}, h.mail.Subjects())
}

func TestEngine_RedeliveredJobForPassedStepIsDropped(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	definition := h.saveWorkflow(t, models.TriggerNewSubscriber,
		testutil.EmailStep("One"),
		models.NewDelayStep(1, models.DelayUnitDays),
		testutil.EmailStep("Two"),
		models.NewDelayStep(1, models.DelayUnitDays),
		testutil.EmailStep("Three"),
	)
	h.saveContact(t, ana())

	enrollmentID, err := h.engine.Enroll(ctx, definition.ID, "contact-ana", nil)
	require.NoError(t, err)

	h.clock.Advance(24 * time.Hour)

	assert.Eventually(t, func() bool {
		e, err := h.engine.GetEnrollment(ctx, enrollmentID)

		return err == nil && e.CurrentStepIndex == 3
	}, 5*time.Second, 10*time.Millisecond)

	_, err = h.engine.Scheduler().ScheduleImmediate(ctx, models.StepJob{
		EnrollmentID: enrollmentID,
		WorkflowID:   definition.ID,
		ContactID:    "contact-ana",
		StepIndex:    2,
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		stats, err := h.engine.SchedulerStats(ctx)

		return err == nil && stats.Completed == 2
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"One", "Two"}, h.mail.Subjects())

	stats, err := h.engine.SchedulerStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Delayed)

	h.clock.Advance(24 * time.Hour)

	assert.Eventually(t, func() bool {
		e, err := h.engine.GetEnrollment(ctx, enrollmentID)

		return err == nil && e.Status == models.EnrollmentStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"One", "Two", "Three"}, h.mail.Subjects())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, h.enrollments.Indexes(enrollmentID))
}

func TestEngine_StepIndexIsMonotonic(t *testing.T) {
	h := newHarness(t, false)

	definition := h.saveWorkflow(t, models.TriggerOrderShipped,
		testutil.EmailStep("Shipped"),
		models.NewConditionStep(models.ConditionStep{Field: "contact.firstName", Operator: models.OperatorEquals, Value: "Ana"}),
		models.NewDelayStep(2, models.DelayUnitDays),
		testutil.EmailStep("Review your order"),
	)
	h.saveContact(t, ana())

	enrollmentID, err := h.engine.Enroll(context.Background(), definition.ID, "contact-ana", nil)
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentStatusCompleted, h.enrollment(t, enrollmentID).Status)
	assert.Equal(t, []int{0, 1, 2, 3}, h.enrollments.Indexes(enrollmentID))
}

func TestEngine_ConditionFallsThroughRegardlessOfResult(t *testing.T) {
	h := newHarness(t, false)

	definition := h.saveWorkflow(t, models.TriggerCustom,
		models.NewConditionStep(models.ConditionStep{
			Field:      "trigger.total",
			Operator:   models.OperatorGreaterThan,
			Value:      100,
			TrueSteps:  []models.Step{testutil.EmailStep("Big spender")},
			FalseSteps: []models.Step{testutil.EmailStep("Small spender")},
		}),
		testutil.EmailStep("Order total {{trigger.total}}"),
	)
	h.saveContact(t, ana())

	enrollmentID, err := h.engine.Enroll(context.Background(), definition.ID, "contact-ana", map[string]any{"total": 20})
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentStatusCompleted, h.enrollment(t, enrollmentID).Status)
	assert.Equal(t, []string{"Order total 20"}, h.mail.Subjects())
}

func TestEngine_EmailRendering(t *testing.T) {
	h := newHarness(t, false)

	definition := h.saveWorkflow(t, models.TriggerCartAbandoned, models.NewEmailStep(models.EmailStep{
		Subject:   "{{firstName}}, you left {{cart.items}} items",
		HTMLBody:  "<p>Total: {{cart.total}}</p>",
		TextBody:  "Total: {{cart.total}}",
		FromEmail: "shop@example.com",
		FromName:  "Shop",
	}))

	contact := ana()
	contact.LastName = "Silva"
	h.saveContact(t, contact)

	_, err := h.engine.Enroll(context.Background(), definition.ID, contact.ID, map[string]any{
		"cart": map[string]any{"items": 3, "total": 59.9},
	})
	require.NoError(t, err)

	require.Len(t, h.mail.emails, 1)

	sent := h.mail.emails[0]
	assert.Equal(t, "Ana, you left 3 items", sent.Subject)
	assert.Equal(t, []mail.Recipient{{Email: "ana@example.com", Name: "Ana Silva"}}, sent.To)
	assert.Equal(t, mail.Recipient{Email: "shop@example.com", Name: "Shop"}, sent.From)
	assert.True(t, sent.TrackOpens)
	assert.True(t, sent.TrackClicks)
	assert.Equal(t, []mail.Content{
		{Type: mail.ContentTypeText, Value: "Total: 59.9"},
		{Type: mail.ContentTypeHTML, Value: "<p>Total: 59.9</p>"},
	}, sent.Content)
}

func TestEngine_MissingWorkflowFailsEnrollment(t *testing.T) {
	h := newHarness(t, false)

	enrollmentID, err := h.engine.Enroll(context.Background(), "no-such-workflow", "contact-1", nil)
	require.NoError(t, err)

	enrollment := h.enrollment(t, enrollmentID)
	assert.Equal(t, models.EnrollmentStatusFailed, enrollment.Status)
	assert.Nil(t, enrollment.CompletedAt)
}

// flakyStatusEnrollments fails the first n status transitions.
type flakyStatusEnrollments struct {
	persistence.EnrollmentRepository

	failures atomic.Int32
}

func (f *flakyStatusEnrollments) UpdateStatus(
	ctx context.Context,
	id string,
	status models.EnrollmentStatus,
	at time.Time,
) (bool, error) {
	if f.failures.Add(-1) >= 0 {
		return false, errors.New("status write unavailable")
	}

	return f.EnrollmentRepository.UpdateStatus(ctx, id, status, at)
}

func newFlakyEngine(t *testing.T, sched scheduler.Scheduler, failures int32) *workflow.Engine {
	t.Helper()

	base := memory.NewPersistence()
	flaky := &flakyStatusEnrollments{EnrollmentRepository: base.EnrollmentRepository()}
	flaky.failures.Store(failures)

	engine := workflow.NewEngine(&testStore{Persistence: base, enrollments: flaky}, sched, &recordingMail{}, discardLogger())
	require.NoError(t, engine.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		assert.NoError(t, engine.Close(ctx))
	})

	return engine
}

func TestEngine_UnrecordedFirstStepFailureIsRequeued(t *testing.T) {
	sched := scheduler.NewDurable(schedulermemory.New(), discardLogger(),
		scheduler.WithPollInterval(5*time.Millisecond),
		scheduler.WithCleanSchedule(""),
	)
	engine := newFlakyEngine(t, sched, 1)
	ctx := context.Background()

	enrollmentID, err := engine.Enroll(ctx, "no-such-workflow", "contact-1", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		e, err := engine.GetEnrollment(ctx, enrollmentID)

		return err == nil && e.Status == models.EnrollmentStatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		stats, err := engine.SchedulerStats(ctx)

		return err == nil && stats.Completed == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEngine_UnrecordedFirstStepFailureInDegradedModeIsLogged(t *testing.T) {
	engine := newFlakyEngine(t, scheduler.NewImmediate(discardLogger()), 1)
	ctx := context.Background()

	enrollmentID, err := engine.Enroll(ctx, "no-such-workflow", "contact-1", nil)
	require.NoError(t, err)

	enrollment, err := engine.GetEnrollment(ctx, enrollmentID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
}

func TestEngine_MissingContactFailsEnrollment(t *testing.T) {
	h := newHarness(t, false)

	definition := h.saveWorkflow(t, models.TriggerNewSubscriber, testutil.EmailStep("Hello"))

	enrollmentID, err := h.engine.Enroll(context.Background(), definition.ID, "ghost", nil)
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentStatusFailed, h.enrollment(t, enrollmentID).Status)
}

func TestEngine_MailQueueErrorFailsEnrollment(t *testing.T) {
	h := newHarness(t, false)
	h.mail.err = errors.New("broker unavailable")

	definition := h.saveWorkflow(t, models.TriggerNewSubscriber, testutil.EmailStep("Hello"), testutil.EmailStep("Again"))
	h.saveContact(t, ana())

	enrollmentID, err := h.engine.Enroll(context.Background(), definition.ID, "contact-ana", nil)
	require.NoError(t, err)

	enrollment := h.enrollment(t, enrollmentID)
	assert.Equal(t, models.EnrollmentStatusFailed, enrollment.Status)
	assert.Equal(t, 0, enrollment.CurrentStepIndex)
}

func TestEngine_InactiveWorkflowExitsEnrollment(t *testing.T) {
	h := newHarness(t, false)

	definition := testutil.CreateTestWorkflow(
		testutil.WithSteps(testutil.EmailStep("Hello")),
		testutil.WithStatus(models.WorkflowStatusPaused),
	)
	require.NoError(t, h.store.Persistence.WorkflowRepository().Save(context.Background(), definition))

	enrollmentID, err := h.engine.Enroll(context.Background(), definition.ID, "contact-ana", nil)
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentStatusExited, h.enrollment(t, enrollmentID).Status)
	assert.Empty(t, h.mail.Subjects())
}

func TestEngine_WorkflowPausedDuringDelayExitsEnrollment(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	definition := h.saveWorkflow(t, models.TriggerNewSubscriber, models.NewDelayStep(3, models.DelayUnitHours), testutil.EmailStep("Later"))
	h.saveContact(t, ana())

	enrollmentID, err := h.engine.Enroll(ctx, definition.ID, "contact-ana", nil)
	require.NoError(t, err)

	definition.Status = models.WorkflowStatusPaused
	require.NoError(t, h.store.Persistence.WorkflowRepository().Save(ctx, definition))

	h.clock.Advance(3 * time.Hour)

	assert.Eventually(t, func() bool {
		e, err := h.engine.GetEnrollment(ctx, enrollmentID)

		return err == nil && e.Status == models.EnrollmentStatusExited
	}, 5*time.Second, 10*time.Millisecond)

	assert.Empty(t, h.mail.Subjects())
}

func TestEngine_ExitStopsAtNextStep(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	definition := h.saveWorkflow(t, models.TriggerNewSubscriber, models.NewDelayStep(1, models.DelayUnitDays), testutil.EmailStep("Tomorrow"))
	h.saveContact(t, ana())

	enrollmentID, err := h.engine.Enroll(ctx, definition.ID, "contact-ana", nil)
	require.NoError(t, err)

	require.NoError(t, h.engine.ExitWorkflow(ctx, enrollmentID))
	assert.Equal(t, models.EnrollmentStatusExited, h.enrollment(t, enrollmentID).Status)

	h.clock.Advance(24 * time.Hour)

	assert.Eventually(t, func() bool {
		stats, err := h.engine.SchedulerStats(ctx)

		return err == nil && stats.Completed == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, models.EnrollmentStatusExited, h.enrollment(t, enrollmentID).Status)
	assert.Empty(t, h.mail.Subjects())
}

func TestEngine_ExitUnknownEnrollment(t *testing.T) {
	h := newHarness(t, false)

	err := h.engine.ExitWorkflow(context.Background(), "missing")
	assert.True(t, persistence.IsEnrollmentNotFound(err))
}

func TestEngine_UnknownStepTypeFailsEnrollment(t *testing.T) {
	h := newHarness(t, false)

	definition := &models.WorkflowDefinition{
		ID:          "wf-sms",
		Name:        "sms",
		TriggerType: models.TriggerCustom,
		Status:      models.WorkflowStatusActive,
		Steps:       []models.Step{{Type: "sms", Raw: []byte(`{"body":"hi"}`)}},
	}

	workflows := &mocks.MockWorkflowRepository{}
	workflows.On("GetByID", mock.Anything, "wf-sms").Return(definition, nil)
	h.store.workflows = workflows

	engine := workflow.NewEngine(h.store, scheduler.NewImmediate(discardLogger()), h.mail, discardLogger())
	require.NoError(t, engine.Start(context.Background()))

	enrollmentID, err := engine.Enroll(context.Background(), "wf-sms", "contact-1", nil)
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentStatusFailed, h.enrollment(t, enrollmentID).Status)
	workflows.AssertExpectations(t)
}

func TestEngine_Analytics(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	definition := h.saveWorkflow(t, models.TriggerNewSubscriber, testutil.EmailStep("Hello"))
	h.saveContact(t, ana())
	h.saveContact(t, &models.Contact{ID: "bob", Email: "bob@example.com", SubscriptionStatus: models.SubscriptionStatusSubscribed})

	_, err := h.engine.Enroll(ctx, definition.ID, "contact-ana", nil)
	require.NoError(t, err)
	_, err = h.engine.Enroll(ctx, definition.ID, "bob", nil)
	require.NoError(t, err)
	_, err = h.engine.Enroll(ctx, definition.ID, "ghost", nil)
	require.NoError(t, err)

	analytics, err := h.engine.WorkflowAnalytics(ctx, definition.ID)
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowAnalytics{
		WorkflowID:     definition.ID,
		TotalEnrolled:  3,
		Completed:      2,
		Failed:         1,
		CompletionRate: 66.67,
	}, analytics)
}

func TestEngine_TriggerWorkflows(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	welcome := h.saveWorkflow(t, models.TriggerNewSubscriber, testutil.EmailStep("Welcome"))
	tips := h.saveWorkflow(t, models.TriggerNewSubscriber, testutil.EmailStep("Tips"))
	h.saveWorkflow(t, models.TriggerOrderPlaced, testutil.EmailStep("Receipt"))
	h.saveContact(t, ana())

	h.engine.TriggerWorkflows(ctx, models.TriggerNewSubscriber, "contact-ana", map[string]any{"source": "landing"})

	assert.ElementsMatch(t, []string{"Welcome", "Tips"}, h.mail.Subjects())

	for _, id := range []string{welcome.ID, tips.ID} {
		analytics, err := h.engine.WorkflowAnalytics(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, analytics.Completed)
	}
}
