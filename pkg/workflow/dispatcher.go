package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/journeys/pkg/events"
	"github.com/dukex/journeys/pkg/models"
	"github.com/dukex/journeys/pkg/otelhelper"
	"github.com/dukex/journeys/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Dispatcher enrolls contacts into every active workflow listening to a trigger.
type Dispatcher struct {
	workflows persistence.WorkflowRepository
	manager   *EnrollmentManager
	tracer    trace.Tracer
	logger    *slog.Logger
}

func NewDispatcher(workflows persistence.WorkflowRepository, manager *EnrollmentManager, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		workflows: workflows,
		manager:   manager,
		tracer:    otelhelper.Tracer("journeys/workflow"),
		logger:    logger.With("module", "trigger_dispatcher"),
	}
}

// TriggerWorkflows enrolls the contact in each matching workflow. A failing
// workflow is logged and does not prevent enrollment into the others.
func (d *Dispatcher) TriggerWorkflows(ctx context.Context, trigger models.TriggerType, contactID string, triggerData map[string]any) {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "workflow.trigger",
		attribute.String(otelhelper.TriggerTypeKey, string(trigger)),
		attribute.String(otelhelper.ContactIDKey, contactID),
	)
	defer span.End()

	logger := d.logger.With("trigger", trigger, "contact_id", contactID)

	workflows, err := d.workflows.GetActiveByTrigger(ctx, trigger)
	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "failed to load workflows for trigger", "error", err)

		return
	}

	if len(workflows) == 0 {
		logger.DebugContext(ctx, "no active workflows for trigger")

		return
	}

	for _, workflow := range workflows {
		enrollmentID, err := d.enroll(ctx, workflow.ID, contactID, triggerData)
		if err != nil {
			logger.ErrorContext(ctx, "failed to enroll contact", "workflow_id", workflow.ID, "error", err)

			continue
		}

		logger.DebugContext(ctx, "contact enrollment dispatched", "workflow_id", workflow.ID, "enrollment_id", enrollmentID)
	}
}

func (d *Dispatcher) enroll(ctx context.Context, workflowID, contactID string, triggerData map[string]any) (id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("enrollment panicked: %v", r)
		}
	}()

	return d.manager.Enroll(ctx, workflowID, contactID, copyData(triggerData))
}

// HandleContactTriggered is the event bus handler for contact.triggered events.
func (d *Dispatcher) HandleContactTriggered(ctx context.Context, event any) error {
	var triggered *events.ContactTriggered

	switch e := event.(type) {
	case *events.ContactTriggered:
		triggered = e
	case events.ContactTriggered:
		triggered = &e
	default:
		return fmt.Errorf("unexpected event %T", event)
	}

	trigger, err := models.ParseTriggerType(triggered.Trigger)
	if err != nil {
		// Unknown triggers never match a workflow.
		d.logger.WarnContext(ctx, "ignoring event with unknown trigger", "event_id", triggered.ID, "trigger", triggered.Trigger)

		return nil
	}

	d.TriggerWorkflows(ctx, trigger, triggered.ContactID, triggered.TriggerData)

	return nil
}

// copyData gives each enrollment its own snapshot of the trigger data.
func copyData(data map[string]any) map[string]any {
	copied := make(map[string]any, len(data))
	for k, v := range data {
		copied[k] = v
	}

	return copied
}
