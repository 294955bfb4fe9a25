// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/dukex/journeys/pkg/models"
)

// CreateTestWorkflow creates an active new-subscriber workflow with no steps
// and applies the overrides in order.
func CreateTestWorkflow(overrides ...func(*models.WorkflowDefinition)) *models.WorkflowDefinition {
	definition := &models.WorkflowDefinition{
		Name:        "Test Workflow",
		TriggerType: models.TriggerNewSubscriber,
		Status:      models.WorkflowStatusActive,
	}

	for _, override := range overrides {
		override(definition)
	}

	return definition
}

// WithTrigger sets the trigger that enrolls contacts into the workflow.
func WithTrigger(trigger models.TriggerType) func(*models.WorkflowDefinition) {
	return func(w *models.WorkflowDefinition) {
		w.TriggerType = trigger
	}
}

// WithSteps replaces the workflow steps.
func WithSteps(steps ...models.Step) func(*models.WorkflowDefinition) {
	return func(w *models.WorkflowDefinition) {
		w.Steps = steps
	}
}

func WithStatus(status models.WorkflowStatus) func(*models.WorkflowDefinition) {
	return func(w *models.WorkflowDefinition) {
		w.Status = status
	}
}

// EmailStep creates an email step whose HTML body repeats the subject.
func EmailStep(subject string) models.Step {
	return models.NewEmailStep(models.EmailStep{
		Subject:   subject,
		HTMLBody:  "<p>" + subject + "</p>",
		FromEmail: "team@example.com",
		FromName:  "Team",
	})
}

// CreateTestContact creates a subscribed contact and applies the overrides in order.
func CreateTestContact(id, firstName string, overrides ...func(*models.Contact)) *models.Contact {
	contact := &models.Contact{
		ID:                 id,
		Email:              id + "@example.com",
		FirstName:          firstName,
		SubscriptionStatus: models.SubscriptionStatusSubscribed,
	}

	for _, override := range overrides {
		override(contact)
	}

	return contact
}

func WithUnsubscribed() func(*models.Contact) {
	return func(c *models.Contact) {
		c.SubscriptionStatus = "unsubscribed"
	}
}
