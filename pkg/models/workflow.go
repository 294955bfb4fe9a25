// Package models defines the core domain models for contact journey automation.
package models

import (
	"fmt"
	"strings"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft  WorkflowStatus = "draft"  // Editable, never enrolls
	WorkflowStatusActive WorkflowStatus = "active" // Enrolls contacts and advances enrollments
	WorkflowStatusPaused WorkflowStatus = "paused" // In-flight enrollments exit at the next step
)

// TriggerType is the business event that enrolls contacts into a workflow.
type TriggerType string

const (
	TriggerNewSubscriber TriggerType = "new_subscriber"
	TriggerCartAbandoned TriggerType = "cart_abandoned"
	TriggerOrderPlaced   TriggerType = "order_placed"
	TriggerOrderShipped  TriggerType = "order_shipped"
	TriggerCustom        TriggerType = "custom"
)

var triggerTypes = []TriggerType{
	TriggerNewSubscriber,
	TriggerCartAbandoned,
	TriggerOrderPlaced,
	TriggerOrderShipped,
	TriggerCustom,
}

// ParseTriggerType accepts both the snake_case and hyphenated spellings.
func ParseTriggerType(value string) (TriggerType, error) {
	normalized := TriggerType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_"))

	for _, t := range triggerTypes {
		if t == normalized {
			return t, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownTriggerType, value)
}

// WorkflowDefinition is an ordered list of steps bound to a trigger.
// Steps are addressed by index from enrollments, so they must not be
// reordered while enrollments reference the definition.
type WorkflowDefinition struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"         validate:"required"`
	TriggerType TriggerType    `json:"trigger_type" validate:"required,oneof=new_subscriber cart_abandoned order_placed order_shipped custom"`
	Status      WorkflowStatus `json:"status"       validate:"required,oneof=draft active paused"`
	Steps       []Step         `json:"steps"        validate:"dive"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// IsActive reports whether the definition enrolls and advances contacts.
func (w *WorkflowDefinition) IsActive() bool {
	return w.Status == WorkflowStatusActive
}
