// Package web provides HTTP request and response types for the engine's operational API.
package web

import "github.com/dukex/journeys/pkg/models"

// TriggerRequest reports a business event for a contact.
type TriggerRequest struct {
	Trigger     string         `json:"trigger"      validate:"required"`
	ContactID   string         `json:"contact_id"   validate:"required"`
	TriggerData map[string]any `json:"trigger_data"`
}

// EnrollRequest enrolls a contact into a single workflow.
type EnrollRequest struct {
	ContactID   string         `json:"contact_id"   validate:"required"`
	TriggerData map[string]any `json:"trigger_data"`
}

type EnrollResponse struct {
	EnrollmentID string `json:"enrollment_id"`
}

type SchedulerStatsResponse struct {
	models.SchedulerStats

	Mode string `json:"mode"`
}
