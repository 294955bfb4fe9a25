package models

import (
	"math"
	"time"
)

// EnrollmentStatus is the lifecycle state of one contact's traversal of a workflow.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusExited    EnrollmentStatus = "exited"
	EnrollmentStatusFailed    EnrollmentStatus = "failed"
)

// IsTerminal reports whether the status can no longer advance.
func (s EnrollmentStatus) IsTerminal() bool {
	return s == EnrollmentStatusCompleted || s == EnrollmentStatusExited || s == EnrollmentStatusFailed
}

// Enrollment tracks a contact moving through a workflow definition.
// TriggerData is captured once at enrollment and threaded through every step.
type Enrollment struct {
	ID               string           `json:"id"`
	WorkflowID       string           `json:"workflow_id"`
	ContactID        string           `json:"contact_id"`
	CurrentStepIndex int              `json:"current_step_index"`
	Status           EnrollmentStatus `json:"status"`
	TriggerData      map[string]any   `json:"trigger_data,omitempty"`
	EnrolledAt       time.Time        `json:"enrolled_at"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
}

// WorkflowAnalytics summarizes enrollments of a workflow by status.
type WorkflowAnalytics struct {
	WorkflowID     string  `json:"workflow_id"`
	TotalEnrolled  int     `json:"total_enrolled"`
	Active         int     `json:"active"`
	Completed      int     `json:"completed"`
	Exited         int     `json:"exited"`
	Failed         int     `json:"failed"`
	CompletionRate float64 `json:"completion_rate"`
}

// NewWorkflowAnalytics builds analytics from per-status counts. CompletionRate
// is a percentage rounded to two decimals.
func NewWorkflowAnalytics(workflowID string, counts map[EnrollmentStatus]int) WorkflowAnalytics {
	analytics := WorkflowAnalytics{
		WorkflowID: workflowID,
		Active:     counts[EnrollmentStatusActive],
		Completed:  counts[EnrollmentStatusCompleted],
		Exited:     counts[EnrollmentStatusExited],
		Failed:     counts[EnrollmentStatusFailed],
	}

	analytics.TotalEnrolled = analytics.Active + analytics.Completed + analytics.Exited + analytics.Failed

	if analytics.TotalEnrolled > 0 {
		rate := float64(analytics.Completed) / float64(analytics.TotalEnrolled) * 100
		analytics.CompletionRate = math.Round(rate*100) / 100
	}

	return analytics
}
