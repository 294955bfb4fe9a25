package models

// StepJob is the payload of a scheduled continuation: resume enrollment
// EnrollmentID at StepIndex.
type StepJob struct {
	EnrollmentID string         `json:"enrollment_id"`
	WorkflowID   string         `json:"workflow_id"`
	ContactID    string         `json:"contact_id"`
	StepIndex    int            `json:"step_index"`
	TriggerData  map[string]any `json:"trigger_data,omitempty"`
}

// Next returns the job that resumes at the following step.
func (j StepJob) Next() StepJob {
	j.StepIndex++

	return j
}

// SchedulerStats counts scheduled jobs by state.
type SchedulerStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}
