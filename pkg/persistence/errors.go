// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow definition was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrContactNotFound indicates a contact was not found by the given identifier.
	ErrContactNotFound = errors.New("contact not found")

	// ErrEnrollmentNotFound indicates an enrollment was not found.
	ErrEnrollmentNotFound = errors.New("enrollment not found")
)

// EnrollmentError wraps enrollment-related errors with additional context.
type EnrollmentError struct {
	Op           string // Operation being performed (e.g., "GetByID", "UpdateStatus")
	EnrollmentID string // Enrollment ID if applicable
	Err          error  // Underlying error
}

func (e *EnrollmentError) Error() string {
	return fmt.Sprintf("%s operation failed for enrollment %s: %v", e.Op, e.EnrollmentID, e.Err)
}

func (e *EnrollmentError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for enrollment errors.
func (e *EnrollmentError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEnrollmentError creates a new enrollment error with context.
func NewEnrollmentError(op, enrollmentID string, err error) *EnrollmentError {
	return &EnrollmentError{
		Op:           op,
		EnrollmentID: enrollmentID,
		Err:          err,
	}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsContactNotFound checks if an error indicates a contact was not found.
func IsContactNotFound(err error) bool {
	return errors.Is(err, ErrContactNotFound)
}

// IsEnrollmentNotFound checks if an error indicates an enrollment was not found.
func IsEnrollmentNotFound(err error) bool {
	return errors.Is(err, ErrEnrollmentNotFound)
}
