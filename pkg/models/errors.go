package models

import "errors"

var (
	// ErrUnknownStepType indicates a step whose type tag the executor cannot dispatch.
	ErrUnknownStepType = errors.New("unknown step type")

	// ErrInvalidDelayUnit indicates a delay step with an unsupported unit.
	ErrInvalidDelayUnit = errors.New("invalid delay unit")

	// ErrUnknownTriggerType indicates a trigger name outside the supported set.
	ErrUnknownTriggerType = errors.New("unknown trigger type")

	// ErrInvalidWorkflowDefinition wraps validation failures of a definition.
	ErrInvalidWorkflowDefinition = errors.New("invalid workflow definition")
)
