package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

// JSONSchema represents a JSON Schema for step configuration validation.
type JSONSchema struct {
	Type        string               `json:"type"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
	Title       string               `json:"title,omitempty"`
	Description string               `json:"description,omitempty"`
}

// Property represents a JSON Schema property.
type Property struct {
	Type        string    `json:"type,omitempty"`
	Description string    `json:"description,omitempty"`
	Enum        []any     `json:"enum,omitempty"`
	Minimum     *float64  `json:"minimum,omitempty"`
	MinLength   *int      `json:"minLength,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

// StepSchemas returns the configuration schema of every known step type.
func StepSchemas() map[StepType]*JSONSchema {
	return map[StepType]*JSONSchema{
		StepTypeEmail: {
			Type:  "object",
			Title: "Email step",
			Properties: map[string]*Property{
				"subject":   {Type: "string", MinLength: intPtr(1), Description: "Subject template"},
				"htmlBody":  {Type: "string", Description: "HTML body template"},
				"textBody":  {Type: "string", Description: "Plain text body template"},
				"fromEmail": {Type: "string", MinLength: intPtr(3), Description: "Sender address"},
				"fromName":  {Type: "string", Description: "Sender display name"},
			},
			Required: []string{"subject", "fromEmail"},
		},
		StepTypeDelay: {
			Type:  "object",
			Title: "Delay step",
			Properties: map[string]*Property{
				"amount": {Type: "integer", Minimum: floatPtr(0)},
				"unit": {
					Type: "string",
					Enum: []any{"minute", "minutes", "hour", "hours", "day", "days"},
				},
			},
			Required: []string{"amount", "unit"},
		},
		StepTypeCondition: {
			Type:  "object",
			Title: "Condition step",
			Properties: map[string]*Property{
				"field": {Type: "string", MinLength: intPtr(1)},
				"operator": {
					Type: "string",
					Enum: []any{
						string(OperatorEquals), string(OperatorNotEquals),
						string(OperatorGreaterThan), string(OperatorLessThan), string(OperatorContains),
					},
				},
				"trueSteps":  {Type: "array"},
				"falseSteps": {Type: "array"},
			},
			Required: []string{"field", "operator"},
		},
	}
}

var (
	stepSchemaOnce   sync.Once
	stepSchemaLoaded map[StepType]*gojsonschema.Schema
	stepSchemaErr    error
	definitionCheck  = validator.New(validator.WithRequiredStructEnabled())
)

func compiledStepSchemas() (map[StepType]*gojsonschema.Schema, error) {
	stepSchemaOnce.Do(func() {
		stepSchemaLoaded = make(map[StepType]*gojsonschema.Schema)

		for stepType, schema := range StepSchemas() {
			raw, err := json.Marshal(schema)
			if err != nil {
				stepSchemaErr = fmt.Errorf("failed to marshal %s schema: %w", stepType, err)

				return
			}

			compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
			if err != nil {
				stepSchemaErr = fmt.Errorf("failed to compile %s schema: %w", stepType, err)

				return
			}

			stepSchemaLoaded[stepType] = compiled
		}
	})

	return stepSchemaLoaded, stepSchemaErr
}

// ValidateWorkflowDefinition checks the definition fields and every step's
// configuration against its schema. Unknown step types are rejected.
func ValidateWorkflowDefinition(workflow *WorkflowDefinition) error {
	if workflow == nil {
		return fmt.Errorf("%w: definition is nil", ErrInvalidWorkflowDefinition)
	}

	err := definitionCheck.Struct(workflow)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidWorkflowDefinition, err)
	}

	schemas, err := compiledStepSchemas()
	if err != nil {
		return err
	}

	var problems []error

	for i, step := range workflow.Steps {
		err := validateStep(schemas, step)
		if err != nil {
			problems = append(problems, fmt.Errorf("step %d: %w", i, err))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidWorkflowDefinition, errors.Join(problems...))
	}

	return nil
}

func validateStep(schemas map[StepType]*gojsonschema.Schema, step Step) error {
	schema, ok := schemas[step.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStepType, step.Type)
	}

	encoded, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("failed to encode step: %w", err)
	}

	var envelope stepEnvelope

	err = json.Unmarshal(encoded, &envelope)
	if err != nil {
		return fmt.Errorf("failed to decode step envelope: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(envelope.Config))
	if err != nil {
		return fmt.Errorf("failed to validate step config: %w", err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return fmt.Errorf("invalid %s config: %s", step.Type, strings.Join(messages, "; "))
	}

	if step.Condition != nil {
		for _, branch := range [][]Step{step.Condition.TrueSteps, step.Condition.FalseSteps} {
			for i, nested := range branch {
				err := validateStep(schemas, nested)
				if err != nil {
					return fmt.Errorf("branch step %d: %w", i, err)
				}
			}
		}
	}

	return nil
}
