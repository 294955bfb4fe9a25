package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StepType tags the variant carried by a Step.
type StepType string

const (
	StepTypeEmail     StepType = "email"
	StepTypeDelay     StepType = "delay"
	StepTypeCondition StepType = "condition"
)

// DelayUnit is the unit of a delay step amount.
type DelayUnit string

const (
	DelayUnitMinutes DelayUnit = "minutes"
	DelayUnitHours   DelayUnit = "hours"
	DelayUnitDays    DelayUnit = "days"
)

// Operator is a comparison applied by a condition step.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
	OperatorContains    Operator = "contains"
)

// Step is a single unit of work in a workflow. Exactly one of Email, Delay
// or Condition is set, matching Type. Steps with a type the engine does not
// know keep their raw configuration in Raw.
type Step struct {
	Type      StepType
	Email     *EmailStep
	Delay     *DelayStep
	Condition *ConditionStep
	Raw       json.RawMessage
}

// EmailStep holds the unrendered templates and sender identity of an email step.
type EmailStep struct {
	Subject   string `json:"subject"`
	HTMLBody  string `json:"htmlBody"`
	TextBody  string `json:"textBody,omitempty"`
	FromEmail string `json:"fromEmail"`
	FromName  string `json:"fromName"`
}

// DelayStep suspends the enrollment for Amount units.
type DelayStep struct {
	Amount int       `json:"amount"`
	Unit   DelayUnit `json:"unit"`
}

// Duration converts the delay to wall-clock time.
func (d DelayStep) Duration() (time.Duration, error) {
	amount := time.Duration(d.Amount)

	switch normalizeDelayUnit(d.Unit) {
	case DelayUnitMinutes:
		return amount * time.Minute, nil
	case DelayUnitHours:
		return amount * time.Hour, nil
	case DelayUnitDays:
		return amount * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDelayUnit, d.Unit)
	}
}

func normalizeDelayUnit(unit DelayUnit) DelayUnit {
	u := DelayUnit(strings.ToLower(strings.TrimSpace(string(unit))))
	if !strings.HasSuffix(string(u), "s") {
		u += "s"
	}

	return u
}

// ConditionStep compares a field against a value. The branch lists are part
// of the definition but the executor always continues with the next step.
type ConditionStep struct {
	Field      string   `json:"field"`
	Operator   Operator `json:"operator"`
	Value      any      `json:"value"`
	TrueSteps  []Step   `json:"trueSteps,omitempty"`
	FalseSteps []Step   `json:"falseSteps,omitempty"`
}

type stepEnvelope struct {
	Type   StepType        `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON decodes both {"type": t, "config": {...}} and the flat form
// where config fields sit next to the type tag.
func (s *Step) UnmarshalJSON(data []byte) error {
	var envelope stepEnvelope

	err := json.Unmarshal(data, &envelope)
	if err != nil {
		return fmt.Errorf("failed to decode step: %w", err)
	}

	config := envelope.Config
	if len(config) == 0 || string(config) == "null" {
		config = data
	}

	*s = Step{Type: envelope.Type}

	switch envelope.Type {
	case StepTypeEmail:
		s.Email = &EmailStep{}
		err = json.Unmarshal(config, s.Email)
	case StepTypeDelay:
		s.Delay = &DelayStep{}
		err = json.Unmarshal(config, s.Delay)
	case StepTypeCondition:
		s.Condition = &ConditionStep{}
		err = json.Unmarshal(config, s.Condition)
	default:
		s.Raw = append(json.RawMessage(nil), config...)
	}

	if err != nil {
		return fmt.Errorf("failed to decode %s step config: %w", envelope.Type, err)
	}

	return nil
}

// MarshalJSON always writes the enveloped form.
func (s Step) MarshalJSON() ([]byte, error) {
	var config any

	switch {
	case s.Email != nil:
		config = s.Email
	case s.Delay != nil:
		config = s.Delay
	case s.Condition != nil:
		config = s.Condition
	case len(s.Raw) > 0:
		config = s.Raw
	}

	return json.Marshal(struct {
		Type   StepType `json:"type"`
		Config any      `json:"config,omitempty"`
	}{Type: s.Type, Config: config})
}

// NewEmailStep builds an email step.
func NewEmailStep(cfg EmailStep) Step {
	return Step{Type: StepTypeEmail, Email: &cfg}
}

// NewDelayStep builds a delay step.
func NewDelayStep(amount int, unit DelayUnit) Step {
	return Step{Type: StepTypeDelay, Delay: &DelayStep{Amount: amount, Unit: unit}}
}

// NewConditionStep builds a condition step.
func NewConditionStep(cfg ConditionStep) Step {
	return Step{Type: StepTypeCondition, Condition: &cfg}
}
