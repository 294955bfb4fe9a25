// Package condition evaluates condition steps against contact attributes and
// enrollment trigger data.
package condition

import (
	"context"
	"log/slog"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/dukex/journeys/pkg/models"
	"github.com/dukex/journeys/pkg/persistence"
	"github.com/dukex/journeys/pkg/template"
)

const (
	contactPrefix = "contact."
	triggerPrefix = "trigger."
)

// Evaluator resolves field paths and applies comparison operators. It never
// returns an error: a contact that cannot be loaded evaluates to false, and a
// missing field only satisfies not_equals.
type Evaluator struct {
	contacts persistence.ContactRepository
	logger   *slog.Logger
}

func NewEvaluator(contacts persistence.ContactRepository, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		contacts: contacts,
		logger:   logger.With("module", "condition"),
	}
}

// Evaluate resolves field for the contact and compares it with value.
// "contact.<attr>" reads the stored contact, "trigger.<path>" or a bare path
// reads triggerData.
func (e *Evaluator) Evaluate(
	ctx context.Context,
	contactID string,
	field string,
	operator models.Operator,
	value any,
	triggerData map[string]any,
) bool {
	actual, ok, err := e.resolve(ctx, contactID, field, triggerData)
	if err != nil {
		e.logger.WarnContext(ctx, "failed to load contact for condition",
			"contact_id", contactID, "field", field, "error", err)

		return false
	}

	if !ok {
		return operator == models.OperatorNotEquals
	}

	return Compare(actual, operator, value)
}

func (e *Evaluator) resolve(
	ctx context.Context,
	contactID, field string,
	triggerData map[string]any,
) (any, bool, error) {
	if attr, found := strings.CutPrefix(field, contactPrefix); found {
		contact, err := e.contacts.GetByID(ctx, contactID)
		if err != nil {
			return nil, false, err
		}

		actual, ok := contact.Attribute(attr)

		return actual, ok, nil
	}

	actual, ok := template.Lookup(triggerData, strings.TrimPrefix(field, triggerPrefix))

	return actual, ok, nil
}

// Compare applies operator to a resolved field value. Unknown operators are false.
func Compare(actual any, operator models.Operator, expected any) bool {
	switch operator {
	case models.OperatorEquals:
		return strictEqual(actual, expected)
	case models.OperatorNotEquals:
		return !strictEqual(actual, expected)
	case models.OperatorGreaterThan:
		a, b := toNumber(actual), toNumber(expected)

		return !math.IsNaN(a) && !math.IsNaN(b) && a > b
	case models.OperatorLessThan:
		a, b := toNumber(actual), toNumber(expected)

		return !math.IsNaN(a) && !math.IsNaN(b) && a < b
	case models.OperatorContains:
		return strings.Contains(template.Stringify(actual), template.Stringify(expected))
	default:
		return false
	}
}

// strictEqual compares without cross-type coercion, except that numbers of
// different Go types compare by value (JSON decoding yields float64).
func strictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	an, aNumeric := numeric(a)
	bn, bNumeric := numeric(b)

	if aNumeric || bNumeric {
		return aNumeric && bNumeric && an == bn
	}

	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}

	return a == b
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// toNumber coerces v for ordering comparisons; NaN marks values with no
// numeric reading.
func toNumber(v any) float64 {
	if n, ok := numeric(v); ok {
		return n
	}

	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}

		return 0
	case string:
		trimmed := strings.TrimSpace(t)
		if trimmed == "" {
			return 0
		}

		n, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}

		return n
	default:
		return math.NaN()
	}
}
