// Package template renders email subjects and bodies against a contact context.
package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dukex/journeys/pkg/models"
)

var placeholder = regexp.MustCompile(`\{\{\s*\.?([A-Za-z0-9_\-]+(?:\.[A-Za-z0-9_\-]+)*)\s*\}\}`)

// Render substitutes {{ key }} and {{ nested.key }} placeholders with values
// from data. Unknown keys render as the empty string; Render never fails.
func Render(templateStr string, data map[string]any) string {
	if !strings.Contains(templateStr, "{{") {
		return templateStr
	}

	return placeholder.ReplaceAllStringFunc(templateStr, func(match string) string {
		path := placeholder.FindStringSubmatch(match)[1]

		value, ok := Lookup(data, path)
		if !ok {
			return ""
		}

		return Stringify(value)
	})
}

// Lookup resolves a dotted path through nested maps. A key containing dots
// is matched verbatim before the path is split.
func Lookup(data map[string]any, path string) (any, bool) {
	if data == nil {
		return nil, false
	}

	if value, ok := data[path]; ok {
		return value, true
	}

	head, rest, found := strings.Cut(path, ".")
	if !found {
		return nil, false
	}

	value, ok := data[head]
	if !ok {
		return nil, false
	}

	switch nested := value.(type) {
	case map[string]any:
		return Lookup(nested, rest)
	case map[string]string:
		converted := make(map[string]any, len(nested))
		for k, v := range nested {
			converted[k] = v
		}

		return Lookup(converted, rest)
	default:
		return nil, false
	}
}

// Stringify formats a context value the way it should appear in an email.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ContactContext merges contact fields with the enrollment trigger data.
// Trigger data wins on key collisions; both are also reachable under the
// "contact" and "trigger" prefixes.
func ContactContext(contact *models.Contact, triggerData map[string]any) map[string]any {
	merged := make(map[string]any)

	var contactFields map[string]any
	if contact != nil {
		contactFields = contact.TemplateFields()
	}

	for k, v := range contactFields {
		merged[k] = v
	}

	for k, v := range triggerData {
		merged[k] = v
	}

	merged["contact"] = contactFields
	merged["trigger"] = triggerData

	return merged
}
