package models

import (
	"strings"
	"time"
	"unicode"
)

// SubscriptionStatusSubscribed is the only state in which email steps send.
const SubscriptionStatusSubscribed = "subscribed"

// Contact is the read-only view of a marketing contact used by the engine.
type Contact struct {
	ID                 string         `json:"id"`
	Email              string         `json:"email"`
	FirstName          string         `json:"first_name,omitempty"`
	LastName           string         `json:"last_name,omitempty"`
	SubscriptionStatus string         `json:"subscription_status"`
	Attributes         map[string]any `json:"attributes,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// IsSubscribed reports whether email steps may send to the contact.
func (c *Contact) IsSubscribed() bool {
	return c.SubscriptionStatus == SubscriptionStatusSubscribed
}

// Attribute resolves a contact attribute by name. Built-in fields accept
// camelCase and snake_case spellings; anything else is looked up in Attributes.
func (c *Contact) Attribute(name string) (any, bool) {
	switch toSnakeCase(name) {
	case "id":
		return c.ID, true
	case "email":
		return c.Email, true
	case "first_name":
		return c.FirstName, true
	case "last_name":
		return c.LastName, true
	case "subscription_status":
		return c.SubscriptionStatus, true
	}

	value, ok := c.Attributes[name]

	return value, ok
}

// TemplateFields returns the contact as a template context.
func (c *Contact) TemplateFields() map[string]any {
	fields := make(map[string]any, len(c.Attributes)+8)

	for k, v := range c.Attributes {
		fields[k] = v
	}

	fields["id"] = c.ID
	fields["email"] = c.Email
	fields["first_name"] = c.FirstName
	fields["firstName"] = c.FirstName
	fields["last_name"] = c.LastName
	fields["lastName"] = c.LastName
	fields["subscription_status"] = c.SubscriptionStatus
	fields["subscriptionStatus"] = c.SubscriptionStatus

	return fields
}

func toSnakeCase(name string) string {
	var b strings.Builder

	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}

			r = unicode.ToLower(r)
		}

		b.WriteRune(r)
	}

	return b.String()
}
