// Package events defines the business events exchanged with the rest of the platform.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Kafka topics.
const Topic = "journeys.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// ContactTriggeredEvent is published by the platform when a business event
	// happens to a contact (signup, abandoned cart, order).
	ContactTriggeredEvent EventType = "contact.triggered"

	// EmailQueuedEvent is published by the engine for the mail transport.
	EmailQueuedEvent EventType = "email.queued"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]any),
	}
}

// ContactTriggered asks the engine to enroll a contact into every active
// workflow listening to Trigger.
type ContactTriggered struct {
	BaseEvent

	Trigger     string         `json:"trigger"`
	ContactID   string         `json:"contact_id"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

func (c ContactTriggered) GetType() EventType {
	return ContactTriggeredEvent
}

type EmailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type EmailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// EmailQueued carries a rendered email to the mail transport.
type EmailQueued struct {
	BaseEvent

	To          []EmailAddress `json:"to"`
	From        EmailAddress   `json:"from"`
	Subject     string         `json:"subject"`
	Content     []EmailContent `json:"content"`
	TrackOpens  bool           `json:"track_opens"`
	TrackClicks bool           `json:"track_clicks"`
}

func (e EmailQueued) GetType() EventType {
	return EmailQueuedEvent
}
