// Package mail hands rendered emails to the mail transport.
package mail

import (
	"context"
	"log/slog"

	"github.com/dukex/journeys/pkg/eventbus"
	"github.com/dukex/journeys/pkg/events"
)

const (
	ContentTypeHTML = "text/html"
	ContentTypeText = "text/plain"
)

type Recipient struct {
	Email string
	Name  string
}

type Content struct {
	Type  string
	Value string
}

// Email is a fully rendered message ready for delivery.
type Email struct {
	To          []Recipient
	From        Recipient
	Subject     string
	Content     []Content
	TrackOpens  bool
	TrackClicks bool
}

// Queue accepts emails for asynchronous delivery. QueueEmail returns once the
// email is handed off; delivery outcome is not reported back.
type Queue interface {
	QueueEmail(ctx context.Context, email Email) error
}

// EventBusQueue publishes emails as email.queued events.
type EventBusQueue struct {
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewEventBusQueue(publisher eventbus.EventPublisher, logger *slog.Logger) *EventBusQueue {
	return &EventBusQueue{
		publisher: publisher,
		logger:    logger.With("module", "mail_queue"),
	}
}

func (q *EventBusQueue) QueueEmail(ctx context.Context, email Email) error {
	event := events.EmailQueued{
		BaseEvent:   events.NewBaseEvent(events.EmailQueuedEvent),
		From:        events.EmailAddress{Email: email.From.Email, Name: email.From.Name},
		Subject:     email.Subject,
		TrackOpens:  email.TrackOpens,
		TrackClicks: email.TrackClicks,
	}

	for _, to := range email.To {
		event.To = append(event.To, events.EmailAddress{Email: to.Email, Name: to.Name})
	}

	for _, content := range email.Content {
		event.Content = append(event.Content, events.EmailContent{Type: content.Type, Value: content.Value})
	}

	key := ""
	if len(email.To) > 0 {
		key = email.To[0].Email
	}

	err := q.publisher.Publish(ctx, key, event)
	if err != nil {
		return err
	}

	q.logger.DebugContext(ctx, "email queued", "event_id", event.ID, "subject", email.Subject)

	return nil
}

// LogQueue only logs emails. Used when no mail transport is attached.
type LogQueue struct {
	logger *slog.Logger
}

func NewLogQueue(logger *slog.Logger) *LogQueue {
	return &LogQueue{logger: logger.With("module", "mail_queue")}
}

func (q *LogQueue) QueueEmail(ctx context.Context, email Email) error {
	recipients := make([]string, 0, len(email.To))
	for _, to := range email.To {
		recipients = append(recipients, to.Email)
	}

	q.logger.InfoContext(ctx, "email queued",
		"to", recipients,
		"from", email.From.Email,
		"subject", email.Subject,
		"parts", len(email.Content))

	return nil
}
