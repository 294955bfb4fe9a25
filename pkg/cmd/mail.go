package cmd

import (
	"fmt"
	"log/slog"

	"github.com/dukex/journeys/pkg/eventbus"
	"github.com/dukex/journeys/pkg/mail"
)

// NewMailQueue returns the mail collaborator: "eventbus" publishes
// email.queued events on bus, "log" only logs.
func NewMailQueue(provider string, bus eventbus.EventPublisher, logger *slog.Logger) (mail.Queue, error) {
	switch provider {
	case "eventbus":
		if bus == nil {
			return nil, fmt.Errorf("mail queue %q requires an event bus", provider)
		}

		return mail.NewEventBusQueue(bus, logger), nil
	case "log", "":
		return mail.NewLogQueue(logger), nil
	default:
		return nil, fmt.Errorf("unsupported mail queue: %s", provider)
	}
}
