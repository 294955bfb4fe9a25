package mail_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dukex/journeys/pkg/events"
	"github.com/dukex/journeys/pkg/mail"
	"github.com/dukex/journeys/pkg/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEmail() mail.Email {
	return mail.Email{
		To:      []mail.Recipient{{Email: "ana@example.com", Name: "Ana"}},
		From:    mail.Recipient{Email: "shop@example.com", Name: "Shop"},
		Subject: "Welcome Ana",
		Content: []mail.Content{
			{Type: mail.ContentTypeHTML, Value: "<p>Hi Ana</p>"},
			{Type: mail.ContentTypeText, Value: "Hi Ana"},
		},
		TrackOpens:  true,
		TrackClicks: true,
	}
}

func TestEventBusQueue_PublishesEmailQueued(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "ana@example.com", mock.MatchedBy(func(event events.EmailQueued) bool {
		return event.Subject == "Welcome Ana" &&
			len(event.To) == 1 && event.To[0].Name == "Ana" &&
			event.From.Email == "shop@example.com" &&
			len(event.Content) == 2 && event.Content[1].Type == mail.ContentTypeText &&
			event.TrackOpens && event.TrackClicks &&
			event.ID != ""
	})).Return(nil)

	queue := mail.NewEventBusQueue(bus, discardLogger())

	require.NoError(t, queue.QueueEmail(context.Background(), testEmail()))
	bus.AssertExpectations(t)
}

func TestEventBusQueue_PublishError(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	queue := mail.NewEventBusQueue(bus, discardLogger())

	err := queue.QueueEmail(context.Background(), testEmail())
	assert.EqualError(t, err, "broker down")
}

func TestLogQueue(t *testing.T) {
	queue := mail.NewLogQueue(discardLogger())

	assert.NoError(t, queue.QueueEmail(context.Background(), testEmail()))
}
