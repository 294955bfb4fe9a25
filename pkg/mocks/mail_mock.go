package mocks

import (
	"context"

	"github.com/dukex/journeys/pkg/mail"
	"github.com/stretchr/testify/mock"
)

// MockMailQueue is a mock implementation of mail.Queue interface.
type MockMailQueue struct {
	mock.Mock
}

func (m *MockMailQueue) QueueEmail(ctx context.Context, email mail.Email) error {
	args := m.Called(ctx, email)

	return args.Error(0)
}
