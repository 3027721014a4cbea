package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/provider"
)

// EmailSenderMock mocks the EmailSender interface
type EmailSenderMock struct {
	mock.Mock
}

// SendEmail mocks the SendEmail method
func (m *EmailSenderMock) SendEmail(ctx context.Context, to, subject, html, text string) (provider.SendResult, error) {
	args := m.Called(ctx, to, subject, html, text)
	return args.Get(0).(provider.SendResult), args.Error(1)
}

// SMSSenderMock mocks the SMSSender interface
type SMSSenderMock struct {
	mock.Mock
}

// SendSMS mocks the SendSMS method
func (m *SMSSenderMock) SendSMS(ctx context.Context, to, body string) (provider.SendResult, error) {
	args := m.Called(ctx, to, body)
	return args.Get(0).(provider.SendResult), args.Error(1)
}
