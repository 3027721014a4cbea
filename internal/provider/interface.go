package provider

import "context"

// SendResult is what a delivery provider reports back on acceptance.
type SendResult struct {
	ProviderID string
}

// EmailSender delivers one rendered email. Errors are pre-classified into
// retryable or fatal by the implementation.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, html, text string) (SendResult, error)
}

// SMSSender delivers one rendered SMS body to an E.164 number.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) (SendResult, error)
}
