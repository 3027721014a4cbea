package model

import (
	"encoding/json"
	"time"
)

// EnrolledPayload is the body of an event.enrolled trigger.
type EnrolledPayload struct {
	ContactID        string    `json:"contact_id" validate:"required"`
	EventID          string    `json:"event_id" validate:"required"`
	RegistrationID   string    `json:"registration_id" validate:"required"`
	EventTitle       string    `json:"event_title"`
	EventScheduledAt time.Time `json:"event_scheduled_at" validate:"required"`
	ContactEmail     string    `json:"contact_email" validate:"omitempty,email"`
	ContactFirstName string    `json:"contact_first_name"`
	ContactLastName  string    `json:"contact_last_name"`
	ContactPhone     string    `json:"contact_phone"`
	JoinURL          string    `json:"join_url"`
}

// CompletedPayload is the body of an event.completed trigger.
type CompletedPayload struct {
	EventID    string `json:"event_id" validate:"required"`
	EventTitle string `json:"event_title"`
	// CompletedAt may be zero; the post-event funnel falls back to now.
	CompletedAt time.Time `json:"completed_at"`
}

// DLQPayload wraps a trigger that could not be processed, carrying enough
// context for the DLQ worker to replay it and for operators to inspect it.
type DLQPayload struct {
	SourceSubject   string          `json:"source_subject"`
	OriginalPayload json.RawMessage `json:"original_payload"`
	Error           string          `json:"error"`
	ErrorType       string          `json:"error_type"` // "retryable" or "fatal"
	RetryCount      uint64          `json:"retry_count"`
	MaxRetry        int             `json:"max_retry"`
	Timestamp       time.Time       `json:"timestamp"`
}

// SendRequestPayload is the body of a message.send trigger: an internal
// one-off dispatch request outside any funnel.
type SendRequestPayload struct {
	ContactID      string  `json:"contact_id" validate:"required"`
	RegistrationID string  `json:"registration_id"`
	CampaignID     string  `json:"campaign_id"`
	TemplateID     string  `json:"template_id" validate:"required"`
	Channel        Channel `json:"channel" validate:"required,oneof=email sms"`
	StepType       string  `json:"step_type"`
}
