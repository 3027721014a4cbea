package storage

import (
	"context"
	"time"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
)

// ContactRepo persists contacts and their consent state.
type ContactRepo interface {
	SaveContact(ctx context.Context, contact model.Contact) error
	FindContactByID(ctx context.Context, id string) (*model.Contact, error)
}

// EventRepo persists events.
type EventRepo interface {
	SaveEvent(ctx context.Context, event model.Event) error
	FindEventByID(ctx context.Context, id string) (*model.Event, error)
	MarkEventCompleted(ctx context.Context, id string, completedAt time.Time) error
}

// RegistrationRepo persists registrations and their attendance state.
type RegistrationRepo interface {
	SaveRegistration(ctx context.Context, reg model.Registration) error
	FindRegistrationByID(ctx context.Context, id string) (*model.Registration, error)
	FindRegistrationsForFanOut(ctx context.Context, eventID string) ([]model.Registration, error)
	AppendReminderLog(ctx context.Context, registrationID, stepLabel string) error
}

// MessageSendRepo persists the per-message delivery ledger.
type MessageSendRepo interface {
	CreateMessageSend(ctx context.Context, send model.MessageSend) error
	UpdateMessageSendStatus(ctx context.Context, id string, status model.MessageSendStatus, fields map[string]interface{}) error
	FindMessageSendByID(ctx context.Context, id string) (*model.MessageSend, error)
	FindMessageSendsByRegistration(ctx context.Context, registrationID string) ([]model.MessageSend, error)
}

// FunnelStepRepo is the durable execution ledger the scheduler polls.
type FunnelStepRepo interface {
	CreateStep(ctx context.Context, step model.FunnelStep) (created bool, err error)
	FindDueSteps(ctx context.Context, now time.Time, limit int) ([]model.FunnelStep, error)
	ClaimStep(ctx context.Context, id string) (bool, error)
	FinishStep(ctx context.Context, id string, status model.FunnelStepStatus, attempts int, lastError, skipReason string) error
	RescheduleStep(ctx context.Context, id string, runAt time.Time, attempts int, lastError string) error
	ReclaimStaleRunning(ctx context.Context, olderThan time.Time) (int64, error)
	FindStepByKey(ctx context.Context, stepKey string) (*model.FunnelStep, error)
}

// ExhaustedTriggerRepo records triggers that ran out of redeliveries.
type ExhaustedTriggerRepo interface {
	SaveExhaustedTrigger(ctx context.Context, trigger model.ExhaustedTrigger) error
}

// Repo bundles every repository surface backed by a single Postgres store.
type Repo interface {
	ContactRepo
	EventRepo
	RegistrationRepo
	MessageSendRepo
	FunnelStepRepo
	ExhaustedTriggerRepo
	Close(ctx context.Context) error
}

var _ Repo = (*PostgresRepo)(nil)
