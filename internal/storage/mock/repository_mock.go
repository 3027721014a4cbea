package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
)

// --- Repository Mock (Combined Interface) ---

// RepoMock mocks the combined Repo interface
type RepoMock struct {
	ContactRepoMock
	EventRepoMock
	RegistrationRepoMock
	MessageSendRepoMock
	FunnelStepRepoMock
	ExhaustedTriggerRepoMock
	mock.Mock
}

// Close mocks the Close method
func (m *RepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- ContactRepo Mock ---

// ContactRepoMock mocks the ContactRepo interface
type ContactRepoMock struct {
	mock.Mock
}

// SaveContact mocks the SaveContact method
func (m *ContactRepoMock) SaveContact(ctx context.Context, contact model.Contact) error {
	args := m.Called(ctx, contact)
	return args.Error(0)
}

// FindContactByID mocks the FindContactByID method
func (m *ContactRepoMock) FindContactByID(ctx context.Context, id string) (*model.Contact, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

// --- EventRepo Mock ---

// EventRepoMock mocks the EventRepo interface
type EventRepoMock struct {
	mock.Mock
}

// SaveEvent mocks the SaveEvent method
func (m *EventRepoMock) SaveEvent(ctx context.Context, event model.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// FindEventByID mocks the FindEventByID method
func (m *EventRepoMock) FindEventByID(ctx context.Context, id string) (*model.Event, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Event), args.Error(1)
}

// MarkEventCompleted mocks the MarkEventCompleted method
func (m *EventRepoMock) MarkEventCompleted(ctx context.Context, id string, completedAt time.Time) error {
	args := m.Called(ctx, id, completedAt)
	return args.Error(0)
}

// --- RegistrationRepo Mock ---

// RegistrationRepoMock mocks the RegistrationRepo interface
type RegistrationRepoMock struct {
	mock.Mock
}

// SaveRegistration mocks the SaveRegistration method
func (m *RegistrationRepoMock) SaveRegistration(ctx context.Context, reg model.Registration) error {
	args := m.Called(ctx, reg)
	return args.Error(0)
}

// FindRegistrationByID mocks the FindRegistrationByID method
func (m *RegistrationRepoMock) FindRegistrationByID(ctx context.Context, id string) (*model.Registration, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Registration), args.Error(1)
}

// FindRegistrationsForFanOut mocks the FindRegistrationsForFanOut method
func (m *RegistrationRepoMock) FindRegistrationsForFanOut(ctx context.Context, eventID string) ([]model.Registration, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Registration), args.Error(1)
}

// AppendReminderLog mocks the AppendReminderLog method
func (m *RegistrationRepoMock) AppendReminderLog(ctx context.Context, registrationID, stepLabel string) error {
	args := m.Called(ctx, registrationID, stepLabel)
	return args.Error(0)
}

// --- MessageSendRepo Mock ---

// MessageSendRepoMock mocks the MessageSendRepo interface
type MessageSendRepoMock struct {
	mock.Mock
}

// CreateMessageSend mocks the CreateMessageSend method
func (m *MessageSendRepoMock) CreateMessageSend(ctx context.Context, send model.MessageSend) error {
	args := m.Called(ctx, send)
	return args.Error(0)
}

// UpdateMessageSendStatus mocks the UpdateMessageSendStatus method
func (m *MessageSendRepoMock) UpdateMessageSendStatus(ctx context.Context, id string, status model.MessageSendStatus, fields map[string]interface{}) error {
	args := m.Called(ctx, id, status, fields)
	return args.Error(0)
}

// FindMessageSendByID mocks the FindMessageSendByID method
func (m *MessageSendRepoMock) FindMessageSendByID(ctx context.Context, id string) (*model.MessageSend, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.MessageSend), args.Error(1)
}

// FindMessageSendsByRegistration mocks the FindMessageSendsByRegistration method
func (m *MessageSendRepoMock) FindMessageSendsByRegistration(ctx context.Context, registrationID string) ([]model.MessageSend, error) {
	args := m.Called(ctx, registrationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.MessageSend), args.Error(1)
}

// --- FunnelStepRepo Mock ---

// FunnelStepRepoMock mocks the FunnelStepRepo interface
type FunnelStepRepoMock struct {
	mock.Mock
}

// CreateStep mocks the CreateStep method
func (m *FunnelStepRepoMock) CreateStep(ctx context.Context, step model.FunnelStep) (bool, error) {
	args := m.Called(ctx, step)
	return args.Bool(0), args.Error(1)
}

// FindDueSteps mocks the FindDueSteps method
func (m *FunnelStepRepoMock) FindDueSteps(ctx context.Context, now time.Time, limit int) ([]model.FunnelStep, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.FunnelStep), args.Error(1)
}

// ClaimStep mocks the ClaimStep method
func (m *FunnelStepRepoMock) ClaimStep(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

// FinishStep mocks the FinishStep method
func (m *FunnelStepRepoMock) FinishStep(ctx context.Context, id string, status model.FunnelStepStatus, attempts int, lastError, skipReason string) error {
	args := m.Called(ctx, id, status, attempts, lastError, skipReason)
	return args.Error(0)
}

// RescheduleStep mocks the RescheduleStep method
func (m *FunnelStepRepoMock) RescheduleStep(ctx context.Context, id string, runAt time.Time, attempts int, lastError string) error {
	args := m.Called(ctx, id, runAt, attempts, lastError)
	return args.Error(0)
}

// ReclaimStaleRunning mocks the ReclaimStaleRunning method
func (m *FunnelStepRepoMock) ReclaimStaleRunning(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

// FindStepByKey mocks the FindStepByKey method
func (m *FunnelStepRepoMock) FindStepByKey(ctx context.Context, stepKey string) (*model.FunnelStep, error) {
	args := m.Called(ctx, stepKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FunnelStep), args.Error(1)
}

// --- ExhaustedTriggerRepo Mock ---

// ExhaustedTriggerRepoMock mocks the ExhaustedTriggerRepo interface
type ExhaustedTriggerRepoMock struct {
	mock.Mock
}

// SaveExhaustedTrigger mocks the SaveExhaustedTrigger method
func (m *ExhaustedTriggerRepoMock) SaveExhaustedTrigger(ctx context.Context, trigger model.ExhaustedTrigger) error {
	args := m.Called(ctx, trigger)
	return args.Error(0)
}
