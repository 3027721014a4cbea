package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/apperrors"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/config"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/consent"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/provider"
	providermock "github.com/ceremoniacircle/myxelium-backend-sub000/internal/provider/mock"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/quiethours"
	storagemock "github.com/ceremoniacircle/myxelium-backend-sub000/internal/storage/mock"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/template"
)

type dispatcherFixture struct {
	contacts      *storagemock.ContactRepoMock
	events        *storagemock.EventRepoMock
	registrations *storagemock.RegistrationRepoMock
	sends         *storagemock.MessageSendRepoMock
	email         *providermock.EmailSenderMock
	sms           *providermock.SMSSenderMock
	dispatcher    *Dispatcher
}

// newFixture builds a dispatcher whose quiet-hours window spans the whole
// day, so tests are independent of wall-clock time unless they override it.
func newFixture(quietCfg config.QuietHoursConfig) *dispatcherFixture {
	f := &dispatcherFixture{
		contacts:      new(storagemock.ContactRepoMock),
		events:        new(storagemock.EventRepoMock),
		registrations: new(storagemock.RegistrationRepoMock),
		sends:         new(storagemock.MessageSendRepoMock),
		email:         new(providermock.EmailSenderMock),
		sms:           new(providermock.SMSSenderMock),
	}
	f.dispatcher = NewDispatcher(
		consent.NewGate(f.contacts),
		quiethours.NewScheduler(quietCfg),
		f.events,
		f.registrations,
		f.sends,
		f.email,
		f.sms,
		rate.NewLimiter(rate.Inf, 0),
		"America/Denver",
	)
	return f
}

func alwaysOpen() config.QuietHoursConfig {
	return config.QuietHoursConfig{StartHour: 0, EndHour: 24, DefaultTimezone: "UTC"}
}

func alwaysQuiet() config.QuietHoursConfig {
	return config.QuietHoursConfig{StartHour: 0, EndHour: 0, DefaultTimezone: "UTC"}
}

func consentedContact() *model.Contact {
	return &model.Contact{
		ID:           "contact-1",
		Email:        "ada@example.com",
		Phone:        "+15552223333",
		FirstName:    "Ada",
		LastName:     "Lovelace",
		EmailConsent: true,
		SMSConsent:   true,
	}
}

func TestDispatch_ConsentDeniedCreatesNoRecord(t *testing.T) {
	f := newFixture(alwaysOpen())
	ctx := context.Background()

	contact := consentedContact()
	contact.SMSConsent = false
	f.contacts.On("FindContactByID", ctx, "contact-1").Return(contact, nil).Once()

	res, err := f.dispatcher.Dispatch(ctx, Request{
		ContactID:  "contact-1",
		TemplateID: template.ReengagementSMS,
		Channel:    model.ChannelSMS,
	})

	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, apperrors.SkipNoConsent, res.SkipReason)
	f.sends.AssertNotCalled(t, "CreateMessageSend", mock.Anything, mock.Anything)
	f.sms.AssertNotCalled(t, "SendSMS", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_EmailSuccess(t *testing.T) {
	f := newFixture(alwaysOpen())
	ctx := context.Background()

	f.contacts.On("FindContactByID", ctx, "contact-1").Return(consentedContact(), nil).Once()
	f.registrations.On("FindRegistrationByID", ctx, "reg-1").Return(&model.Registration{
		ID: "reg-1", ContactID: "contact-1", EventID: "event-1", JoinURL: "https://example.com/join",
	}, nil).Once()
	f.events.On("FindEventByID", ctx, "event-1").Return(&model.Event{
		ID: "event-1", Title: "Demo Day", ScheduledAt: time.Now().Add(48 * time.Hour), Status: model.EventUpcoming,
	}, nil).Once()
	f.sends.On("CreateMessageSend", ctx, mock.MatchedBy(func(s model.MessageSend) bool {
		return s.Status == model.MessageQueued && s.TemplateID == string(template.WelcomeEmail)
	})).Return(nil).Once()
	f.email.On("SendEmail", ctx, "ada@example.com", mock.Anything, mock.Anything, mock.Anything).
		Return(provider.SendResult{ProviderID: "email-9"}, nil).Once()
	f.sends.On("UpdateMessageSendStatus", ctx, mock.Anything, model.MessageSent, mock.Anything).
		Return(nil).Once()

	res, err := f.dispatcher.Dispatch(ctx, Request{
		ContactID:      "contact-1",
		RegistrationID: "reg-1",
		TemplateID:     template.WelcomeEmail,
		Channel:        model.ChannelEmail,
		StepType:       "welcome",
	})

	require.NoError(t, err)
	assert.Equal(t, StatusSent, res.Status)
	assert.Equal(t, "email-9", res.ProviderID)
	f.sends.AssertExpectations(t)
	f.email.AssertExpectations(t)
}

func TestDispatch_UnknownTemplateIsTerminal(t *testing.T) {
	f := newFixture(alwaysOpen())
	ctx := context.Background()

	f.contacts.On("FindContactByID", ctx, "contact-1").Return(consentedContact(), nil).Once()
	f.sends.On("CreateMessageSend", ctx, mock.Anything).Return(nil).Once()
	f.sends.On("UpdateMessageSendStatus", ctx, mock.Anything, model.MessageFailed, mock.Anything).
		Return(nil).Once()

	res, err := f.dispatcher.Dispatch(ctx, Request{
		ContactID:  "contact-1",
		TemplateID: template.ID("no-such-template"),
		Channel:    model.ChannelEmail,
	})

	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
	assert.ErrorIs(t, err, apperrors.ErrUnknownTemplate)
	assert.Equal(t, StatusFailed, res.Status)
	f.email.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_SMSWithoutPhoneSkips(t *testing.T) {
	f := newFixture(alwaysOpen())
	ctx := context.Background()

	contact := consentedContact()
	contact.Phone = ""
	f.contacts.On("FindContactByID", ctx, "contact-1").Return(contact, nil).Once()
	f.sends.On("CreateMessageSend", ctx, mock.Anything).Return(nil).Once()
	f.sends.On("UpdateMessageSendStatus", ctx, mock.Anything, model.MessageSkipped, mock.Anything).
		Return(nil).Once()

	res, err := f.dispatcher.Dispatch(ctx, Request{
		ContactID:  "contact-1",
		TemplateID: template.ReengagementSMS,
		Channel:    model.ChannelSMS,
	})

	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, apperrors.SkipNoPhone, res.SkipReason)
	f.sms.AssertNotCalled(t, "SendSMS", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_MalformedPhoneIsTerminal(t *testing.T) {
	f := newFixture(alwaysOpen())
	ctx := context.Background()

	contact := consentedContact()
	contact.Phone = "not a number"
	f.contacts.On("FindContactByID", ctx, "contact-1").Return(contact, nil).Once()
	f.sends.On("CreateMessageSend", ctx, mock.Anything).Return(nil).Once()
	f.sends.On("UpdateMessageSendStatus", ctx, mock.Anything, model.MessageFailed, mock.Anything).
		Return(nil).Once()

	res, err := f.dispatcher.Dispatch(ctx, Request{
		ContactID:  "contact-1",
		TemplateID: template.ReengagementSMS,
		Channel:    model.ChannelSMS,
	})

	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
	assert.ErrorIs(t, err, apperrors.ErrInvalidRecipient)
	assert.Equal(t, StatusFailed, res.Status)
	f.sms.AssertNotCalled(t, "SendSMS", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_QuietHoursDefersSMS(t *testing.T) {
	f := newFixture(alwaysQuiet())
	ctx := context.Background()

	f.contacts.On("FindContactByID", ctx, "contact-1").Return(consentedContact(), nil).Once()
	f.sends.On("CreateMessageSend", ctx, mock.Anything).Return(nil).Once()

	res, err := f.dispatcher.Dispatch(ctx, Request{
		ContactID:  "contact-1",
		TemplateID: template.Reminder24hSMS,
		Channel:    model.ChannelSMS,
	})

	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.ErrorIs(t, err, apperrors.ErrQuietHours)
	assert.Equal(t, StatusRetry, res.Status)
	assert.False(t, res.RetryAt.IsZero())
	assert.True(t, res.RetryAt.After(time.Now()))
	f.sms.AssertNotCalled(t, "SendSMS", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_ProviderRateLimitIsRetryable(t *testing.T) {
	f := newFixture(alwaysOpen())
	ctx := context.Background()

	f.contacts.On("FindContactByID", ctx, "contact-1").Return(consentedContact(), nil).Once()
	f.sends.On("CreateMessageSend", ctx, mock.Anything).Return(nil).Once()
	f.email.On("SendEmail", ctx, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(provider.SendResult{}, apperrors.NewRetryable(apperrors.ErrRateLimited, "throttled")).Once()
	// The record stays queued so the retry reuses it.
	f.sends.On("UpdateMessageSendStatus", ctx, mock.Anything, model.MessageQueued, mock.Anything).
		Return(nil).Once()

	res, err := f.dispatcher.Dispatch(ctx, Request{
		ContactID:  "contact-1",
		TemplateID: template.NurtureEmail,
		Channel:    model.ChannelEmail,
	})

	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, StatusRetry, res.Status)
	f.sends.AssertExpectations(t)
}

func TestDispatch_ProviderTerminalRejection(t *testing.T) {
	f := newFixture(alwaysOpen())
	ctx := context.Background()

	f.contacts.On("FindContactByID", ctx, "contact-1").Return(consentedContact(), nil).Once()
	f.sends.On("CreateMessageSend", ctx, mock.Anything).Return(nil).Once()
	f.email.On("SendEmail", ctx, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(provider.SendResult{}, apperrors.NewFatal(apperrors.ErrProviderRejected, "hard bounce")).Once()
	f.sends.On("UpdateMessageSendStatus", ctx, mock.Anything, model.MessageFailed, mock.Anything).
		Return(nil).Once()

	res, err := f.dispatcher.Dispatch(ctx, Request{
		ContactID:  "contact-1",
		TemplateID: template.NurtureEmail,
		Channel:    model.ChannelEmail,
	})

	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
	assert.Equal(t, StatusFailed, res.Status)
	f.sends.AssertExpectations(t)
}

func TestDispatch_RedeliveredStepReusesRecord(t *testing.T) {
	f := newFixture(alwaysOpen())
	ctx := context.Background()

	f.contacts.On("FindContactByID", ctx, "contact-1").Return(consentedContact(), nil).Twice()
	f.registrations.On("FindRegistrationByID", ctx, "reg-1").Return(&model.Registration{
		ID: "reg-1", ContactID: "contact-1", EventID: "event-1",
	}, nil).Twice()
	f.events.On("FindEventByID", ctx, "event-1").Return(&model.Event{
		ID: "event-1", Title: "Demo Day", ScheduledAt: time.Now().Add(48 * time.Hour),
	}, nil).Twice()

	req := Request{
		ContactID:      "contact-1",
		RegistrationID: "reg-1",
		TemplateID:     template.WelcomeEmail,
		Channel:        model.ChannelEmail,
		StepType:       "welcome",
	}

	// First delivery sends normally.
	f.sends.On("CreateMessageSend", ctx, mock.Anything).Return(nil).Once()
	f.email.On("SendEmail", ctx, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(provider.SendResult{ProviderID: "email-1"}, nil).Once()
	f.sends.On("UpdateMessageSendStatus", ctx, mock.Anything, model.MessageSent, mock.Anything).
		Return(nil).Once()

	first, err := f.dispatcher.Dispatch(ctx, req)
	require.NoError(t, err)
	require.Equal(t, StatusSent, first.Status)

	// Redelivery hits the duplicate id and finds the record already sent.
	f.sends.On("CreateMessageSend", ctx, mock.Anything).
		Return(fmt.Errorf("%w: message_sends pkey", apperrors.ErrDuplicate)).Once()
	f.sends.On("FindMessageSendByID", ctx, first.MessageSendID).Return(&model.MessageSend{
		ID: first.MessageSendID, Status: model.MessageSent,
	}, nil).Once()

	second, err := f.dispatcher.Dispatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, second.Status)
	assert.Equal(t, apperrors.SkipAlreadySent, second.SkipReason)
	assert.Equal(t, first.MessageSendID, second.MessageSendID)
	f.email.AssertNumberOfCalls(t, "SendEmail", 1)
}

func TestDispatch_DeterministicRecordID(t *testing.T) {
	a := messageSendID(Request{RegistrationID: "reg-1", StepType: "welcome", Channel: model.ChannelEmail})
	b := messageSendID(Request{RegistrationID: "reg-1", StepType: "welcome", Channel: model.ChannelEmail})
	c := messageSendID(Request{RegistrationID: "reg-1", StepType: "welcome", Channel: model.ChannelSMS})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	// No idempotency scope means a fresh id every time.
	d := messageSendID(Request{ContactID: "contact-1", Channel: model.ChannelEmail})
	e := messageSendID(Request{ContactID: "contact-1", Channel: model.ChannelEmail})
	assert.NotEqual(t, d, e)
}

func TestDispatch_RegistrationLoadFailureIsRetryable(t *testing.T) {
	f := newFixture(alwaysOpen())
	ctx := context.Background()

	f.contacts.On("FindContactByID", ctx, "contact-1").Return(consentedContact(), nil).Once()
	f.registrations.On("FindRegistrationByID", ctx, "reg-1").
		Return(nil, errors.New("connection refused")).Once()

	res, err := f.dispatcher.Dispatch(ctx, Request{
		ContactID:      "contact-1",
		RegistrationID: "reg-1",
		TemplateID:     template.WelcomeEmail,
		Channel:        model.ChannelEmail,
	})

	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, StatusRetry, res.Status)
	f.sends.AssertNotCalled(t, "CreateMessageSend", mock.Anything, mock.Anything)
}

func TestDispatch_UnsupportedChannelIsTerminal(t *testing.T) {
	f := newFixture(alwaysOpen())

	res, err := f.dispatcher.Dispatch(context.Background(), Request{
		ContactID:  "contact-1",
		TemplateID: template.WelcomeEmail,
		Channel:    model.Channel("fax"),
	})

	require.Error(t, err)
	assert.True(t, apperrors.IsFatal(err))
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedChannel)
	assert.Equal(t, StatusFailed, res.Status)
}
