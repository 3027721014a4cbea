package model

import (
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/utils"
)

func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// --- Test fixture factories ---

// NewContact creates a Contact with fake data; fields set on the optional
// override take precedence.
func NewContact(overrideDefaults ...*Contact) *Contact {
	now := utils.Now()
	base := &Contact{
		ID:           uuid.NewString(),
		Email:        gofakeit.Email(),
		Phone:        "+1" + gofakeit.Numerify("##########"),
		FirstName:    gofakeit.FirstName(),
		LastName:     gofakeit.LastName(),
		Timezone:     "America/Denver",
		EmailConsent: true,
		SMSConsent:   true,
		EmailConsentUpdatedAt: &now,
		SMSConsentUpdatedAt:   &now,
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.Email != "" {
			base.Email = ovr.Email
		}
		base.Phone = ovr.Phone
		if ovr.FirstName != "" {
			base.FirstName = ovr.FirstName
		}
		if ovr.LastName != "" {
			base.LastName = ovr.LastName
		}
		if ovr.Timezone != "" {
			base.Timezone = ovr.Timezone
		}
		base.EmailConsent = ovr.EmailConsent
		base.SMSConsent = ovr.SMSConsent
		base.MarketingConsent = ovr.MarketingConsent
	}
	return base
}

// NewEvent creates an upcoming Event with fake data.
func NewEvent(overrideDefaults ...*Event) *Event {
	base := &Event{
		ID:              uuid.NewString(),
		Title:           gofakeit.Sentence(3),
		ScheduledAt:     utils.Now().Add(48 * time.Hour),
		DurationMinutes: 60,
		Timezone:        "America/Denver",
		Status:          EventUpcoming,
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.Title != "" {
			base.Title = ovr.Title
		}
		if !ovr.ScheduledAt.IsZero() {
			base.ScheduledAt = ovr.ScheduledAt
		}
		if ovr.DurationMinutes != 0 {
			base.DurationMinutes = ovr.DurationMinutes
		}
		if ovr.Timezone != "" {
			base.Timezone = ovr.Timezone
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		base.CompletedAt = ovr.CompletedAt
	}
	return base
}

// NewRegistration creates a Registration with fake data.
func NewRegistration(overrideDefaults ...*Registration) *Registration {
	base := &Registration{
		ID:        uuid.NewString(),
		ContactID: uuid.NewString(),
		EventID:   uuid.NewString(),
		Status:    RegistrationRegistered,
		JoinURL:   gofakeit.URL(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.ContactID != "" {
			base.ContactID = ovr.ContactID
		}
		if ovr.EventID != "" {
			base.EventID = ovr.EventID
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.JoinURL != "" {
			base.JoinURL = ovr.JoinURL
		}
		base.Attended = ovr.Attended
		if ovr.ReminderLog != nil {
			base.ReminderLog = ovr.ReminderLog
		}
	}
	return base
}

// NewEnrolledPayload creates an EnrolledPayload with fake data.
func NewEnrolledPayload(overrideDefaults ...*EnrolledPayload) *EnrolledPayload {
	base := &EnrolledPayload{
		ContactID:        uuid.NewString(),
		EventID:          uuid.NewString(),
		RegistrationID:   uuid.NewString(),
		EventTitle:       gofakeit.Sentence(3),
		EventScheduledAt: utils.Now().Add(48 * time.Hour),
		ContactEmail:     gofakeit.Email(),
		ContactFirstName: gofakeit.FirstName(),
		ContactLastName:  gofakeit.LastName(),
		ContactPhone:     "+1" + gofakeit.Numerify("##########"),
		JoinURL:          gofakeit.URL(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ContactID != "" {
			base.ContactID = ovr.ContactID
		}
		if ovr.EventID != "" {
			base.EventID = ovr.EventID
		}
		if ovr.RegistrationID != "" {
			base.RegistrationID = ovr.RegistrationID
		}
		if ovr.EventTitle != "" {
			base.EventTitle = ovr.EventTitle
		}
		if !ovr.EventScheduledAt.IsZero() {
			base.EventScheduledAt = ovr.EventScheduledAt
		}
		if ovr.ContactEmail != "" {
			base.ContactEmail = ovr.ContactEmail
		}
		base.ContactPhone = ovr.ContactPhone
		if ovr.JoinURL != "" {
			base.JoinURL = ovr.JoinURL
		}
	}
	return base
}

// NewCompletedPayload creates a CompletedPayload with fake data.
func NewCompletedPayload(overrideDefaults ...*CompletedPayload) *CompletedPayload {
	base := &CompletedPayload{
		EventID:     uuid.NewString(),
		EventTitle:  gofakeit.Sentence(3),
		CompletedAt: utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.EventID != "" {
			base.EventID = ovr.EventID
		}
		if ovr.EventTitle != "" {
			base.EventTitle = ovr.EventTitle
		}
		if !ovr.CompletedAt.IsZero() {
			base.CompletedAt = ovr.CompletedAt
		}
	}
	return base
}
