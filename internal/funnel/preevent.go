package funnel

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/apperrors"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/observer"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/storage"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/logger"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/utils"
)

// StepRunner executes one freshly created, already-due step without waiting
// for the next scheduler poll. The scheduler provides the implementation.
type StepRunner interface {
	RunStep(ctx context.Context, step model.FunnelStep)
}

// PreEventFunnel handles enrollment triggers: it persists the enrollment
// context and lays down the linear welcome / 24h-reminder / 1h-reminder step
// sequence as durable scheduler rows.
type PreEventFunnel struct {
	contacts      storage.ContactRepo
	events        storage.EventRepo
	registrations storage.RegistrationRepo
	steps         storage.FunnelStepRepo
	runner        StepRunner

	reminder24hOffset time.Duration
	reminder1hOffset  time.Duration
	maxAttempts       int
}

// NewPreEventFunnel wires the pre-event funnel. runner may be nil in tests;
// then the welcome step waits for the scheduler poll instead of firing
// inline.
func NewPreEventFunnel(
	contacts storage.ContactRepo,
	events storage.EventRepo,
	registrations storage.RegistrationRepo,
	steps storage.FunnelStepRepo,
	runner StepRunner,
	reminder24hOffset, reminder1hOffset time.Duration,
	maxAttempts int,
) *PreEventFunnel {
	return &PreEventFunnel{
		contacts:          contacts,
		events:            events,
		registrations:     registrations,
		steps:             steps,
		runner:            runner,
		reminder24hOffset: reminder24hOffset,
		reminder1hOffset:  reminder1hOffset,
		maxAttempts:       maxAttempts,
	}
}

// Enroll processes one event.enrolled trigger. Step creation is idempotent
// through step keys, so a redelivered trigger lays down no second sequence.
// The welcome step is due immediately; each reminder step anchors to the
// event start and is only created while its anchor is still in the future. A
// reminder whose anchor already passed at enrollment time is dropped, never
// dispatched late.
func (f *PreEventFunnel) Enroll(ctx context.Context, payload model.EnrolledPayload) error {
	log := logger.FromContext(ctx).With(
		zap.String("registration_id", payload.RegistrationID),
		zap.String("event_id", payload.EventID),
	)

	if err := f.persistEnrollment(ctx, payload); err != nil {
		return err
	}

	now := utils.Now()
	welcome, err := f.createStep(ctx, payload, model.StepWelcome, now)
	if err != nil {
		return err
	}

	t24 := payload.EventScheduledAt.Add(-f.reminder24hOffset)
	if t24.After(now) {
		if _, err := f.createStep(ctx, payload, model.StepReminder24h, t24); err != nil {
			return err
		}
	} else {
		log.Info("24h reminder anchor already passed, step not scheduled", zap.Time("anchor", t24))
	}

	t1 := payload.EventScheduledAt.Add(-f.reminder1hOffset)
	if t1.After(now) {
		if _, err := f.createStep(ctx, payload, model.StepReminder1h, t1); err != nil {
			return err
		}
	} else {
		log.Info("1h reminder anchor already passed, step not scheduled", zap.Time("anchor", t1))
	}

	// Fire the welcome inline rather than waiting out a poll interval. Only
	// the creator of the step runs it; a redelivered trigger sees created ==
	// false and leaves the original run alone.
	if welcome != nil && f.runner != nil {
		f.runner.RunStep(ctx, *welcome)
	}

	log.Info("Enrollment processed, pre-event funnel scheduled")
	return nil
}

// persistEnrollment upserts the contact, event and registration carried on
// the trigger payload. Consent flags are owned elsewhere and untouched by
// these upserts.
func (f *PreEventFunnel) persistEnrollment(ctx context.Context, payload model.EnrolledPayload) error {
	contact := model.Contact{
		ID:        payload.ContactID,
		Email:     payload.ContactEmail,
		Phone:     payload.ContactPhone,
		FirstName: payload.ContactFirstName,
		LastName:  payload.ContactLastName,
	}
	if err := f.contacts.SaveContact(ctx, contact); err != nil {
		return apperrors.NewRetryable(err, "failed to persist contact %s", payload.ContactID)
	}

	event := model.Event{
		ID:          payload.EventID,
		Title:       payload.EventTitle,
		ScheduledAt: payload.EventScheduledAt,
		Status:      model.EventUpcoming,
	}
	if err := f.events.SaveEvent(ctx, event); err != nil {
		return apperrors.NewRetryable(err, "failed to persist event %s", payload.EventID)
	}

	reg := model.Registration{
		ID:        payload.RegistrationID,
		ContactID: payload.ContactID,
		EventID:   payload.EventID,
		Status:    model.RegistrationRegistered,
		JoinURL:   payload.JoinURL,
	}
	if err := f.registrations.SaveRegistration(ctx, reg); err != nil {
		return apperrors.NewRetryable(err, "failed to persist registration %s", payload.RegistrationID)
	}
	return nil
}

// createStep persists one pending step. Returns the step only when this call
// created it; nil means the step key already existed.
func (f *PreEventFunnel) createStep(ctx context.Context, payload model.EnrolledPayload, stepName string, runAt time.Time) (*model.FunnelStep, error) {
	step := model.FunnelStep{
		ID:             uuid.NewString(),
		FunnelType:     model.FunnelPreEvent,
		StepKey:        model.StepKey(payload.RegistrationID, stepName),
		StepName:       stepName,
		EventID:        payload.EventID,
		RegistrationID: payload.RegistrationID,
		ContactID:      payload.ContactID,
		RunAt:          runAt,
		Status:         model.StepPending,
		MaxAttempts:    f.maxAttempts,
	}

	created, err := f.steps.CreateStep(ctx, step)
	if err != nil {
		return nil, apperrors.NewRetryable(err, "failed to persist funnel step %s", step.StepKey)
	}
	observer.IncFunnelStepCreated(string(model.FunnelPreEvent), stepName, created)
	if !created {
		logger.FromContext(ctx).Debug("Funnel step already exists, trigger redelivery suppressed",
			zap.String("step_key", step.StepKey))
		return nil, nil
	}
	return &step, nil
}
