package funnel

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/apperrors"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/dispatch"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/storage"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/template"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/logger"
)

// MessageDispatcher is the dispatch pipeline the executor delegates to.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// leg is one channel-specific dispatch within a step.
type leg struct {
	channel  model.Channel
	template template.ID
}

// stepLegs maps each step name to its dispatch legs. Steps with an email and
// an SMS leg run them independently: one leg's failure never rolls back the
// other.
var stepLegs = map[string][]leg{
	model.StepWelcome:       {{model.ChannelEmail, template.WelcomeEmail}},
	model.StepReminder24h:   {{model.ChannelEmail, template.Reminder24hEmail}, {model.ChannelSMS, template.Reminder24hSMS}},
	model.StepReminder1h:    {{model.ChannelEmail, template.Reminder1hEmail}, {model.ChannelSMS, template.Reminder1hSMS}},
	model.StepThankYou:      {{model.ChannelEmail, template.ThankYouEmail}},
	model.StepResources:     {{model.ChannelEmail, template.ResourcesEmail}},
	model.StepNurture:       {{model.ChannelEmail, template.NurtureEmail}},
	model.StepSorryMissed:   {{model.ChannelEmail, template.SorryMissedEmail}},
	model.StepReengagement:  {{model.ChannelEmail, template.ReengagementEmail}, {model.ChannelSMS, template.ReengagementSMS}},
	model.StepFinalFollowup: {{model.ChannelEmail, template.FinalFollowupEmail}},
}

// guardedSteps are the delayed pre-event steps that must re-validate their
// event before dispatching. The welcome step fires at enrollment time and
// needs no re-check.
var guardedSteps = map[string]bool{
	model.StepReminder24h: true,
	model.StepReminder1h:  true,
}

// Executor runs the body of one claimed funnel step.
type Executor struct {
	dispatcher    MessageDispatcher
	guard         *Guard
	registrations storage.RegistrationRepo
}

// NewExecutor wires the step executor.
func NewExecutor(dispatcher MessageDispatcher, guard *Guard, registrations storage.RegistrationRepo) *Executor {
	return &Executor{dispatcher: dispatcher, guard: guard, registrations: registrations}
}

// Execute runs every dispatch leg of the step and classifies the combined
// outcome. retryAt is non-zero only alongside a retryable error, when a leg
// was deferred to a known instant (quiet hours); a zero retryAt leaves the
// retry delay to the scheduler's backoff.
//
// Classification across legs: any retryable leg makes the step retryable
// (already-delivered legs are protected by their MessageSend records on the
// next attempt); otherwise any sent leg completes the step; otherwise any
// fatal leg fails it; a step whose every leg skipped is itself a skip.
func (e *Executor) Execute(ctx context.Context, step model.FunnelStep) (retryAt time.Time, err error) {
	log := logger.FromContext(ctx).With(
		zap.String("step_key", step.StepKey),
		zap.String("step_name", step.StepName),
	)

	legs, ok := stepLegs[step.StepName]
	if !ok {
		return time.Time{}, apperrors.NewFatal(apperrors.ErrValidation, "unknown funnel step %q", step.StepName)
	}

	if step.FunnelType == model.FunnelPreEvent && guardedSteps[step.StepName] {
		valid, gerr := e.guard.Valid(ctx, step.EventID)
		if gerr != nil {
			return time.Time{}, gerr
		}
		if !valid {
			log.Info("Step skipped, event no longer valid", zap.String("event_id", step.EventID))
			return time.Time{}, apperrors.NewSkip(apperrors.SkipEventInvalid)
		}
	}

	var (
		anySent    bool
		anyFatal   error
		anyRetry   error
		skipReason string
	)

	for _, l := range legs {
		res, derr := e.dispatcher.Dispatch(ctx, dispatch.Request{
			ContactID:      step.ContactID,
			RegistrationID: step.RegistrationID,
			TemplateID:     l.template,
			Channel:        l.channel,
			StepType:       step.StepName,
		})

		switch {
		case derr == nil && res.Status == dispatch.StatusSent:
			anySent = true
		case derr == nil && res.Status == dispatch.StatusSkipped:
			if skipReason == "" {
				skipReason = res.SkipReason
			}
			log.Info("Dispatch leg skipped",
				zap.String("channel", string(l.channel)),
				zap.String("reason", res.SkipReason))
		case apperrors.IsRetryable(derr):
			if anyRetry == nil {
				anyRetry = derr
			}
			if !res.RetryAt.IsZero() && (retryAt.IsZero() || res.RetryAt.Before(retryAt)) {
				retryAt = res.RetryAt
			}
			log.Warn("Dispatch leg retryable failure",
				zap.String("channel", string(l.channel)), zap.Error(derr))
		default:
			if anyFatal == nil {
				anyFatal = derr
			}
			log.Warn("Dispatch leg terminal failure",
				zap.String("channel", string(l.channel)), zap.Error(derr))
		}
	}

	switch {
	case anyRetry != nil:
		return retryAt, anyRetry
	case anySent:
		e.appendReminderLog(ctx, step)
		return time.Time{}, nil
	case anyFatal != nil:
		return time.Time{}, anyFatal
	default:
		if skipReason == "" {
			skipReason = apperrors.SkipAlreadySent
		}
		return time.Time{}, apperrors.NewSkip(skipReason)
	}
}

// appendReminderLog records the fired step on the registration. This is the
// defensive second idempotency layer on top of step keys; a write failure is
// logged, never surfaced, because the step itself already succeeded.
func (e *Executor) appendReminderLog(ctx context.Context, step model.FunnelStep) {
	if step.RegistrationID == "" {
		return
	}
	if err := e.registrations.AppendReminderLog(ctx, step.RegistrationID, step.StepName); err != nil {
		logger.FromContext(ctx).Warn("Failed to append reminder log",
			zap.String("registration_id", step.RegistrationID),
			zap.String("step_name", step.StepName),
			zap.Error(err))
	}
}
