package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/apperrors"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/dispatch"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/template"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/validator"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/logger"
)

// EnrollmentService starts the pre-event funnel for a registration
type EnrollmentService interface {
	Enroll(ctx context.Context, payload model.EnrolledPayload) error
}

// CompletionService runs the post-event fan-out for an event
type CompletionService interface {
	Complete(ctx context.Context, payload model.CompletedPayload) error
}

// SendService dispatches a single one-off message
type SendService interface {
	Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// TriggerHandler processes funnel triggers by delegating to the
// enrollment, completion, and dispatch services.
type TriggerHandler struct {
	enrollment EnrollmentService
	completion CompletionService
	sender     SendService
}

// NewTriggerHandler creates a new trigger handler
func NewTriggerHandler(enrollment EnrollmentService, completion CompletionService, sender SendService) *TriggerHandler {
	return &TriggerHandler{
		enrollment: enrollment,
		completion: completion,
		sender:     sender,
	}
}

// HandleTrigger processes funnel triggers
func (h *TriggerHandler) HandleTrigger(ctx context.Context, triggerType model.TriggerType, metadata *model.TriggerMetadata, rawTrigger []byte) error {
	requestID := uuid.NewString()
	ctx = logger.WithRequestID(ctx, requestID)

	log := logger.FromContext(ctx)
	log.Info("Processing trigger", zap.String("type", string(triggerType)))

	switch triggerType {
	case model.V1EventEnrolled:
		return h.handleEnrolled(ctx, rawTrigger)
	case model.V1EventCompleted:
		return h.handleCompleted(ctx, rawTrigger)
	case model.V1MessageSend:
		return h.handleSend(ctx, rawTrigger)
	default:
		unsupportedErr := fmt.Errorf("unsupported trigger type: %s", triggerType)
		log.Error("Unsupported trigger type", zap.String("triggerType", string(triggerType)))
		return apperrors.NewFatal(unsupportedErr, "unsupported trigger type")
	}
}

// handleEnrolled processes event.enrolled triggers
func (h *TriggerHandler) handleEnrolled(ctx context.Context, rawTrigger []byte) error {
	log := logger.FromContext(ctx)

	var payload model.EnrolledPayload
	if err := json.Unmarshal(rawTrigger, &payload); err != nil {
		log.Error("Failed to unmarshal enrolled payload", zap.Error(err))
		return apperrors.NewFatal(err, "failed to unmarshal enrolled payload")
	}

	if err := validator.Validate(payload); err != nil {
		log.Error("Enrolled payload validation failed", zap.Error(err))
		return apperrors.NewFatal(err, "enrolled payload validation failed")
	}

	log.Info("Processing enrollment",
		zap.String("registration_id", payload.RegistrationID),
		zap.String("event_id", payload.EventID),
	)
	return h.enrollment.Enroll(ctx, payload)
}

// handleCompleted processes event.completed triggers
func (h *TriggerHandler) handleCompleted(ctx context.Context, rawTrigger []byte) error {
	log := logger.FromContext(ctx)

	var payload model.CompletedPayload
	if err := json.Unmarshal(rawTrigger, &payload); err != nil {
		log.Error("Failed to unmarshal completed payload", zap.Error(err))
		return apperrors.NewFatal(err, "failed to unmarshal completed payload")
	}

	if err := validator.Validate(payload); err != nil {
		log.Error("Completed payload validation failed", zap.Error(err))
		return apperrors.NewFatal(err, "invalid completed payload")
	}

	log.Info("Processing event completion", zap.String("event_id", payload.EventID))
	return h.completion.Complete(ctx, payload)
}

// handleSend processes message.send triggers
func (h *TriggerHandler) handleSend(ctx context.Context, rawTrigger []byte) error {
	log := logger.FromContext(ctx)

	var payload model.SendRequestPayload
	if err := json.Unmarshal(rawTrigger, &payload); err != nil {
		log.Error("Failed to unmarshal send request payload", zap.Error(err))
		return apperrors.NewFatal(err, "failed to unmarshal send request payload")
	}

	if err := validator.Validate(payload); err != nil {
		log.Error("Send request validation failed", zap.Error(err))
		return apperrors.NewFatal(err, "send request validation failed")
	}

	// A one-off send has no durable step behind it, so the dispatcher's
	// retryable errors (quiet hours included) surface here and trigger
	// redelivery instead of a scheduler reschedule.
	result, err := h.sender.Dispatch(ctx, dispatch.Request{
		ContactID:      payload.ContactID,
		RegistrationID: payload.RegistrationID,
		CampaignID:     payload.CampaignID,
		TemplateID:     template.ID(payload.TemplateID),
		Channel:        payload.Channel,
		StepType:       payload.StepType,
	})
	if err != nil {
		return err
	}

	log.Info("Send request dispatched",
		zap.String("status", string(result.Status)),
		zap.String("skip_reason", result.SkipReason),
		zap.String("message_send_id", result.MessageSendID),
	)
	return nil
}
