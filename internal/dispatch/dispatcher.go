package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/apperrors"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/consent"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/observer"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/provider"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/quiethours"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/storage"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/template"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/logger"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/utils"
)

// Status is the outcome class of one dispatch invocation.
type Status string

const (
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
	StatusRetry   Status = "retry"
)

// Request describes one message to dispatch.
type Request struct {
	ContactID      string
	RegistrationID string
	CampaignID     string
	TemplateID     template.ID
	Channel        model.Channel
	// StepType labels the funnel step for idempotency and observability.
	// When set together with a registration or campaign scope, the
	// MessageSend id is derived deterministically so a retried step reuses
	// its record instead of creating a second one.
	StepType string
}

// Result reports what a dispatch invocation did.
type Result struct {
	Status        Status
	SkipReason    string
	MessageSendID string
	ProviderID    string
	// RetryAt is set on quiet-hours deferral: the earliest instant the
	// caller should reschedule for. Zero otherwise.
	RetryAt time.Time
}

// Dispatcher runs the full send pipeline for one message: consent gate,
// context load, durable MessageSend record, render, channel-specific
// validation, the provider call, and final record update.
type Dispatcher struct {
	gate          *consent.Gate
	quiet         *quiethours.Scheduler
	events        storage.EventRepo
	registrations storage.RegistrationRepo
	sends         storage.MessageSendRepo
	email         provider.EmailSender
	sms           provider.SMSSender
	limiter       *rate.Limiter
	defaultTZ     string
}

// NewDispatcher wires the dispatcher. The limiter is the global send-rate
// ceiling shared across every funnel instance and channel; it must be a
// single instance per process.
func NewDispatcher(
	gate *consent.Gate,
	quiet *quiethours.Scheduler,
	events storage.EventRepo,
	registrations storage.RegistrationRepo,
	sends storage.MessageSendRepo,
	email provider.EmailSender,
	sms provider.SMSSender,
	limiter *rate.Limiter,
	defaultTimezone string,
) *Dispatcher {
	return &Dispatcher{
		gate:          gate,
		quiet:         quiet,
		events:        events,
		registrations: registrations,
		sends:         sends,
		email:         email,
		sms:           sms,
		limiter:       limiter,
		defaultTZ:     defaultTimezone,
	}
}

// messageSendNamespace scopes deterministic MessageSend ids.
var messageSendNamespace = uuid.MustParse("7f1d3c64-51f7-49c8-9c1a-2a4f3f9b1d22")

// messageSendID derives a stable id when the request carries an idempotency
// scope, so redelivered steps reuse their record.
func messageSendID(req Request) string {
	scope := req.RegistrationID
	if scope == "" {
		scope = req.CampaignID
	}
	if scope == "" || req.StepType == "" {
		return uuid.NewString()
	}
	seed := fmt.Sprintf("%s:%s:%s", scope, req.StepType, req.Channel)
	return uuid.NewSHA1(messageSendNamespace, []byte(seed)).String()
}

// Dispatch runs the pipeline for one message.
//
// Skips (consent denied, no phone, already sent) return a nil error: they are
// expected outcomes, not failures. Retriable failures return a retryable
// error and StatusRetry; terminal failures return a fatal error and
// StatusFailed. Exactly one MessageSend row backs every invocation that
// passes the consent gate, even a failed one.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	log := logger.FromContext(ctx).With(
		zap.String("contact_id", req.ContactID),
		zap.String("template_id", string(req.TemplateID)),
		zap.String("channel", string(req.Channel)),
	)

	if !req.Channel.Valid() {
		return Result{Status: StatusFailed},
			apperrors.NewFatal(apperrors.ErrUnsupportedChannel, "channel %q", req.Channel)
	}

	// 1. Consent, fail closed. A denial creates no MessageSend at all: a
	// contact who never consented to a channel never appears in its ledger.
	allowed, contact := d.gate.Check(ctx, req.ContactID, req.Channel)
	if !allowed {
		log.Info("Dispatch skipped, no consent")
		observer.IncMessagesSkipped(string(req.Channel), string(req.TemplateID), apperrors.SkipNoConsent)
		return Result{Status: StatusSkipped, SkipReason: apperrors.SkipNoConsent}, nil
	}

	// 2. Load linked registration and event context for template tokens.
	var reg *model.Registration
	var event *model.Event
	if req.RegistrationID != "" {
		var err error
		reg, err = d.registrations.FindRegistrationByID(ctx, req.RegistrationID)
		if err != nil {
			return Result{Status: StatusRetry}, apperrors.NewRetryable(err, "failed to load registration %s", req.RegistrationID)
		}
		event, err = d.events.FindEventByID(ctx, reg.EventID)
		if err != nil {
			return Result{Status: StatusRetry}, apperrors.NewRetryable(err, "failed to load event %s", reg.EventID)
		}
	}

	// 3. Create the MessageSend record before anything can fail, so failed
	// attempts stay auditable. A duplicate id means a redelivered step:
	// reuse the record, or skip outright when it already went out.
	sendID := messageSendID(req)
	send := model.MessageSend{
		ID:             sendID,
		ContactID:      req.ContactID,
		RegistrationID: req.RegistrationID,
		CampaignID:     req.CampaignID,
		Channel:        req.Channel,
		TemplateID:     string(req.TemplateID),
		StepType:       req.StepType,
		Status:         model.MessageQueued,
		QueuedAt:       utils.Now(),
	}
	if err := d.sends.CreateMessageSend(ctx, send); err != nil {
		if !errors.Is(err, apperrors.ErrDuplicate) {
			return Result{Status: StatusRetry}, apperrors.NewRetryable(err, "failed to create message send record")
		}
		existing, findErr := d.sends.FindMessageSendByID(ctx, sendID)
		if findErr != nil {
			return Result{Status: StatusRetry}, apperrors.NewRetryable(findErr, "failed to load existing message send %s", sendID)
		}
		if existing.Status != model.MessageQueued && existing.Status != model.MessageFailed {
			log.Info("Dispatch skipped, message already sent", zap.String("message_send_id", sendID))
			observer.IncMessagesSkipped(string(req.Channel), string(req.TemplateID), apperrors.SkipAlreadySent)
			return Result{Status: StatusSkipped, SkipReason: apperrors.SkipAlreadySent, MessageSendID: sendID}, nil
		}
	}

	// 4. Resolve and render the template. Unknown identifiers are terminal.
	def, err := template.Lookup(req.TemplateID, req.Channel)
	if err != nil {
		ferr := apperrors.NewFatal(err, "template resolution failed")
		d.markFailed(ctx, sendID, ferr)
		observer.IncMessagesFailed(string(req.Channel), string(req.TemplateID))
		return Result{Status: StatusFailed, MessageSendID: sendID}, ferr
	}
	rendered := template.Render(def, d.tokens(contact, reg, event))

	// 5. Channel-specific validation and the quiet-hours gate.
	var toPhone string
	if req.Channel == model.ChannelSMS {
		if contact.Phone == "" {
			d.markSkipped(ctx, sendID, apperrors.SkipNoPhone)
			observer.IncMessagesSkipped(string(req.Channel), string(req.TemplateID), apperrors.SkipNoPhone)
			return Result{Status: StatusSkipped, SkipReason: apperrors.SkipNoPhone, MessageSendID: sendID}, nil
		}
		toPhone, err = utils.NormalizePhone(contact.Phone)
		if err != nil {
			ferr := apperrors.NewFatal(fmt.Errorf("%w: %v", apperrors.ErrInvalidRecipient, err), "phone normalization failed")
			d.markFailed(ctx, sendID, ferr)
			observer.IncMessagesFailed(string(req.Channel), string(req.TemplateID))
			return Result{Status: StatusFailed, MessageSendID: sendID}, ferr
		}

		now := utils.Now()
		tz := d.resolveTimezone(contact, event)
		if !d.quiet.IsWithinWindow(ctx, tz, now) {
			next := d.quiet.NextWindowStart(ctx, tz, now)
			log.Info("Dispatch deferred by quiet hours",
				zap.String("timezone", tz), zap.Time("retry_at", next))
			return Result{Status: StatusRetry, MessageSendID: sendID, RetryAt: next},
				apperrors.NewRetryable(apperrors.ErrQuietHours, "sms deferred until %s", next.Format(time.RFC3339))
		}
	}

	// 6. The provider call, behind the global send-rate ceiling.
	if err := d.waitForRateSlot(ctx); err != nil {
		return Result{Status: StatusRetry, MessageSendID: sendID},
			apperrors.NewRetryable(err, "rate limiter wait aborted")
	}

	var sendRes provider.SendResult
	switch req.Channel {
	case model.ChannelEmail:
		sendRes, err = d.email.SendEmail(ctx, contact.Email, rendered.Subject, rendered.HTML, rendered.Text)
	case model.ChannelSMS:
		sendRes, err = d.sms.SendSMS(ctx, toPhone, rendered.Text)
	}

	// 7. Record the final status before returning.
	if err != nil {
		if apperrors.IsFatal(err) {
			d.markFailed(ctx, sendID, err)
			observer.IncMessagesFailed(string(req.Channel), string(req.TemplateID))
			log.Warn("Dispatch failed terminally", zap.Error(err))
			return Result{Status: StatusFailed, MessageSendID: sendID}, err
		}
		// Leave the record queued: the caller's retry will reuse it.
		d.recordError(ctx, sendID, err)
		log.Warn("Dispatch failed, will retry", zap.Error(err))
		return Result{Status: StatusRetry, MessageSendID: sendID}, err
	}

	now := utils.Now()
	if uerr := d.sends.UpdateMessageSendStatus(ctx, sendID, model.MessageSent, map[string]interface{}{
		"provider_message_id": sendRes.ProviderID,
		"sent_at":             now,
		"error_message":       "",
	}); uerr != nil {
		// The provider accepted the message; losing the status update must
		// not trigger a second send. Log and report success.
		log.Error("Failed to mark message send as sent", zap.Error(uerr))
	}

	observer.IncMessagesSent(string(req.Channel), string(req.TemplateID))
	log.Info("Dispatch succeeded",
		zap.String("message_send_id", sendID),
		zap.String("provider_message_id", sendRes.ProviderID))
	return Result{Status: StatusSent, MessageSendID: sendID, ProviderID: sendRes.ProviderID}, nil
}

// tokens assembles the substitution map from whatever context is loaded.
func (d *Dispatcher) tokens(contact *model.Contact, reg *model.Registration, event *model.Event) template.Tokens {
	tokens := template.Tokens{
		"first_name": contact.FirstName,
		"last_name":  contact.LastName,
		"full_name":  contact.FullName(),
		"email":      contact.Email,
	}
	if reg != nil {
		tokens["join_url"] = reg.JoinURL
	}
	if event != nil {
		tokens["event_title"] = event.Title
		loc, err := time.LoadLocation(d.resolveTimezone(contact, event))
		if err != nil {
			loc = time.UTC
		}
		local := event.ScheduledAt.In(loc)
		tokens["event_date"] = local.Format("Monday, January 2")
		tokens["event_time"] = local.Format("3:04 PM MST")
	}
	return tokens
}

// resolveTimezone prefers the recipient's zone, then the event's, then the
// configured default.
func (d *Dispatcher) resolveTimezone(contact *model.Contact, event *model.Event) string {
	if contact != nil && contact.Timezone != "" {
		return contact.Timezone
	}
	if event != nil && event.Timezone != "" {
		return event.Timezone
	}
	return d.defaultTZ
}

func (d *Dispatcher) waitForRateSlot(ctx context.Context) error {
	start := utils.Now()
	err := d.limiter.Wait(ctx)
	observer.ObserveRateLimitWait(time.Since(start))
	return err
}

func (d *Dispatcher) markFailed(ctx context.Context, sendID string, cause error) {
	now := utils.Now()
	if err := d.sends.UpdateMessageSendStatus(ctx, sendID, model.MessageFailed, map[string]interface{}{
		"error_message": cause.Error(),
		"failed_at":     now,
	}); err != nil {
		logger.FromContext(ctx).Error("Failed to mark message send as failed",
			zap.String("message_send_id", sendID), zap.Error(err))
	}
}

func (d *Dispatcher) markSkipped(ctx context.Context, sendID, reason string) {
	if err := d.sends.UpdateMessageSendStatus(ctx, sendID, model.MessageSkipped, map[string]interface{}{
		"skip_reason": reason,
	}); err != nil {
		logger.FromContext(ctx).Error("Failed to mark message send as skipped",
			zap.String("message_send_id", sendID), zap.Error(err))
	}
}

func (d *Dispatcher) recordError(ctx context.Context, sendID string, cause error) {
	if err := d.sends.UpdateMessageSendStatus(ctx, sendID, model.MessageQueued, map[string]interface{}{
		"error_message": cause.Error(),
	}); err != nil {
		logger.FromContext(ctx).Error("Failed to record message send error",
			zap.String("message_send_id", sendID), zap.Error(err))
	}
}
