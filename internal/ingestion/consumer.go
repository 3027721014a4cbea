package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/apperrors"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/config"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/jetstream"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/observer"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/logger"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/utils"
)

// AckNakAction represents the decision made after processing a message
type AckNakAction int

const (
	ActionAck      AckNakAction = iota // Message processed successfully, ACK it
	ActionNak                          // Non-retryable error or DLQ failure, NAK immediately
	ActionNakDelay                     // Retryable error, NAK with calculated delay
	ActionDLQ                          // Max retries reached or fatal error, publish to DLQ then ACK
)

const consumerType = "triggers"

// TriggerConsumer consumes the funnel trigger stream and routes each
// message through the Router. Processing outcomes map onto JetStream
// acknowledgements: success ACKs, retryable errors NAK with exponential
// delay, and fatal or exhausted messages land on the DLQ stream.
type TriggerConsumer struct {
	client        jetstream.ClientInterface
	router        *Router
	cfg           config.TriggerNatsConfig
	dlqSubject    string
	sub           *nats.Subscription
	filterSubject string
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewTriggerConsumer creates a consumer for the trigger stream
func NewTriggerConsumer(client jetstream.ClientInterface, router *Router, cfg config.TriggerNatsConfig, dlqSubject string) *TriggerConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.WithLogger(ctx, logger.Log.With(zap.String("consumer", cfg.Consumer)))

	return &TriggerConsumer{
		client:     client,
		router:     router,
		cfg:        cfg,
		dlqSubject: dlqSubject,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// determineAckNakAction decides the fate of a message based on processing result and metadata.
// It returns the action to take (ACK, NAK, NAK_DELAY, DLQ) and the delay duration if applicable.
func determineAckNakAction(
	processingErr error,
	metadata *nats.MsgMetadata,
	maxDeliver int,
	nakBaseDelay time.Duration,
	nakMaxDelay time.Duration,
) (action AckNakAction, delay time.Duration) {

	if processingErr == nil {
		return ActionAck, 0
	}

	isRetryable := apperrors.IsRetryable(processingErr)
	numDelivered := metadata.NumDelivered

	// Max retries OR fatal error goes to the DLQ
	if numDelivered >= uint64(maxDeliver) || !isRetryable {
		return ActionDLQ, 0
	}

	// Retryable with attempts remaining: NAK with exponential delay
	attempt := numDelivered // Current attempt number (starts at 1)
	delay = nakBaseDelay
	if attempt > 1 {
		delay = nakBaseDelay * (1 << (attempt - 1))
	}
	if delay > nakMaxDelay {
		delay = nakMaxDelay
	}
	return ActionNakDelay, delay
}

// dlqSubjectFor maps a trigger subject onto the DLQ subject space,
// e.g. "v1.event.enrolled" publishes to "v1.dlq.event.enrolled".
func dlqSubjectFor(dlqBase, sourceSubject string) string {
	return fmt.Sprintf("%s.%s", dlqBase, strings.TrimPrefix(sourceSubject, "v1."))
}

// handleMessage is the core message processing logic
func (c *TriggerConsumer) handleMessage(msg *nats.Msg) {
	startTime := utils.Now()
	triggerType, found := model.MapToTriggerType(msg.Subject)

	defer func() {
		observer.ObserveTriggerProcessingDuration(string(triggerType), consumerType, time.Since(startTime))

		if r := recover(); r != nil {
			log := logger.FromContext(c.ctx)
			log.Error("[panic] Recovered from panic in trigger handler",
				zap.Any("panic", r),
				zap.String("subject", msg.Subject),
				zap.Duration("duration", time.Since(startTime)),
				zap.Stack("stack"),
			)
			observer.IncTriggersFailed(string(triggerType), consumerType)
			observer.IncTriggerProcessingAction(string(triggerType), consumerType, "panic_nak", "panic")
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error("Failed to NAK message after panic", zap.Error(nakErr))
			}
		}
	}()

	msgCtx := c.ctx
	log := logger.FromContext(msgCtx)

	if !found {
		log.Warn("Unknown trigger type", zap.String("subject", msg.Subject))
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message for unknown trigger type", zap.Error(nakErr))
		}
		observer.IncTriggerProcessingAction(string(triggerType), consumerType, "nak_unknown_type", "unknown_trigger_type")
		return
	}

	metadata, err := msg.Metadata()
	if err != nil {
		log.Error("Failed to read message metadata", zap.Error(err))
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message", zap.Error(nakErr))
		}
		observer.IncTriggerProcessingAction(string(triggerType), consumerType, "nak_metadata_error", "metadata")
		return
	}

	var msgID string
	if msg.Header != nil {
		msgID = msg.Header.Get("Nats-Msg-Id")
	}
	if msgID == "" {
		msgID = fmt.Sprintf("msg-%d", metadata.Sequence.Stream)
	}

	internalMetadata := &model.TriggerMetadata{
		StreamSequence:   metadata.Sequence.Stream,
		ConsumerSequence: metadata.Sequence.Consumer,
		NumDelivered:     metadata.NumDelivered,
		NumPending:       metadata.NumPending,
		Timestamp:        metadata.Timestamp,
		Stream:           metadata.Stream,
		Consumer:         metadata.Consumer,
		MessageID:        msgID,
		Subject:          msg.Subject,
	}

	observer.IncTriggersReceived(string(triggerType), consumerType)

	msgCtx = logger.WithLogger(msgCtx, log.With(
		zap.String("nats_message_id", msgID),
		zap.Uint64("stream_sequence", internalMetadata.StreamSequence),
		zap.Uint64("num_delivered", internalMetadata.NumDelivered),
		zap.String("subject", msg.Subject),
	))

	processingErr := c.router.Route(msgCtx, internalMetadata, msg.Data)

	enhancedLog := logger.FromContext(msgCtx)
	action, nakDelay := determineAckNakAction(processingErr, metadata, c.cfg.MaxDeliver, c.cfg.NakBaseDelay, c.cfg.NakMaxDelay)

	errorType := "none"
	if processingErr != nil {
		errorType = observer.SanitizeErrorType(processingErr.Error())
	}

	switch action {
	case ActionAck:
		enhancedLog.Info("Successfully processed trigger", zap.Duration("duration", time.Since(startTime)))
		observer.IncTriggersProcessed(string(triggerType), consumerType)
		observer.IncTriggerProcessingAction(string(triggerType), consumerType, "ack_success", errorType)
		if ackErr := msg.Ack(); ackErr != nil {
			enhancedLog.Error("Failed to ACK message after successful processing", zap.Error(ackErr))
		}

	case ActionNak:
		enhancedLog.Error("NAKing message immediately", zap.Error(processingErr), zap.Duration("duration", time.Since(startTime)))
		observer.IncTriggersFailed(string(triggerType), consumerType)
		observer.IncTriggerProcessingAction(string(triggerType), consumerType, "nak_terminal", errorType)
		if nakErr := msg.Nak(); nakErr != nil {
			enhancedLog.Error("Failed to NAK message", zap.Error(nakErr))
		}

	case ActionNakDelay:
		enhancedLog.Info("NAKing message with delay for redelivery (retryable error)",
			zap.Error(processingErr),
			zap.Uint64("num_delivered", metadata.NumDelivered),
			zap.Int("max_deliver", c.cfg.MaxDeliver),
			zap.Duration("nak_delay", nakDelay),
		)
		observer.IncTriggersFailed(string(triggerType), consumerType)
		observer.IncTriggerProcessingAction(string(triggerType), consumerType, "nak_retry", errorType)
		if nakErr := msg.NakWithDelay(nakDelay); nakErr != nil {
			enhancedLog.Error("Failed to NAK message with delay", zap.Error(nakErr))
		}

	case ActionDLQ:
		c.publishToDLQ(msgCtx, msg, metadata, triggerType, processingErr, errorType)
	}
}

// publishToDLQ wraps the failed trigger into a DLQPayload and moves it to the
// DLQ stream. The original message is ACKed only when the DLQ publish succeeds.
func (c *TriggerConsumer) publishToDLQ(ctx context.Context, msg *nats.Msg, metadata *nats.MsgMetadata, triggerType model.TriggerType, processingErr error, errorType string) {
	log := logger.FromContext(ctx)

	isRetryable := apperrors.IsRetryable(processingErr)
	logReason := "max delivery attempts reached"
	if !isRetryable {
		logReason = "fatal error encountered"
	}
	log.Warn(fmt.Sprintf("Sending trigger to DLQ: %s", logReason),
		zap.Error(processingErr),
		zap.Uint64("num_delivered", metadata.NumDelivered),
		zap.Int("max_deliver", c.cfg.MaxDeliver),
		zap.Bool("is_retryable", isRetryable),
	)
	observer.IncTriggersFailed(string(triggerType), consumerType)

	errorTypeString := "fatal"
	if isRetryable {
		errorTypeString = "retryable"
	}

	dlqPayload := model.DLQPayload{
		SourceSubject:   msg.Subject,
		OriginalPayload: json.RawMessage(msg.Data),
		Error:           processingErr.Error(),
		ErrorType:       errorTypeString,
		RetryCount:      metadata.NumDelivered,
		MaxRetry:        c.cfg.MaxDeliver,
		Timestamp:       time.Now().UTC(),
	}

	dlqData, marshalErr := json.Marshal(dlqPayload)
	if marshalErr != nil {
		log.Error("Failed to marshal DLQ payload, NAKing original message without delay", zap.Error(marshalErr))
		observer.IncTriggerProcessingAction(string(triggerType), consumerType, "nak_dlq_marshal_fail", "dlq_marshal_fail")
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message after DLQ marshal error", zap.Error(nakErr))
		}
		return
	}

	dlqHeaders := map[string]string{}
	if msg.Header != nil {
		if msgID := msg.Header.Get("Nats-Msg-Id"); msgID != "" {
			dlqHeaders["Original-Nats-Msg-Id"] = msgID
		}
	}

	dlqFullSubject := dlqSubjectFor(c.dlqSubject, msg.Subject)
	if publishErr := c.client.Publish(dlqFullSubject, dlqData, dlqHeaders); publishErr != nil {
		log.Error("Failed to publish message to DLQ, NAKing original message without delay",
			zap.Error(publishErr),
			zap.String("dlq_subject", dlqFullSubject),
		)
		observer.IncTriggerProcessingAction(string(triggerType), consumerType, "nak_dlq_publish_fail", "dlq_publish_fail")
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message after DLQ publish error", zap.Error(nakErr))
		}
		return
	}

	log.Info("Trigger published to DLQ", zap.String("dlq_subject", dlqFullSubject))
	observer.IncTriggerProcessingAction(string(triggerType), consumerType, "dlq_published_ack_success", errorType)
	if ackErr := msg.Ack(); ackErr != nil {
		log.Error("Failed to ACK message after successful DLQ publish", zap.Error(ackErr))
	}
}

// Setup configures the NATS stream and consumer for funnel triggers
func (c *TriggerConsumer) Setup() error {
	log := logger.FromContext(c.ctx)
	log.Info("Setting up TriggerConsumer...", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))

	maxAgeRetention := time.Duration(c.cfg.MaxAge*24) * time.Hour

	streamCfg := &nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  c.cfg.SubjectList,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    maxAgeRetention,
	}

	if err := c.client.SetupStream(c.ctx, streamCfg); err != nil {
		log.Error("Failed to setup trigger stream", zap.Error(err), zap.String("stream", c.cfg.Stream))
		return fmt.Errorf("failed to setup trigger stream '%s': %w", c.cfg.Stream, err)
	}

	consumerCfg := &nats.ConsumerConfig{
		Durable:        c.cfg.Consumer,
		DeliverGroup:   c.cfg.QueueGroup,
		FilterSubjects: c.cfg.SubjectList,
		AckPolicy:      nats.AckExplicitPolicy,
		DeliverSubject: nats.NewInbox(),
		MaxDeliver:     c.cfg.MaxDeliver,
		AckWait:        30 * time.Second,
		MaxAckPending:  1000,
		ReplayPolicy:   nats.ReplayInstantPolicy,
		DeliverPolicy:  nats.DeliverAllPolicy,
	}
	c.filterSubject = "v1.>"

	if err := c.client.SetupConsumer(c.ctx, c.cfg.Stream, consumerCfg); err != nil {
		log.Error("Failed to setup trigger consumer", zap.Error(err), zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))
		return fmt.Errorf("failed to setup trigger consumer '%s' for stream '%s': %w", c.cfg.Consumer, c.cfg.Stream, err)
	}

	log.Info("TriggerConsumer setup complete")
	return nil
}

// Start subscribes to the NATS stream
func (c *TriggerConsumer) Start() error {
	log := logger.FromContext(c.ctx)
	log.Info("Starting TriggerConsumer subscription...", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))

	sub, err := c.client.SubscribePush(c.filterSubject, c.cfg.Consumer, c.cfg.QueueGroup, c.cfg.Stream, c.handleMessage)
	if err != nil {
		log.Error("Failed to subscribe trigger consumer", zap.Error(err),
			zap.String("stream", c.cfg.Stream),
			zap.String("consumer", c.cfg.Consumer),
			zap.String("group", c.cfg.QueueGroup),
		)
		return fmt.Errorf("failed to subscribe trigger consumer '%s': %w", c.cfg.Consumer, err)
	}
	c.sub = sub
	log.Info("TriggerConsumer subscribed successfully")
	return nil
}

// Stop unsubscribes and cleans up resources
func (c *TriggerConsumer) Stop() {
	log := logger.FromContext(c.ctx)
	log.Info("Stopping TriggerConsumer...", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			log.Error("Error draining trigger subscription", zap.Error(err))
		}
		log.Info("Trigger subscription drained")
	}
	if c.cancel != nil {
		c.cancel()
	}
	log.Info("TriggerConsumer stopped")
}
