package ingestion

import (
	"context"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/logger"
	"go.uber.org/zap"
)

// TriggerHandler defines a function that processes triggers
type TriggerHandler func(ctx context.Context, triggerType model.TriggerType, metadata *model.TriggerMetadata, rawTrigger []byte) error

// Router routes triggers to the appropriate handler based on trigger type
type Router struct {
	handlers map[model.TriggerType]TriggerHandler
	// Default handler for unknown trigger types
	defaultHandler TriggerHandler
}

// NewRouter creates a new trigger router
func NewRouter() *Router {
	return &Router{
		handlers: make(map[model.TriggerType]TriggerHandler),
	}
}

// Register registers a handler for a trigger type
func (r *Router) Register(triggerType model.TriggerType, handler TriggerHandler) {
	r.handlers[triggerType] = handler
}

// RegisterDefault registers a default handler for unknown trigger types
func (r *Router) RegisterDefault(handler TriggerHandler) {
	r.defaultHandler = handler
}

// Route routes a trigger to the appropriate handler
func (r *Router) Route(ctx context.Context, metadata *model.TriggerMetadata, rawTrigger []byte) error {
	log := logger.FromContext(ctx).With(
		zap.String("trigger_type", metadata.Subject),
		zap.String("trigger_id", metadata.MessageID),
	)
	ctx = logger.WithLogger(ctx, log)

	triggerType, found := model.MapToTriggerType(metadata.Subject)
	if !found {
		// Leave triggerType empty and let the default handler decide
		log.Warn("Could not map subject to a known trigger type", zap.String("subject", metadata.Subject))
	}

	log.Info("Trigger received", zap.Int("payload_size", len(rawTrigger)))

	handler, ok := r.handlers[triggerType]
	if !ok && r.defaultHandler != nil {
		log.Warn("No specific handler for trigger type, using default")
		return r.defaultHandler(ctx, triggerType, metadata, rawTrigger)
	} else if !ok {
		log.Error("No handler registered for trigger type")
		return nil
	}

	return handler(ctx, triggerType, metadata, rawTrigger)
}
