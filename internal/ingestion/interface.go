package ingestion

import (
	"context"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
)

// RouterInterface defines the interface for a trigger router
type RouterInterface interface {
	// Register registers a handler for a trigger type
	Register(triggerType model.TriggerType, handler TriggerHandler)

	// RegisterDefault registers a default handler for unknown trigger types
	RegisterDefault(handler TriggerHandler)

	// Route routes a trigger to the appropriate handler
	Route(ctx context.Context, metadata *model.TriggerMetadata, rawTrigger []byte) error
}

// ConsumerInterface defines the basic methods for a NATS consumer
type ConsumerInterface interface {
	// Setup sets up the JetStream stream and consumer
	Setup() error

	// Start subscribes and begins consuming
	Start() error

	// Stop stops the consumer
	Stop()
}

// Ensure Router implements RouterInterface
var _ RouterInterface = (*Router)(nil)

// Ensure TriggerConsumer implements ConsumerInterface
var _ ConsumerInterface = (*TriggerConsumer)(nil)
