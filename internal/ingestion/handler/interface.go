package handler

import (
	"context"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
)

// TriggerHandlerInterface defines the common interface for trigger handlers
type TriggerHandlerInterface interface {
	// HandleTrigger processes a trigger
	HandleTrigger(ctx context.Context, triggerType model.TriggerType, metadata *model.TriggerMetadata, rawTrigger []byte) error
}

// Ensure the handler implements the interface
var _ TriggerHandlerInterface = (*TriggerHandler)(nil)
