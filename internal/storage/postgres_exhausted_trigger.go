package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/observer"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/logger"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/utils"
)

// SaveExhaustedTrigger records a trigger that ran out of dead-letter
// redeliveries so an operator can inspect and replay it.
func (r *PostgresRepo) SaveExhaustedTrigger(ctx context.Context, trigger model.ExhaustedTrigger) error {
	operation := func() error {
		if err := r.db.WithContext(ctx).Create(&trigger).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	}

	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	start := utils.Now()
	err := retryableOperation(ctx, policy, "SaveExhaustedTrigger", operation)
	observer.ObserveDbOperationDuration("create", "exhausted_trigger", time.Since(start), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to persist exhausted trigger",
			zap.String("source_subject", trigger.SourceSubject), zap.Error(err))
		return err
	}
	return nil
}
