package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/apperrors"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/observer"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/logger"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/utils"
)

// --- MessageSend Repository Methods ---

// CreateMessageSend inserts a new dispatch-attempt record. Created in queued
// status before the provider call so failed attempts stay auditable.
func (r *PostgresRepo) CreateMessageSend(ctx context.Context, send model.MessageSend) error {
	operation := func() error {
		if err := r.db.WithContext(ctx).Create(&send).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	}

	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	start := utils.Now()
	err := retryableOperation(ctx, policy, "CreateMessageSend", operation)
	observer.ObserveDbOperationDuration("create", "message_send", time.Since(start), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to create message send record",
			zap.String("message_send_id", send.ID),
			zap.String("template_id", send.TemplateID),
			zap.Error(err))
		return err
	}
	return nil
}

// UpdateMessageSendStatus moves a dispatch record to its final status,
// recording the provider message id, skip reason or error as appropriate.
func (r *PostgresRepo) UpdateMessageSendStatus(ctx context.Context, id string, status model.MessageSendStatus, fields map[string]interface{}) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": utils.Now(),
	}
	for k, v := range fields {
		updates[k] = v
	}

	operation := func() error {
		res := r.db.WithContext(ctx).Model(&model.MessageSend{}).
			Where("id = ?", id).
			Updates(updates)
		if res.Error != nil {
			return checkConstraintViolation(res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: message send %s", apperrors.ErrNotFound, id)
		}
		return nil
	}

	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	start := utils.Now()
	err := retryableOperation(ctx, policy, "UpdateMessageSendStatus", operation)
	observer.ObserveDbOperationDuration("update", "message_send", time.Since(start), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to update message send status",
			zap.String("message_send_id", id),
			zap.String("status", string(status)),
			zap.Error(err))
		return err
	}
	return nil
}

// FindMessageSendByID retrieves a dispatch record by primary key.
func (r *PostgresRepo) FindMessageSendByID(ctx context.Context, id string) (*model.MessageSend, error) {
	var send model.MessageSend

	operation := func() error {
		return r.db.WithContext(ctx).First(&send, "id = ?", id).Error
	}

	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	start := utils.Now()
	err := retryableOperation(ctx, policy, "FindMessageSendByID", operation)
	observer.ObserveDbOperationDuration("find", "message_send", time.Since(start), err)
	if err != nil {
		return nil, wrapNotFound(err, "message send "+id)
	}
	return &send, nil
}

// FindMessageSendsByRegistration lists dispatch records for a registration,
// newest first. Used for step idempotency checks and operator inspection.
func (r *PostgresRepo) FindMessageSendsByRegistration(ctx context.Context, registrationID string) ([]model.MessageSend, error) {
	var sends []model.MessageSend

	operation := func() error {
		return r.db.WithContext(ctx).
			Where("registration_id = ?", registrationID).
			Order("created_at DESC").
			Find(&sends).Error
	}

	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	start := utils.Now()
	err := retryableOperation(ctx, policy, "FindMessageSendsByRegistration", operation)
	observer.ObserveDbOperationDuration("find", "message_send", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: listing message sends for registration %s: %w", apperrors.ErrDatabase, registrationID, err)
	}
	return sends, nil
}
