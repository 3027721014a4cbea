package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/apperrors"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/observer"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/logger"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/utils"
)

// --- FunnelStep Repository Methods ---

// CreateStep inserts a new funnel step. The unique step key converts
// at-least-once trigger delivery into at-most-once step creation: a
// redelivered trigger conflicts on step_key and reports created=false.
func (r *PostgresRepo) CreateStep(ctx context.Context, step model.FunnelStep) (created bool, err error) {
	var rowsAffected int64

	operation := func() error {
		res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "step_key"}},
			DoNothing: true,
		}).Create(&step)
		if res.Error != nil {
			return checkConstraintViolation(res.Error)
		}
		rowsAffected = res.RowsAffected
		return nil
	}

	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	start := utils.Now()
	err = retryableOperation(ctx, policy, "CreateStep", operation)
	observer.ObserveDbOperationDuration("create", "funnel_step", time.Since(start), err)
	if err != nil {
		// A duplicate surfaced as an error still means the step exists
		if errors.Is(err, apperrors.ErrDuplicate) {
			return false, nil
		}
		logger.FromContext(ctx).Error("Failed to create funnel step",
			zap.String("step_key", step.StepKey), zap.Error(err))
		return false, err
	}
	return rowsAffected > 0, nil
}

// FindDueSteps returns pending steps whose run_at has passed, oldest first.
func (r *PostgresRepo) FindDueSteps(ctx context.Context, now time.Time, limit int) ([]model.FunnelStep, error) {
	var steps []model.FunnelStep

	operation := func() error {
		return r.db.WithContext(ctx).
			Where("status = ? AND run_at <= ?", model.StepPending, now).
			Order("run_at ASC").
			Limit(limit).
			Find(&steps).Error
	}

	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	start := utils.Now()
	err := retryableOperation(ctx, policy, "FindDueSteps", operation)
	observer.ObserveDbOperationDuration("find", "funnel_step", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: listing due funnel steps: %w", apperrors.ErrDatabase, err)
	}
	return steps, nil
}

// ClaimStep transitions a pending step to running. The conditional update is
// the at-most-once guard: only one scheduler poll can win the claim.
func (r *PostgresRepo) ClaimStep(ctx context.Context, id string) (bool, error) {
	var claimed bool

	operation := func() error {
		res := r.db.WithContext(ctx).Model(&model.FunnelStep{}).
			Where("id = ? AND status = ?", id, model.StepPending).
			Updates(map[string]interface{}{
				"status":     model.StepRunning,
				"updated_at": utils.Now(),
			})
		if res.Error != nil {
			return checkConstraintViolation(res.Error)
		}
		claimed = res.RowsAffected > 0
		return nil
	}

	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	start := utils.Now()
	err := retryableOperation(ctx, policy, "ClaimStep", operation)
	observer.ObserveDbOperationDuration("update", "funnel_step", time.Since(start), err)
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// FinishStep records the terminal outcome of a claimed step.
func (r *PostgresRepo) FinishStep(ctx context.Context, id string, status model.FunnelStepStatus, attempts int, lastError, skipReason string) error {
	now := utils.Now()
	updates := map[string]interface{}{
		"status":     status,
		"attempts":   attempts,
		"updated_at": now,
	}
	if lastError != "" {
		updates["last_error"] = lastError
	}
	if skipReason != "" {
		updates["skip_reason"] = skipReason
	}
	if status == model.StepCompleted || status == model.StepSkipped {
		updates["completed_at"] = now
	}

	operation := func() error {
		res := r.db.WithContext(ctx).Model(&model.FunnelStep{}).
			Where("id = ?", id).
			Updates(updates)
		if res.Error != nil {
			return checkConstraintViolation(res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: funnel step %s", apperrors.ErrNotFound, id)
		}
		return nil
	}

	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	start := utils.Now()
	err := retryableOperation(ctx, policy, "FinishStep", operation)
	observer.ObserveDbOperationDuration("update", "funnel_step", time.Since(start), err)
	return err
}

// RescheduleStep returns a claimed step to pending with a new run time,
// bumping the attempt counter. Used for retriable failures and quiet-hours
// deferral.
func (r *PostgresRepo) RescheduleStep(ctx context.Context, id string, runAt time.Time, attempts int, lastError string) error {
	operation := func() error {
		res := r.db.WithContext(ctx).Model(&model.FunnelStep{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":     model.StepPending,
				"run_at":     runAt,
				"attempts":   attempts,
				"last_error": lastError,
				"updated_at": utils.Now(),
			})
		if res.Error != nil {
			return checkConstraintViolation(res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: funnel step %s", apperrors.ErrNotFound, id)
		}
		return nil
	}

	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	start := utils.Now()
	err := retryableOperation(ctx, policy, "RescheduleStep", operation)
	observer.ObserveDbOperationDuration("update", "funnel_step", time.Since(start), err)
	return err
}

// ReclaimStaleRunning returns running steps older than the lease back to
// pending. Covers scheduler crashes between claim and finish.
func (r *PostgresRepo) ReclaimStaleRunning(ctx context.Context, olderThan time.Time) (int64, error) {
	var reclaimed int64

	operation := func() error {
		res := r.db.WithContext(ctx).Model(&model.FunnelStep{}).
			Where("status = ? AND updated_at < ?", model.StepRunning, olderThan).
			Updates(map[string]interface{}{
				"status":     model.StepPending,
				"updated_at": utils.Now(),
			})
		if res.Error != nil {
			return checkConstraintViolation(res.Error)
		}
		reclaimed = res.RowsAffected
		return nil
	}

	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	start := utils.Now()
	err := retryableOperation(ctx, policy, "ReclaimStaleRunning", operation)
	observer.ObserveDbOperationDuration("update", "funnel_step", time.Since(start), err)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		logger.FromContext(ctx).Warn("Reclaimed stale running funnel steps", zap.Int64("count", reclaimed))
	}
	return reclaimed, nil
}

// FindStepByKey retrieves a funnel step by its unique step key.
func (r *PostgresRepo) FindStepByKey(ctx context.Context, stepKey string) (*model.FunnelStep, error) {
	var step model.FunnelStep

	operation := func() error {
		return r.db.WithContext(ctx).First(&step, "step_key = ?", stepKey).Error
	}

	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	start := utils.Now()
	err := retryableOperation(ctx, policy, "FindStepByKey", operation)
	observer.ObserveDbOperationDuration("find", "funnel_step", time.Since(start), err)
	if err != nil {
		return nil, wrapNotFound(err, "funnel step "+stepKey)
	}
	return &step, nil
}
