package storage

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/observer"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/logger"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/utils"
)

// --- Event Repository Methods ---

// SaveEvent creates or updates an event record keyed by id.
func (r *PostgresRepo) SaveEvent(ctx context.Context, event model.Event) error {
	operation := func() error {
		res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "scheduled_at", "duration_minutes", "timezone", "updated_at",
			}),
		}).Create(&event)
		if res.Error != nil {
			return checkConstraintViolation(res.Error)
		}
		return nil
	}

	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	start := utils.Now()
	err := retryableOperation(ctx, policy, "SaveEvent", operation)
	observer.ObserveDbOperationDuration("save", "event", time.Since(start), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to save event after retries",
			zap.String("event_id", event.ID), zap.Error(err))
		return err
	}
	return nil
}

// FindEventByID retrieves an event by primary key.
func (r *PostgresRepo) FindEventByID(ctx context.Context, id string) (*model.Event, error) {
	var event model.Event

	operation := func() error {
		return r.db.WithContext(ctx).First(&event, "id = ?", id).Error
	}

	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	start := utils.Now()
	err := retryableOperation(ctx, policy, "FindEventByID", operation)
	observer.ObserveDbOperationDuration("find", "event", time.Since(start), err)
	if err != nil {
		return nil, wrapNotFound(err, "event "+id)
	}
	return &event, nil
}

// MarkEventCompleted transitions an event to completed status.
func (r *PostgresRepo) MarkEventCompleted(ctx context.Context, id string, completedAt time.Time) error {
	operation := func() error {
		res := r.db.WithContext(ctx).Model(&model.Event{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":       model.EventCompleted,
				"completed_at": completedAt,
				"updated_at":   utils.Now(),
			})
		if res.Error != nil {
			return checkConstraintViolation(res.Error)
		}
		if res.RowsAffected == 0 {
			logger.FromContext(ctx).Warn("MarkEventCompleted affected no rows", zap.String("event_id", id))
		}
		return nil
	}

	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	start := utils.Now()
	err := retryableOperation(ctx, policy, "MarkEventCompleted", operation)
	observer.ObserveDbOperationDuration("update", "event", time.Since(start), err)
	return err
}
