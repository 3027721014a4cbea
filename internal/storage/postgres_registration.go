package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/apperrors"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/observer"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/logger"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/utils"
)

// --- Registration Repository Methods ---

// SaveRegistration creates or updates a registration record keyed by id.
// Attendance and reminder log are never overwritten here; they have their
// own mutation paths.
func (r *PostgresRepo) SaveRegistration(ctx context.Context, reg model.Registration) error {
	operation := func() error {
		res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "join_url", "updated_at",
			}),
		}).Create(&reg)
		if res.Error != nil {
			return checkConstraintViolation(res.Error)
		}
		return nil
	}

	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	start := utils.Now()
	err := retryableOperation(ctx, policy, "SaveRegistration", operation)
	observer.ObserveDbOperationDuration("save", "registration", time.Since(start), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to save registration after retries",
			zap.String("registration_id", reg.ID), zap.Error(err))
		return err
	}
	return nil
}

// FindRegistrationByID retrieves a registration by primary key.
func (r *PostgresRepo) FindRegistrationByID(ctx context.Context, id string) (*model.Registration, error) {
	var reg model.Registration

	operation := func() error {
		return r.db.WithContext(ctx).First(&reg, "id = ?", id).Error
	}

	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	start := utils.Now()
	err := retryableOperation(ctx, policy, "FindRegistrationByID", operation)
	observer.ObserveDbOperationDuration("find", "registration", time.Since(start), err)
	if err != nil {
		return nil, wrapNotFound(err, "registration "+id)
	}
	return &reg, nil
}

// FindRegistrationsForFanOut loads every registration for the event that is
// eligible for post-event processing.
func (r *PostgresRepo) FindRegistrationsForFanOut(ctx context.Context, eventID string) ([]model.Registration, error) {
	var regs []model.Registration

	operation := func() error {
		return r.db.WithContext(ctx).
			Where("event_id = ? AND status IN ?", eventID, model.FanOutStatuses()).
			Order("created_at ASC").
			Find(&regs).Error
	}

	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	start := utils.Now()
	err := retryableOperation(ctx, policy, "FindRegistrationsForFanOut", operation)
	observer.ObserveDbOperationDuration("find", "registration", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: listing registrations for event %s: %w", apperrors.ErrDatabase, eventID, err)
	}
	return regs, nil
}

// AppendReminderLog appends a step label to the registration's append-only
// reminder log. Runs inside a row-locking transaction so concurrent steps
// cannot drop each other's entries.
func (r *PostgresRepo) AppendReminderLog(ctx context.Context, registrationID, stepLabel string) error {
	operation := func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var reg model.Registration
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				First(&reg, "id = ?", registrationID).Error; err != nil {
				return err
			}

			var log []string
			if len(reg.ReminderLog) > 0 {
				if err := json.Unmarshal(reg.ReminderLog, &log); err != nil {
					// Corrupt log is replaced rather than blocking sends
					log = nil
				}
			}
			log = append(log, stepLabel)

			raw, err := json.Marshal(log)
			if err != nil {
				return err
			}
			return tx.Model(&model.Registration{}).
				Where("id = ?", registrationID).
				Update("reminder_log", datatypes.JSON(raw)).Error
		})
	}

	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	start := utils.Now()
	err := retryableOperation(ctx, policy, "AppendReminderLog", operation)
	observer.ObserveDbOperationDuration("update", "registration", time.Since(start), err)
	if err != nil {
		return wrapNotFound(err, "registration "+registrationID)
	}
	return nil
}
