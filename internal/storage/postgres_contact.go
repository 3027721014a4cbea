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

// --- Contact Repository Methods ---

// SaveContact creates or updates a contact record keyed by id. Consent flags
// are only written on first insert; later updates leave consent untouched
// because it is owned by explicit grant/revoke actions.
func (r *PostgresRepo) SaveContact(ctx context.Context, contact model.Contact) error {
	operation := func() error {
		res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"email", "phone", "first_name", "last_name", "timezone", "updated_at",
			}),
		}).Create(&contact)
		if res.Error != nil {
			return checkConstraintViolation(res.Error)
		}
		return nil
	}

	policy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	start := utils.Now()
	err := retryableOperation(ctx, policy, "SaveContact", operation)
	observer.ObserveDbOperationDuration("save", "contact", time.Since(start), err)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to save contact after retries",
			zap.String("contact_id", contact.ID), zap.Error(err))
		return err
	}
	return nil
}

// FindContactByID retrieves a contact by primary key.
func (r *PostgresRepo) FindContactByID(ctx context.Context, id string) (*model.Contact, error) {
	var contact model.Contact

	operation := func() error {
		return r.db.WithContext(ctx).First(&contact, "id = ?", id).Error
	}

	policy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	start := utils.Now()
	err := retryableOperation(ctx, policy, "FindContactByID", operation)
	observer.ObserveDbOperationDuration("find", "contact", time.Since(start), err)
	if err != nil {
		return nil, wrapNotFound(err, "contact "+id)
	}
	return &contact, nil
}
