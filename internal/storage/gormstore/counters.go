package gormstore

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/linkedin-autodm/internal/models"
)

// Daily counter operations. Every mutation is a single conditional UPDATE so
// two processes sharing the database cannot both take the last slot.

func counterScope(userID string, category models.Category, window string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Model(&models.DailyCounter{}).
			Where("user_id = ? AND category = ? AND window_key = ?", userID, category, window)
	}
}

// GetCounter returns the counter for one window, zero valued if none exists
func (r *Repository) GetCounter(ctx context.Context, userID string, category models.Category, window string) (*models.DailyCounter, error) {
	var counter models.DailyCounter
	err := r.db.WithContext(ctx).Scopes(counterScope(userID, category, window)).First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.DailyCounter{UserID: userID, Category: category, WindowKey: window}, nil
	}
	if err != nil {
		return nil, err
	}
	return &counter, nil
}

// ReserveSlot increments scheduled when sent+scheduled is below limit
func (r *Repository) ReserveSlot(ctx context.Context, userID string, category models.Category, window string, limit int) (bool, error) {
	reserved := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := &models.DailyCounter{UserID: userID, Category: category, WindowKey: window}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
			return err
		}

		res := tx.Scopes(counterScope(userID, category, window)).
			Where("sent + scheduled < ?", limit).
			UpdateColumn("scheduled", gorm.Expr("scheduled + 1"))
		if res.Error != nil {
			return res.Error
		}
		reserved = res.RowsAffected == 1
		return nil
	})
	return reserved, err
}

// CompleteSlot converts a reserved slot into a sent one
func (r *Repository) CompleteSlot(ctx context.Context, userID string, category models.Category, window string) error {
	return r.db.WithContext(ctx).Scopes(counterScope(userID, category, window)).
		UpdateColumns(map[string]interface{}{
			"scheduled": gorm.Expr("CASE WHEN scheduled > 0 THEN scheduled - 1 ELSE 0 END"),
			"sent":      gorm.Expr("sent + 1"),
		}).Error
}

// ReleaseSlot gives back a reserved slot that was never sent
func (r *Repository) ReleaseSlot(ctx context.Context, userID string, category models.Category, window string) error {
	return r.db.WithContext(ctx).Scopes(counterScope(userID, category, window)).
		Where("scheduled > 0").
		UpdateColumn("scheduled", gorm.Expr("scheduled - 1")).Error
}
