package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/linkedin-autodm/internal/apperrors"
	"github.com/linkedin-autodm/internal/config"
	"github.com/linkedin-autodm/internal/models"
	"github.com/linkedin-autodm/internal/storage"
)

// Repository implements storage.Repository and quota.Store using GORM
type Repository struct {
	db *gorm.DB
}

var _ storage.Repository = (*Repository)(nil)

// New opens the database selected by cfg.Driver
func New(cfg config.DatabaseConfig) (*Repository, error) {
	var dialector gorm.Dialector
	singleWriter := false

	switch cfg.Driver {
	case "", "sqlite":
		singleWriter = true
		if !isMemoryDSN(cfg.DSN) {
			// Ensure directory exists
			dir := filepath.Dir(cfg.DSN)
			if dir != "." && dir != "" {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return nil, fmt.Errorf("failed to create data directory: %w", err)
				}
			}
		}
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if singleWriter {
		// sqlite allows one writer; an in-memory database is also per connection
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}

	return &Repository{db: db}, nil
}

// NewMemory opens a private in-memory sqlite database. Used by tests.
func NewMemory() (*Repository, error) {
	repo, err := New(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		return nil, err
	}
	if err := repo.Migrate(); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory") || strings.HasPrefix(dsn, "file::memory:")
}

// Migrate runs database migrations
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(
		&models.Automation{},
		&models.ProcessedComment{},
		&models.MessageDelivery{},
		&models.DailyCounter{},
		&models.ScheduledAction{},
	)
}

// Close closes the database connection
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, apperrors.ErrNotFound)
	}
	return err
}

// Automation operations

func (r *Repository) CreateAutomation(ctx context.Context, automation *models.Automation) error {
	return r.db.WithContext(ctx).Create(automation).Error
}

func (r *Repository) GetAutomation(ctx context.Context, id string) (*models.Automation, error) {
	var automation models.Automation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&automation).Error; err != nil {
		return nil, notFound(err, "automation "+id)
	}
	return &automation, nil
}

func (r *Repository) ListAutomations(ctx context.Context, filter storage.AutomationFilter) ([]*models.Automation, error) {
	var automations []*models.Automation
	query := r.db.WithContext(ctx).Model(&models.Automation{})

	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	if filter.OrderDesc {
		query = query.Order("created_at DESC")
	} else {
		query = query.Order("created_at ASC")
	}

	// Pagination
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	if err := query.Find(&automations).Error; err != nil {
		return nil, err
	}
	return automations, nil
}

// UpdateAutomation writes the editable columns only, so an edit never
// clobbers the status a concurrent run is maintaining
func (r *Repository) UpdateAutomation(ctx context.Context, automation *models.Automation) error {
	res := r.db.WithContext(ctx).Model(automation).
		Select("name", "keywords", "message_template", "resource_type", "resource_url", "file_name", "updated_at").
		Updates(automation)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("automation %s: %w", automation.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (r *Repository) ArchiveAutomation(ctx context.Context, userID, id string) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.Automation{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("automation %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *Repository) SetAutomationStatus(ctx context.Context, userID, id string, status models.AutomationStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Automation{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("automation %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *Repository) ClaimAutomationRun(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Automation{}).
		Where("id = ? AND status IN ?", id, []models.AutomationStatus{
			models.AutomationStatusActive,
			models.AutomationStatusError,
		}).
		Update("status", models.AutomationStatusProcessing)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) FinishAutomationRun(ctx context.Context, id string, finish storage.RunFinish) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fields := map[string]interface{}{"last_error": finish.LastError}
		if finish.ScannedAt != nil {
			fields["last_scanned_at"] = *finish.ScannedAt
		}
		if err := tx.Model(&models.Automation{}).Where("id = ?", id).Updates(fields).Error; err != nil {
			return err
		}

		// A pause or archive issued during the run wins over the restore
		return tx.Model(&models.Automation{}).
			Where("id = ? AND status = ?", id, models.AutomationStatusProcessing).
			Update("status", finish.Status).Error
	})
}

// Processed comment operations

func (r *Repository) ProcessedCommentExists(ctx context.Context, automationID, commentID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ProcessedComment{}).
		Where("automation_id = ? AND comment_id = ?", automationID, commentID).
		Count(&count).Error
	return count > 0, err
}

func (r *Repository) InsertProcessedComment(ctx context.Context, comment *models.ProcessedComment) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "automation_id"}, {Name: "comment_id"}},
		DoNothing: true,
	}).Create(comment)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) UpdateProcessedComment(ctx context.Context, comment *models.ProcessedComment) error {
	return r.db.WithContext(ctx).Save(comment).Error
}

func (r *Repository) GetProcessedComment(ctx context.Context, id string) (*models.ProcessedComment, error) {
	var comment models.ProcessedComment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&comment).Error; err != nil {
		return nil, notFound(err, "processed comment "+id)
	}
	return &comment, nil
}

func (r *Repository) ListProcessedComments(ctx context.Context, filter storage.CommentFilter) ([]*models.ProcessedComment, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.ProcessedComment{}).
		Where("automation_id = ?", filter.AutomationID)
	if filter.MatchedOnly {
		query = query.Where("matches_criteria = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var comments []*models.ProcessedComment
	query = query.Order("processed_at DESC").Order("id ASC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if err := query.Find(&comments).Error; err != nil {
		return nil, 0, err
	}
	return comments, total, nil
}

func (r *Repository) GetCommentStats(ctx context.Context, automationID string) (*storage.CommentStats, error) {
	var row struct {
		Total     int64
		Matching  int64
		DMsSent   int64 `gorm:"column:dms_sent"`
		Connected int64
	}
	err := r.db.WithContext(ctx).Model(&models.ProcessedComment{}).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN matches_criteria THEN 1 ELSE 0 END), 0) AS matching,
			COALESCE(SUM(CASE WHEN dm_sent THEN 1 ELSE 0 END), 0) AS dms_sent,
			COALESCE(SUM(CASE WHEN is_connected OR connection_degree = ? THEN 1 ELSE 0 END), 0) AS connected`,
			models.DegreeFirst).
		Where("automation_id = ?", automationID).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &storage.CommentStats{
		Total:     row.Total,
		Matching:  row.Matching,
		DMsSent:   row.DMsSent,
		Connected: row.Connected,
	}, nil
}

// Delivery operations

func (r *Repository) CreateDelivery(ctx context.Context, delivery *models.MessageDelivery) error {
	return r.db.WithContext(ctx).Create(delivery).Error
}

func (r *Repository) UpdateDelivery(ctx context.Context, delivery *models.MessageDelivery) error {
	return r.db.WithContext(ctx).Save(delivery).Error
}

func (r *Repository) ListDeliveries(ctx context.Context, filter storage.DeliveryFilter) ([]*models.MessageDelivery, error) {
	var deliveries []*models.MessageDelivery
	query := r.db.WithContext(ctx).Model(&models.MessageDelivery{})

	if filter.AutomationID != "" {
		query = query.Where("automation_id = ?", filter.AutomationID)
	}
	if filter.ProcessedCommentID != "" {
		query = query.Where("processed_comment_id = ?", filter.ProcessedCommentID)
	}
	if filter.Status != nil {
		query = query.Where("delivery_status = ?", *filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	if err := query.Order("created_at ASC").Find(&deliveries).Error; err != nil {
		return nil, err
	}
	return deliveries, nil
}

// Scheduled action operations

func (r *Repository) CreateScheduledAction(ctx context.Context, action *models.ScheduledAction) error {
	return r.db.WithContext(ctx).Create(action).Error
}

func (r *Repository) ListDueScheduledActions(ctx context.Context, before time.Time, limit int) ([]*models.ScheduledAction, error) {
	var actions []*models.ScheduledAction
	query := r.db.WithContext(ctx).
		Where("status = ? AND run_at <= ?", models.ScheduledActionPending, before.UTC()).
		Order("created_at ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&actions).Error; err != nil {
		return nil, err
	}
	return actions, nil
}

func (r *Repository) ClaimScheduledAction(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.ScheduledAction{}).
		Where("id = ? AND status = ?", id, models.ScheduledActionPending).
		Update("status", models.ScheduledActionRunning)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) UpdateScheduledAction(ctx context.Context, action *models.ScheduledAction) error {
	return r.db.WithContext(ctx).Save(action).Error
}
