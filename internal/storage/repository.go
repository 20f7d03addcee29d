package storage

import (
	"context"
	"time"

	"github.com/linkedin-autodm/internal/models"
)

// Repository defines the interface for data persistence
type Repository interface {
	// Automation operations
	CreateAutomation(ctx context.Context, automation *models.Automation) error
	GetAutomation(ctx context.Context, id string) (*models.Automation, error)
	ListAutomations(ctx context.Context, filter AutomationFilter) ([]*models.Automation, error)
	UpdateAutomation(ctx context.Context, automation *models.Automation) error
	ArchiveAutomation(ctx context.Context, userID, id string) error
	SetAutomationStatus(ctx context.Context, userID, id string, status models.AutomationStatus) error

	// Run bookkeeping. ClaimAutomationRun moves an active (or errored)
	// automation to processing_comments and reports whether this caller won.
	ClaimAutomationRun(ctx context.Context, id string) (bool, error)
	FinishAutomationRun(ctx context.Context, id string, finish RunFinish) error

	// Processed comment operations
	ProcessedCommentExists(ctx context.Context, automationID, commentID string) (bool, error)
	// InsertProcessedComment returns false when the (automation, comment)
	// pair is already recorded. That case is not an error.
	InsertProcessedComment(ctx context.Context, comment *models.ProcessedComment) (bool, error)
	UpdateProcessedComment(ctx context.Context, comment *models.ProcessedComment) error
	GetProcessedComment(ctx context.Context, id string) (*models.ProcessedComment, error)
	ListProcessedComments(ctx context.Context, filter CommentFilter) ([]*models.ProcessedComment, int64, error)
	GetCommentStats(ctx context.Context, automationID string) (*CommentStats, error)

	// Delivery operations
	CreateDelivery(ctx context.Context, delivery *models.MessageDelivery) error
	UpdateDelivery(ctx context.Context, delivery *models.MessageDelivery) error
	ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]*models.MessageDelivery, error)

	// Scheduled action operations
	CreateScheduledAction(ctx context.Context, action *models.ScheduledAction) error
	ListDueScheduledActions(ctx context.Context, before time.Time, limit int) ([]*models.ScheduledAction, error)
	// ClaimScheduledAction moves a pending action to running and reports
	// whether this caller won. Only the winner may send it.
	ClaimScheduledAction(ctx context.Context, id string) (bool, error)
	UpdateScheduledAction(ctx context.Context, action *models.ScheduledAction) error

	// Maintenance
	Close() error
	Migrate() error
}

// AutomationFilter defines filtering options for automations.
// Archived automations are never returned.
type AutomationFilter struct {
	UserID    string
	Status    *models.AutomationStatus
	Limit     int
	Offset    int
	OrderDesc bool
}

// CommentFilter defines pagination for the processed comments view
type CommentFilter struct {
	AutomationID string
	MatchedOnly  bool
	Limit        int
	Offset       int
}

// DeliveryFilter defines filtering options for deliveries
type DeliveryFilter struct {
	AutomationID       string
	ProcessedCommentID string
	Status             *models.DeliveryStatus
	Limit              int
}

// RunFinish carries the outcome written back when a run ends
type RunFinish struct {
	Status    models.AutomationStatus
	ScannedAt *time.Time // nil leaves last_scanned_at unchanged
	LastError string
}

// CommentStats are ledger aggregates for one automation
type CommentStats struct {
	Total     int64 `json:"total"`
	Matching  int64 `json:"matching"`
	DMsSent   int64 `json:"dms_sent"`
	Connected int64 `json:"connected"`
}

// DefaultAutomationFilter returns a filter with sensible defaults
func DefaultAutomationFilter(userID string) AutomationFilter {
	return AutomationFilter{
		UserID:    userID,
		Limit:     100,
		OrderDesc: true,
	}
}
