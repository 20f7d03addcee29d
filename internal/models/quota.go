package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DailyCounter tracks usage of one quota category for one user inside one
// reset window. WindowKey is the window start in RFC3339 UTC.
type DailyCounter struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"size:64;not null;uniqueIndex:ux_daily_counter,priority:1" json:"user_id"`
	Category  Category  `gorm:"size:16;not null;uniqueIndex:ux_daily_counter,priority:2" json:"category"`
	WindowKey string    `gorm:"size:32;not null;uniqueIndex:ux_daily_counter,priority:3" json:"window_key"`
	Sent      int       `gorm:"not null;default:0" json:"sent"`
	Scheduled int       `gorm:"not null;default:0" json:"scheduled"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Used returns sent plus scheduled
func (c *DailyCounter) Used() int {
	return c.Sent + c.Scheduled
}

// ScheduledActionStatus represents the state of a deferred send
type ScheduledActionStatus string

const (
	ScheduledActionPending ScheduledActionStatus = "pending"
	ScheduledActionRunning ScheduledActionStatus = "running"
	ScheduledActionDone    ScheduledActionStatus = "done"
	ScheduledActionFailed  ScheduledActionStatus = "failed"
)

// ScheduledAction is a send deferred to the next quota window
type ScheduledAction struct {
	ID                  string                `gorm:"primaryKey;size:36" json:"id"`
	UserID              string                `gorm:"size:64;not null;index" json:"user_id"`
	AutomationID        string                `gorm:"size:36;not null;index" json:"automation_id"`
	ProcessedCommentID  string                `gorm:"size:36;not null;index" json:"processed_comment_id"`
	Category            Category              `gorm:"size:16;not null" json:"category"`
	RecipientName       string                `gorm:"size:255" json:"recipient_name"`
	RecipientProfileURL string                `gorm:"size:1024" json:"recipient_profile_url"`
	Content             string                `gorm:"type:text;not null" json:"content"`
	PostID              string                `gorm:"size:64" json:"post_id"`
	CommentID           string                `gorm:"size:128" json:"comment_id"`
	// SendDMAfter chains the DM behind a deferred 1st degree reply
	SendDMAfter  bool                  `gorm:"not null;default:false" json:"send_dm_after"`
	RunAt        time.Time             `gorm:"not null;index" json:"run_at"`
	Status       ScheduledActionStatus `gorm:"size:16;not null;default:'pending';index" json:"status"`
	ErrorMessage string                `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns a uuid when the caller did not set one
func (s *ScheduledAction) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
