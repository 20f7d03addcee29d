package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeliveryKind distinguishes DMs from public comment replies
type DeliveryKind string

const (
	DeliveryKindMessage DeliveryKind = "message"
	DeliveryKindReply   DeliveryKind = "reply"
)

// DeliveryStatus represents the state of an outbound attempt series
type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "pending"
	DeliveryStatusSent    DeliveryStatus = "sent"
	DeliveryStatusFailed  DeliveryStatus = "failed"
	DeliveryStatusRetry   DeliveryStatus = "retry"
)

// MessageDelivery records one outbound DM or reply and its attempts
type MessageDelivery struct {
	ID                  string         `gorm:"primaryKey;size:36" json:"id"`
	AutomationID        string         `gorm:"size:36;not null;index" json:"automation_id"`
	ProcessedCommentID  *string        `gorm:"size:36;index" json:"processed_comment_id"` // nil for test sends
	UserID              string         `gorm:"size:64;not null;index" json:"user_id"`
	Kind                DeliveryKind   `gorm:"size:16;not null" json:"kind"`
	RecipientName       string         `gorm:"size:255" json:"recipient_name"`
	RecipientProfileURL string         `gorm:"size:1024" json:"recipient_profile_url"`
	Content             string         `gorm:"type:text;not null" json:"content"`
	DeliveryStatus      DeliveryStatus `gorm:"size:16;not null;default:'pending';index" json:"delivery_status"`
	Attempts            int            `gorm:"not null;default:0" json:"attempts"`
	ErrorMessage        string         `gorm:"type:text" json:"error_message,omitempty"`
	ExternalID          string         `gorm:"size:255" json:"external_id,omitempty"`
	SentAt              *time.Time     `json:"sent_at"`
	DeliveredAt         *time.Time     `json:"delivered_at"`
	CreatedAt           time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns a uuid when the caller did not set one
func (d *MessageDelivery) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// IsTerminal returns true once the delivery will not be attempted again
func (d *MessageDelivery) IsTerminal() bool {
	return d.DeliveryStatus == DeliveryStatusSent || d.DeliveryStatus == DeliveryStatusFailed
}
