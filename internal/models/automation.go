package models

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AutomationStatus represents the lifecycle state of an automation
type AutomationStatus string

const (
	AutomationStatusActive     AutomationStatus = "active"
	AutomationStatusPaused     AutomationStatus = "paused"
	AutomationStatusError      AutomationStatus = "error"
	AutomationStatusProcessing AutomationStatus = "processing_comments"
)

// ResourceType is the kind of resource attached to the DM
type ResourceType string

const (
	ResourceTypeFile ResourceType = "file"
	ResourceTypeLink ResourceType = "link"
)

// EngagementCriteria holds the independently togglable requirements a
// commenter must satisfy. Stored as a json column.
type EngagementCriteria struct {
	HasLiked     bool `json:"hasLiked"`
	HasFollowed  bool `json:"hasFollowed"`
	HasConnected bool `json:"hasConnected"`
	HasCommented bool `json:"hasCommented"`
}

// Any reports whether at least one requirement is enabled.
func (c EngagementCriteria) Any() bool {
	return c.HasLiked || c.HasFollowed || c.HasConnected || c.HasCommented
}

func (c EngagementCriteria) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *EngagementCriteria) Scan(value interface{}) error {
	if value == nil {
		*c = EngagementCriteria{}
		return nil
	}
	return json.Unmarshal(jsonBytes(value), c)
}

// Automation is a user-owned rule set monitoring one LinkedIn post
type Automation struct {
	ID                        string             `gorm:"primaryKey;size:36" json:"id"`
	UserID                    string             `gorm:"size:64;not null;index" json:"user_id"`
	Name                      string             `gorm:"size:255;not null" json:"name"`
	PostURL                   string             `gorm:"size:1024;not null" json:"post_url"`
	PostID                    string             `gorm:"size:64;index" json:"post_id"` // numeric activity id
	Status                    AutomationStatus   `gorm:"size:32;not null;default:'active';index" json:"status"`
	Keywords                  StringSlice        `gorm:"type:json" json:"keywords"`
	EngagementCriteria        EngagementCriteria `gorm:"type:json" json:"engagement_criteria"`
	MessageTemplate           string             `gorm:"type:text;not null" json:"message_template"`
	ReplyTemplate1stDegree    string             `gorm:"column:reply_template_1st_degree;type:text" json:"reply_template_1st_degree"`
	ReplyTemplateNon1stDegree string             `gorm:"column:reply_template_non_1st_degree;type:text" json:"reply_template_non_1st_degree"`
	ResourceType              ResourceType       `gorm:"size:16" json:"resource_type,omitempty"`
	ResourceURL               string             `gorm:"size:1024" json:"resource_url,omitempty"`
	FileName                  string             `gorm:"size:255" json:"file_name,omitempty"`
	ProcessExistingComments   bool               `gorm:"not null;default:false" json:"process_existing_comments"`
	LastScannedAt             *time.Time         `json:"last_scanned_at"`
	LastError                 string             `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt                 time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                 time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
	ArchivedAt                gorm.DeletedAt     `gorm:"index" json:"-"`
}

// BeforeCreate assigns a uuid when the caller did not set one
func (a *Automation) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// HasReplyTemplates returns true when the reply-to-connect path is enabled.
// Both templates must be present.
func (a *Automation) HasReplyTemplates() bool {
	return strings.TrimSpace(a.ReplyTemplate1stDegree) != "" &&
		strings.TrimSpace(a.ReplyTemplateNon1stDegree) != ""
}

// PrimaryKeyword returns the first configured keyword, or "".
func (a *Automation) PrimaryKeyword() string {
	if len(a.Keywords) == 0 {
		return ""
	}
	return a.Keywords[0]
}

// HasAttachment returns true when a file or link is attached to the DM
func (a *Automation) HasAttachment() bool {
	return a.ResourceType != "" && a.ResourceURL != ""
}

// IsFirstScan is true until the automation has completed a scan
func (a *Automation) IsFirstScan() bool {
	return a.LastScannedAt == nil
}
