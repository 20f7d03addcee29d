package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConnectionDegree is LinkedIn's network distance between the automation
// owner and a commenter
type ConnectionDegree string

const (
	DegreeFirst   ConnectionDegree = "1st"
	DegreeSecond  ConnectionDegree = "2nd"
	DegreeThird   ConnectionDegree = "3rd+"
	DegreeUnknown ConnectionDegree = "unknown"
)

// ParseDegree normalises a degree reported by the gateway. Anything
// unrecognised is DegreeUnknown.
func ParseDegree(s string) ConnectionDegree {
	switch s {
	case "1st", "1", "FIRST_DEGREE", "DISTANCE_1":
		return DegreeFirst
	case "2nd", "2", "SECOND_DEGREE", "DISTANCE_2":
		return DegreeSecond
	case "3rd+", "3rd", "3", "THIRD_DEGREE", "DISTANCE_3", "OUT_OF_NETWORK":
		return DegreeThird
	default:
		return DegreeUnknown
	}
}

// ProcessingStatus is the per-comment outcome recorded in the ledger
type ProcessingStatus string

const (
	ProcessingPending         ProcessingStatus = "pending"
	ProcessingSkippedExisting ProcessingStatus = "skipped_existing"
	ProcessingSkipped         ProcessingStatus = "skipped" // evaluated, nothing to send
	ProcessingReplied         ProcessingStatus = "replied" // public reply only
	ProcessingDMSent          ProcessingStatus = "dm_sent"
	ProcessingFailed          ProcessingStatus = "failed"
)

// DMStatus tracks the direct message for a processed comment
type DMStatus string

const (
	DMStatusNone      DMStatus = ""
	DMStatusPending   DMStatus = "pending"
	DMStatusScheduled DMStatus = "scheduled"
	DMStatusSent      DMStatus = "sent"
	DMStatusFailed    DMStatus = "failed"
)

// ProcessedComment is the idempotency record for one comment on one
// automation's post.
type ProcessedComment struct {
	ID                  string           `gorm:"primaryKey;size:36" json:"id"`
	AutomationID        string           `gorm:"size:36;not null;uniqueIndex:ux_automation_comment,priority:1" json:"automation_id"`
	CommentID           string           `gorm:"size:128;not null;uniqueIndex:ux_automation_comment,priority:2" json:"comment_id"`
	CommenterName       string           `gorm:"size:255" json:"commenter_name"`
	CommenterProfileURL string           `gorm:"size:1024" json:"commenter_profile_url"`
	CommenterHeadline   string           `gorm:"size:512" json:"commenter_headline"`
	CommenterCompany    string           `gorm:"size:255" json:"commenter_company"`
	ConnectionDegree    ConnectionDegree `gorm:"size:16" json:"connection_degree"`
	IsConnected         bool             `json:"is_connected"`
	CommentText         string           `gorm:"type:text" json:"comment_text"`
	CommentCreatedAt    *time.Time       `json:"comment_created_at"`
	CommentPermalink    string           `gorm:"size:1024" json:"comment_permalink"`
	MatchesCriteria     bool             `gorm:"not null;default:false;index" json:"matches_criteria"`
	KeywordMatched      *string          `gorm:"size:255" json:"keyword_matched"`
	DMSent              bool             `gorm:"column:dm_sent;not null;default:false" json:"dm_sent"`
	DMSentAt            *time.Time       `gorm:"column:dm_sent_at" json:"dm_sent_at"`
	DMStatus            DMStatus         `gorm:"column:dm_status;size:16" json:"dm_status"`
	ReplySent           bool             `gorm:"not null;default:false" json:"reply_sent"`
	ReplySentAt         *time.Time       `json:"reply_sent_at"`
	ProcessingStatus    ProcessingStatus `gorm:"size:32;not null;default:'pending'" json:"processing_status"`
	ErrorMessage        string           `gorm:"type:text" json:"error_message,omitempty"`
	ProcessedAt         time.Time        `json:"processed_at"`
	CreatedAt           time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns a uuid when the caller did not set one
func (p *ProcessedComment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Commenter is the profile snapshot the gateway reports for a comment author
type Commenter struct {
	Name       string           `json:"name"`
	ProfileURL string           `json:"profileUrl"`
	Headline   string           `json:"headline"`
	Company    string           `json:"company"`
	Degree     ConnectionDegree `json:"connectionDegree"`
}

// ScannedComment is one comment as observed in the post's feed. Engagement
// flags are computed by the gateway and treated as opaque input.
type ScannedComment struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"createdAt"`
	Permalink   string    `json:"permalink"`
	Commenter   Commenter `json:"commenter"`
	HasLiked    bool      `json:"hasLiked"`
	HasFollowed bool      `json:"hasFollowed"`
	IsConnected bool      `json:"isConnected"`
}
