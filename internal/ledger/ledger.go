// Package ledger records every comment an automation has observed so a
// re-scan never messages the same commenter twice.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/linkedin-autodm/internal/models"
	"github.com/linkedin-autodm/internal/storage"
)

// Store is the persistence the ledger needs
type Store interface {
	ProcessedCommentExists(ctx context.Context, automationID, commentID string) (bool, error)
	InsertProcessedComment(ctx context.Context, comment *models.ProcessedComment) (bool, error)
	UpdateProcessedComment(ctx context.Context, comment *models.ProcessedComment) error
	GetProcessedComment(ctx context.Context, id string) (*models.ProcessedComment, error)
	ListProcessedComments(ctx context.Context, filter storage.CommentFilter) ([]*models.ProcessedComment, int64, error)
	GetCommentStats(ctx context.Context, automationID string) (*storage.CommentStats, error)
}

// Outcome is the initial verdict recorded for a comment
type Outcome struct {
	Status         models.ProcessingStatus
	Matched        bool
	KeywordMatched *string
}

// Stats are the per-automation counters shown in the dashboard.
// MessagesSent <= MatchingComments <= TotalComments always holds.
type Stats struct {
	TotalComments    int64 `json:"totalComments"`
	MatchingComments int64 `json:"matchingComments"`
	MessagesSent     int64 `json:"messagesSent"`
	Connected        int64 `json:"connected"`
}

// Pagination describes one page of the comments view
type Pagination struct {
	CurrentPage   int   `json:"current_page"`
	TotalPages    int   `json:"total_pages"`
	TotalComments int64 `json:"total_comments"`
	PerPage       int   `json:"per_page"`
	HasNext       bool  `json:"has_next"`
	HasPrev       bool  `json:"has_prev"`
}

// Page is one page of processed comments
type Page struct {
	Comments   []*models.ProcessedComment `json:"comments"`
	Pagination Pagination                 `json:"pagination"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Ledger wraps the processed comment table
type Ledger struct {
	store Store
	now   func() time.Time
}

// New creates a ledger
func New(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// SetClock overrides the time source
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// AlreadyProcessed reports whether the comment has a ledger row
func (l *Ledger) AlreadyProcessed(ctx context.Context, automationID, commentID string) (bool, error) {
	exists, err := l.store.ProcessedCommentExists(ctx, automationID, commentID)
	if err != nil {
		return false, fmt.Errorf("failed to check ledger: %w", err)
	}
	return exists, nil
}

// Record inserts the ledger row for a newly observed comment. It returns
// false, with no error, when another run recorded the comment first.
func (l *Ledger) Record(ctx context.Context, automationID string, c models.ScannedComment, outcome Outcome) (*models.ProcessedComment, bool, error) {
	row := &models.ProcessedComment{
		AutomationID:        automationID,
		CommentID:           c.ID,
		CommenterName:       c.Commenter.Name,
		CommenterProfileURL: c.Commenter.ProfileURL,
		CommenterHeadline:   c.Commenter.Headline,
		CommenterCompany:    c.Commenter.Company,
		ConnectionDegree:    c.Commenter.Degree,
		IsConnected:         c.IsConnected || c.Commenter.Degree == models.DegreeFirst,
		CommentText:         c.Text,
		CommentPermalink:    c.Permalink,
		MatchesCriteria:     outcome.Matched,
		KeywordMatched:      outcome.KeywordMatched,
		ProcessingStatus:    outcome.Status,
		ProcessedAt:         l.now().UTC(),
	}
	if row.ConnectionDegree == "" {
		row.ConnectionDegree = models.DegreeUnknown
	}
	if !c.CreatedAt.IsZero() {
		created := c.CreatedAt.UTC()
		row.CommentCreatedAt = &created
	}

	inserted, err := l.store.InsertProcessedComment(ctx, row)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record comment %s: %w", c.ID, err)
	}
	if !inserted {
		return nil, false, nil
	}
	return row, true, nil
}

// Update persists progress on an existing row
func (l *Ledger) Update(ctx context.Context, row *models.ProcessedComment) error {
	if err := l.store.UpdateProcessedComment(ctx, row); err != nil {
		return fmt.Errorf("failed to update comment %s: %w", row.CommentID, err)
	}
	return nil
}

// Get loads a ledger row by its id
func (l *Ledger) Get(ctx context.Context, id string) (*models.ProcessedComment, error) {
	return l.store.GetProcessedComment(ctx, id)
}

// MarkDMSent records a delivered DM on the row
func (l *Ledger) MarkDMSent(row *models.ProcessedComment, at time.Time) {
	at = at.UTC()
	row.DMSent = true
	row.DMSentAt = &at
	row.DMStatus = models.DMStatusSent
	row.ProcessingStatus = models.ProcessingDMSent
	row.ErrorMessage = ""
}

// MarkReplySent records a posted reply on the row
func (l *Ledger) MarkReplySent(row *models.ProcessedComment, at time.Time) {
	at = at.UTC()
	row.ReplySent = true
	row.ReplySentAt = &at
	if row.ProcessingStatus != models.ProcessingDMSent {
		row.ProcessingStatus = models.ProcessingReplied
	}
}

// MarkFailed records a per-comment failure on the row
func (l *Ledger) MarkFailed(row *models.ProcessedComment, err error) {
	row.ProcessingStatus = models.ProcessingFailed
	if err != nil {
		row.ErrorMessage = err.Error()
	}
}

// Stats returns the automation's ledger counters
func (l *Ledger) Stats(ctx context.Context, automationID string) (*Stats, error) {
	s, err := l.store.GetCommentStats(ctx, automationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load comment stats: %w", err)
	}
	return &Stats{
		TotalComments:    s.Total,
		MatchingComments: s.Matching,
		MessagesSent:     s.DMsSent,
		Connected:        s.Connected,
	}, nil
}

// List returns one page of processed comments, newest first. page is
// 1-based; out of range values are clamped.
func (l *Ledger) List(ctx context.Context, automationID string, page, limit int) (*Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if page < 1 {
		page = 1
	}

	rows, total, err := l.store.ListProcessedComments(ctx, storage.CommentFilter{
		AutomationID: automationID,
		Limit:        limit,
		Offset:       (page - 1) * limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	if rows == nil {
		rows = []*models.ProcessedComment{}
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &Page{
		Comments: rows,
		Pagination: Pagination{
			CurrentPage:   page,
			TotalPages:    totalPages,
			TotalComments: total,
			PerPage:       limit,
			HasNext:       page < totalPages,
			HasPrev:       page > 1,
		},
	}, nil
}
