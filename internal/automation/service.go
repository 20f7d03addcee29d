// Package automation is the user-facing management of automations: it
// validates input at the boundary and enforces ownership.
package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/linkedin-autodm/internal/agent/monitor"
	"github.com/linkedin-autodm/internal/apperrors"
	"github.com/linkedin-autodm/internal/engine/criteria"
	"github.com/linkedin-autodm/internal/ledger"
	"github.com/linkedin-autodm/internal/linkedin"
	"github.com/linkedin-autodm/internal/models"
	"github.com/linkedin-autodm/internal/quota"
	"github.com/linkedin-autodm/internal/storage"
	"github.com/linkedin-autodm/pkg/logger"
)

// Gateway is the subset of the LinkedIn gateway the service calls directly
type Gateway interface {
	ResolvePost(ctx context.Context, userID, postID string) (*linkedin.PostInfo, error)
	SendMessage(ctx context.Context, userID string, msg linkedin.DirectMessage) (*linkedin.SendResult, error)
}

// Runner executes an automation run on demand
type Runner interface {
	Run(ctx context.Context, automationID string) (*monitor.RunResult, error)
}

// Service manages automations on behalf of users
type Service struct {
	repository storage.Repository
	ledger     *ledger.Ledger
	files      *FileStore
	gateway    Gateway
	runner     Runner
	gate       *quota.Gate
	log        *logger.Logger
}

// NewService creates an automation service. files may be nil when uploads
// are disabled.
func NewService(repository storage.Repository, files *FileStore, gateway Gateway, runner Runner, gate *quota.Gate, log *logger.Logger) *Service {
	return &Service{
		repository: repository,
		ledger:     ledger.New(repository),
		files:      files,
		gateway:    gateway,
		runner:     runner,
		gate:       gate,
		log:        log.WithComponent("automation"),
	}
}

// CreateInput holds the fields accepted when creating an automation
type CreateInput struct {
	UserID                    string
	Name                      string
	PostURL                   string
	Keyword                   string
	MessageTemplate           string
	ReplyTemplate1stDegree    string
	ReplyTemplateNon1stDegree string
	ProcessExistingComments   bool
	// EngagementCriteria defaults to hasCommented when nil
	EngagementCriteria *models.EngagementCriteria
	ResourceURL        string
	File               *Upload
}

// UpdateInput holds the editable fields. Nil pointers leave a field as is.
type UpdateInput struct {
	UserID          string
	ID              string
	Name            *string
	Keyword         *string
	MessageTemplate *string
	// PostURL is only checked: a different value is rejected
	PostURL    *string
	RemoveFile bool
	File       *Upload
}

// Create validates and stores a new automation
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Automation, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperrors.Invalid("name", "is required")
	}
	if strings.TrimSpace(in.MessageTemplate) == "" {
		return nil, apperrors.Invalid("messageTemplate", "is required")
	}

	ref, err := linkedin.ParsePostURL(in.PostURL)
	if err != nil {
		return nil, err
	}

	engagement := models.EngagementCriteria{HasCommented: true}
	if in.EngagementCriteria != nil {
		engagement = *in.EngagementCriteria
	}

	keywords := keywordList(in.Keyword)
	if err := criteria.Validate(engagement, keywords); err != nil {
		return nil, err
	}

	reply1st := strings.TrimSpace(in.ReplyTemplate1stDegree)
	replyNon1st := strings.TrimSpace(in.ReplyTemplateNon1stDegree)
	if (reply1st == "") != (replyNon1st == "") {
		return nil, apperrors.Invalid("replyTemplates", "both reply templates must be provided together")
	}

	a := &models.Automation{
		UserID:                    in.UserID,
		Name:                      name,
		PostURL:                   ref.URL,
		PostID:                    ref.ID,
		Status:                    models.AutomationStatusActive,
		Keywords:                  keywords,
		EngagementCriteria:        engagement,
		MessageTemplate:           in.MessageTemplate,
		ReplyTemplate1stDegree:    reply1st,
		ReplyTemplateNon1stDegree: replyNon1st,
		ProcessExistingComments:   in.ProcessExistingComments,
	}

	if link := strings.TrimSpace(in.ResourceURL); link != "" {
		a.ResourceType = models.ResourceTypeLink
		a.ResourceURL = link
	}

	var stored *StoredFile
	if in.File != nil {
		if stored, err = s.saveFile(in.UserID, in.File); err != nil {
			return nil, err
		}
		a.ResourceType = models.ResourceTypeFile
		a.ResourceURL = stored.URL
		a.FileName = stored.FileName
	}

	if err := s.repository.CreateAutomation(ctx, a); err != nil {
		if stored != nil {
			s.deleteFile(stored.URL)
		}
		return nil, fmt.Errorf("failed to create automation: %w", err)
	}

	s.log.WithUserID(a.UserID).Info().
		Str("automation_id", a.ID).
		Str("post_id", a.PostID).
		Bool("reply_templates", a.HasReplyTemplates()).
		Msg("Automation created")

	return a, nil
}

// Update applies an edit. Only name, keyword, message template and the
// attachment may change.
func (s *Service) Update(ctx context.Context, in UpdateInput) (*models.Automation, error) {
	a, err := s.Get(ctx, in.UserID, in.ID)
	if err != nil {
		return nil, err
	}

	if in.PostURL != nil && strings.TrimSpace(*in.PostURL) != "" && strings.TrimSpace(*in.PostURL) != a.PostURL {
		return nil, fmt.Errorf("postUrl: %w", apperrors.ErrImmutableField)
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperrors.Invalid("name", "is required")
		}
		a.Name = name
	}
	if in.MessageTemplate != nil {
		if strings.TrimSpace(*in.MessageTemplate) == "" {
			return nil, apperrors.Invalid("messageTemplate", "is required")
		}
		a.MessageTemplate = *in.MessageTemplate
	}
	if in.Keyword != nil {
		keywords := keywordList(*in.Keyword)
		if err := criteria.Validate(a.EngagementCriteria, keywords); err != nil {
			return nil, err
		}
		a.Keywords = keywords
	}

	previousFile := ""
	if a.ResourceType == models.ResourceTypeFile {
		previousFile = a.ResourceURL
	}

	var stored *StoredFile
	switch {
	case in.File != nil:
		if stored, err = s.saveFile(in.UserID, in.File); err != nil {
			return nil, err
		}
		a.ResourceType = models.ResourceTypeFile
		a.ResourceURL = stored.URL
		a.FileName = stored.FileName
	case in.RemoveFile && a.ResourceType == models.ResourceTypeFile:
		a.ResourceType = ""
		a.ResourceURL = ""
		a.FileName = ""
	}

	if err := s.repository.UpdateAutomation(ctx, a); err != nil {
		if stored != nil {
			s.deleteFile(stored.URL)
		}
		return nil, fmt.Errorf("failed to update automation: %w", err)
	}

	if previousFile != "" && previousFile != a.ResourceURL {
		s.deleteFile(previousFile)
	}

	s.log.WithUserID(a.UserID).Info().Str("automation_id", a.ID).Msg("Automation updated")
	return a, nil
}

// Get returns one of the user's automations
func (s *Service) Get(ctx context.Context, userID, id string) (*models.Automation, error) {
	a, err := s.repository.GetAutomation(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		// Other users' automations are indistinguishable from missing ones
		return nil, fmt.Errorf("automation %s: %w", id, apperrors.ErrNotFound)
	}
	return a, nil
}

// List returns the user's automations, newest first
func (s *Service) List(ctx context.Context, userID string) ([]*models.Automation, error) {
	automations, err := s.repository.ListAutomations(ctx, storage.DefaultAutomationFilter(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list automations: %w", err)
	}
	if automations == nil {
		automations = []*models.Automation{}
	}
	return automations, nil
}

// Archive hides an automation from listings and scans. Its ledger and
// delivery history are kept.
func (s *Service) Archive(ctx context.Context, userID, id string) error {
	if err := s.repository.ArchiveAutomation(ctx, userID, id); err != nil {
		return err
	}
	s.log.WithUserID(userID).Info().Str("automation_id", id).Msg("Automation archived")
	return nil
}

// SetStatus pauses or resumes an automation
func (s *Service) SetStatus(ctx context.Context, userID, id string, status models.AutomationStatus) (*models.Automation, error) {
	if status != models.AutomationStatusActive && status != models.AutomationStatusPaused {
		return nil, apperrors.Invalid("status", "must be active or paused")
	}
	current, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	// Resuming mid-run would let a second run claim the automation
	if status == models.AutomationStatusActive && current.Status == models.AutomationStatusProcessing {
		return nil, apperrors.ErrAutomationBusy
	}
	if err := s.repository.SetAutomationStatus(ctx, userID, id, status); err != nil {
		return nil, err
	}
	return s.Get(ctx, userID, id)
}

// StatsView is the per-automation counter summary
type StatsView struct {
	TotalComments    int64  `json:"totalComments"`
	MatchingComments int64  `json:"matchingComments"`
	MessagesSent     int64  `json:"messagesSent"`
	Keyword          string `json:"keyword"`
}

// Stats returns the automation's ledger counters
func (s *Service) Stats(ctx context.Context, userID, id string) (*StatsView, error) {
	a, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	st, err := s.ledger.Stats(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	return &StatsView{
		TotalComments:    st.TotalComments,
		MatchingComments: st.MatchingComments,
		MessagesSent:     st.MessagesSent,
		Keyword:          a.PrimaryKeyword(),
	}, nil
}

// CommentsView is one page of the processed comments screen
type CommentsView struct {
	Comments   []*models.ProcessedComment `json:"comments"`
	Pagination ledger.Pagination          `json:"pagination"`
	Automation struct {
		PostURL           string `json:"post_url"`
		HasReplyTemplates bool   `json:"has_reply_templates"`
	} `json:"automation"`
	TotalStats struct {
		TotalConnected int64 `json:"total_connected"`
		TotalDMsSent   int64 `json:"total_dms_sent"`
	} `json:"total_stats"`
}

// Comments returns one page of processed comments with the totals
func (s *Service) Comments(ctx context.Context, userID, id string, page, limit int) (*CommentsView, error) {
	a, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	p, err := s.ledger.List(ctx, a.ID, page, limit)
	if err != nil {
		return nil, err
	}
	st, err := s.ledger.Stats(ctx, a.ID)
	if err != nil {
		return nil, err
	}

	view := &CommentsView{Comments: p.Comments, Pagination: p.Pagination}
	view.Automation.PostURL = a.PostURL
	view.Automation.HasReplyTemplates = a.HasReplyTemplates()
	view.TotalStats.TotalConnected = st.Connected
	view.TotalStats.TotalDMsSent = st.MessagesSent
	return view, nil
}

// Monitor runs the automation now
func (s *Service) Monitor(ctx context.Context, userID, id string) (*monitor.RunResult, error) {
	a, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if s.runner == nil {
		return nil, errors.New("monitoring is not configured")
	}
	return s.runner.Run(ctx, a.ID)
}

// DailyStats returns the user's quota usage
func (s *Service) DailyStats(ctx context.Context, userID string) (*quota.DailyStats, error) {
	if s.gate == nil {
		return nil, errors.New("quota gate is not configured")
	}
	return s.gate.Stats(ctx, userID)
}

// ValidatePost parses a post URL and, when a gateway is configured,
// checks that the post is reachable with the user's session
func (s *Service) ValidatePost(ctx context.Context, userID, postURL string) (*linkedin.PostRef, error) {
	ref, err := linkedin.ParsePostURL(postURL)
	if err != nil {
		return nil, err
	}
	if s.gateway == nil {
		return ref, nil
	}
	info, err := s.gateway.ResolvePost(ctx, userID, ref.ID)
	if err != nil {
		return nil, err
	}
	if !info.Accessible {
		return nil, apperrors.Invalid("postUrl", "post is not accessible with the connected account")
	}
	return ref, nil
}

func (s *Service) saveFile(userID string, up *Upload) (*StoredFile, error) {
	if s.files == nil {
		return nil, apperrors.Invalid("file", "file uploads are disabled")
	}
	return s.files.Save(userID, up)
}

func (s *Service) deleteFile(url string) {
	if s.files == nil {
		return
	}
	if err := s.files.Delete(url); err != nil {
		s.log.Warn().Err(err).Str("url", url).Msg("Failed to delete attachment")
	}
}

// keywordList turns the single keyword field into the stored list
func keywordList(keyword string) models.StringSlice {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return models.StringSlice{}
	}
	return models.StringSlice{keyword}
}
