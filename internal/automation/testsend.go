package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linkedin-autodm/internal/engine/template"
	"github.com/linkedin-autodm/internal/linkedin"
	"github.com/linkedin-autodm/internal/models"
)

// sampleName fills {firstName} when no target commenter is given
const sampleName = "There"

// TargetCommenter is the optional recipient of a test message
type TargetCommenter struct {
	Name       string `json:"name"`
	ProfileURL string `json:"profileUrl"`
}

// TestDetails describes the rendered test message
type TestDetails struct {
	ProcessedMessage string `json:"processedMessage"`
	HasFile          bool   `json:"hasFile"`
	Sent             bool   `json:"sent"`
	Recipient        string `json:"recipient,omitempty"`
}

// TestResult is the outcome of a test send
type TestResult struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Details TestDetails `json:"details"`
}

// Test renders the automation's message. With a target commenter the
// message is also delivered, outside the daily quota and the ledger.
func (s *Service) Test(ctx context.Context, userID, id string, target *TargetCommenter) (*TestResult, error) {
	a, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	name := sampleName
	if target != nil && strings.TrimSpace(target.Name) != "" {
		name = strings.TrimSpace(target.Name)
	}
	rendered := template.Render(a.MessageTemplate, template.Bindings{FirstName: template.FirstName(name)})

	result := &TestResult{
		Success: true,
		Message: "Test message rendered",
		Details: TestDetails{
			ProcessedMessage: rendered,
			HasFile:          a.HasAttachment(),
		},
	}

	if target == nil || strings.TrimSpace(target.ProfileURL) == "" {
		return result, nil
	}
	if s.gateway == nil {
		return nil, fmt.Errorf("test send: gateway is not configured")
	}

	msg := linkedin.DirectMessage{
		RecipientName:       name,
		RecipientProfileURL: strings.TrimSpace(target.ProfileURL),
		Text:                rendered,
	}
	if a.HasAttachment() {
		msg.Attachment = &linkedin.Attachment{Type: string(a.ResourceType), URL: a.ResourceURL, FileName: a.FileName}
	}

	delivery := &models.MessageDelivery{
		AutomationID:        a.ID,
		UserID:              a.UserID,
		Kind:                models.DeliveryKindMessage,
		RecipientName:       msg.RecipientName,
		RecipientProfileURL: msg.RecipientProfileURL,
		Content:             rendered,
		DeliveryStatus:      models.DeliveryStatusPending,
		Attempts:            1,
	}
	if err := s.repository.CreateDelivery(ctx, delivery); err != nil {
		return nil, fmt.Errorf("failed to record test delivery: %w", err)
	}

	res, sendErr := s.gateway.SendMessage(ctx, a.UserID, msg)
	if sendErr != nil {
		delivery.DeliveryStatus = models.DeliveryStatusFailed
		delivery.ErrorMessage = sendErr.Error()
	} else {
		now := time.Now().UTC()
		delivery.DeliveryStatus = models.DeliveryStatusSent
		delivery.SentAt = &now
		delivery.DeliveredAt = &now
		if res != nil {
			delivery.ExternalID = res.ID
		}
	}
	if err := s.repository.UpdateDelivery(ctx, delivery); err != nil {
		s.log.Warn().Err(err).Str("delivery_id", delivery.ID).Msg("Failed to update test delivery")
	}
	if sendErr != nil {
		return nil, fmt.Errorf("test send failed: %w", sendErr)
	}

	result.Message = "Test message sent successfully"
	result.Details.Sent = true
	result.Details.Recipient = msg.RecipientProfileURL

	s.log.Info().
		Str("automation_id", a.ID).
		Str("recipient", msg.RecipientProfileURL).
		Msg("Test message sent")

	return result, nil
}
