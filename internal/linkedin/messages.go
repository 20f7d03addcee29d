package linkedin

import (
	"context"
	"fmt"
	"net/http"

	"github.com/linkedin-autodm/pkg/ratelimit"
)

// Attachment is the resource sent along with a DM
type Attachment struct {
	Type     string `json:"type"` // file or link
	URL      string `json:"url"`
	FileName string `json:"fileName,omitempty"`
}

// DirectMessage is an outbound DM
type DirectMessage struct {
	RecipientName       string      `json:"recipientName"`
	RecipientProfileURL string      `json:"recipientProfileUrl"`
	Text                string      `json:"text"`
	Attachment          *Attachment `json:"attachment,omitempty"`
}

// SendMessage delivers a direct message through the gateway
func (c *Client) SendMessage(ctx context.Context, userID string, msg DirectMessage) (*SendResult, error) {
	if msg.RecipientProfileURL == "" {
		return nil, fmt.Errorf("recipient profile url is required")
	}
	msg.Text = truncateRunes(sanitizeForLinkedIn(msg.Text), maxMessageLength)

	resp, err := c.do(ctx, ratelimit.LimiterGatewayWrite, http.MethodPost, "/messages", userID, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	var result SendResult
	if err := decode(resp, "send message", &result); err != nil {
		c.log.Warn().Err(err).Str("recipient", msg.RecipientProfileURL).Msg("Failed to send message")
		return nil, err
	}

	c.log.Info().
		Str("recipient", msg.RecipientProfileURL).
		Str("message_id", result.ID).
		Bool("attachment", msg.Attachment != nil).
		Msg("Message sent")

	return &result, nil
}
