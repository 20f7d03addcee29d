package linkedin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"golang.org/x/oauth2"

	"github.com/linkedin-autodm/internal/apperrors"
	"github.com/linkedin-autodm/internal/config"
	"github.com/linkedin-autodm/pkg/logger"
	"github.com/linkedin-autodm/pkg/ratelimit"
)

// userHeader carries the acting user; the gateway owns each user's session
const userHeader = "X-User-ID"

// Client talks to the LinkedIn gateway, the service that holds member
// sessions and performs the actual LinkedIn reads and writes.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	pageSize    int
	maxPages    int
	rateLimiter *ratelimit.MultiLimiter
	log         *logger.Logger
}

// NewClient creates a new gateway client
func NewClient(cfg config.LinkedInConfig, limiter *ratelimit.MultiLimiter, log *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	if cfg.APIToken != "" {
		// Static service token; the oauth2 transport sets the bearer header
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIToken, TokenType: "Bearer"})
		httpClient = oauth2.NewClient(context.Background(), src)
		httpClient.Timeout = timeout
	}

	pageSize := cfg.CommentPageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	return &Client{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(cfg.GatewayURL, "/"),
		pageSize:    pageSize,
		maxPages:    maxCommentPages,
		rateLimiter: limiter,
		log:         log.WithComponent("linkedin"),
	}
}

// do performs an HTTP request against the gateway on behalf of userID
func (c *Client) do(ctx context.Context, limiterName, method, path, userID string, body interface{}) (*http.Response, error) {
	// Wait for rate limiter
	if err := c.rateLimiter.Wait(ctx, limiterName); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	// Prepare request body
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(userHeader, userID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Str("user_id", userID).
		Msg("Making gateway request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	c.log.Debug().
		Int("status", resp.StatusCode).
		Msg("Gateway response")

	return resp, nil
}

// decode reads a JSON response, turning non-2xx statuses into errors
func decode(resp *http.Response, op string, out interface{}) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, op, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

// errorBody is the gateway's error envelope
type errorBody struct {
	Error string `json:"error"`
}

func statusError(status int, op string, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
		msg = eb.Error
	}
	return &apperrors.DeliveryError{
		StatusCode: status,
		Temporary:  status == http.StatusTooManyRequests || status >= 500,
		Err:        fmt.Errorf("%s: %s", op, msg),
	}
}

// Gateway content limits
const (
	maxMessageLength = 8000
	maxReplyLength   = 1250
)

// sanitizeForLinkedIn strips invisible and control characters that
// LinkedIn rejects, keeping emoji and other printable Unicode intact.
func sanitizeForLinkedIn(content string) string {
	replacements := map[string]string{
		"\u00a0": " ", // Non-breaking space
		"\u2003": " ", // Em space
		"\u2002": " ", // En space
		"\u2009": " ", // Thin space
		"\u200b": "",  // Zero-width space
		"\u200c": "",  // Zero-width non-joiner
		"\ufeff": "",  // BOM
	}

	for old, new := range replacements {
		content = strings.ReplaceAll(content, old, new)
	}

	// Remove any remaining non-printable control characters (except newlines and tabs).
	// ZWJ and variation selectors are kept, emoji sequences depend on them.
	var result strings.Builder
	result.Grow(len(content))
	for _, r := range content {
		if r == '\n' || r == '\r' || r == '\t' || r == '\u200d' || unicode.IsPrint(r) || unicode.Is(unicode.Variation_Selector, r) {
			result.WriteRune(r)
		}
	}

	// Normalize line endings to just \n
	content = result.String()
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	// Remove any sequences of more than 2 consecutive newlines
	for strings.Contains(content, "\n\n\n") {
		content = strings.ReplaceAll(content, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(content)
}

// truncateRunes cuts s to at most max runes, marking the cut with "..."
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
