package linkedin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/linkedin-autodm/internal/apperrors"
	"github.com/linkedin-autodm/pkg/ratelimit"
)

const embedBaseURL = "https://www.linkedin.com/embed/feed/update/"

var (
	// urn:li:activity:123, urn:li:share:123, urn:li:ugcPost:123 (raw or escaped)
	urnPattern = regexp.MustCompile(`urn(?::|%3A)li(?::|%3A)(activity|share|ugcPost)(?::|%3A)(\d+)`)
	// /posts/jane-doe_some-slug-activity-123-abcd
	activityPattern = regexp.MustCompile(`activity-(\d+)`)
)

// PostRef identifies a LinkedIn post
type PostRef struct {
	ID       string `json:"id"`
	URN      string `json:"urn"`
	URL      string `json:"url"`
	EmbedURL string `json:"embedUrl"`
}

// ParsePostURL extracts the post identity from a LinkedIn post URL
func ParsePostURL(raw string) (*PostRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apperrors.Invalid("postUrl", "is required")
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperrors.Invalid("postUrl", "must be an http(s) URL")
	}
	host := strings.ToLower(u.Hostname())
	if host != "linkedin.com" && !strings.HasSuffix(host, ".linkedin.com") {
		return nil, apperrors.Invalid("postUrl", "must be a linkedin.com URL")
	}

	target := u.EscapedPath() + "?" + u.RawQuery
	if m := urnPattern.FindStringSubmatch(target); m != nil {
		return newPostRef(m[1], m[2], raw), nil
	}
	if m := activityPattern.FindStringSubmatch(u.Path); m != nil {
		return newPostRef("activity", m[1], raw), nil
	}
	return nil, apperrors.Invalid("postUrl", "does not look like a LinkedIn post URL")
}

func newPostRef(kind, id, raw string) *PostRef {
	urn := fmt.Sprintf("urn:li:%s:%s", kind, id)
	return &PostRef{
		ID:       id,
		URN:      urn,
		URL:      raw,
		EmbedURL: embedBaseURL + urn,
	}
}

// PostInfo is what the gateway reports about a post
type PostInfo struct {
	ID         string `json:"id"`
	AuthorName string `json:"authorName"`
	Text       string `json:"text"`
	Accessible bool   `json:"accessible"`
}

// ResolvePost checks that the post is reachable with the user's session
func (c *Client) ResolvePost(ctx context.Context, userID, postID string) (*PostInfo, error) {
	path := "/posts/" + url.PathEscape(postID)
	resp, err := c.do(ctx, ratelimit.LimiterGatewayRead, http.MethodGet, path, userID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve post: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, apperrors.Invalid("postUrl", "post was not found or is not accessible")
	}

	var info PostInfo
	if err := decode(resp, "resolve post", &info); err != nil {
		return nil, err
	}
	if info.ID == "" {
		info.ID = postID
	}
	return &info, nil
}
