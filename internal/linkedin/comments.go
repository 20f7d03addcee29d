package linkedin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/linkedin-autodm/internal/models"
	"github.com/linkedin-autodm/pkg/ratelimit"
)

// maxCommentPages bounds one feed walk
const maxCommentPages = 100

// gatewayComment is the feed entry as the gateway returns it
type gatewayComment struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"createdAt"`
	Permalink   string    `json:"permalink"`
	HasLiked    bool      `json:"hasLiked"`
	HasFollowed bool      `json:"hasFollowed"`
	IsConnected bool      `json:"isConnected"`
	Author      struct {
		Name             string `json:"name"`
		ProfileURL       string `json:"profileUrl"`
		Headline         string `json:"headline"`
		Company          string `json:"company"`
		ConnectionDegree string `json:"connectionDegree"`
	} `json:"author"`
}

// commentsPage is one page of the comment feed
type commentsPage struct {
	Comments   []gatewayComment `json:"comments"`
	NextCursor string           `json:"nextCursor"`
}

func (g gatewayComment) toModel() models.ScannedComment {
	return models.ScannedComment{
		ID:        g.ID,
		Text:      g.Text,
		CreatedAt: g.CreatedAt,
		Permalink: g.Permalink,
		Commenter: models.Commenter{
			Name:       g.Author.Name,
			ProfileURL: g.Author.ProfileURL,
			Headline:   g.Author.Headline,
			Company:    g.Author.Company,
			Degree:     models.ParseDegree(g.Author.ConnectionDegree),
		},
		HasLiked:    g.HasLiked,
		HasFollowed: g.HasFollowed,
		IsConnected: g.IsConnected,
	}
}

// FetchComments walks the post's comment feed in the order the gateway
// returns it
func (c *Client) FetchComments(ctx context.Context, userID, postID string) ([]models.ScannedComment, error) {
	var (
		all    []models.ScannedComment
		cursor string
	)

	for page := 0; page < c.maxPages; page++ {
		q := url.Values{}
		q.Set("count", fmt.Sprintf("%d", c.pageSize))
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		path := fmt.Sprintf("/posts/%s/comments?%s", url.PathEscape(postID), q.Encode())

		resp, err := c.do(ctx, ratelimit.LimiterGatewayRead, http.MethodGet, path, userID, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch comments: %w", err)
		}

		var result commentsPage
		if err := decode(resp, "fetch comments", &result); err != nil {
			return nil, err
		}

		for _, gc := range result.Comments {
			if gc.ID == "" {
				continue
			}
			all = append(all, gc.toModel())
		}

		if result.NextCursor == "" || len(result.Comments) == 0 {
			cursor = ""
			break
		}
		cursor = result.NextCursor
	}

	if cursor != "" {
		c.log.Warn().
			Str("post_id", postID).
			Int("pages", c.maxPages).
			Int("comments", len(all)).
			Msg("Comment feed truncated at page limit")
	}

	c.log.Debug().
		Str("post_id", postID).
		Int("count", len(all)).
		Msg("Fetched comments")

	return all, nil
}

// SendResult is the gateway's acknowledgement of a write
type SendResult struct {
	ID string `json:"id"`
}

// ReplyToComment posts a public reply under a comment
func (c *Client) ReplyToComment(ctx context.Context, userID, postID, commentID, text string) (*SendResult, error) {
	text = truncateRunes(sanitizeForLinkedIn(text), maxReplyLength)
	path := fmt.Sprintf("/posts/%s/comments/%s/replies", url.PathEscape(postID), url.PathEscape(commentID))

	resp, err := c.do(ctx, ratelimit.LimiterGatewayWrite, http.MethodPost, path, userID, map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("failed to reply to comment: %w", err)
	}

	var result SendResult
	if err := decode(resp, "reply to comment", &result); err != nil {
		c.log.Warn().Err(err).Str("comment_id", commentID).Msg("Failed to reply to comment")
		return nil, err
	}

	c.log.Info().
		Str("post_id", postID).
		Str("comment_id", commentID).
		Str("reply_id", result.ID).
		Msg("Reply posted")

	return &result, nil
}
