package linkedin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkedin-autodm/internal/apperrors"
	"github.com/linkedin-autodm/internal/config"
	"github.com/linkedin-autodm/internal/models"
	"github.com/linkedin-autodm/pkg/logger"
	"github.com/linkedin-autodm/pkg/ratelimit"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	limiter := ratelimit.NewDefaultLimiter(ratelimit.Rates{ReadPerSecond: 1000, ReadBurst: 100, WritePerSecond: 1000, WriteBurst: 100})
	return NewClient(config.LinkedInConfig{
		GatewayURL:      srv.URL,
		APIToken:        "svc-token",
		CommentPageSize: 2,
	}, limiter, logger.Nop())
}

func TestFetchComments_FollowsCursor(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/posts/123/comments", r.URL.Path)
		assert.Equal(t, "user-1", r.Header.Get("X-User-ID"))
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		assert.Equal(t, "2", r.URL.Query().Get("count"))

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("cursor") {
		case "":
			_, _ = w.Write([]byte(`{"comments":[
				{"id":"c1","text":"AI please","author":{"name":"Jane Doe","profileUrl":"https://www.linkedin.com/in/jane","connectionDegree":"DISTANCE_1"},"hasLiked":true},
				{"id":"c2","text":"nice","author":{"name":"Bob","profileUrl":"https://www.linkedin.com/in/bob","connectionDegree":"2nd"}}
			],"nextCursor":"p2"}`))
		case "p2":
			_, _ = w.Write([]byte(`{"comments":[{"id":"c3","text":"hi","author":{"name":"Ann","connectionDegree":"OUT_OF_NETWORK"}}],"nextCursor":""}`))
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))

	comments, err := client.FetchComments(context.Background(), "user-1", "123")
	require.NoError(t, err)
	require.Len(t, comments, 3)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))

	assert.Equal(t, "c1", comments[0].ID)
	assert.Equal(t, models.DegreeFirst, comments[0].Commenter.Degree)
	assert.True(t, comments[0].HasLiked)
	assert.Equal(t, models.DegreeSecond, comments[1].Commenter.Degree)
	assert.Equal(t, models.DegreeThird, comments[2].Commenter.Degree)
}

func TestFetchComments_WarnsWhenPageLimitHit(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"comments":[{"id":"c%d","text":"hi","author":{"name":"Ann"}}],"nextCursor":"p%d"}`, n, n+1)
	}))
	client.maxPages = 3
	var buf bytes.Buffer
	client.log = &logger.Logger{Logger: zerolog.New(&buf)}

	comments, err := client.FetchComments(context.Background(), "user-1", "123")
	require.NoError(t, err)
	assert.Len(t, comments, 3)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "Comment feed truncated at page limit")
}

func TestFetchComments_NoWarningWhenFeedEnds(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"comments":[{"id":"c1","text":"hi","author":{"name":"Ann"}}],"nextCursor":""}`))
	}))
	var buf bytes.Buffer
	client.log = &logger.Logger{Logger: zerolog.New(&buf)}

	_, err := client.FetchComments(context.Background(), "user-1", "123")
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "truncated")
}

func TestFetchComments_StatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"gateway down", http.StatusBadGateway, true},
		{"session expired", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))

			_, err := client.FetchComments(context.Background(), "user-1", "123")
			require.Error(t, err)

			var de *apperrors.DeliveryError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.status, de.StatusCode)
			assert.Equal(t, tt.retryable, apperrors.IsRetryable(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestSendMessage(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var msg DirectMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		assert.Equal(t, "Hi Jane, here it is 🚀", msg.Text)
		require.NotNil(t, msg.Attachment)
		assert.Equal(t, "link", msg.Attachment.Type)

		_, _ = w.Write([]byte(`{"id":"msg-1"}`))
	}))

	res, err := client.SendMessage(context.Background(), "user-1", DirectMessage{
		RecipientName:       "Jane Doe",
		RecipientProfileURL: "https://www.linkedin.com/in/jane",
		Text:                "Hi Jane,\u200b here it is 🚀\n\n\n\n",
		Attachment:          &Attachment{Type: "link", URL: "https://example.com/guide"},
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", res.ID)
}

func TestSendMessage_RequiresRecipient(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway should not be called")
	}))
	_, err := client.SendMessage(context.Background(), "user-1", DirectMessage{Text: "hi"})
	assert.Error(t, err)
}

func TestReplyToComment(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/posts/123/comments/c1/replies", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "@Jane Doe thanks!", body["text"])
		_, _ = w.Write([]byte(`{"id":"reply-1"}`))
	}))

	res, err := client.ReplyToComment(context.Background(), "user-1", "123", "c1", "@Jane Doe thanks!")
	require.NoError(t, err)
	assert.Equal(t, "reply-1", res.ID)
}

func TestResolvePost(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/posts/404" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"authorName":"Me","accessible":true}`))
	}))

	info, err := client.ResolvePost(context.Background(), "user-1", "123")
	require.NoError(t, err)
	assert.Equal(t, "123", info.ID)
	assert.True(t, info.Accessible)

	_, err = client.ResolvePost(context.Background(), "user-1", "404")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestSanitizeForLinkedIn(t *testing.T) {
	assert.Equal(t, "a b", sanitizeForLinkedIn("a\u00a0b"))
	assert.Equal(t, "ab", sanitizeForLinkedIn("a\u200bb\ufeff"))
	assert.Equal(t, "line1\n\nline2", sanitizeForLinkedIn("line1\r\n\r\n\r\n\r\nline2"))
	assert.Equal(t, "\U0001F469\u200d\U0001F4BB ok", sanitizeForLinkedIn("  \U0001F469\u200d\U0001F4BB ok\x07 "))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "short", truncateRunes("short", 10))
	assert.Equal(t, "héllo w...", truncateRunes("héllo wörld!", 10))
}
