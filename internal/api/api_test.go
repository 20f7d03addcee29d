package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkedin-autodm/internal/agent/monitor"
	"github.com/linkedin-autodm/internal/apperrors"
	"github.com/linkedin-autodm/internal/automation"
	"github.com/linkedin-autodm/internal/config"
	"github.com/linkedin-autodm/internal/linkedin"
	"github.com/linkedin-autodm/internal/quota"
	"github.com/linkedin-autodm/internal/storage/gormstore"
	"github.com/linkedin-autodm/pkg/logger"
)

const (
	testSecret  = "test-secret"
	testPostURL = "https://www.linkedin.com/feed/update/urn:li:activity:7123456789"
)

type stubGateway struct {
	sent []linkedin.DirectMessage
}

func (g *stubGateway) ResolvePost(ctx context.Context, userID, postID string) (*linkedin.PostInfo, error) {
	return &linkedin.PostInfo{ID: postID, Accessible: true}, nil
}

func (g *stubGateway) SendMessage(ctx context.Context, userID string, msg linkedin.DirectMessage) (*linkedin.SendResult, error) {
	g.sent = append(g.sent, msg)
	return &linkedin.SendResult{ID: "m-1"}, nil
}

type stubRunner struct {
	err error
}

func (r *stubRunner) Run(ctx context.Context, id string) (*monitor.RunResult, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &monitor.RunResult{AutomationID: id, TotalComments: 4, ProcessedComments: 3, MatchedCriteria: 2}, nil
}

type testAPI struct {
	handler http.Handler
	auth    *Authenticator
	gateway *stubGateway
	runner  *stubRunner
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	repo, err := gormstore.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	files, err := automation.NewFileStore(config.StorageConfig{
		UploadDir:     t.TempDir(),
		PublicBaseURL: "http://localhost:8080/uploads",
		MaxUploadMB:   1,
	})
	require.NoError(t, err)

	gate := quota.NewGate(repo, quota.Limits{Message: 50, Reply: 50}, quota.Schedule{Hour: 9, Location: time.UTC}, logger.Nop())
	gw := &stubGateway{}
	runner := &stubRunner{}
	svc := automation.NewService(repo, files, gw, runner, gate, logger.Nop())

	auth := NewAuthenticator(config.AuthConfig{JWTSecret: testSecret})
	srv := NewServer(config.ServerConfig{AllowedOrigins: []string{"http://localhost:3000"}}, auth, svc, files, logger.Nop())

	return &testAPI{handler: srv.Handler(), auth: auth, gateway: gw, runner: runner}
}

func (a *testAPI) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := a.auth.Issue(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (a *testAPI) do(t *testing.T, req *http.Request, userID string) *httptest.ResponseRecorder {
	t.Helper()
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+a.token(t, userID))
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) doJSON(t *testing.T, method, path, body, userID string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	return a.do(t, req, userID)
}

type upload struct {
	name    string
	content string
}

func multipartRequest(t *testing.T, method, path string, fields map[string]string, file *upload) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", file.name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(file.content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func createFields() map[string]string {
	return map[string]string{
		"name":                    "AI guide",
		"postUrl":                 testPostURL,
		"keyword":                 "AI",
		"messageTemplate":         "Hi {firstName}, here is the guide",
		"processExistingComments": "true",
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (a *testAPI) create(t *testing.T, userID string) string {
	t.Helper()
	rec := a.do(t, multipartRequest(t, http.MethodPost, "/api/automations", createFields(), nil), userID)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out struct {
		ID string `json:"id"`
	}
	decode(t, rec, &out)
	require.NotEmpty(t, out.ID)
	return out.ID
}

func TestHealthNeedsNoAuth(t *testing.T) {
	a := newTestAPI(t)
	rec := a.doJSON(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuth(t *testing.T) {
	a := newTestAPI(t)

	otherSecret, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1"}).
		SignedString([]byte("another-secret"))
	require.NoError(t, err)
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).
		SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage", "Bearer not-a-token"},
		{"wrong secret", "Bearer " + otherSecret},
		{"expired", "Bearer " + expired},
		{"no subject", "Bearer " + noSubject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/automations", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			a.handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			var body map[string]string
			decode(t, rec, &body)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestAuth_Issuer(t *testing.T) {
	auth := NewAuthenticator(config.AuthConfig{JWTSecret: testSecret, Issuer: "idp"})
	tok, err := auth.Issue("u1", time.Hour)
	require.NoError(t, err)

	sub, err := auth.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", sub)

	other := NewAuthenticator(config.AuthConfig{JWTSecret: testSecret, Issuer: "someone-else"})
	_, err = other.Parse(tok)
	assert.Error(t, err)
}

func TestCreateListGet(t *testing.T) {
	a := newTestAPI(t)
	id := a.create(t, "u1")

	rec := a.doJSON(t, http.MethodGet, "/api/automations", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]interface{}
	decode(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0]["id"])
	assert.Equal(t, "active", list[0]["status"])
	assert.Equal(t, []interface{}{"AI"}, list[0]["keywords"])
	assert.Equal(t, true, list[0]["process_existing_comments"])

	rec = a.doJSON(t, http.MethodGet, "/api/automations/"+id, "", "u1")
	assert.Equal(t, http.StatusOK, rec.Code)

	// other users see an empty list and a 404
	rec = a.doJSON(t, http.MethodGet, "/api/automations", "", "u2")
	assert.JSONEq(t, `[]`, rec.Body.String())
	rec = a.doJSON(t, http.MethodGet, "/api/automations/"+id, "", "u2")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"automation not found"}`, rec.Body.String())
}

func TestCreate_WithFileServesUpload(t *testing.T) {
	a := newTestAPI(t)
	fields := createFields()
	fields["engagementCriteria"] = `{"hasCommented":true,"hasLiked":true}`

	rec := a.do(t, multipartRequest(t, http.MethodPost, "/api/automations", fields, &upload{"guide.pdf", "%PDF-1.4"}), "u1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out struct {
		ResourceType string `json:"resource_type"`
		ResourceURL  string `json:"resource_url"`
		FileName     string `json:"file_name"`
		Criteria     struct {
			HasLiked bool `json:"hasLiked"`
		} `json:"engagement_criteria"`
	}
	decode(t, rec, &out)
	assert.Equal(t, "file", out.ResourceType)
	assert.Equal(t, "guide.pdf", out.FileName)
	assert.True(t, out.Criteria.HasLiked)
	require.True(t, strings.HasPrefix(out.ResourceURL, "http://localhost:8080/uploads/"))

	path := strings.TrimPrefix(out.ResourceURL, "http://localhost:8080")
	rec = a.doJSON(t, http.MethodGet, path, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-1.4", rec.Body.String())
}

func TestCreate_ValidationErrors(t *testing.T) {
	a := newTestAPI(t)

	tests := []struct {
		name   string
		mutate func(map[string]string)
		file   *upload
	}{
		{"missing name", func(f map[string]string) { delete(f, "name") }, nil},
		{"bad post url", func(f map[string]string) { f["postUrl"] = "https://example.com/post/1" }, nil},
		{"one reply template", func(f map[string]string) { f["replyTemplate1stDegree"] = "Thanks!" }, nil},
		{"bad criteria json", func(f map[string]string) { f["engagementCriteria"] = "{" }, nil},
		{"bad bool", func(f map[string]string) { f["processExistingComments"] = "maybe" }, nil},
		{"bad extension", func(f map[string]string) {}, &upload{"run.exe", "MZ"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := createFields()
			tt.mutate(fields)
			rec := a.do(t, multipartRequest(t, http.MethodPost, "/api/automations", fields, tt.file), "u1")

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			var body map[string]string
			decode(t, rec, &body)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestUpdate(t *testing.T) {
	a := newTestAPI(t)
	id := a.create(t, "u1")

	rec := a.do(t, multipartRequest(t, http.MethodPut, "/api/automations/"+id, map[string]string{
		"name":    "Renamed",
		"keyword": "guide",
		"postUrl": testPostURL,
	}, nil), "u1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Name            string   `json:"name"`
		Keywords        []string `json:"keywords"`
		MessageTemplate string   `json:"message_template"`
	}
	decode(t, rec, &out)
	assert.Equal(t, "Renamed", out.Name)
	assert.Equal(t, []string{"guide"}, out.Keywords)
	assert.Equal(t, "Hi {firstName}, here is the guide", out.MessageTemplate)

	rec = a.do(t, multipartRequest(t, http.MethodPut, "/api/automations/"+id, map[string]string{
		"postUrl": "https://www.linkedin.com/feed/update/urn:li:activity:999",
	}, nil), "u1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "postUrl")
}

func TestArchive(t *testing.T) {
	a := newTestAPI(t)
	id := a.create(t, "u1")

	rec := a.doJSON(t, http.MethodDelete, "/api/automations/"+id, "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.doJSON(t, http.MethodGet, "/api/automations", "", "u1")
	assert.JSONEq(t, `[]`, rec.Body.String())
	rec = a.doJSON(t, http.MethodDelete, "/api/automations/"+id, "", "u1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetStatus(t *testing.T) {
	a := newTestAPI(t)
	id := a.create(t, "u1")

	rec := a.doJSON(t, http.MethodPatch, "/api/automations/"+id+"/status", `{"status":"paused"}`, "u1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"paused"`)

	rec = a.doJSON(t, http.MethodPatch, "/api/automations/"+id+"/status", `{"status":"error"}`, "u1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.doJSON(t, http.MethodPatch, "/api/automations/"+id+"/status", `not json`, "u1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsAndComments(t *testing.T) {
	a := newTestAPI(t)
	id := a.create(t, "u1")

	rec := a.doJSON(t, http.MethodGet, "/api/automations/"+id+"/stats", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"totalComments":0,"matchingComments":0,"messagesSent":0,"keyword":"AI"}`, rec.Body.String())

	rec = a.doJSON(t, http.MethodGet, "/api/automations/"+id+"/comments?page=1&limit=10", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	var view struct {
		Comments   []interface{} `json:"comments"`
		Pagination struct {
			CurrentPage int `json:"current_page"`
			PerPage     int `json:"per_page"`
		} `json:"pagination"`
		Automation struct {
			PostURL           string `json:"post_url"`
			HasReplyTemplates bool   `json:"has_reply_templates"`
		} `json:"automation"`
	}
	decode(t, rec, &view)
	assert.Empty(t, view.Comments)
	assert.Equal(t, 1, view.Pagination.CurrentPage)
	assert.Equal(t, 10, view.Pagination.PerPage)
	assert.Equal(t, testPostURL, view.Automation.PostURL)
	assert.False(t, view.Automation.HasReplyTemplates)
}

func TestTestEndpoint(t *testing.T) {
	a := newTestAPI(t)
	id := a.create(t, "u1")

	rec := a.doJSON(t, http.MethodPost, "/api/automations/"+id+"/test", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res automation.TestResult
	decode(t, rec, &res)
	assert.True(t, res.Success)
	assert.Equal(t, "Hi There, here is the guide", res.Details.ProcessedMessage)
	assert.False(t, res.Details.HasFile)
	assert.Empty(t, a.gateway.sent)

	body := `{"targetCommenter":{"name":"Jane Doe","profileUrl":"https://www.linkedin.com/in/jane"}}`
	rec = a.doJSON(t, http.MethodPost, "/api/automations/"+id+"/test", body, "u1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &res)
	assert.Equal(t, "Test message sent successfully", res.Message)
	assert.Equal(t, "Hi Jane, here is the guide", res.Details.ProcessedMessage)
	require.Len(t, a.gateway.sent, 1)
}

func TestMonitorEndpoint(t *testing.T) {
	a := newTestAPI(t)
	id := a.create(t, "u1")

	rec := a.doJSON(t, http.MethodPost, "/api/automations/"+id+"/monitor", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Success    bool `json:"success"`
		Statistics struct {
			TotalComments     int `json:"totalComments"`
			ProcessedComments int `json:"processedComments"`
			MatchedCriteria   int `json:"matchedCriteria"`
		} `json:"statistics"`
	}
	decode(t, rec, &out)
	assert.True(t, out.Success)
	assert.Equal(t, 4, out.Statistics.TotalComments)
	assert.Equal(t, 3, out.Statistics.ProcessedComments)
	assert.Equal(t, 2, out.Statistics.MatchedCriteria)

	a.runner.err = apperrors.ErrAutomationBusy
	rec = a.doJSON(t, http.MethodPost, "/api/automations/"+id+"/monitor", "", "u1")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"automation is already processing comments"}`, rec.Body.String())
}

func TestDailyStats(t *testing.T) {
	a := newTestAPI(t)

	rec := a.doJSON(t, http.MethodGet, "/api/automations/daily-stats", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var st quota.DailyStats
	decode(t, rec, &st)
	assert.Equal(t, 50, st.Messages.DailyLimit)
	assert.Equal(t, 50, st.Messages.AvailableToday)
	assert.Equal(t, 50, st.Replies.DailyLimit)
	assert.False(t, st.NextResetTime.IsZero())
}

func TestValidatePost(t *testing.T) {
	a := newTestAPI(t)

	rec := a.doJSON(t, http.MethodPost, "/api/linkedin/validate-post", `{"postUrl":"`+testPostURL+`"}`, "u1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{
		"success": true,
		"post": {
			"id": "7123456789",
			"urn": "urn:li:activity:7123456789",
			"url": "`+testPostURL+`",
			"embedUrl": "https://www.linkedin.com/embed/feed/update/urn:li:activity:7123456789"
		}
	}`, rec.Body.String())

	rec = a.doJSON(t, http.MethodPost, "/api/linkedin/validate-post", `{"postUrl":"https://example.com"}`, "u1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	a := newTestAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/automations", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(apperrors.Invalid("name", "required")))
	assert.Equal(t, http.StatusBadRequest, statusFor(apperrors.ErrImmutableField))
	assert.Equal(t, http.StatusNotFound, statusFor(apperrors.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(apperrors.ErrAutomationBusy))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}
