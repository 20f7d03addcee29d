package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/linkedin-autodm/internal/apperrors"
	"github.com/linkedin-autodm/internal/automation"
	"github.com/linkedin-autodm/internal/models"
)

// maxJSONBody caps non-multipart request bodies
const maxJSONBody = 1 << 20

func (s *Server) handleListAutomations(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.List(r.Context(), UserID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetAutomation(w http.ResponseWriter, r *http.Request) {
	a, err := s.service.Get(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleCreateAutomation(w http.ResponseWriter, r *http.Request) {
	form, err := s.parseForm(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer form.close()

	in := automation.CreateInput{
		UserID:                    UserID(r.Context()),
		Name:                      form.value("name"),
		PostURL:                   form.value("postUrl"),
		Keyword:                   form.value("keyword"),
		MessageTemplate:           form.value("messageTemplate"),
		ReplyTemplate1stDegree:    form.value("replyTemplate1stDegree"),
		ReplyTemplateNon1stDegree: form.value("replyTemplateNon1stDegree"),
		ResourceURL:               form.value("resourceUrl"),
	}
	if in.ProcessExistingComments, err = form.flag("processExistingComments"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if raw := form.value("engagementCriteria"); raw != "" {
		var c models.EngagementCriteria
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			s.writeError(w, r, apperrors.Invalid("engagementCriteria", "must be a JSON object"))
			return
		}
		in.EngagementCriteria = &c
	}
	if in.File, err = form.file("file"); err != nil {
		s.writeError(w, r, err)
		return
	}

	a, err := s.service.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	form, err := s.parseForm(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer form.close()

	in := automation.UpdateInput{
		UserID:          UserID(r.Context()),
		ID:              chi.URLParam(r, "id"),
		Name:            form.optional("name"),
		Keyword:         form.optional("keyword"),
		MessageTemplate: form.optional("messageTemplate"),
		PostURL:         form.optional("postUrl"),
	}
	if in.RemoveFile, err = form.flag("removeFile"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if in.File, err = form.file("file"); err != nil {
		s.writeError(w, r, err)
		return
	}

	a, err := s.service.Update(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleArchiveAutomation(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Archive(r.Context(), UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type statusRequest struct {
	Status models.AutomationStatus `json:"status"`
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.service.SetStatus(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleComments(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 0)

	view, err := s.service.Comments(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"), page, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.Stats(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type testRequest struct {
	TargetCommenter *automation.TargetCommenter `json:"targetCommenter"`
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := decodeJSON(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.service.Test(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"), req.TargetCommenter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.Monitor(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"statistics": res,
	})
}

func (s *Server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.DailyStats(r.Context(), UserID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type validatePostRequest struct {
	PostURL string `json:"postUrl"`
}

func (s *Server) handleValidatePost(w http.ResponseWriter, r *http.Request) {
	var req validatePostRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	ref, err := s.service.ValidatePost(r.Context(), UserID(r.Context()), req.PostURL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"post":    ref,
	})
}

// decodeJSON reads a JSON body. An empty body is accepted when optional.
func decodeJSON(r *http.Request, v interface{}, optional bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && optional:
		return nil
	default:
		return apperrors.Invalid("", "invalid JSON body")
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// requestForm wraps multipart and urlencoded bodies
type requestForm struct {
	r     *http.Request
	files []multipart.File
}

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) (*requestForm, error) {
	// allow the file plus a little room for the text fields
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes+(1<<20))

	err := r.ParseMultipartForm(s.maxBytes)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperrors.Invalid("file", "file exceeds the %d MB limit", s.maxBytes>>20)
		}
		return nil, apperrors.Invalid("", "invalid form body")
	}
	return &requestForm{r: r}, nil
}

func (f *requestForm) value(key string) string {
	return f.r.FormValue(key)
}

// optional returns nil when the field is absent
func (f *requestForm) optional(key string) *string {
	if _, ok := f.r.Form[key]; !ok {
		return nil
	}
	v := f.r.FormValue(key)
	return &v
}

func (f *requestForm) flag(key string) (bool, error) {
	raw := strings.TrimSpace(f.value(key))
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperrors.Invalid(key, "must be true or false")
	}
	return b, nil
}

func (f *requestForm) file(key string) (*automation.Upload, error) {
	if f.r.MultipartForm == nil {
		return nil, nil
	}
	file, header, err := f.r.FormFile(key)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	f.files = append(f.files, file)
	return &automation.Upload{FileName: header.Filename, Content: file}, nil
}

func (f *requestForm) close() {
	for _, file := range f.files {
		_ = file.Close()
	}
	if f.r.MultipartForm != nil {
		_ = f.r.MultipartForm.RemoveAll()
	}
}
