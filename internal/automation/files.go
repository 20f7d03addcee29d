package automation

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/linkedin-autodm/internal/apperrors"
	"github.com/linkedin-autodm/internal/config"
)

// allowedExtensions are the attachment types the upload form accepts
var allowedExtensions = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".txt":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
}

// Upload is an attachment received with a create or update request
type Upload struct {
	FileName string
	Content  io.Reader
}

// StoredFile is an attachment saved to the upload directory
type StoredFile struct {
	URL      string
	FileName string
	Path     string
}

// FileStore keeps attachments on local disk under a public base URL
type FileStore struct {
	dir      string
	baseURL  string
	maxBytes int64
}

// NewFileStore creates a file store rooted at cfg.UploadDir
func NewFileStore(cfg config.StorageConfig) (*FileStore, error) {
	if cfg.UploadDir == "" {
		return nil, fmt.Errorf("storage.upload_dir is required")
	}
	if err := os.MkdirAll(cfg.UploadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	maxMB := cfg.MaxUploadMB
	if maxMB <= 0 {
		maxMB = 10
	}
	return &FileStore{
		dir:      cfg.UploadDir,
		baseURL:  strings.TrimRight(cfg.PublicBaseURL, "/"),
		maxBytes: maxMB << 20,
	}, nil
}

// Dir returns the upload directory
func (f *FileStore) Dir() string {
	return f.dir
}

// MaxBytes returns the per-file size limit
func (f *FileStore) MaxBytes() int64 {
	return f.maxBytes
}

// Save writes an upload under the user's directory
func (f *FileStore) Save(userID string, up *Upload) (*StoredFile, error) {
	name := filepath.Base(strings.TrimSpace(up.FileName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, apperrors.Invalid("file", "file name is required")
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !allowedExtensions[ext] {
		return nil, apperrors.Invalid("file", "unsupported file type %q", ext)
	}

	userDir := filepath.Join(f.dir, safeSegment(userID))
	if err := os.MkdirAll(userDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create user upload directory: %w", err)
	}

	stored := uuid.NewString() + ext
	full := filepath.Join(userDir, stored)

	out, err := os.Create(full)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}

	// One byte over the limit is enough to reject
	n, err := io.Copy(out, io.LimitReader(up.Content, f.maxBytes+1))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(full)
		return nil, fmt.Errorf("failed to write upload: %w", err)
	}
	if n > f.maxBytes {
		os.Remove(full)
		return nil, apperrors.Invalid("file", "exceeds the %d MB limit", f.maxBytes>>20)
	}

	return &StoredFile{
		URL:      f.baseURL + "/" + path.Join(safeSegment(userID), stored),
		FileName: name,
		Path:     full,
	}, nil
}

// Delete removes a previously stored file given its public URL. URLs that
// do not belong to this store are ignored.
func (f *FileStore) Delete(fileURL string) error {
	if f.baseURL == "" || !strings.HasPrefix(fileURL, f.baseURL+"/") {
		return nil
	}
	rel := strings.TrimPrefix(fileURL, f.baseURL+"/")
	full := filepath.Join(f.dir, filepath.FromSlash(path.Clean("/"+rel)))
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete upload: %w", err)
	}
	return nil
}

func safeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
	if s == "" {
		return "_"
	}
	return s
}
