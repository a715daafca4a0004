package blob

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/zaibshamsi/Brofessor/internal/logger"
)

// LocalStore keeps blobs on an afero filesystem and serves them through
// Handler under publicBaseURL.
type LocalStore struct {
	log           *logger.Logger
	fs            afero.Fs
	publicBaseURL string
	now           func() time.Time
}

// NewLocalStore roots the store at dir on the OS filesystem.
func NewLocalStore(log *logger.Logger, dir, publicBaseURL string) (*LocalStore, error) {
	if err := afero.NewOsFs().MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob dir %s: %w", dir, err)
	}
	return NewLocalStoreFs(log, afero.NewBasePathFs(afero.NewOsFs(), dir), publicBaseURL), nil
}

func NewLocalStoreFs(log *logger.Logger, fs afero.Fs, publicBaseURL string) *LocalStore {
	return &LocalStore{
		log:           log.With("service", "LocalBlobStore"),
		fs:            fs,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		now:           time.Now,
	}
}

func (s *LocalStore) Put(ctx context.Context, b Blob, ownerID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(ownerID) == "" {
		return "", fmt.Errorf("blob owner is required")
	}
	locator := NewLocator(ownerID, b.Name, s.now())
	if err := s.fs.MkdirAll(path.Dir(locator), 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob dir: %w", err)
	}
	// Never overwrite: an existing locator belongs to another upload.
	f, err := s.fs.OpenFile(locator, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create blob %s: %w", locator, err)
	}
	if _, err := f.Write(b.Data); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(locator)
		return "", fmt.Errorf("failed to write blob %s: %w", locator, err)
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(locator)
		return "", fmt.Errorf("failed to close blob %s: %w", locator, err)
	}
	return locator, nil
}

func (s *LocalStore) Delete(_ context.Context, locator string) {
	locator = cleanLocator(locator)
	if locator == "" {
		return
	}
	if err := s.fs.Remove(locator); err != nil {
		s.log.Warn("Failed to delete blob", "locator", locator, "error", err)
	}
}

func (s *LocalStore) PublicURL(locator string) string {
	segments := strings.Split(cleanLocator(locator), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.publicBaseURL + "/" + strings.Join(segments, "/")
}

// Exists reports whether a blob is stored at locator.
func (s *LocalStore) Exists(locator string) bool {
	ok, _ := afero.Exists(s.fs, cleanLocator(locator))
	return ok
}

// Handler serves stored blobs read-only; mount it under the public base path.
// Directories are never listed.
func (s *LocalStore) Handler() http.Handler {
	return http.FileServer(filesOnly{afero.NewHttpFs(s.fs)})
}

// filesOnly hides directories so only exact locators resolve.
type filesOnly struct {
	fs http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, fs.ErrNotExist
	}
	return file, nil
}
