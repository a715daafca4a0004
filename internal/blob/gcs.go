package blob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/zaibshamsi/Brofessor/internal/logger"
)

// GCSStore keeps blobs in a Google Cloud Storage bucket.
type GCSStore struct {
	log    *logger.Logger
	client *storage.Client
	bucket string
	now    func() time.Time
}

func NewGCSStore(ctx context.Context, log *logger.Logger, bucket string, opts ...option.ClientOption) (*GCSStore, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("missing GCS bucket name")
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	log.Info("Object storage initialized", "bucket", bucket)
	return &GCSStore{
		log:    log.With("service", "GCSBlobStore"),
		client: client,
		bucket: bucket,
		now:    time.Now,
	}, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) Put(ctx context.Context, b Blob, ownerID string) (string, error) {
	if strings.TrimSpace(ownerID) == "" {
		return "", fmt.Errorf("blob owner is required")
	}
	locator := NewLocator(ownerID, b.Name, s.now())

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	// DoesNotExist makes the write fail rather than replace another upload.
	w := s.client.Bucket(s.bucket).Object(locator).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if b.ContentType != "" {
		w.ContentType = b.ContentType
	}
	if _, err := w.Write(b.Data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return locator, nil
}

func (s *GCSStore) Delete(ctx context.Context, locator string) {
	locator = cleanLocator(locator)
	if locator == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.client.Bucket(s.bucket).Object(locator).Delete(ctx); err != nil {
		s.log.Warn("Failed to delete GCS object", "bucket", s.bucket, "locator", locator, "error", err)
	}
}

func (s *GCSStore) PublicURL(locator string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, cleanLocator(locator))
}
