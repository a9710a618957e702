package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"gocloud.dev/blob"
	// Bucket URL schemes accepted by Open.
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"adstudio/internal/domain"
)

// Store persists assets into an object storage bucket and returns publicly
// fetchable URLs for them. Any gocloud.dev bucket works: s3:// in production,
// file:// for local development and mem:// in tests.
type Store struct {
	bucket        *blob.Bucket
	publicBaseURL string
}

// Open opens the bucket identified by bucketURL.
func Open(ctx context.Context, bucketURL, publicBaseURL string) (*Store, error) {
	bucketURL = strings.TrimSpace(bucketURL)
	if bucketURL == "" {
		return nil, errors.New("storage: bucket url is required")
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("storage: open bucket: %w", err)
	}
	return New(bucket, publicBaseURL)
}

// New wraps an already opened bucket.
func New(bucket *blob.Bucket, publicBaseURL string) (*Store, error) {
	if bucket == nil {
		return nil, errors.New("storage: bucket is required")
	}
	base := strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")
	if base == "" {
		return nil, errors.New("storage: public base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("storage: invalid public base url: %w", err)
	}
	return &Store{bucket: bucket, publicBaseURL: base}, nil
}

// Write persists data at key and returns the staged asset. Failures are
// reported as domain.ErrStorageWrite.
func (s *Store) Write(ctx context.Context, key string, data []byte, contentType string) (*domain.StagedAsset, error) {
	if s == nil {
		return nil, errors.New("storage: no store configured")
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	opts := &blob.WriterOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=31536000, immutable",
	}
	if err := s.bucket.WriteAll(ctx, cleanKey, data, opts); err != nil {
		return nil, fmt.Errorf("storage: write %s (%s): %w: %w", cleanKey, gcerrors.Code(err), domain.ErrStorageWrite, err)
	}
	return &domain.StagedAsset{
		Key:         cleanKey,
		ContentType: contentType,
		Size:        len(data),
		RemoteURL:   s.PublicURL(cleanKey),
	}, nil
}

// PublicURL joins the public base URL and a bucket key.
func (s *Store) PublicURL(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.publicBaseURL + "/" + strings.Join(segments, "/")
}

// Close releases the underlying bucket.
func (s *Store) Close() error {
	if s == nil || s.bucket == nil {
		return nil
	}
	return s.bucket.Close()
}

// sanitizeKey normalizes a key and prevents escaping the bucket root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
