package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

var (
	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object name is required")
)

// GCSStore writes exported artefacts to Cloud Storage and signs download links.
type GCSStore struct {
	client *gcs.Client
	bucket string
}

// NewGCSStore binds client to bucket.
func NewGCSStore(client *gcs.Client, bucket string) (*GCSStore, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Bucket returns the bound bucket name.
func (s *GCSStore) Bucket() string { return s.bucket }

// Put uploads data as object. An existing object is overwritten.
func (s *GCSStore) Put(ctx context.Context, object, contentType string, data []byte) error {
	object = strings.TrimSpace(object)
	if object == "" {
		return errInvalidObject
	}
	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "private, max-age=0"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: finalise %s: %w", object, err)
	}
	return nil
}

// SignedURL returns a V4 GET URL for object valid until expires.
// Signing uses the ambient service account credentials.
func (s *GCSStore) SignedURL(object string, expires time.Time) (string, error) {
	object = strings.TrimSpace(object)
	if object == "" {
		return "", errInvalidObject
	}
	url, err := s.client.Bucket(s.bucket).SignedURL(object, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: expires,
	})
	if err != nil {
		return "", fmt.Errorf("storage: sign %s: %w", object, err)
	}
	return url, nil
}
