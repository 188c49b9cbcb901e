package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSAPI defines the subset of the GCS client interface that the backend
// uses. This allows mocking in tests.
type GCSAPI interface {
	// NewWriter returns a writer for the given GCS object with the given
	// content type.
	NewWriter(ctx context.Context, bucket, object, contentType string) GCSWriter
	// Delete deletes the given GCS object.
	Delete(ctx context.Context, bucket, object string) error
	// Attrs returns the attributes of the given GCS object.
	Attrs(ctx context.Context, bucket, object string) (*GCSAttrs, error)
	// ListObjects lists object names with the given prefix.
	ListObjects(ctx context.Context, bucket, prefix string) ([]string, error)
}

// GCSWriter is a writer interface for writing to GCS objects.
type GCSWriter interface {
	io.WriteCloser
}

// GCSAttrs holds object attributes returned from GCS operations.
type GCSAttrs struct {
	Size int64
}

// realGCSClient wraps the official GCS client to satisfy GCSAPI.
type realGCSClient struct {
	client *gcs.Client
}

func (c *realGCSClient) NewWriter(ctx context.Context, bucket, object, contentType string) GCSWriter {
	w := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	return w
}

func (c *realGCSClient) Delete(ctx context.Context, bucket, object string) error {
	return c.client.Bucket(bucket).Object(object).Delete(ctx)
}

func (c *realGCSClient) Attrs(ctx context.Context, bucket, object string) (*GCSAttrs, error) {
	attrs, err := c.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		return nil, err
	}
	return &GCSAttrs{Size: attrs.Size}, nil
}

func (c *realGCSClient) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	it := c.client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// GCSBackend implements the Store interface against a Google Cloud Storage
// bucket. All blobs share a single upstream bucket with an optional key
// prefix to namespace them.
type GCSBackend struct {
	// Bucket is the upstream GCS bucket name.
	Bucket string
	// Prefix is the key prefix for all objects in the upstream bucket.
	Prefix string
	// BaseURL overrides the public URL base. If empty, the standard
	// storage.googleapis.com form is used.
	BaseURL string
	// client is the GCS client (satisfying GCSAPI interface).
	client GCSAPI
}

// NewGCSBackend creates a new GCSBackend bound to the specified bucket. It
// initializes the GCS client using Application Default Credentials.
func NewGCSBackend(ctx context.Context, bucket, prefix, baseURL string) (*GCSBackend, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	b := &GCSBackend{
		Bucket:  bucket,
		Prefix:  prefix,
		BaseURL: baseURL,
		client:  &realGCSClient{client: client},
	}

	// Verify the upstream bucket is accessible by listing with an
	// impossible prefix.
	if _, err := b.client.ListObjects(ctx, bucket, "\x00nonexistent\x00"); err != nil {
		return nil, fmt.Errorf("cannot access GCS bucket %q: %w", bucket, err)
	}

	slog.Info("GCS blob backend initialized", "bucket", bucket, "prefix", prefix)
	return b, nil
}

// NewGCSBackendWithClient creates a GCSBackend with a pre-configured GCS
// client. This is primarily used for testing with mock clients.
func NewGCSBackendWithClient(bucket, prefix, baseURL string, client GCSAPI) *GCSBackend {
	return &GCSBackend{
		Bucket:  bucket,
		Prefix:  prefix,
		BaseURL: baseURL,
		client:  client,
	}
}

// objectName maps a blob key to an upstream GCS object name.
func (b *GCSBackend) objectName(key string) string {
	return b.Prefix + key
}

// Put uploads blob data to the upstream GCS bucket and returns the public
// retrieval URL.
func (b *GCSBackend) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error) {
	w := b.client.NewWriter(ctx, b.Bucket, b.objectName(key), contentType)
	if _, err := io.Copy(w, reader); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("uploading to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing GCS upload: %w", err)
	}
	return b.PublicURL(key), nil
}

// PublicURL returns the public retrieval reference for a key.
func (b *GCSBackend) PublicURL(key string) string {
	if b.BaseURL != "" {
		return strings.TrimSuffix(b.BaseURL, "/") + "/" + b.objectName(key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", b.Bucket, b.objectName(key))
}

// Delete removes a blob from the upstream GCS bucket. Idempotent: catches
// 404 silently (GCS errors on delete of non-existent objects unlike S3).
func (b *GCSBackend) Delete(ctx context.Context, key string) error {
	err := b.client.Delete(ctx, b.Bucket, b.objectName(key))
	if err != nil {
		if isGCSNotFound(err) {
			return nil // Idempotent: treat as success
		}
		return fmt.Errorf("deleting blob from GCS: %w", err)
	}
	return nil
}

// Exists checks whether a blob exists in the upstream GCS bucket.
func (b *GCSBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.Attrs(ctx, b.Bucket, b.objectName(key))
	if err != nil {
		if isGCSNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking blob existence in GCS: %w", err)
	}
	return true, nil
}

// HealthCheck verifies that the upstream GCS bucket is accessible.
func (b *GCSBackend) HealthCheck(ctx context.Context) error {
	_, err := b.client.ListObjects(ctx, b.Bucket, "\x00nonexistent\x00")
	return err
}

// isGCSNotFound checks if a GCS error is a 404/not-found error.
func isGCSNotFound(err error) bool {
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return true
	}
	if errors.Is(err, gcs.ErrBucketNotExist) {
		return true
	}
	// Check error message as fallback.
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "not found") || strings.Contains(msg, "404") {
			return true
		}
	}
	return false
}

// Ensure GCSBackend implements Store at compile time.
var _ Store = (*GCSBackend)(nil)
