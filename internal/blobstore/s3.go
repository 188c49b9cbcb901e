package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API defines the subset of the AWS S3 client interface that the backend
// uses. This allows mocking in tests.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Backend implements the Store interface against an Amazon S3 bucket.
// All blobs share a single upstream bucket with an optional key prefix.
type S3Backend struct {
	// Bucket is the upstream S3 bucket name.
	Bucket string
	// Region is the AWS region of the upstream bucket.
	Region string
	// Prefix is the key prefix for all objects in the upstream bucket.
	Prefix string
	// BaseURL overrides the public URL base. If empty, the standard
	// virtual-hosted S3 form is used.
	BaseURL string
	// client is the AWS S3 client (satisfying S3API interface).
	client S3API
}

// NewS3Backend creates a new S3Backend bound to the specified bucket in the
// given region. It initializes the AWS SDK client using the default
// credential chain, with optional static credential overrides.
func NewS3Backend(ctx context.Context, bucket, region, prefix, baseURL, accessKeyID, secretAccessKey string) (*S3Backend, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(region))

	// Use static credentials if provided, otherwise fall back to default chain.
	if accessKeyID != "" && secretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg)

	b := &S3Backend{
		Bucket:  bucket,
		Region:  region,
		Prefix:  prefix,
		BaseURL: baseURL,
		client:  client,
	}

	// Verify the upstream bucket is accessible.
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, fmt.Errorf("cannot access S3 bucket %q: %w", bucket, err)
	}

	slog.Info("S3 blob backend initialized", "bucket", bucket, "region", region, "prefix", prefix)
	return b, nil
}

// NewS3BackendWithClient creates an S3Backend with a pre-configured S3
// client. This is primarily used for testing with mock clients.
func NewS3BackendWithClient(bucket, region, prefix, baseURL string, client S3API) *S3Backend {
	return &S3Backend{
		Bucket:  bucket,
		Region:  region,
		Prefix:  prefix,
		BaseURL: baseURL,
		client:  client,
	}
}

// s3Key maps a blob key to an upstream S3 key.
func (b *S3Backend) s3Key(key string) string {
	return b.Prefix + key
}

// Put uploads blob data to the upstream S3 bucket and returns the public
// retrieval URL.
func (b *S3Backend) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error) {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.Bucket),
		Key:           aws.String(b.s3Key(key)),
		Body:          reader,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("uploading to S3: %w", err)
	}
	return b.PublicURL(key), nil
}

// PublicURL returns the public retrieval reference for a key.
func (b *S3Backend) PublicURL(key string) string {
	if b.BaseURL != "" {
		return strings.TrimSuffix(b.BaseURL, "/") + "/" + b.s3Key(key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", b.Bucket, b.Region, b.s3Key(key))
}

// Delete removes a blob from the upstream S3 bucket. S3 deletes are
// idempotent by nature; not-found errors are swallowed for symmetry with
// the other backends.
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.s3Key(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil
		}
		return fmt.Errorf("deleting blob from S3: %w", err)
	}
	return nil
}

// Exists checks whether a blob exists in the upstream S3 bucket.
func (b *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.s3Key(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking blob existence in S3: %w", err)
	}
	return true, nil
}

// HealthCheck verifies that the upstream S3 bucket is accessible.
func (b *S3Backend) HealthCheck(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.Bucket)})
	return err
}

// isS3NotFound checks if an AWS error is a 404/NoSuchKey/NotFound error.
func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "404" || code == "NoSuchBucket" {
			return true
		}
	}
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &noSuchKey)
}

// Ensure S3Backend implements Store at compile time.
var _ Store = (*S3Backend)(nil)
