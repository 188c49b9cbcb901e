package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// AzureBlobAPI defines the subset of the Azure Blob Storage client interface
// that the backend uses. This allows mocking in tests.
type AzureBlobAPI interface {
	// UploadBlob uploads data to a blob, overwriting if it already exists.
	UploadBlob(ctx context.Context, containerName, blobName string, data []byte, contentType string) error
	// DeleteBlob deletes a blob. Returns an error if the blob does not exist.
	DeleteBlob(ctx context.Context, containerName, blobName string) error
	// BlobExists checks if a blob exists.
	BlobExists(ctx context.Context, containerName, blobName string) (bool, error)
}

// AzureBackend implements the Store interface against an Azure Blob Storage
// container. All blobs share a single upstream container with an optional
// key prefix.
type AzureBackend struct {
	// Container is the upstream Azure Blob container name.
	Container string
	// AccountURL is the Azure storage account URL (e.g. https://account.blob.core.windows.net).
	AccountURL string
	// Prefix is the key prefix for all blobs in the upstream container.
	Prefix string
	// BaseURL overrides the public URL base. If empty, the account URL form
	// is used.
	BaseURL string
	// client is the Azure Blob client (satisfying AzureBlobAPI interface).
	client AzureBlobAPI
}

// NewAzureBackend creates a new AzureBackend bound to the specified
// container. It initializes the Azure SDK client using
// DefaultAzureCredential.
func NewAzureBackend(ctx context.Context, container, accountURL, prefix, baseURL string) (*AzureBackend, error) {
	client, err := newRealAzureClient(accountURL)
	if err != nil {
		return nil, fmt.Errorf("creating Azure client: %w", err)
	}

	b := &AzureBackend{
		Container:  container,
		AccountURL: accountURL,
		Prefix:     prefix,
		BaseURL:    baseURL,
		client:     client,
	}

	// Verify the upstream container is accessible by probing a blob that
	// cannot exist.
	if _, err := b.client.BlobExists(ctx, container, "\x00nonexistent\x00"); err != nil {
		return nil, fmt.Errorf("cannot access Azure container %q: %w", container, err)
	}

	slog.Info("Azure blob backend initialized", "container", container, "account", accountURL, "prefix", prefix)
	return b, nil
}

// NewAzureBackendWithClient creates an AzureBackend with a pre-configured
// Azure client. This is primarily used for testing with mock clients.
func NewAzureBackendWithClient(container, accountURL, prefix, baseURL string, client AzureBlobAPI) *AzureBackend {
	return &AzureBackend{
		Container:  container,
		AccountURL: accountURL,
		Prefix:     prefix,
		BaseURL:    baseURL,
		client:     client,
	}
}

// blobName maps a blob key to an upstream Azure blob name.
func (b *AzureBackend) blobName(key string) string {
	return b.Prefix + key
}

// Put uploads blob data to the upstream Azure container and returns the
// public retrieval URL.
func (b *AzureBackend) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("reading blob data: %w", err)
	}
	if err := b.client.UploadBlob(ctx, b.Container, b.blobName(key), data, contentType); err != nil {
		return "", fmt.Errorf("uploading to Azure Blob: %w", err)
	}
	return b.PublicURL(key), nil
}

// PublicURL returns the public retrieval reference for a key.
func (b *AzureBackend) PublicURL(key string) string {
	if b.BaseURL != "" {
		return strings.TrimSuffix(b.BaseURL, "/") + "/" + b.blobName(key)
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(b.AccountURL, "/"), b.Container, b.blobName(key))
}

// Delete removes a blob from the upstream Azure container. Idempotent:
// catches not-found silently.
func (b *AzureBackend) Delete(ctx context.Context, key string) error {
	err := b.client.DeleteBlob(ctx, b.Container, b.blobName(key))
	if err != nil {
		if isAzureNotFound(err) {
			return nil // Idempotent: treat as success
		}
		return fmt.Errorf("deleting blob from Azure Blob: %w", err)
	}
	return nil
}

// Exists checks whether a blob exists in the upstream Azure container.
func (b *AzureBackend) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := b.client.BlobExists(ctx, b.Container, b.blobName(key))
	if err != nil {
		return false, fmt.Errorf("checking blob existence in Azure Blob: %w", err)
	}
	return exists, nil
}

// HealthCheck verifies that the upstream Azure container is accessible.
func (b *AzureBackend) HealthCheck(ctx context.Context) error {
	_, err := b.client.BlobExists(ctx, b.Container, "\x00nonexistent\x00")
	return err
}

// isAzureNotFound checks if an Azure error is a not-found error.
func isAzureNotFound(err error) bool {
	if err == nil {
		return false
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == 404
	}
	// Fall back to message inspection for wrapped or mocked errors.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "404") ||
		strings.Contains(msg, "blobnotfound") || strings.Contains(msg, "containernotfound") ||
		strings.Contains(msg, "the specified blob does not exist") ||
		strings.Contains(msg, "the specified container does not exist")
}

// Ensure AzureBackend implements Store at compile time.
var _ Store = (*AzureBackend)(nil)
