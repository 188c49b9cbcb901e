package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalBackend implements the Store interface using the local filesystem.
// Blobs are stored as files under a configurable root directory, with key
// path segments mapped to subdirectories. Intended for development and
// single-node deployments.
type LocalBackend struct {
	// RootDir is the base directory under which all blob data is stored.
	RootDir string
	// BaseURL is the public URL base for stored blobs. Local files have no
	// natural public URL, so a serving base must be configured.
	BaseURL string
}

// NewLocalBackend creates a new LocalBackend rooted at the given directory.
// It creates the root directory and the temp directory if they do not exist.
func NewLocalBackend(rootDir, baseURL string) (*LocalBackend, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob root directory %q: %w", rootDir, err)
	}
	// Create the .tmp directory for atomic writes.
	tmpDir := filepath.Join(rootDir, ".tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp directory %q: %w", tmpDir, err)
	}
	return &LocalBackend{RootDir: rootDir, BaseURL: baseURL}, nil
}

// CleanTempFiles removes all files in the .tmp directory. This is called on
// startup as part of crash-only recovery. Any temp files left behind indicate
// incomplete writes from a previous crash.
func (b *LocalBackend) CleanTempFiles() error {
	tmpDir := filepath.Join(b.RootDir, ".tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading temp directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			os.Remove(filepath.Join(tmpDir, entry.Name()))
		}
	}
	return nil
}

// blobPath returns the full filesystem path for a blob key.
func (b *LocalBackend) blobPath(key string) string {
	return filepath.Join(b.RootDir, filepath.FromSlash(key))
}

// tempPath returns a unique temporary file path in the .tmp directory.
func (b *LocalBackend) tempPath() string {
	return filepath.Join(b.RootDir, ".tmp", "tmp-"+uuid.NewString())
}

// Put writes blob data to a file using the crash-only atomic write pattern:
// write to temp file, fsync, rename. Returns the public retrieval URL.
func (b *LocalBackend) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error) {
	destPath := b.blobPath(key)

	// Ensure parent directories exist.
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", fmt.Errorf("creating parent directories for %q: %w", key, err)
	}

	tmpPath := b.tempPath()
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}

	if _, err := io.Copy(tmpFile, reader); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing blob data: %w", err)
	}

	// Fsync before rename to guarantee durability.
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("syncing temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	// Atomic rename: temp -> final path.
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming temp file to final path: %w", err)
	}

	return b.PublicURL(key), nil
}

// PublicURL returns the public retrieval reference for a key.
func (b *LocalBackend) PublicURL(key string) string {
	return strings.TrimSuffix(b.BaseURL, "/") + "/" + key
}

// Delete removes the blob file from the local filesystem.
// Idempotent: deleting a non-existent file is not an error.
// Also cleans up empty parent directories up to the root.
func (b *LocalBackend) Delete(ctx context.Context, key string) error {
	destPath := b.blobPath(key)

	err := os.Remove(destPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing blob file %q: %w", key, err)
	}

	cleanEmptyParents(filepath.Dir(destPath), b.RootDir)
	return nil
}

// Exists checks whether a blob exists on the local filesystem.
func (b *LocalBackend) Exists(ctx context.Context, key string) (bool, error) {
	info, err := os.Stat(b.blobPath(key))
	if err == nil {
		// Make sure it's a file, not a directory.
		if info.IsDir() {
			return false, nil
		}
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking blob existence %q: %w", key, err)
}

// HealthCheck verifies that the blob root directory is accessible.
func (b *LocalBackend) HealthCheck(ctx context.Context) error {
	_, err := os.Stat(b.RootDir)
	return err
}

// cleanEmptyParents removes empty directories starting from dir up to (but not
// including) stopAt. This cleans up after blob deletion when keys contain "/"
// separators that create subdirectories.
func cleanEmptyParents(dir, stopAt string) {
	// Normalize paths for comparison.
	dir = filepath.Clean(dir)
	stopAt = filepath.Clean(stopAt)

	for dir != stopAt && strings.HasPrefix(dir, stopAt) {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
}

// Ensure LocalBackend implements Store at compile time.
var _ Store = (*LocalBackend)(nil)
