package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestLocalBackend(t *testing.T) *LocalBackend {
	t.Helper()
	backend, err := NewLocalBackend(t.TempDir(), "http://localhost:8080/blobs")
	if err != nil {
		t.Fatalf("NewLocalBackend failed: %v", err)
	}
	return backend
}

func TestLocalPutCreatesFile(t *testing.T) {
	backend := newTestLocalBackend(t)
	ctx := context.Background()

	content := "png payload"
	url, err := backend.Put(ctx, "topics/t1/images/i1.png", strings.NewReader(content), int64(len(content)), "image/png")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if url != "http://localhost:8080/blobs/topics/t1/images/i1.png" {
		t.Errorf("unexpected url: %q", url)
	}

	data, err := os.ReadFile(filepath.Join(backend.RootDir, "topics", "t1", "images", "i1.png"))
	if err != nil {
		t.Fatalf("reading stored file: %v", err)
	}
	if string(data) != content {
		t.Errorf("stored data = %q, want %q", string(data), content)
	}

	// No temp files left behind after a successful write.
	entries, err := os.ReadDir(filepath.Join(backend.RootDir, ".tmp"))
	if err != nil {
		t.Fatalf("reading temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("%d temp files left after Put", len(entries))
	}
}

func TestLocalDeleteRemovesFileAndEmptyDirs(t *testing.T) {
	backend := newTestLocalBackend(t)
	ctx := context.Background()

	if _, err := backend.Put(ctx, "topics/t1/images/i1.jpg", strings.NewReader("x"), 1, "image/jpeg"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := backend.Delete(ctx, "topics/t1/images/i1.jpg"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	exists, err := backend.Exists(ctx, "topics/t1/images/i1.jpg")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("blob should not exist after Delete")
	}

	// Empty key directories are cleaned up back to the root.
	if _, err := os.Stat(filepath.Join(backend.RootDir, "topics")); !os.IsNotExist(err) {
		t.Error("empty parent directories should be removed")
	}
}

func TestLocalDeleteAbsentIsSuccess(t *testing.T) {
	backend := newTestLocalBackend(t)
	if err := backend.Delete(context.Background(), "never/stored.webp"); err != nil {
		t.Fatalf("Delete of absent blob should succeed, got: %v", err)
	}
}

func TestLocalCleanTempFiles(t *testing.T) {
	backend := newTestLocalBackend(t)

	// Simulate a crashed write.
	stale := filepath.Join(backend.RootDir, ".tmp", "tmp-stale")
	if err := os.WriteFile(stale, []byte("partial"), 0o644); err != nil {
		t.Fatalf("writing stale temp file: %v", err)
	}

	if err := backend.CleanTempFiles(); err != nil {
		t.Fatalf("CleanTempFiles failed: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale temp file should be removed")
	}
}

func TestLocalHealthCheck(t *testing.T) {
	backend := newTestLocalBackend(t)
	if err := backend.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
}
