package blobstore

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// memBlob holds the raw data and content type for an in-memory blob.
type memBlob struct {
	Data        []byte
	ContentType string
}

// Memory implements the Store interface using an in-memory map. It is used
// in tests and when running with the "memory" backend for local development.
// The call counters and failure hooks let tests assert on interaction
// sequences and inject backend faults.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string]memBlob

	// PutCalls and DeleteCalls count completed method invocations,
	// including ones that returned an injected error.
	PutCalls    int
	DeleteCalls int

	// FailPut and FailDelete, when non-nil, are returned by the
	// corresponding methods instead of touching the map.
	FailPut    error
	FailDelete error
}

// NewMemory creates an empty in-memory blob store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string]memBlob)}
}

// Put stores blob data in the map and returns the public URL.
func (m *Memory) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PutCalls++
	if m.FailPut != nil {
		return "", m.FailPut
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("reading blob data: %w", err)
	}
	m.blobs[key] = memBlob{Data: data, ContentType: contentType}
	return m.PublicURL(key), nil
}

// PublicURL returns a synthetic retrieval reference for a key.
func (m *Memory) PublicURL(key string) string {
	return "mem://" + key
}

// Delete removes a blob from the map. Idempotent.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	if m.FailDelete != nil {
		return m.FailDelete
	}
	delete(m.blobs, key)
	return nil
}

// Exists checks whether a blob is present in the map.
func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[key]
	return ok, nil
}

// HealthCheck always succeeds for the in-memory backend.
func (m *Memory) HealthCheck(ctx context.Context) error {
	return nil
}

// Get returns the stored blob bytes and content type. Used by tests to
// verify uploaded content.
func (m *Memory) Get(key string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, "", false
	}
	data := make([]byte, len(b.Data))
	copy(data, b.Data)
	return data, b.ContentType, true
}

// Len returns the number of stored blobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// Ensure Memory implements Store at compile time.
var _ Store = (*Memory)(nil)
