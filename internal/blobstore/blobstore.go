// Package blobstore defines the interface and implementations for TopicDeck's
// binary blob storage layer. Keys are flat strings; implementations impose no
// directory semantics beyond convention.
package blobstore

import (
	"context"
	"io"
)

// Store defines the interface for reading and writing raw blob data.
// Implementations provide the underlying storage mechanism (local
// filesystem, cloud provider, etc.). All methods must be safe for
// concurrent use.
//
// Delete is idempotent: deleting an absent blob is not an error. This keeps
// best-effort cleanup paths simple regardless of how often they run.
type Store interface {
	// Put writes the data from the reader to the store at the specified key
	// with the given content type, and returns a public retrieval URL.
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error)

	// PublicURL returns the public retrieval reference for a key without
	// touching the network.
	PublicURL(key string) string

	// Delete removes the blob at key. Absent blobs are treated as success.
	Delete(ctx context.Context, key string) error

	// Exists checks whether a blob exists at the specified key.
	Exists(ctx context.Context, key string) (bool, error)

	// HealthCheck verifies that the blob store is operational.
	HealthCheck(ctx context.Context) error
}
