// Package docstore defines the interface and implementations for TopicDeck's
// document store layer: per-key structured records with live-subscription
// reads and an atomic compare-and-retry write primitive.
package docstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by point reads and transaction reads when the
// requested document does not exist.
var ErrNotFound = errors.New("docstore: document not found")

// ErrUnavailable is returned (possibly wrapped) when the store cannot be
// reached. Callers map it onto their own transport-failure taxonomy.
var ErrUnavailable = errors.New("docstore: store unavailable")

// ErrConflict is returned by RunTransaction when the optimistic retry loop
// exhausts its attempts without committing.
var ErrConflict = errors.New("docstore: transaction conflict retries exhausted")

// Document is an opaque field mapping. The store enforces no schema.
type Document map[string]any

// Snapshot is one emission of a single-document watch. Exists is false when
// the document is absent (never created, or deleted after a prior emission).
type Snapshot struct {
	Exists bool
	Doc    Document
}

// Tx is the handle passed to a transaction function. Reads observe a
// consistent view; writes are buffered and applied atomically at commit.
// If a conflicting concurrent write is detected, the whole function is
// re-invoked against a fresh read, so the function must be idempotent and
// must not assume it runs only once.
type Tx interface {
	// Get reads a document within the transaction. Returns ErrNotFound if
	// the document does not exist.
	Get(key string) (Document, error)

	// Set replaces the document at key with the given fields.
	Set(key string, doc Document) error

	// Update merges the given fields into the document at key.
	Update(key string, fields Document) error
}

// Store defines the interface for a per-key document store. Implementations
// must be safe for concurrent use. All documents live in a single logical
// collection configured at construction time.
type Store interface {
	// Get performs a point read. Returns ErrNotFound if the document does
	// not exist.
	Get(ctx context.Context, key string) (Document, error)

	// Set writes the given fields at key. With merge true, fields are merged
	// into any existing document; otherwise the document is replaced.
	Set(ctx context.Context, key string, fields Document, merge bool) error

	// Delete removes the document at key. Deleting an absent document is not
	// an error.
	Delete(ctx context.Context, key string) error

	// List returns all documents in the collection.
	List(ctx context.Context) ([]Document, error)

	// Watch returns a live stream of snapshots for a single document. The
	// first emission reflects current state; subsequent emissions follow
	// every observed change, including deletion (Exists=false). The channel
	// is closed when ctx is canceled or the stream fails terminally.
	Watch(ctx context.Context, key string) (<-chan Snapshot, error)

	// WatchAll returns a live stream of full collection snapshots. Each
	// emission is the complete current document set. The channel is closed
	// when ctx is canceled or the stream fails terminally.
	WatchAll(ctx context.Context) (<-chan []Document, error)

	// RunTransaction executes fn as an atomic read-modify-write unit. The
	// store detects conflicting concurrent writers and retries fn
	// transparently against a fresh read. A non-nil error returned by fn
	// aborts the transaction and is returned unchanged.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error

	// Ping verifies that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// CopyDoc returns a deep copy of a document. Nested maps and slices are
// copied; scalar values are shared (they are immutable).
func CopyDoc(doc Document) Document {
	if doc == nil {
		return nil
	}
	return copyValue(doc).(Document)
}

func copyValue(v any) any {
	switch val := v.(type) {
	case Document:
		out := make(Document, len(val))
		for k, item := range val {
			out[k] = copyValue(item)
		}
		return out
	case map[string]any:
		// Nested maps keep their plain type so callers' assertions hold.
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

// MergeDoc merges fields into dst, replacing scalar and slice values and
// merging nested maps recursively. Returns dst for chaining.
func MergeDoc(dst, fields Document) Document {
	if dst == nil {
		dst = make(Document, len(fields))
	}
	for k, v := range fields {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				dst[k] = map[string]any(MergeDoc(existing, sub))
				continue
			}
		}
		dst[k] = copyValue(v)
	}
	return dst
}
