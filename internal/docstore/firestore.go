package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"github.com/topicdeck/topicdeck/internal/config"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore implements Store backed by Google Cloud Firestore. The
// native snapshot listeners provide live watches and the native transaction
// primitive provides the conflict-retried read-modify-write.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore creates a FirestoreStore for the given project and
// collection. Credentials resolve via the credentials file when set,
// otherwise via Application Default Credentials.
func NewFirestoreStore(ctx context.Context, cfg *config.FirestoreConfig, collection string) (*FirestoreStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("firestore config is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	if collection == "" {
		collection = "topics"
	}

	return &FirestoreStore{
		client:     client,
		collection: collection,
	}, nil
}

func (s *FirestoreStore) collectionRef() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

func (s *FirestoreStore) docRef(key string) *firestore.DocumentRef {
	return s.collectionRef().Doc(key)
}

func (s *FirestoreStore) Get(ctx context.Context, key string) (Document, error) {
	snap, err := s.docRef(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting document %q: %w", key, err)
	}
	if !snap.Exists() {
		return nil, ErrNotFound
	}
	return Document(snap.Data()), nil
}

func (s *FirestoreStore) Set(ctx context.Context, key string, fields Document, merge bool) error {
	var err error
	if merge {
		_, err = s.docRef(key).Set(ctx, map[string]any(fields), firestore.MergeAll)
	} else {
		_, err = s.docRef(key).Set(ctx, map[string]any(fields))
	}
	if err != nil {
		return fmt.Errorf("setting document %q: %w", key, err)
	}
	return nil
}

func (s *FirestoreStore) Delete(ctx context.Context, key string) error {
	// Firestore deletes of absent documents succeed, matching the Store contract.
	if _, err := s.docRef(key).Delete(ctx); err != nil {
		return fmt.Errorf("deleting document %q: %w", key, err)
	}
	return nil
}

func (s *FirestoreStore) List(ctx context.Context) ([]Document, error) {
	snaps, err := s.collectionRef().Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	docs := make([]Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, Document(snap.Data()))
	}
	return docs, nil
}

// Watch streams snapshots of a single document using Firestore's native
// listener, which reconnects on its own after transient failures.
func (s *FirestoreStore) Watch(ctx context.Context, key string) (<-chan Snapshot, error) {
	it := s.docRef(key).Snapshots(ctx)
	out := make(chan Snapshot, 1)

	go func() {
		defer close(out)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() == nil && status.Code(err) != codes.Canceled {
					slog.Error("firestore document watch terminated", "key", key, "error", err)
				}
				return
			}
			emit := Snapshot{Exists: snap.Exists()}
			if emit.Exists {
				emit.Doc = Document(snap.Data())
			}
			select {
			case out <- emit:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// WatchAll streams full collection snapshots using a query listener. Each
// emission is the complete current document set.
func (s *FirestoreStore) WatchAll(ctx context.Context) (<-chan []Document, error) {
	it := s.collectionRef().Snapshots(ctx)
	out := make(chan []Document, 1)

	go func() {
		defer close(out)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				if ctx.Err() == nil && status.Code(err) != codes.Canceled {
					slog.Error("firestore collection watch terminated", "error", err)
				}
				return
			}
			snaps, err := qs.Documents.GetAll()
			if err != nil {
				slog.Error("firestore collection watch read failed", "error", err)
				return
			}
			docs := make([]Document, 0, len(snaps))
			for _, snap := range snaps {
				docs = append(docs, Document(snap.Data()))
			}
			select {
			case out <- docs:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// fsTx adapts a Firestore transaction to the Tx interface.
type fsTx struct {
	tx    *firestore.Transaction
	store *FirestoreStore
}

func (t *fsTx) Get(key string) (Document, error) {
	snap, err := t.tx.Get(t.store.docRef(key))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !snap.Exists() {
		return nil, ErrNotFound
	}
	return Document(snap.Data()), nil
}

func (t *fsTx) Set(key string, doc Document) error {
	return t.tx.Set(t.store.docRef(key), map[string]any(doc))
}

func (t *fsTx) Update(key string, fields Document) error {
	return t.tx.Set(t.store.docRef(key), map[string]any(fields), firestore.MergeAll)
}

// RunTransaction delegates to Firestore's transaction primitive, which
// detects write conflicts and re-invokes fn against a fresh read. Exhausted
// retries surface as ErrConflict.
func (s *FirestoreStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(&fsTx{tx: tx, store: s})
	})
	if err != nil {
		if status.Code(err) == codes.Aborted {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return err
	}
	return nil
}

func (s *FirestoreStore) Ping(ctx context.Context) error {
	// A limited read is the cheapest reachability check Firestore offers.
	_, err := s.collectionRef().Limit(1).Documents(ctx).GetAll()
	return err
}

func (s *FirestoreStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// IsUnavailable reports whether an error from any engine indicates a
// transport-level failure rather than a logical one. It matches both
// errors wrapping ErrUnavailable and raw Firestore transport codes.
func IsUnavailable(err error) bool {
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

// Ensure FirestoreStore implements Store at compile time.
var _ Store = (*FirestoreStore)(nil)
