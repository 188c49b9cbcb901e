package topic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/topicdeck/topicdeck/internal/blobstore"
	"github.com/topicdeck/topicdeck/internal/busy"
	"github.com/topicdeck/topicdeck/internal/docstore"
	apierrors "github.com/topicdeck/topicdeck/internal/errors"
)

// Patch holds a partial topic update. Nil pointers leave the corresponding
// field untouched. Images, when non-nil, replaces the whole list; callers
// must only ever pass a permutation or element-wise edit of the existing
// list, never an expansion (the capacity gate lives on the upload path).
type Patch struct {
	Name        *string
	Description *string
	Active      *bool
	Images      []ImageMeta
}

// Repository provides CRUD and live-read access to Topic documents. All
// network operations are bracketed with the busy coordinator so overlapping
// calls collapse into one indicator signal.
type Repository struct {
	store docstore.Store
	blobs blobstore.Store
	busy  *busy.Coordinator
	now   func() time.Time
}

// NewRepository creates a Repository over the given stores.
func NewRepository(store docstore.Store, blobs blobstore.Store, b *busy.Coordinator) *Repository {
	return &Repository{
		store: store,
		blobs: blobs,
		busy:  b,
		now:   time.Now,
	}
}

// List returns a live stream of full topic-set snapshots. Each emission is
// the complete current set; the channel closes when ctx is canceled.
func (r *Repository) List(ctx context.Context) (<-chan []*Topic, error) {
	docs, err := r.store.WatchAll(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	out := make(chan []*Topic)
	go func() {
		defer close(out)
		for snapshot := range docs {
			topics := make([]*Topic, 0, len(snapshot))
			for _, doc := range snapshot {
				topics = append(topics, docToTopic(doc))
			}
			select {
			case out <- topics:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// All performs a point read of the full topic set.
func (r *Repository) All(ctx context.Context) ([]*Topic, error) {
	docs, err := r.store.List(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	topics := make([]*Topic, 0, len(docs))
	for _, doc := range docs {
		topics = append(topics, docToTopic(doc))
	}
	return topics, nil
}

// Get performs a point read of a single topic.
func (r *Repository) Get(ctx context.Context, id string) (*Topic, error) {
	doc, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, apierrors.ErrTopicNotFound
		}
		return nil, storeErr(err)
	}
	return docToTopic(doc), nil
}

// Watch returns a live stream of a single topic. A nil emission means the
// document is absent (never created, or deleted after a prior emission).
func (r *Repository) Watch(ctx context.Context, id string) (<-chan *Topic, error) {
	snaps, err := r.store.Watch(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	out := make(chan *Topic)
	go func() {
		defer close(out)
		for snap := range snaps {
			var t *Topic
			if snap.Exists {
				t = docToTopic(snap.Doc)
			}
			select {
			case out <- t:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Create allocates a new id and writes an initial document with an empty
// image list and active set. Returns the new topic.
func (r *Repository) Create(ctx context.Context, name, description string) (*Topic, error) {
	r.busy.Begin()
	defer r.busy.End()

	now := formatTime(r.now())
	t := &Topic{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Images:      []ImageMeta{},
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.Set(ctx, t.ID, topicToDoc(t), false); err != nil {
		return nil, storeErr(err)
	}
	slog.Info("topic created", "topic", t.ID, "name", name)
	return t, nil
}

// Update merges the patch into the existing document and refreshes
// updatedAt. The write is a last-writer-wins merge, not a transaction.
func (r *Repository) Update(ctx context.Context, id string, patch Patch) error {
	r.busy.Begin()
	defer r.busy.End()

	fields := docstore.Document{
		"updatedAt": formatTime(r.now()),
	}
	if patch.Name != nil {
		fields["name"] = *patch.Name
	}
	if patch.Description != nil {
		fields["description"] = *patch.Description
	}
	if patch.Active != nil {
		fields["active"] = *patch.Active
	}
	if patch.Images != nil {
		fields["images"] = imagesToDoc(patch.Images)
	}

	if err := r.store.Set(ctx, id, fields, true); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return apierrors.ErrTopicNotFound
		}
		return storeErr(err)
	}
	return nil
}

// Remove deletes a topic and returns one blob-cleanup task per contained
// image. The document is deleted unconditionally; the returned tasks are
// best-effort and the caller runs them via RunCleanup. Orphaned blobs are
// preferred over an undeletable topic. Removing an absent id silently
// succeeds with no tasks.
func (r *Repository) Remove(ctx context.Context, id string) ([]Cleanup, error) {
	r.busy.BeginImmediate(0)
	defer r.busy.End()

	doc, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, storeErr(err)
	}
	t := docToTopic(doc)

	if err := r.store.Delete(ctx, id); err != nil {
		return nil, storeErr(err)
	}

	tasks := make([]Cleanup, 0, len(t.Images))
	for _, img := range t.Images {
		tasks = append(tasks, Cleanup{Topic: id, Image: img.ID, Path: img.Path})
	}
	slog.Info("topic removed", "topic", id, "images", len(t.Images))
	return tasks, nil
}

// storeErr maps store failures onto the API error taxonomy, passing API
// errors through unchanged. Errors the engine classifies as
// transport-level (wrapped ErrUnavailable, Firestore Unavailable and
// DeadlineExceeded codes) map to the retryable StoreUnavailable; anything
// else outside the taxonomy is an internal failure.
func storeErr(err error) error {
	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	if errors.Is(err, docstore.ErrConflict) {
		return apierrors.ErrConflict
	}
	if docstore.IsUnavailable(err) {
		return fmt.Errorf("%w: %w", apierrors.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%w: %w", apierrors.ErrInternal, err)
}
