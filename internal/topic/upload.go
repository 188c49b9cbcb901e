package topic

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/topicdeck/topicdeck/internal/blobstore"
	"github.com/topicdeck/topicdeck/internal/busy"
	"github.com/topicdeck/topicdeck/internal/docstore"
	apierrors "github.com/topicdeck/topicdeck/internal/errors"
	"github.com/topicdeck/topicdeck/internal/metrics"
)

// UploadCoordinator validates uploads, stores blobs, and transactionally
// appends image metadata under the capacity limit.
//
// Ordering policy: the blob upload happens before, and outside of, the
// metadata transaction. If the transaction then fails for any reason
// (absent topic, capacity, conflict exhaustion), the uploaded blob stays
// behind as an orphan. Compensating deletes are deliberately not attempted:
// a delete that races a retried upload can destroy a blob the retry just
// committed, which is worse than leaking storage.
type UploadCoordinator struct {
	store docstore.Store
	blobs blobstore.Store
	busy  *busy.Coordinator
	now   func() time.Time
	newID func() string
}

// NewUploadCoordinator creates an UploadCoordinator over the given stores.
func NewUploadCoordinator(store docstore.Store, blobs blobstore.Store, b *busy.Coordinator) *UploadCoordinator {
	return &UploadCoordinator{
		store: store,
		blobs: blobs,
		busy:  b,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// UploadImage stores the file's bytes as a blob and appends its metadata to
// the topic's image list. Validation happens locally before any network
// call. Returns the committed ImageMeta.
func (c *UploadCoordinator) UploadImage(ctx context.Context, topicID string, file File, titles Titles) (*ImageMeta, error) {
	// Local gates first: an invalid file must never reach the network.
	if _, ok := allowedMIME[file.MIME]; !ok {
		metrics.UploadsTotal.WithLabelValues("unsupported_type").Inc()
		return nil, apierrors.ErrUnsupportedType
	}
	if file.Size > MaxImageSize {
		metrics.UploadsTotal.WithLabelValues("too_large").Inc()
		return nil, apierrors.ErrTooLarge
	}

	c.busy.BeginImmediate(0)
	defer c.busy.End()

	imageID := c.newID()
	key := BlobKey(topicID, imageID, extFor(file.MIME, file.Name))

	url, err := c.blobs.Put(ctx, key, file.Content, file.Size, file.MIME)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("blob_error").Inc()
		return nil, storeErr(err)
	}

	img := ImageMeta{
		ID:        imageID,
		Path:      key,
		URL:       url,
		Titles:    titles,
		MIME:      file.MIME,
		Size:      file.Size,
		CreatedAt: formatTime(c.now()),
	}

	// The capacity check is the final gate, performed against the freshest
	// read inside the same atomic attempt. The store re-invokes the
	// function on conflict, so it must not assume a single execution.
	err = c.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		doc, err := tx.Get(topicID)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return apierrors.ErrTopicNotFound
			}
			return err
		}
		t := docToTopic(doc)
		if len(t.Images) >= MaxImages {
			return apierrors.ErrCapacityExceeded
		}
		return tx.Update(topicID, docstore.Document{
			"images":    imagesToDoc(append(t.Images, img)),
			"updatedAt": formatTime(c.now()),
		})
	})
	if err != nil {
		// The blob at key is now orphaned. Accepted: see the type comment.
		slog.Warn("image metadata append failed, blob orphaned",
			"topic", topicID, "image", imageID, "path", key, "error", err)
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		return nil, storeErr(err)
	}

	slog.Info("image uploaded", "topic", topicID, "image", imageID, "size", file.Size, "mime", file.MIME)
	metrics.UploadsTotal.WithLabelValues("ok").Inc()
	return &img, nil
}

// DeleteImage removes the image's metadata entry and returns the blob
// cleanup task for the caller to run via RunCleanup. Metadata first, blob
// second: the live document must never reference a blob that is already
// gone. The metadata write is an unconditional overwrite: a concurrent
// append between the read and the write can be lost.
func (c *UploadCoordinator) DeleteImage(ctx context.Context, topicID, imageID string) ([]Cleanup, error) {
	c.busy.Begin()
	defer c.busy.End()

	doc, err := c.store.Get(ctx, topicID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, apierrors.ErrTopicNotFound
		}
		return nil, storeErr(err)
	}
	t := docToTopic(doc)

	var tasks []Cleanup
	filtered := make([]ImageMeta, 0, len(t.Images))
	for _, img := range t.Images {
		if img.ID == imageID {
			tasks = append(tasks, Cleanup{Topic: topicID, Image: img.ID, Path: img.Path})
			continue
		}
		filtered = append(filtered, img)
	}

	err = c.store.Set(ctx, topicID, docstore.Document{
		"images":    imagesToDoc(filtered),
		"updatedAt": formatTime(c.now()),
	}, true)
	if err != nil {
		return nil, storeErr(err)
	}

	slog.Info("image removed", "topic", topicID, "image", imageID)
	return tasks, nil
}
