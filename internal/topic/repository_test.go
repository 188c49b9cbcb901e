package topic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/topicdeck/topicdeck/internal/blobstore"
	"github.com/topicdeck/topicdeck/internal/busy"
	"github.com/topicdeck/topicdeck/internal/docstore"
	apierrors "github.com/topicdeck/topicdeck/internal/errors"
)

func newTestRepository(t *testing.T) (*Repository, *docstore.MemoryStore, *blobstore.Memory) {
	t.Helper()
	store := docstore.NewMemoryStore()
	blobs := blobstore.NewMemory()
	repo := NewRepository(store, blobs, busy.New(180*time.Millisecond))
	return repo, store, blobs
}

// unavailableStore fails point reads with a configured transport error.
type unavailableStore struct {
	*docstore.MemoryStore
	failGet error
}

func (s *unavailableStore) Get(ctx context.Context, key string) (docstore.Document, error) {
	if s.failGet != nil {
		return nil, s.failGet
	}
	return s.MemoryStore.Get(ctx, key)
}

func TestGetMapsTransportFailureToStoreUnavailable(t *testing.T) {
	store := &unavailableStore{
		MemoryStore: docstore.NewMemoryStore(),
		failGet:     fmt.Errorf("rpc timed out: %w", docstore.ErrUnavailable),
	}
	repo := NewRepository(store, blobstore.NewMemory(), busy.New(180*time.Millisecond))

	_, err := repo.Get(context.Background(), "t1")
	if !errors.Is(err, apierrors.ErrStoreUnavailable) {
		t.Fatalf("Get = %v, want ErrStoreUnavailable", err)
	}
}

func TestGetMapsUnknownFailureToInternal(t *testing.T) {
	store := &unavailableStore{
		MemoryStore: docstore.NewMemoryStore(),
		failGet:     errors.New("corrupted record"),
	}
	repo := NewRepository(store, blobstore.NewMemory(), busy.New(180*time.Millisecond))

	_, err := repo.Get(context.Background(), "t1")
	if !errors.Is(err, apierrors.ErrInternal) {
		t.Fatalf("Get = %v, want ErrInternal", err)
	}
}

func TestCreateWritesInitialDocument(t *testing.T) {
	repo, _, _ := newTestRepository(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, "Rocks", "# Minerals")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("Create returned empty id")
	}
	if !created.Active {
		t.Error("new topic should be active")
	}
	if created.Images == nil || len(created.Images) != 0 {
		t.Errorf("Images = %v, want empty list", created.Images)
	}

	got, err := repo.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "Rocks" || got.Description != "# Minerals" {
		t.Errorf("stored topic = %+v", got)
	}
	if got.CreatedAt == "" || got.UpdatedAt == "" {
		t.Error("timestamps not assigned")
	}
}

func TestGetNotFound(t *testing.T) {
	repo, _, _ := newTestRepository(t)
	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, apierrors.ErrTopicNotFound) {
		t.Fatalf("err = %v, want ErrTopicNotFound", err)
	}
}

func TestUpdateMergesPartialFields(t *testing.T) {
	repo, _, _ := newTestRepository(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, "Old name", "desc")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	name := "New name"
	if err := repo.Update(ctx, created.ID, Patch{Name: &name}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := repo.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "New name" {
		t.Errorf("Name = %q, want %q", got.Name, "New name")
	}
	if got.Description != "desc" {
		t.Errorf("Description = %q, want untouched %q", got.Description, "desc")
	}
	if got.Active != true {
		t.Error("Active should be untouched")
	}
}

func TestUpdateReplacesImageList(t *testing.T) {
	repo, store, _ := newTestRepository(t)
	ctx := context.Background()
	seedTopic(t, store, &Topic{ID: "t1", Active: true, Images: []ImageMeta{
		{ID: "a"}, {ID: "b"},
	}})

	err := repo.Update(ctx, "t1", Patch{Images: []ImageMeta{{ID: "b"}, {ID: "a"}}})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := repo.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Images) != 2 || got.Images[0].ID != "b" || got.Images[1].ID != "a" {
		t.Errorf("Images = %+v, want [b a]", got.Images)
	}
}

func TestRemoveDeletesDocumentAndBlobs(t *testing.T) {
	repo, store, blobs := newTestRepository(t)
	ctx := context.Background()

	images := []ImageMeta{
		{ID: "i1", Path: "topics/t1/images/i1.jpg"},
		{ID: "i2", Path: "topics/t1/images/i2.png"},
		{ID: "i3", Path: "topics/t1/images/i3.webp"},
	}
	seedTopic(t, store, &Topic{ID: "t1", Active: true, Images: images})
	for _, img := range images {
		if _, err := blobs.Put(ctx, img.Path, strings.NewReader("blob"), 4, "image/png"); err != nil {
			t.Fatalf("seeding blob: %v", err)
		}
	}

	tasks, err := repo.Remove(ctx, "t1")
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("cleanup tasks = %d, want 3", len(tasks))
	}
	repo.RunCleanup(ctx, tasks)

	if _, err := repo.Get(ctx, "t1"); !errors.Is(err, apierrors.ErrTopicNotFound) {
		t.Errorf("Get after Remove = %v, want ErrTopicNotFound", err)
	}
	if blobs.Len() != 0 {
		t.Errorf("blob count = %d, want 0", blobs.Len())
	}
}

func TestRemoveToleratesBlobFailures(t *testing.T) {
	repo, store, blobs := newTestRepository(t)
	ctx := context.Background()
	seedTopic(t, store, &Topic{ID: "t1", Active: true, Images: []ImageMeta{
		{ID: "i1", Path: "topics/t1/images/i1.jpg"},
	}})
	blobs.FailDelete = errors.New("backend down")

	tasks, err := repo.Remove(ctx, "t1")
	if err != nil {
		t.Fatalf("Remove should not fail on blob state, got: %v", err)
	}
	// Cleanup failures are logged and swallowed, never surfaced.
	repo.RunCleanup(ctx, tasks)
	if _, err := repo.Get(ctx, "t1"); !errors.Is(err, apierrors.ErrTopicNotFound) {
		t.Error("document should be deleted despite blob failure")
	}
}

func TestRemoveAbsentSilentlySucceeds(t *testing.T) {
	repo, _, _ := newTestRepository(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, "ephemeral", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := repo.Remove(ctx, created.ID); err != nil {
		t.Fatalf("first Remove failed: %v", err)
	}
	// Removing the same id again is a deterministic no-op.
	tasks, err := repo.Remove(ctx, created.ID)
	if err != nil {
		t.Fatalf("second Remove should silently succeed, got: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("cleanup tasks for absent topic = %d, want 0", len(tasks))
	}
}

func TestWatchEmitsPresenceAndDeletion(t *testing.T) {
	repo, store, _ := newTestRepository(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seedTopic(t, store, &Topic{ID: "t1", Name: "live", Active: true})

	stream, err := repo.Watch(ctx, "t1")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	first := recvTopic(t, stream)
	if first == nil || first.Name != "live" {
		t.Fatalf("first emission = %+v, want existing topic", first)
	}

	if err := store.Delete(ctx, "t1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got := recvTopic(t, stream); got != nil {
		t.Errorf("post-delete emission = %+v, want nil", got)
	}
}

func TestListStreamsFullSnapshots(t *testing.T) {
	repo, store, _ := newTestRepository(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seedTopic(t, store, &Topic{ID: "a", Name: "first", Active: true})

	stream, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	first := recvTopics(t, stream)
	if len(first) != 1 || first[0].ID != "a" {
		t.Fatalf("first snapshot = %+v, want [a]", first)
	}

	seedTopic(t, store, &Topic{ID: "b", Name: "second", Active: true})
	// The next snapshot eventually reflects both documents; emissions may be
	// coalesced, so poll until it does.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case topics, ok := <-stream:
			if !ok {
				t.Fatal("stream closed early")
			}
			if len(topics) == 2 {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for two-document snapshot")
		}
	}
}

func recvTopic(t *testing.T, ch <-chan *Topic) *Topic {
	t.Helper()
	select {
	case topic, ok := <-ch:
		if !ok {
			t.Fatal("stream closed early")
		}
		return topic
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emission")
		return nil
	}
}

func recvTopics(t *testing.T, ch <-chan []*Topic) []*Topic {
	t.Helper()
	select {
	case topics, ok := <-ch:
		if !ok {
			t.Fatal("stream closed early")
		}
		return topics
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for emission")
		return nil
	}
}
