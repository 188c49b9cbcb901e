package topic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/topicdeck/topicdeck/internal/blobstore"
	"github.com/topicdeck/topicdeck/internal/busy"
	"github.com/topicdeck/topicdeck/internal/docstore"
	apierrors "github.com/topicdeck/topicdeck/internal/errors"
)

// countingStore wraps a MemoryStore and counts calls, so tests can assert
// that rejected operations never reached the store.
type countingStore struct {
	*docstore.MemoryStore
	getCalls int32
	txCalls  int32
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: docstore.NewMemoryStore()}
}

func (s *countingStore) Get(ctx context.Context, key string) (docstore.Document, error) {
	atomic.AddInt32(&s.getCalls, 1)
	return s.MemoryStore.Get(ctx, key)
}

func (s *countingStore) RunTransaction(ctx context.Context, fn func(tx docstore.Tx) error) error {
	atomic.AddInt32(&s.txCalls, 1)
	return s.MemoryStore.RunTransaction(ctx, fn)
}

func newTestUploader(t *testing.T) (*UploadCoordinator, *countingStore, *blobstore.Memory) {
	t.Helper()
	store := newCountingStore()
	blobs := blobstore.NewMemory()
	up := NewUploadCoordinator(store, blobs, busy.New(180*time.Millisecond))
	return up, store, blobs
}

// seedTopic writes a topic document directly into the store.
func seedTopic(t *testing.T, store docstore.Store, topic *Topic) {
	t.Helper()
	if err := store.Set(context.Background(), topic.ID, topicToDoc(topic), false); err != nil {
		t.Fatalf("seeding topic: %v", err)
	}
}

func testFile(content, mime string) File {
	return File{
		Name:    "upload." + extFor(mime, ""),
		MIME:    mime,
		Size:    int64(len(content)),
		Content: strings.NewReader(content),
	}
}

func TestUploadRejectsUnsupportedTypeBeforeAnyCall(t *testing.T) {
	up, store, blobs := newTestUploader(t)

	_, err := up.UploadImage(context.Background(), "t1", testFile("%PDF-1.4", "application/pdf"), Titles{})
	if !errors.Is(err, apierrors.ErrUnsupportedType) {
		t.Fatalf("err = %v, want ErrUnsupportedType", err)
	}
	if blobs.PutCalls != 0 {
		t.Errorf("blob PutCalls = %d, want 0", blobs.PutCalls)
	}
	if store.txCalls != 0 {
		t.Errorf("store txCalls = %d, want 0", store.txCalls)
	}
}

func TestUploadRejectsOversizeBeforeAnyCall(t *testing.T) {
	up, store, blobs := newTestUploader(t)

	file := File{Name: "big.png", MIME: "image/png", Size: MaxImageSize + 1, Content: strings.NewReader("x")}
	_, err := up.UploadImage(context.Background(), "t1", file, Titles{})
	if !errors.Is(err, apierrors.ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
	if blobs.PutCalls != 0 || store.txCalls != 0 {
		t.Errorf("network calls made for oversize file: puts=%d txs=%d", blobs.PutCalls, store.txCalls)
	}
}

func TestUploadAppendsMetadata(t *testing.T) {
	up, store, blobs := newTestUploader(t)
	up.newID = func() string { return "img-1" }
	seedTopic(t, store, &Topic{ID: "t1", Name: "Rocks", Images: []ImageMeta{}, Active: true})

	img, err := up.UploadImage(context.Background(), "t1", testFile("jpegbytes", "image/jpeg"), Titles{EN: "Quartz"})
	if err != nil {
		t.Fatalf("UploadImage failed: %v", err)
	}

	wantPath := "topics/t1/images/img-1.jpg"
	if img.Path != wantPath {
		t.Errorf("Path = %q, want %q", img.Path, wantPath)
	}
	if img.URL != "mem://"+wantPath {
		t.Errorf("URL = %q, want %q", img.URL, "mem://"+wantPath)
	}
	if img.Titles.EN != "Quartz" || img.Titles.CS != "" || img.Titles.ES != "" {
		t.Errorf("Titles = %+v", img.Titles)
	}

	// Blob landed under the derived key.
	data, mime, ok := blobs.Get(wantPath)
	if !ok {
		t.Fatal("blob not stored")
	}
	if string(data) != "jpegbytes" || mime != "image/jpeg" {
		t.Errorf("stored blob = %q (%s)", data, mime)
	}

	// Metadata committed.
	doc, err := store.Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	got := docToTopic(doc)
	if len(got.Images) != 1 || got.Images[0].ID != "img-1" {
		t.Fatalf("Images = %+v, want one entry img-1", got.Images)
	}
	if got.UpdatedAt == "" {
		t.Error("UpdatedAt not refreshed")
	}
}

func TestUploadAbsentTopicOrphansBlob(t *testing.T) {
	up, _, blobs := newTestUploader(t)

	_, err := up.UploadImage(context.Background(), "missing", testFile("png", "image/png"), Titles{})
	if !errors.Is(err, apierrors.ErrTopicNotFound) {
		t.Fatalf("err = %v, want ErrTopicNotFound", err)
	}
	// The blob was uploaded before the transaction and stays behind.
	if blobs.PutCalls != 1 {
		t.Errorf("PutCalls = %d, want 1", blobs.PutCalls)
	}
	if blobs.DeleteCalls != 0 {
		t.Errorf("DeleteCalls = %d, want 0 (no compensating delete)", blobs.DeleteCalls)
	}
	if blobs.Len() != 1 {
		t.Errorf("blob count = %d, want 1 orphan", blobs.Len())
	}
}

func TestUploadCapacityExceededOrphansBlob(t *testing.T) {
	up, store, blobs := newTestUploader(t)

	full := &Topic{ID: "t1", Active: true}
	for i := 0; i < MaxImages; i++ {
		full.Images = append(full.Images, ImageMeta{ID: fmt.Sprintf("i%d", i)})
	}
	seedTopic(t, store, full)

	_, err := up.UploadImage(context.Background(), "t1", testFile("webp", "image/webp"), Titles{})
	if !errors.Is(err, apierrors.ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}

	doc, _ := store.Get(context.Background(), "t1")
	if got := docToTopic(doc); len(got.Images) != MaxImages {
		t.Errorf("Images length = %d, want %d", len(got.Images), MaxImages)
	}
	if blobs.DeleteCalls != 0 {
		t.Errorf("DeleteCalls = %d, want 0 (orphan accepted)", blobs.DeleteCalls)
	}
}

func TestConcurrentUploadsNeverExceedCapacity(t *testing.T) {
	up, store, _ := newTestUploader(t)
	seedTopic(t, store, &Topic{ID: "t1", Images: []ImageMeta{}, Active: true})

	const workers = 25
	var wg sync.WaitGroup
	var successes, capacity int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := up.UploadImage(context.Background(), "t1", testFile("x", "image/png"), Titles{})
				switch {
				case err == nil:
					atomic.AddInt32(&successes, 1)
				case errors.Is(err, apierrors.ErrCapacityExceeded):
					atomic.AddInt32(&capacity, 1)
				case errors.Is(err, apierrors.ErrConflict):
					// Optimistic retries exhausted under heavy contention;
					// try the whole operation again.
					continue
				default:
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
		}()
	}
	wg.Wait()

	if successes != MaxImages {
		t.Errorf("successes = %d, want %d", successes, MaxImages)
	}
	if capacity != workers-MaxImages {
		t.Errorf("capacity rejections = %d, want %d", capacity, workers-MaxImages)
	}

	doc, err := store.Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got := docToTopic(doc); len(got.Images) != MaxImages {
		t.Errorf("final Images length = %d, want %d", len(got.Images), MaxImages)
	}
}

func TestDeleteImageRemovesMetadataEvenIfBlobDeleteFails(t *testing.T) {
	up, store, blobs := newTestUploader(t)
	seedTopic(t, store, &Topic{ID: "t1", Active: true, Images: []ImageMeta{
		{ID: "i1", Path: "topics/t1/images/i1.jpg"},
		{ID: "i2", Path: "topics/t1/images/i2.png"},
	}})
	blobs.FailDelete = errors.New("backend down")

	tasks, err := up.DeleteImage(context.Background(), "t1", "i1")
	if err != nil {
		t.Fatalf("DeleteImage failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Path != "topics/t1/images/i1.jpg" {
		t.Fatalf("cleanup tasks = %+v, want one task for i1", tasks)
	}
	// Cleanup failures are logged and swallowed, never surfaced.
	up.RunCleanup(context.Background(), tasks)
	if blobs.DeleteCalls != 1 {
		t.Errorf("DeleteCalls = %d, want 1", blobs.DeleteCalls)
	}

	doc, _ := store.Get(context.Background(), "t1")
	got := docToTopic(doc)
	if len(got.Images) != 1 || got.Images[0].ID != "i2" {
		t.Errorf("Images = %+v, want only i2", got.Images)
	}
}

func TestDeleteImagePreservesSiblingDimensions(t *testing.T) {
	up, store, _ := newTestUploader(t)
	width, height := int64(800), int64(600)
	seedTopic(t, store, &Topic{ID: "t1", Active: true, Images: []ImageMeta{
		{ID: "keep", Path: "topics/t1/images/keep.jpg", URL: "u", MIME: "image/jpeg",
			Size: 10, Width: &width, Height: &height},
		{ID: "gone", Path: "topics/t1/images/gone.png", MIME: "image/png"},
	}})

	tasks, err := up.DeleteImage(context.Background(), "t1", "gone")
	if err != nil {
		t.Fatalf("DeleteImage failed: %v", err)
	}
	up.RunCleanup(context.Background(), tasks)

	doc, err := store.Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	got := docToTopic(doc)
	if len(got.Images) != 1 || got.Images[0].ID != "keep" {
		t.Fatalf("Images = %+v, want only keep", got.Images)
	}
	// The whole-list rewrite must carry the sibling's dimensions through.
	if got.Images[0].Width == nil || *got.Images[0].Width != 800 {
		t.Errorf("Width = %v, want 800", got.Images[0].Width)
	}
	if got.Images[0].Height == nil || *got.Images[0].Height != 600 {
		t.Errorf("Height = %v, want 600", got.Images[0].Height)
	}
}

func TestDeleteImageAbsentEntryYieldsNoCleanup(t *testing.T) {
	up, store, blobs := newTestUploader(t)
	seedTopic(t, store, &Topic{ID: "t1", Active: true, Images: []ImageMeta{
		{ID: "i1", Path: "topics/t1/images/i1.jpg"},
	}})

	tasks, err := up.DeleteImage(context.Background(), "t1", "nope")
	if err != nil {
		t.Fatalf("DeleteImage failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("cleanup tasks = %+v, want none", tasks)
	}
	up.RunCleanup(context.Background(), tasks)
	if blobs.DeleteCalls != 0 {
		t.Errorf("DeleteCalls = %d, want 0", blobs.DeleteCalls)
	}

	doc, _ := store.Get(context.Background(), "t1")
	if got := docToTopic(doc); len(got.Images) != 1 {
		t.Errorf("Images length = %d, want 1", len(got.Images))
	}
}

func TestDeleteImageTopicNotFound(t *testing.T) {
	up, _, _ := newTestUploader(t)
	_, err := up.DeleteImage(context.Background(), "missing", "i1")
	if !errors.Is(err, apierrors.ErrTopicNotFound) {
		t.Fatalf("err = %v, want ErrTopicNotFound", err)
	}
}
