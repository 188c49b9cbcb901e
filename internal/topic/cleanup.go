package topic

import (
	"context"
	"log/slog"
	"sync"

	"github.com/topicdeck/topicdeck/internal/blobstore"
	"github.com/topicdeck/topicdeck/internal/metrics"
)

// Cleanup identifies one blob left to delete after a metadata change has
// already committed. Mutations that strand blobs return these tasks instead
// of deleting inline, so the caller decides when cleanup runs and the
// cleanup path is testable on its own.
type Cleanup struct {
	// Topic and Image identify the metadata entry the blob belonged to.
	Topic string
	Image string
	// Path is the blob-store key to delete.
	Path string
}

// runCleanup deletes each task's blob concurrently. Failures are logged and
// counted, never returned: the metadata is already consistent without the
// blobs, so a failed deletion only leaves an orphan behind.
func runCleanup(ctx context.Context, blobs blobstore.Store, tasks []Cleanup) {
	if len(tasks) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(task Cleanup) {
			defer wg.Done()
			if err := blobs.Delete(ctx, task.Path); err != nil {
				slog.Warn("blob cleanup failed",
					"topic", task.Topic, "image", task.Image, "path", task.Path, "error", err)
				metrics.BlobCleanupFailuresTotal.Inc()
			}
		}(task)
	}
	wg.Wait()
}

// RunCleanup executes the blob-deletion tasks returned by Remove.
func (r *Repository) RunCleanup(ctx context.Context, tasks []Cleanup) {
	runCleanup(ctx, r.blobs, tasks)
}

// RunCleanup executes the blob-deletion tasks returned by DeleteImage.
func (c *UploadCoordinator) RunCleanup(ctx context.Context, tasks []Cleanup) {
	runCleanup(ctx, c.blobs, tasks)
}
