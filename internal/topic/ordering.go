package topic

import (
	"context"
	"log/slog"

	apierrors "github.com/topicdeck/topicdeck/internal/errors"
)

// OrderingCoordinator performs optimistic, caller-first reordering of a
// topic's image list. The caller sees the new order before the write lands;
// on persistence failure the caller's view is reverted and the error
// surfaced. No merge against a concurrently changed remote list is
// attempted: last writer wins.
type OrderingCoordinator struct {
	repo *Repository
}

// NewOrderingCoordinator creates an OrderingCoordinator over the repository.
func NewOrderingCoordinator(repo *Repository) *OrderingCoordinator {
	return &OrderingCoordinator{repo: repo}
}

// Reorder moves the element at from to position to within the caller's
// last-known image order. present is invoked with the new order before
// persistence (optimistic update) and again with the original order if the
// write fails (rollback). On success the optimistic order is authoritative.
func (o *OrderingCoordinator) Reorder(ctx context.Context, topicID string, images []ImageMeta, from, to int, present func([]ImageMeta)) error {
	if from < 0 || from >= len(images) || to < 0 || to >= len(images) {
		return apierrors.ErrInvalidArgument
	}
	if from == to {
		return nil
	}

	next := moveImage(images, from, to)
	if present != nil {
		present(next)
	}

	if err := o.repo.Update(ctx, topicID, Patch{Images: next}); err != nil {
		slog.Warn("reorder persistence failed, reverting",
			"topic", topicID, "from", from, "to", to, "error", err)
		if present != nil {
			present(images)
		}
		return err
	}
	return nil
}

// moveImage returns a copy of images with the element at from relocated to
// to. Stable single-element relocation: the relative order of all other
// elements is preserved.
func moveImage(images []ImageMeta, from, to int) []ImageMeta {
	out := make([]ImageMeta, 0, len(images))
	out = append(out, images[:from]...)
	out = append(out, images[from+1:]...)
	out = append(out[:to], append([]ImageMeta{images[from]}, out[to:]...)...)
	return out
}
