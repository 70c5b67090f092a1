// Package reconcile repairs denormalized engagement counters.
//
// AddComment inserts the comment first and bumps the parent's comment_count
// second; when the bump fails the count is left stale on purpose. This job
// is the backstop: it recomputes comment_count from the comment rows, which
// are the source of truth, and rewrites any post that drifted.
//
// Like counts have no per-user rows behind them, so there is nothing to
// recompute them from; they are exact as long as every writer goes through
// the atomic increment.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/akashpatel/courseloop/internal/gateway"
	"github.com/akashpatel/courseloop/internal/model"
)

// Stats summarizes one reconciliation pass.
type Stats struct {
	PostsChecked  int
	PostsRepaired int
}

// Reconciler recomputes comment counts over a RowStore.
type Reconciler struct {
	store  gateway.RowStore
	logger *slog.Logger
}

func New(store gateway.RowStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: store, logger: logger}
}

// Run performs one full pass. It keeps going past individual post failures
// and returns the first error only if the post listing itself fails —
// a partial repair is strictly better than none.
func (r *Reconciler) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	rows, err := r.store.Select(ctx, gateway.TablePosts, nil, nil)
	if err != nil {
		return stats, fmt.Errorf("reconcile: listing posts: %w", err)
	}
	posts, err := gateway.Decode[model.Post](rows)
	if err != nil {
		return stats, fmt.Errorf("reconcile: decoding posts: %w", err)
	}

	for _, post := range posts {
		stats.PostsChecked++
		repaired, err := r.reconcilePost(ctx, post)
		if err != nil {
			r.logger.Warn("reconcile: post skipped", "post_id", post.ID, "error", err)
			continue
		}
		if repaired {
			stats.PostsRepaired++
		}
	}

	r.logger.Info("reconcile: pass complete",
		"checked", stats.PostsChecked, "repaired", stats.PostsRepaired)
	return stats, nil
}

// reconcilePost counts the post's comments and rewrites comment_count when
// it disagrees. The count may be momentarily off if a comment lands between
// the read and the write; the next pass catches it.
func (r *Reconciler) reconcilePost(ctx context.Context, post model.Post) (bool, error) {
	rows, err := r.store.Select(ctx, gateway.TableComments,
		gateway.Filters{"post_id": post.ID}, nil)
	if err != nil {
		return false, fmt.Errorf("counting comments: %w", err)
	}

	actual := len(rows)
	if actual == post.CommentCount {
		return false, nil
	}

	r.logger.Info("reconcile: repairing comment count",
		"post_id", post.ID, "stored", post.CommentCount, "actual", actual)
	err = r.store.Update(ctx, gateway.TablePosts,
		map[string]any{"comment_count": actual},
		gateway.Filters{"id": post.ID})
	if err != nil {
		return false, fmt.Errorf("rewriting count: %w", err)
	}
	return true, nil
}
