package domain

import (
	"context"

	"github.com/skygraph/feedgen/internal/ranking"
)

// MutationBatch is one ingestion batch's worth of row mutations plus the
// cursor position that becomes durable once all of them are applied. The
// store must apply the whole batch atomically.
type MutationBatch struct {
	// Service names the upstream source whose cursor advances with this
	// batch. Empty means no cursor update (backfill writes).
	Service string
	Cursor  int64

	PostCreates   []Post
	PostDeletes   []string
	FollowCreates []Follow
	FollowDeletes []string
	LikeCreates   []Like
	LikeDeletes   []string
}

// BatchWriter applies ingestion batches. Creates must be idempotent
// (insert-or-ignore on the unique key) so redelivered batches are no-ops.
type BatchWriter interface {
	ApplyBatch(ctx context.Context, batch MutationBatch) error
}

// CursorRepository reads the last durable ingestion position per source.
type CursorRepository interface {
	// GetCursor returns the saved position for the given source, or 0 if
	// none has been saved.
	GetCursor(ctx context.Context, service string) (int64, error)
}

// FeedRepository executes ranking queries against the store.
type FeedRepository interface {
	// FeedPosts returns one page of posts matching the query, newest
	// first, plus the next pagination cursor (empty if the page did not
	// fill). A page may exceed the requested limit when the boundary
	// falls inside a run of posts sharing an indexedAt timestamp; the
	// whole run is returned so the cursor never skips rows.
	FeedPosts(ctx context.Context, q ranking.Query) ([]Post, string, error)
}
