package domain_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skygraph/feedgen/internal/domain"
	"github.com/skygraph/feedgen/internal/ingest"
	"github.com/skygraph/feedgen/internal/ranking"
	"github.com/skygraph/feedgen/internal/sqlite"
)

const publisherDID = "did:plc:publisher"

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func followOp(follower, subject string, createdAt time.Time) ingest.Op {
	return ingest.Op{
		Entity: ingest.EntityFollow,
		Kind:   ingest.KindCreate,
		URI:    fmt.Sprintf("at://%s/app.bsky.graph.follow/1", follower),
		Author: follower,
		Record: &ingest.Record{
			Subject:   subject,
			CreatedAt: createdAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

func postOp(author, rkey, cid string, createdAt time.Time) ingest.Op {
	return ingest.Op{
		Entity: ingest.EntityPost,
		Kind:   ingest.KindCreate,
		URI:    fmt.Sprintf("at://%s/app.bsky.feed.post/%s", author, rkey),
		Author: author,
		Record: &ingest.Record{
			CID:       cid,
			CreatedAt: createdAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

// Ingests a graph where one author clears the follower threshold with two
// recent posts, and a borderline author sits exactly at the threshold. Serving
// the feed end to end exercises ingestion, candidate selection and pagination
// against the real store.
func TestFeedServiceServesIngestedGraph(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newTestStore(t)
	consumer := ingest.NewConsumer("test", store, logger)

	popular := "did:plc:popular"
	borderline := "did:plc:borderline"
	now := time.Now().UTC()

	var batch ingest.Batch
	for i := 0; i < 501; i++ {
		batch.Ops = append(batch.Ops, followOp(fmt.Sprintf("did:plc:f%04d", i), popular, now.Add(-time.Hour)))
	}
	for i := 0; i < 500; i++ {
		batch.Ops = append(batch.Ops, followOp(fmt.Sprintf("did:plc:g%04d", i), borderline, now.Add(-time.Hour)))
	}
	batch.Ops = append(batch.Ops,
		postOp(popular, "older", "cid-older", now.Add(-25*time.Hour)),
		postOp(borderline, "only", "cid-only", now.Add(-time.Hour)),
	)
	batch.Cursor = 1
	require.NoError(t, consumer.Apply(ctx, batch))

	// Second delivery so the newer post gets a later indexedAt.
	time.Sleep(15 * time.Millisecond)
	require.NoError(t, consumer.Apply(ctx, ingest.Batch{
		Ops:    []ingest.Op{postOp(popular, "newer", "cid-newer", now.Add(-time.Hour))},
		Cursor: 2,
	}))

	cfg := ranking.Config{
		MinFollowers:       500,
		MaxPostsWindowDays: 30,
		MaxPostsInWindow:   30,
		GrowthLookbackDays: 7,
		GrowthMinIncrease:  100,
	}
	service := domain.NewFeedService(publisherDID, cfg, store, logger)
	feedURI := fmt.Sprintf("at://%s/app.bsky.feed.generator/%s", publisherDID, ranking.ShortnameBigSparse)

	skeleton, err := service.GetFeedSkeleton(ctx, feedURI, 10, "")
	require.NoError(t, err)
	require.Len(t, skeleton.Posts, 2)
	assert.Equal(t, fmt.Sprintf("at://%s/app.bsky.feed.post/newer", popular), skeleton.Posts[0].Post)
	assert.Equal(t, fmt.Sprintf("at://%s/app.bsky.feed.post/older", popular), skeleton.Posts[1].Post)
	assert.Empty(t, skeleton.Cursor, "partial page must not emit a cursor")
}

func TestFeedServicePaginatesWithCursor(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newTestStore(t)
	consumer := ingest.NewConsumer("test", store, logger)

	author := "did:plc:author"
	now := time.Now().UTC()

	var follows ingest.Batch
	for i := 0; i < 501; i++ {
		follows.Ops = append(follows.Ops, followOp(fmt.Sprintf("did:plc:f%04d", i), author, now.Add(-time.Hour)))
	}
	follows.Cursor = 1
	require.NoError(t, consumer.Apply(ctx, follows))

	for i := 0; i < 3; i++ {
		require.NoError(t, consumer.Apply(ctx, ingest.Batch{
			Ops:    []ingest.Op{postOp(author, fmt.Sprintf("p%d", i), fmt.Sprintf("cid-%d", i), now.Add(-time.Duration(i+1)*time.Hour))},
			Cursor: int64(i + 2),
		}))
		time.Sleep(15 * time.Millisecond)
	}

	cfg := ranking.Config{
		MinFollowers:       500,
		MaxPostsWindowDays: 30,
		MaxPostsInWindow:   30,
		GrowthLookbackDays: 7,
		GrowthMinIncrease:  100,
	}
	service := domain.NewFeedService(publisherDID, cfg, store, logger)
	feedURI := fmt.Sprintf("at://%s/app.bsky.feed.generator/%s", publisherDID, ranking.ShortnameBigSparse)

	var (
		seen   []string
		cursor string
	)
	for page := 0; page < 5; page++ {
		skeleton, err := service.GetFeedSkeleton(ctx, feedURI, 1, cursor)
		require.NoError(t, err)
		if len(skeleton.Posts) == 0 {
			break
		}
		for _, p := range skeleton.Posts {
			seen = append(seen, p.Post)
		}
		if skeleton.Cursor == "" {
			break
		}
		cursor = skeleton.Cursor
	}

	// Later deliveries are later in the index, so the last-ingested post
	// comes first.
	require.Len(t, seen, 3)
	assert.Equal(t, fmt.Sprintf("at://%s/app.bsky.feed.post/p2", author), seen[0])
	assert.Equal(t, fmt.Sprintf("at://%s/app.bsky.feed.post/p1", author), seen[1])
	assert.Equal(t, fmt.Sprintf("at://%s/app.bsky.feed.post/p0", author), seen[2])
}

func TestFeedServiceRejectsUnknownFeed(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newTestStore(t)
	service := domain.NewFeedService(publisherDID, ranking.Config{MinFollowers: 500}, store, logger)

	_, err := service.GetFeedSkeleton(context.Background(), "at://did:plc:other/app.bsky.feed.generator/nope", 10, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown feed")
}

func TestFeedServiceRegistersAllFeeds(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newTestStore(t)
	service := domain.NewFeedService(publisherDID, ranking.Config{}, store, logger)

	uris := service.FeedURIs()
	require.Len(t, uris, 2)
	assert.Contains(t, uris, fmt.Sprintf("at://%s/app.bsky.feed.generator/%s", publisherDID, ranking.ShortnameBigSparse))
	assert.Contains(t, uris, fmt.Sprintf("at://%s/app.bsky.feed.generator/%s", publisherDID, ranking.ShortnameFastGrowing))
}
