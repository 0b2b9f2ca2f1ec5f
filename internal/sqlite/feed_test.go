package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skygraph/feedgen/internal/domain"
	"github.com/skygraph/feedgen/internal/ranking"
)

func TestFeedPostsOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)

	// Inserted out of order; two posts share a timestamp to exercise the
	// cid tie-break.
	_, err := store.InsertPosts(ctx, []domain.Post{
		testPost("at://p/mid", "cidB", "did:plc:a", base.Add(time.Minute)),
		testPost("at://p/new", "cidD", "did:plc:a", base.Add(2*time.Minute)),
		testPost("at://p/old", "cidA", "did:plc:a", base),
		testPost("at://p/mid2", "cidC", "did:plc:a", base.Add(time.Minute)),
	})
	require.NoError(t, err)

	posts, _, err := store.FeedPosts(ctx, ranking.Query{Limit: 10})
	require.NoError(t, err)

	var uris []string
	for _, p := range posts {
		uris = append(uris, p.URI)
	}
	assert.Equal(t, []string{"at://p/new", "at://p/mid2", "at://p/mid", "at://p/old"}, uris)
}

func TestFeedPostsPaginationIsComplete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)

	const total = 25
	var all []domain.Post
	for i := 0; i < total; i++ {
		all = append(all, testPost(
			fmt.Sprintf("at://p/%02d", i),
			fmt.Sprintf("cid%02d", i),
			"did:plc:a",
			base.Add(time.Duration(i)*time.Second),
		))
	}
	_, err := store.InsertPosts(ctx, all)
	require.NoError(t, err)

	seen := make(map[string]bool)
	cursor := ""
	pages := 0
	for {
		posts, next, err := store.FeedPosts(ctx, ranking.Query{Limit: 7, Cursor: cursor})
		require.NoError(t, err)
		for _, p := range posts {
			assert.False(t, seen[p.URI], "duplicate post %s", p.URI)
			seen[p.URI] = true
		}
		pages++
		if next == "" {
			break
		}
		cursor = next
	}

	assert.Len(t, seen, total)
	assert.Equal(t, 4, pages)
}

func TestFeedPostsPaginationClosesTiedRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)

	// Every post in a flush shares one indexedAt stamp, so tied runs
	// longer than a page are routine. Timestamps here form runs of
	// 3, 2, and 1 posts.
	var all []domain.Post
	stamps := []time.Time{base.Add(2 * time.Second), base.Add(2 * time.Second), base.Add(2 * time.Second),
		base.Add(time.Second), base.Add(time.Second), base}
	for i, ts := range stamps {
		all = append(all, testPost(
			fmt.Sprintf("at://p/%d", i), fmt.Sprintf("cid%d", i), "did:plc:a", ts,
		))
	}
	_, err := store.InsertPosts(ctx, all)
	require.NoError(t, err)

	seen := make(map[string]bool)
	cursor := ""
	var pageSizes []int
	for {
		posts, next, err := store.FeedPosts(ctx, ranking.Query{Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		for _, p := range posts {
			assert.False(t, seen[p.URI], "duplicate post %s", p.URI)
			seen[p.URI] = true
		}
		if len(posts) > 0 {
			pageSizes = append(pageSizes, len(posts))
		}
		if next == "" {
			break
		}
		cursor = next
	}

	assert.Len(t, seen, len(all))
	// The first page extends past the limit to finish the 3-post run.
	assert.Equal(t, []int{3, 2, 1}, pageSizes)
}

func TestFeedPostsAllSameTimestamp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	stamp := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)

	var all []domain.Post
	for i := 0; i < 5; i++ {
		all = append(all, testPost(
			fmt.Sprintf("at://p/%d", i), fmt.Sprintf("cid%d", i), "did:plc:a", stamp,
		))
	}
	_, err := store.InsertPosts(ctx, all)
	require.NoError(t, err)

	posts, cursor, err := store.FeedPosts(ctx, ranking.Query{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, posts, 5)

	if cursor != "" {
		rest, _, err := store.FeedPosts(ctx, ranking.Query{Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		assert.Empty(t, rest)
	}
}

func TestFeedPostsCursorIsStrictlyEarlier(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)

	_, err := store.InsertPosts(ctx, []domain.Post{
		testPost("at://p/1", "cid1", "did:plc:a", base),
		testPost("at://p/2", "cid2", "did:plc:a", base.Add(time.Second)),
	})
	require.NoError(t, err)

	posts, _, err := store.FeedPosts(ctx, ranking.Query{
		Limit:  10,
		Cursor: ranking.FormatCursor(base.Add(time.Second)),
	})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "at://p/1", posts[0].URI)
}

func TestFeedPostsEmptyCandidateSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.InsertPosts(ctx, []domain.Post{
		testPost("at://p/1", "cid1", "did:plc:nobody", time.Now().UTC()),
	})
	require.NoError(t, err)

	posts, cursor, err := store.FeedPosts(ctx, ranking.Query{
		Candidates: []ranking.CandidateSet{ranking.PopularAuthors(500)},
		Limit:      10,
	})
	require.NoError(t, err)
	assert.Empty(t, posts)
	assert.Empty(t, cursor)
}

func TestSparseFilterBoundary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	since := now.AddDate(0, 0, -30)
	const maxPosts = 3

	// sparse has exactly maxPosts posts in the window, busy has one more.
	var posts []domain.Post
	for i := 0; i < maxPosts; i++ {
		posts = append(posts, testPost(
			fmt.Sprintf("at://sparse/%d", i), fmt.Sprintf("s%d", i),
			"did:plc:sparse", now.Add(-time.Duration(i)*time.Hour),
		))
	}
	for i := 0; i <= maxPosts; i++ {
		posts = append(posts, testPost(
			fmt.Sprintf("at://busy/%d", i), fmt.Sprintf("b%d", i),
			"did:plc:busy", now.Add(-time.Duration(i)*time.Hour),
		))
	}
	_, err := store.InsertPosts(ctx, posts)
	require.NoError(t, err)

	got, _, err := store.FeedPosts(ctx, ranking.Query{
		Candidates: []ranking.CandidateSet{ranking.SparsePosters(since, maxPosts)},
		Limit:      50,
	})
	require.NoError(t, err)

	require.Len(t, got, maxPosts)
	for _, p := range got {
		assert.Equal(t, "did:plc:sparse", p.Author)
	}
}

func TestSparseFilterAdmitsDormantAuthors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	since := now.AddDate(0, 0, -30)

	// All of dormant's posts predate the window: zero in-window posts is
	// under the cap, so the older posts still surface.
	_, err := store.InsertPosts(ctx, []domain.Post{
		testPost("at://dormant/1", "d1", "did:plc:dormant", now.AddDate(0, 0, -60)),
		testPost("at://dormant/2", "d2", "did:plc:dormant", now.AddDate(0, 0, -45)),
	})
	require.NoError(t, err)

	got, _, err := store.FeedPosts(ctx, ranking.Query{
		Candidates: []ranking.CandidateSet{ranking.SparsePosters(since, 3)},
		Limit:      10,
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestGrowthSelection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)

	// Snapshots 100, 140, 90 all inside the window: growth = 140 - 90 = 50.
	require.NoError(t, store.RecordFollowerCounts(ctx, []domain.FollowerSnapshot{
		{Did: "did:plc:a", Followers: 100, RecordedAt: now.Add(-3 * time.Hour)},
		{Did: "did:plc:a", Followers: 140, RecordedAt: now.Add(-2 * time.Hour)},
		{Did: "did:plc:a", Followers: 90, RecordedAt: now.Add(-time.Hour)},
	}))
	_, err := store.RollupFollowerSnapshots(ctx)
	require.NoError(t, err)

	_, err = store.InsertPosts(ctx, []domain.Post{
		testPost("at://p/1", "cid1", "did:plc:a", now),
	})
	require.NoError(t, err)

	sinceDay := ranking.Day(now.AddDate(0, 0, -7))

	tests := []struct {
		name      string
		threshold int
		want      int
	}{
		{"at threshold", 50, 1},
		{"below threshold", 10, 1},
		{"above threshold", 51, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			posts, _, err := store.FeedPosts(ctx, ranking.Query{
				Candidates: []ranking.CandidateSet{ranking.GrowingAuthors(sinceDay, tt.threshold)},
				Limit:      10,
			})
			require.NoError(t, err)
			assert.Len(t, posts, tt.want)
		})
	}
}

func TestGrowthIgnoresSingleSnapshotAuthors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordFollowerCounts(ctx, []domain.FollowerSnapshot{
		{Did: "did:plc:flat", Followers: 9999, RecordedAt: now.Add(-time.Hour)},
	}))
	_, err := store.RollupFollowerSnapshots(ctx)
	require.NoError(t, err)

	_, err = store.InsertPosts(ctx, []domain.Post{
		testPost("at://p/1", "cid1", "did:plc:flat", now),
	})
	require.NoError(t, err)

	posts, _, err := store.FeedPosts(ctx, ranking.Query{
		Candidates: []ranking.CandidateSet{ranking.GrowingAuthors(ranking.Day(now.AddDate(0, 0, -7)), 1)},
		Limit:      10,
	})
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestPopularAuthorsThresholdIsStrict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Subject with exactly 2 followers.
	var follows []domain.Follow
	for i := 0; i < 2; i++ {
		follows = append(follows, domain.Follow{
			URI:         fmt.Sprintf("at://f/%d", i),
			FollowerDid: fmt.Sprintf("did:plc:f%d", i),
			SubjectDid:  "did:plc:subject",
			CreatedAt:   now,
		})
	}
	require.NoError(t, store.ApplyBatch(ctx, domain.MutationBatch{FollowCreates: follows}))
	_, err := store.InsertPosts(ctx, []domain.Post{
		testPost("at://p/1", "cid1", "did:plc:subject", now),
	})
	require.NoError(t, err)

	// count > 2 excludes the author; count > 1 includes them.
	posts, _, err := store.FeedPosts(ctx, ranking.Query{
		Candidates: []ranking.CandidateSet{ranking.PopularAuthors(2)},
		Limit:      10,
	})
	require.NoError(t, err)
	assert.Empty(t, posts)

	posts, _, err = store.FeedPosts(ctx, ranking.Query{
		Candidates: []ranking.CandidateSet{ranking.PopularAuthors(1)},
		Limit:      10,
	})
	require.NoError(t, err)
	assert.Len(t, posts, 1)
}
