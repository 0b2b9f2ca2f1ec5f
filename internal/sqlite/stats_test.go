package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skygraph/feedgen/internal/domain"
	"github.com/skygraph/feedgen/internal/ranking"
)

func TestRecordFollowerCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordFollowerCounts(ctx, []domain.FollowerSnapshot{
		{Did: "did:plc:a", Followers: 100, RecordedAt: now},
	}))
	require.NoError(t, store.RecordFollowerCounts(ctx, []domain.FollowerSnapshot{
		{Did: "did:plc:a", Followers: 120, RecordedAt: now.Add(time.Hour)},
	}))

	// Latest count wins in author_stats; history keeps every sample.
	var followers int
	require.NoError(t, store.db.QueryRow(
		`SELECT followers FROM author_stats WHERE did = ?`, "did:plc:a",
	).Scan(&followers))
	assert.Equal(t, 120, followers)
	assert.Equal(t, 1, store.countRows(t, "author_stats"))
	assert.Equal(t, 2, store.countRows(t, "author_stats_history"))
}

func TestRollupWidensAndNeverNarrows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	day := ranking.Day(now)

	require.NoError(t, store.RecordFollowerCounts(ctx, []domain.FollowerSnapshot{
		{Did: "did:plc:a", Followers: 100, RecordedAt: now},
		{Did: "did:plc:a", Followers: 140, RecordedAt: now.Add(time.Hour)},
	}))
	_, err := store.RollupFollowerSnapshots(ctx)
	require.NoError(t, err)

	daily, err := store.DailyFollowerStats(ctx, "did:plc:a", day)
	require.NoError(t, err)
	require.NotNil(t, daily)
	assert.Equal(t, 100, daily.MinFollowers)
	assert.Equal(t, 140, daily.MaxFollowers)

	// Prune the raw rows, then record a narrower sample the same day. The
	// rollup must widen to include it, never shrink back to it.
	_, err = store.DeleteSnapshotsBefore(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, store.countRows(t, "author_stats_history"))

	require.NoError(t, store.RecordFollowerCounts(ctx, []domain.FollowerSnapshot{
		{Did: "did:plc:a", Followers: 120, RecordedAt: now.Add(3 * time.Hour)},
	}))
	_, err = store.RollupFollowerSnapshots(ctx)
	require.NoError(t, err)

	daily, err = store.DailyFollowerStats(ctx, "did:plc:a", day)
	require.NoError(t, err)
	require.NotNil(t, daily)
	assert.Equal(t, 100, daily.MinFollowers)
	assert.Equal(t, 140, daily.MaxFollowers)

	// A genuinely wider sample does widen.
	require.NoError(t, store.RecordFollowerCounts(ctx, []domain.FollowerSnapshot{
		{Did: "did:plc:a", Followers: 150, RecordedAt: now.Add(4 * time.Hour)},
	}))
	_, err = store.RollupFollowerSnapshots(ctx)
	require.NoError(t, err)

	daily, err = store.DailyFollowerStats(ctx, "did:plc:a", day)
	require.NoError(t, err)
	require.NotNil(t, daily)
	assert.Equal(t, 100, daily.MinFollowers)
	assert.Equal(t, 150, daily.MaxFollowers)
}

func TestStaleAuthorsOrdersNeverSampledFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)

	_, err := store.InsertPosts(ctx, []domain.Post{
		testPost("at://p/1", "cid1", "did:plc:fresh", now),
		testPost("at://p/2", "cid2", "did:plc:stale", now),
		testPost("at://p/3", "cid3", "did:plc:never", now),
	})
	require.NoError(t, err)

	require.NoError(t, store.RecordFollowerCounts(ctx, []domain.FollowerSnapshot{
		{Did: "did:plc:stale", Followers: 10, RecordedAt: now.Add(-48 * time.Hour)},
		{Did: "did:plc:fresh", Followers: 10, RecordedAt: now},
	}))

	dids, err := store.StaleAuthors(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"did:plc:never", "did:plc:stale", "did:plc:fresh"}, dids)

	dids, err = store.StaleAuthors(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"did:plc:never", "did:plc:stale"}, dids)
}

func TestDeleteSnapshotsBefore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordFollowerCounts(ctx, []domain.FollowerSnapshot{
		{Did: "did:plc:a", Followers: 10, RecordedAt: now.AddDate(0, 0, -10)},
		{Did: "did:plc:a", Followers: 20, RecordedAt: now.AddDate(0, 0, -1)},
	}))

	deleted, err := store.DeleteSnapshotsBefore(ctx, now.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, 1, store.countRows(t, "author_stats_history"))

	require.NoError(t, store.Vacuum(ctx))
}

func TestPopularAuthorDids(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var follows []domain.Follow
	for i := 0; i < 3; i++ {
		follows = append(follows, domain.Follow{
			URI:         "at://big/" + string(rune('a'+i)),
			FollowerDid: "did:plc:f" + string(rune('a'+i)),
			SubjectDid:  "did:plc:big",
			CreatedAt:   now,
		})
	}
	follows = append(follows, domain.Follow{
		URI: "at://small/a", FollowerDid: "did:plc:fa", SubjectDid: "did:plc:small", CreatedAt: now,
	})
	require.NoError(t, store.ApplyBatch(ctx, domain.MutationBatch{FollowCreates: follows}))

	dids, err := store.PopularAuthorDids(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"did:plc:big"}, dids)
}
