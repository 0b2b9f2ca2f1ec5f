package domain

import "time"

// AuthorStats is the latest known follower count for an author, refreshed by
// the follower sampler and the backfill crawler.
type AuthorStats struct {
	Did       string
	Followers int
	UpdatedAt time.Time
}

// FollowerSnapshot is one raw sample of an author's follower count. Snapshots
// are append-only; duplicates across sampling runs are harmless because they
// are only consumed through min/max aggregation.
type FollowerSnapshot struct {
	Did        string
	Followers  int
	RecordedAt time.Time
}

// DailyFollowerStats is the compacted per-author, per-day rollup of raw
// snapshots. Day is a calendar date in YYYY-MM-DD form.
type DailyFollowerStats struct {
	Did          string
	Day          string
	MinFollowers int
	MaxFollowers int
}
