package ranking

import (
	"fmt"
	"strconv"
	"time"
)

// Feed shortnames, used as the rkey of the published feed generator records.
// Max 15 chars.
const (
	ShortnameBigSparse   = "big-sparse"
	ShortnameFastGrowing = "fast-growing"
)

// Config holds the thresholds shared by the ranking algorithms.
type Config struct {
	// MinFollowers is the strict follower-count threshold for "popular".
	MinFollowers int

	// MaxPostsWindowDays and MaxPostsInWindow define the sparse-posting
	// filter: at most MaxPostsInWindow posts in the trailing window.
	MaxPostsWindowDays int
	MaxPostsInWindow   int

	// GrowthLookbackDays and GrowthMinIncrease define the fast-growing
	// filter: follower count up by at least GrowthMinIncrease over the
	// lookback window.
	GrowthLookbackDays int
	GrowthMinIncrease  int
}

// Algorithm builds the query for one page of a feed. now is passed in so
// window cutoffs are deterministic under test.
type Algorithm func(now time.Time, limit int, cursor string) Query

// BigSparse selects recent posts by popular authors who post sparsely:
// follower in-degree above the threshold and at most the configured number
// of posts in the trailing window.
func BigSparse(cfg Config) Algorithm {
	return func(now time.Time, limit int, cursor string) Query {
		since := now.AddDate(0, 0, -cfg.MaxPostsWindowDays)
		return Query{
			Candidates: []CandidateSet{
				PopularAuthors(cfg.MinFollowers),
				SparsePosters(since, cfg.MaxPostsInWindow),
			},
			Limit:  limit,
			Cursor: cursor,
		}
	}
}

// FastGrowing selects recent posts by authors whose follower count grew by
// at least the configured amount over the lookback window, per the daily
// rollup table. The projection is restricted to posts created inside the
// same window.
func FastGrowing(cfg Config) Algorithm {
	return func(now time.Time, limit int, cursor string) Query {
		since := now.AddDate(0, 0, -cfg.GrowthLookbackDays)
		return Query{
			Candidates: []CandidateSet{
				GrowingAuthors(Day(since), cfg.GrowthMinIncrease),
			},
			PostsSince: since,
			Limit:      limit,
			Cursor:     cursor,
		}
	}
}

// Algorithms returns the registry of all feed algorithms keyed by shortname.
func Algorithms(cfg Config) map[string]Algorithm {
	return map[string]Algorithm{
		ShortnameBigSparse:   BigSparse(cfg),
		ShortnameFastGrowing: FastGrowing(cfg),
	}
}

// timeLayout is a fixed-width UTC ISO-8601 form so that lexicographic
// comparison of stored strings matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in the canonical stored timestamp form.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// Day truncates t to its UTC calendar date (YYYY-MM-DD).
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// FormatCursor renders a pagination cursor: the epoch-millisecond timestamp
// of the last returned post's indexedAt, as a decimal string.
func FormatCursor(indexedAt time.Time) string {
	return strconv.FormatInt(indexedAt.UnixMilli(), 10)
}

// ParseCursor parses a pagination cursor back into a timestamp. Pages after
// a cursor contain only posts indexed strictly earlier than it.
func ParseCursor(cursor string) (time.Time, error) {
	millis, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cursor %q: %w", cursor, err)
	}
	return time.UnixMilli(millis), nil
}
