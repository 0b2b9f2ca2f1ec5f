// Package ranking builds feed queries as explicit filter specifications.
// Each candidate-set constructor returns a subquery selecting author DIDs;
// the storage layer combines them with the shared recent-posts projection.
package ranking

import "time"

// CandidateSet is an author-selection filter: a SQL subquery whose single
// result column is an author DID, plus its bind arguments.
type CandidateSet struct {
	SQL  string
	Args []any
}

// PopularAuthors selects authors whose follower in-degree (count of rows in
// the follow table pointing at them) is strictly greater than minFollowers.
func PopularAuthors(minFollowers int) CandidateSet {
	return CandidateSet{
		SQL: `SELECT subjectDid FROM follow
			GROUP BY subjectDid
			HAVING COUNT(*) > ?`,
		Args: []any{minFollowers},
	}
}

// SparsePosters selects authors with at most maxPosts posts created since
// the given cutoff. The cap is inclusive: an author with exactly maxPosts
// posts in the window is selected. The count runs over every known author,
// so one whose posts all predate the window counts as zero and is admitted.
func SparsePosters(since time.Time, maxPosts int) CandidateSet {
	return CandidateSet{
		SQL: `SELECT author FROM post
			GROUP BY author
			HAVING COUNT(CASE WHEN createdAt >= ? THEN 1 END) <= ?`,
		Args: []any{FormatTime(since), maxPosts},
	}
}

// GrowingAuthors selects authors whose follower count grew by at least
// minIncrease across the daily rollup rows on or after sinceDay (YYYY-MM-DD).
// Growth is max(maxFollowers) - min(minFollowers) over the window, so an
// author with a single flat snapshot day cannot exceed a positive threshold.
func GrowingAuthors(sinceDay string, minIncrease int) CandidateSet {
	return CandidateSet{
		SQL: `SELECT did FROM author_stats_daily
			WHERE day >= ?
			GROUP BY did
			HAVING MAX(maxFollowers) - MIN(minFollowers) >= ?`,
		Args: []any{sinceDay, minIncrease},
	}
}

// Query is the full specification for one skeleton page: every candidate
// set must admit the author, posts are optionally restricted to a trailing
// creation window, and results are ordered indexedAt descending with cid
// descending as the tie-break.
type Query struct {
	Candidates []CandidateSet

	// PostsSince, when non-zero, restricts the projection to posts created
	// at or after this time.
	PostsSince time.Time

	Limit  int
	Cursor string
}
