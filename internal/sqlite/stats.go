package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/skygraph/feedgen/internal/domain"
	"github.com/skygraph/feedgen/internal/ranking"
)

// StaleAuthors returns DIDs of authors appearing in the post table, ordered
// by how stale their follower count is (never-sampled authors first, then
// oldest updatedAt). limit <= 0 returns all authors.
func (s *Store) StaleAuthors(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.author
		FROM post p
		LEFT JOIN author_stats s ON s.did = p.author
		GROUP BY p.author, s.updatedAt
		ORDER BY COALESCE(s.updatedAt, ?) ASC
		LIMIT ?`,
		epoch, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query stale authors: %w", err)
	}
	defer rows.Close()

	var dids []string
	for rows.Next() {
		var did string
		if err := rows.Scan(&did); err != nil {
			return nil, fmt.Errorf("scan author did: %w", err)
		}
		dids = append(dids, did)
	}
	return dids, rows.Err()
}

// RecordFollowerCounts upserts the latest follower count per author and
// appends one raw history row per snapshot, in a single transaction.
func (s *Store) RecordFollowerCounts(ctx context.Context, snapshots []domain.FollowerSnapshot) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, snap := range snapshots {
			recordedAt := ranking.FormatTime(snap.RecordedAt)
			_, err := tx.ExecContext(ctx, `
				INSERT INTO author_stats (did, followers, updatedAt)
				VALUES (?, ?, ?)
				ON CONFLICT (did) DO UPDATE SET
					followers = excluded.followers,
					updatedAt = excluded.updatedAt`,
				snap.Did, snap.Followers, recordedAt,
			)
			if err != nil {
				return fmt.Errorf("upsert author_stats for %s: %w", snap.Did, err)
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO author_stats_history (did, followers, recordedAt)
				VALUES (?, ?, ?)`,
				snap.Did, snap.Followers, recordedAt,
			)
			if err != nil {
				return fmt.Errorf("append history for %s: %w", snap.Did, err)
			}
		}
		return nil
	})
}

// HasSnapshotTable reports whether the raw history table exists. Fresh
// installs may run maintenance before any sampling has happened.
func (s *Store) HasSnapshotTable(ctx context.Context) (bool, error) {
	return s.tableExists(ctx, "author_stats_history")
}

// RollupFollowerSnapshots compacts raw history into per-author, per-day
// min/max rows. The upsert widens an existing day's bounds, never narrows
// them, so re-running the rollup is idempotent and prune-safe.
func (s *Store) RollupFollowerSnapshots(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO author_stats_daily (did, day, minFollowers, maxFollowers)
		SELECT did, substr(recordedAt, 1, 10), MIN(followers), MAX(followers)
		FROM author_stats_history
		GROUP BY did, substr(recordedAt, 1, 10)
		ON CONFLICT (did, day) DO UPDATE SET
			minFollowers = MIN(minFollowers, excluded.minFollowers),
			maxFollowers = MAX(maxFollowers, excluded.maxFollowers)`,
	)
	if err != nil {
		return 0, fmt.Errorf("rollup snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteSnapshotsBefore removes raw history rows recorded before the cutoff.
// Returns the number of rows deleted.
func (s *Store) DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM author_stats_history WHERE recordedAt < ?`,
		ranking.FormatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("delete snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DailyFollowerStats returns the rollup row for one author and day, or nil
// if absent.
func (s *Store) DailyFollowerStats(ctx context.Context, did, day string) (*domain.DailyFollowerStats, error) {
	var d domain.DailyFollowerStats
	err := s.db.QueryRowContext(ctx, `
		SELECT did, day, minFollowers, maxFollowers
		FROM author_stats_daily
		WHERE did = ? AND day = ?`,
		did, day,
	).Scan(&d.Did, &d.Day, &d.MinFollowers, &d.MaxFollowers)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	return &d, nil
}

// PopularAuthorDids returns authors whose follower in-degree strictly
// exceeds minFollowers, busiest first, capped at limit. Used by the backfill
// crawler to choose whose posts to fetch.
func (s *Store) PopularAuthorDids(ctx context.Context, minFollowers, limit int) ([]string, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT subjectDid
		FROM follow
		GROUP BY subjectDid
		HAVING COUNT(*) > ?
		ORDER BY COUNT(*) DESC
		LIMIT ?`,
		minFollowers, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query popular authors: %w", err)
	}
	defer rows.Close()

	var dids []string
	for rows.Next() {
		var did string
		if err := rows.Scan(&did); err != nil {
			return nil, fmt.Errorf("scan author did: %w", err)
		}
		dids = append(dids, did)
	}
	return dids, rows.Err()
}
