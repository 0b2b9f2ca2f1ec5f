package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/skygraph/feedgen/internal/ranking"
)

// migration is one ordered, reversible schema change. Up statements run in a
// single transaction; Down statements undo them for rollbacks.
type migration struct {
	id   string
	up   []string
	down []string
}

// migrations is the ordered schema history. Entries are append-only: never
// reorder or edit an applied migration, add a new one.
var migrations = []migration{
	{
		id: "001_init",
		up: []string{
			`CREATE TABLE post (
				uri       TEXT PRIMARY KEY,
				cid       TEXT NOT NULL,
				author    TEXT NOT NULL,
				createdAt TEXT NOT NULL,
				indexedAt TEXT NOT NULL
			)`,
			`CREATE TABLE sub_state (
				service TEXT PRIMARY KEY,
				cursor  INTEGER NOT NULL
			)`,
			`CREATE TABLE follow (
				uri         TEXT PRIMARY KEY,
				followerDid TEXT NOT NULL,
				subjectDid  TEXT NOT NULL,
				createdAt   TEXT NOT NULL
			)`,
			`CREATE TABLE "like" (
				uri        TEXT PRIMARY KEY,
				likerDid   TEXT NOT NULL,
				subjectUri TEXT NOT NULL,
				createdAt  TEXT NOT NULL
			)`,
			`CREATE TABLE author_stats (
				did       TEXT PRIMARY KEY,
				followers INTEGER NOT NULL DEFAULT 0,
				updatedAt TEXT NOT NULL
			)`,
		},
		down: []string{
			`DROP TABLE author_stats`,
			`DROP TABLE "like"`,
			`DROP TABLE follow`,
			`DROP TABLE sub_state`,
			`DROP TABLE post`,
		},
	},
	{
		id: "002_follower_history",
		up: []string{
			`CREATE TABLE author_stats_history (
				did        TEXT NOT NULL,
				followers  INTEGER NOT NULL,
				recordedAt TEXT NOT NULL
			)`,
			`CREATE INDEX author_stats_history_did_recordedAt_idx
				ON author_stats_history (did, recordedAt)`,
		},
		down: []string{
			`DROP INDEX author_stats_history_did_recordedAt_idx`,
			`DROP TABLE author_stats_history`,
		},
	},
	{
		id: "003_daily_rollup",
		up: []string{
			`CREATE TABLE author_stats_daily (
				did          TEXT NOT NULL,
				day          TEXT NOT NULL,
				minFollowers INTEGER NOT NULL,
				maxFollowers INTEGER NOT NULL,
				PRIMARY KEY (did, day)
			)`,
		},
		down: []string{
			`DROP TABLE author_stats_daily`,
		},
	},
	{
		id: "004_query_indexes",
		up: []string{
			`CREATE INDEX post_indexedAt_idx ON post (indexedAt DESC, cid DESC)`,
			`CREATE INDEX post_author_createdAt_idx ON post (author, createdAt)`,
			`CREATE INDEX follow_subjectDid_idx ON follow (subjectDid)`,
		},
		down: []string{
			`DROP INDEX follow_subjectDid_idx`,
			`DROP INDEX post_author_createdAt_idx`,
			`DROP INDEX post_indexedAt_idx`,
		},
	},
}

// Migrate applies all pending migrations in order. It must run before the
// store is used; a failure here is fatal to the process, the schema may be
// inconsistent otherwise.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS migrations (
		id        TEXT PRIMARY KEY,
		appliedAt TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM migrations`)
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration id: %w", err)
		}
		applied[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.id] {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %s: %w", m.id, err)
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range m.up {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO migrations (id, appliedAt) VALUES (?, ?)`,
			m.id, ranking.FormatTime(time.Now()),
		)
		return err
	})
}

func firstLine(stmt string) string {
	for i, r := range stmt {
		if r == '\n' {
			return stmt[:i]
		}
	}
	return stmt
}
