package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/skygraph/feedgen/internal/domain"
	"github.com/skygraph/feedgen/internal/ranking"
)

// ApplyBatch applies one ingestion batch atomically: all deletes, all
// creates, and the cursor advance commit together or not at all. Creates use
// insert-or-ignore on the unique key, so redelivering an already-applied
// batch is a no-op.
func (s *Store) ApplyBatch(ctx context.Context, batch domain.MutationBatch) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := deleteByURI(ctx, tx, "post", batch.PostDeletes); err != nil {
			return fmt.Errorf("delete posts: %w", err)
		}
		if err := deleteByURI(ctx, tx, "follow", batch.FollowDeletes); err != nil {
			return fmt.Errorf("delete follows: %w", err)
		}
		if err := deleteByURI(ctx, tx, "like", batch.LikeDeletes); err != nil {
			return fmt.Errorf("delete likes: %w", err)
		}

		if err := insertPosts(ctx, tx, batch.PostCreates); err != nil {
			return fmt.Errorf("insert posts: %w", err)
		}
		if err := insertFollows(ctx, tx, batch.FollowCreates); err != nil {
			return fmt.Errorf("insert follows: %w", err)
		}
		if err := insertLikes(ctx, tx, batch.LikeCreates); err != nil {
			return fmt.Errorf("insert likes: %w", err)
		}

		if batch.Service != "" {
			if err := updateCursor(ctx, tx, batch.Service, batch.Cursor); err != nil {
				return fmt.Errorf("update cursor: %w", err)
			}
		}
		return nil
	})
}

// InsertPosts inserts posts idempotently outside of a cursor-carrying batch.
// Used by the backfill crawler. Returns the number of rows actually inserted.
func (s *Store) InsertPosts(ctx context.Context, posts []domain.Post) (int64, error) {
	var inserted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, p := range posts {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO post (uri, cid, author, createdAt, indexedAt)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (uri) DO NOTHING`,
				p.URI, p.CID, p.Author, ranking.FormatTime(p.CreatedAt), ranking.FormatTime(p.IndexedAt),
			)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			inserted += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("insert posts: %w", err)
	}
	return inserted, nil
}

// GetCursor retrieves the saved ingestion cursor for a source. Returns 0 if
// no cursor has been saved.
func (s *Store) GetCursor(ctx context.Context, service string) (int64, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor FROM sub_state WHERE service = ?`, service,
	).Scan(&cursor)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return cursor, err
}

func deleteByURI(ctx context.Context, tx *sql.Tx, table string, uris []string) error {
	if len(uris) == 0 {
		return nil
	}
	args := make([]any, len(uris))
	for i, uri := range uris {
		args[i] = uri
	}
	query := fmt.Sprintf(`DELETE FROM "%s" WHERE uri IN (%s)`, table, placeholders(len(uris)))
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func insertPosts(ctx context.Context, tx *sql.Tx, posts []domain.Post) error {
	for _, p := range posts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO post (uri, cid, author, createdAt, indexedAt)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (uri) DO NOTHING`,
			p.URI, p.CID, p.Author, ranking.FormatTime(p.CreatedAt), ranking.FormatTime(p.IndexedAt),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func insertFollows(ctx context.Context, tx *sql.Tx, follows []domain.Follow) error {
	for _, f := range follows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO follow (uri, followerDid, subjectDid, createdAt)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (uri) DO NOTHING`,
			f.URI, f.FollowerDid, f.SubjectDid, ranking.FormatTime(f.CreatedAt),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func insertLikes(ctx context.Context, tx *sql.Tx, likes []domain.Like) error {
	for _, l := range likes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO "like" (uri, likerDid, subjectUri, createdAt)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (uri) DO NOTHING`,
			l.URI, l.LikerDid, l.SubjectURI, ranking.FormatTime(l.CreatedAt),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// updateCursor upserts the cursor, never letting it move backwards.
func updateCursor(ctx context.Context, tx *sql.Tx, service string, cursor int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sub_state (service, cursor)
		VALUES (?, ?)
		ON CONFLICT (service) DO UPDATE SET cursor = excluded.cursor
		WHERE excluded.cursor >= sub_state.cursor`,
		service, cursor,
	)
	return err
}
