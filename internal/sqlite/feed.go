package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/skygraph/feedgen/internal/domain"
	"github.com/skygraph/feedgen/internal/ranking"
)

// FeedPosts executes a ranking query: posts by authors admitted by every
// candidate set, ordered indexedAt descending then cid descending, paginated
// by the opaque epoch-millisecond cursor. The next cursor is returned only
// when the page filled; its absence signals end of results.
//
// The cursor is millisecond-granular and strictly earlier, so a page whose
// boundary lands inside a run of posts sharing an indexedAt value is extended
// to the end of that run. A returned page can therefore exceed q.Limit; rows
// are never skipped or repeated across pages.
func (s *Store) FeedPosts(ctx context.Context, q ranking.Query) ([]domain.Post, string, error) {
	var (
		wheres []string
		args   []any
	)

	for _, cs := range q.Candidates {
		wheres = append(wheres, fmt.Sprintf("author IN (%s)", cs.SQL))
		args = append(args, cs.Args...)
	}
	if !q.PostsSince.IsZero() {
		wheres = append(wheres, "createdAt >= ?")
		args = append(args, ranking.FormatTime(q.PostsSince))
	}
	if q.Cursor != "" {
		cursorTime, err := ranking.ParseCursor(q.Cursor)
		if err != nil {
			return nil, "", err
		}
		wheres = append(wheres, "indexedAt < ?")
		args = append(args, ranking.FormatTime(cursorTime))
	}

	where := ""
	if len(wheres) > 0 {
		where = " WHERE " + strings.Join(wheres, " AND ")
	}
	const sel = `SELECT uri, cid, author, createdAt, indexedAt FROM post`

	pageArgs := append(args[:len(args):len(args)], q.Limit)
	posts, err := s.queryPosts(ctx, sel+where+" ORDER BY indexedAt DESC, cid DESC LIMIT ?", pageArgs...)
	if err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(posts) == q.Limit && q.Limit > 0 {
		last := posts[len(posts)-1]

		tieWheres := append(wheres[:len(wheres):len(wheres)], "indexedAt = ?", "cid < ?")
		tieArgs := append(args[:len(args):len(args)], ranking.FormatTime(last.IndexedAt), last.CID)
		tied, err := s.queryPosts(ctx,
			sel+" WHERE "+strings.Join(tieWheres, " AND ")+" ORDER BY cid DESC",
			tieArgs...,
		)
		if err != nil {
			return nil, "", err
		}
		posts = append(posts, tied...)

		nextCursor = ranking.FormatCursor(last.IndexedAt)
	}

	return posts, nextCursor, nil
}

func (s *Store) queryPosts(ctx context.Context, query string, args ...any) ([]domain.Post, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feed posts: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var (
			p                    domain.Post
			createdAt, indexedAt string
		)
		if err := rows.Scan(&p.URI, &p.CID, &p.Author, &createdAt, &indexedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		if p.CreatedAt, err = ranking.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse createdAt: %w", err)
		}
		if p.IndexedAt, err = ranking.ParseTime(indexedAt); err != nil {
			return nil, fmt.Errorf("parse indexedAt: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}
