// Package backfill seeds the event store from the public APIs: recent posts
// for popular authors, so frequency filters are accurate before the live
// stream has accumulated enough history. It only touches the store through
// its idempotent write interface.
package backfill

import (
	"context"
	"log/slog"
	"time"

	"github.com/skygraph/feedgen/internal/bluesky"
	"github.com/skygraph/feedgen/internal/domain"
)

const feedPageSize = 100

// PostSource pages through an author's recent posts.
type PostSource interface {
	AuthorFeed(ctx context.Context, actor string, limit int, cursor string) (*bluesky.AuthorFeedPage, error)
}

// Store is the write surface the crawler needs.
type Store interface {
	// PopularAuthorDids returns authors above the follower threshold,
	// busiest first; limit <= 0 means all.
	PopularAuthorDids(ctx context.Context, minFollowers, limit int) ([]string, error)

	// InsertPosts inserts posts idempotently, returning rows inserted.
	InsertPosts(ctx context.Context, posts []domain.Post) (int64, error)
}

// Options bound one crawl.
type Options struct {
	// MinFollowers selects which authors to crawl.
	MinFollowers int

	// WindowDays bounds how far back to collect posts.
	WindowDays int

	// MaxAuthors caps the authors crawled. Ignored in trickle mode.
	MaxAuthors int

	// MaxPostsPerAuthor caps posts collected per author.
	MaxPostsPerAuthor int

	// MaxPostsInWindow skips authors exceeding this many posts in the
	// window; such authors can never pass the sparse filter anyway.
	MaxPostsInWindow int

	// Trickle crawls all qualifying authors, relying on Sleep and Budget
	// for pacing.
	Trickle bool

	// Sleep is an optional pause between authors.
	Sleep time.Duration

	// Budget is an optional wall-clock limit; expiry ends the run early
	// without error.
	Budget time.Duration
}

// Crawler populates the post table for popular authors.
type Crawler struct {
	store  Store
	posts  PostSource
	logger *slog.Logger
	now    func() time.Time
}

// NewCrawler creates a Crawler.
func NewCrawler(store Store, posts PostSource, logger *slog.Logger) *Crawler {
	return &Crawler{
		store:  store,
		posts:  posts,
		logger: logger,
		now:    time.Now,
	}
}

// Run crawls recent posts for every qualifying author. A failure for one
// author is logged and skipped; the crawl continues. Returns total posts
// inserted.
func (c *Crawler) Run(ctx context.Context, opts Options) (int64, error) {
	limit := opts.MaxAuthors
	if opts.Trickle {
		limit = 0
	}

	authors, err := c.store.PopularAuthorDids(ctx, opts.MinFollowers, limit)
	if err != nil {
		return 0, err
	}
	if len(authors) == 0 {
		c.logger.Info("no authors meet the follower threshold yet")
		return 0, nil
	}

	c.logger.Info("backfilling posts",
		"authors", len(authors),
		"window_days", opts.WindowDays,
		"max_posts_per_author", opts.MaxPostsPerAuthor,
	)

	start := c.now()
	var total int64

	for i, did := range authors {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		if opts.Budget > 0 && c.now().Sub(start) >= opts.Budget {
			c.logger.Info("backfill budget exhausted, stopping early",
				"inserted", total, "remaining_authors", len(authors)-i)
			return total, nil
		}

		inserted, err := c.crawlAuthor(ctx, did, opts)
		if err != nil {
			c.logger.Warn("backfill failed for author, skipping", "did", did, "error", err)
			continue
		}
		total += inserted

		if opts.Sleep > 0 && i < len(authors)-1 {
			select {
			case <-ctx.Done():
				return total, ctx.Err()
			case <-time.After(opts.Sleep):
			}
		}
	}

	c.logger.Info("backfill complete", "inserted", total)
	return total, nil
}

func (c *Crawler) crawlAuthor(ctx context.Context, did string, opts Options) (int64, error) {
	cutoff := c.now().AddDate(0, 0, -opts.WindowDays)
	indexedAt := c.now().UTC()

	var (
		collected []domain.Post
		cursor    string
	)

paging:
	for {
		page, err := c.posts.AuthorFeed(ctx, did, feedPageSize, cursor)
		if err != nil {
			return 0, err
		}
		if len(page.Items) == 0 {
			break
		}

		for _, item := range page.Items {
			if item.Repost {
				continue
			}
			if item.URI == "" || item.CID == "" || item.Author == "" {
				continue
			}
			createdAt, err := time.Parse(time.RFC3339Nano, item.CreatedAt)
			if err != nil {
				continue
			}
			if createdAt.Before(cutoff) {
				break paging
			}
			collected = append(collected, domain.Post{
				URI:       item.URI,
				CID:       item.CID,
				Author:    item.Author,
				CreatedAt: createdAt,
				IndexedAt: indexedAt,
			})
			if len(collected) >= opts.MaxPostsPerAuthor {
				break paging
			}
		}

		cursor = page.Cursor
		if cursor == "" {
			break
		}
	}

	// Prolific authors can never pass the sparse filter; skip them rather
	// than bloat the post table.
	if opts.MaxPostsInWindow > 0 && len(collected) > opts.MaxPostsInWindow {
		return 0, nil
	}
	if len(collected) == 0 {
		return 0, nil
	}

	return c.store.InsertPosts(ctx, collected)
}
