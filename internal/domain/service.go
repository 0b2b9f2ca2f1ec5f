package domain

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/skygraph/feedgen/internal/ranking"
)

func newFeedURI(publisherDID, feedName string) string {
	return fmt.Sprintf("at://%s/app.bsky.feed.generator/%s", publisherDID, feedName)
}

// FeedService is the core domain service. It owns the mapping from feed
// AT-URIs to ranking algorithms and serves feed skeletons from the store.
type FeedService struct {
	feeds  map[string]ranking.Algorithm // keyed by feed URI
	repo   FeedRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewFeedService creates a FeedService serving every registered ranking
// algorithm under the publisher's feed generator records.
func NewFeedService(publisherDID string, cfg ranking.Config, repo FeedRepository, logger *slog.Logger) *FeedService {
	feeds := make(map[string]ranking.Algorithm)
	for shortname, algo := range ranking.Algorithms(cfg) {
		feeds[newFeedURI(publisherDID, shortname)] = algo
	}

	return &FeedService{
		feeds:  feeds,
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// FeedURIs returns the AT-URIs of all registered feeds, sorted for stable
// describeFeedGenerator responses.
func (s *FeedService) FeedURIs() []string {
	uris := make([]string, 0, len(s.feeds))
	for uri := range s.feeds {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// GetFeedSkeleton returns a page of the feed skeleton for the given feed URI.
func (s *FeedService) GetFeedSkeleton(ctx context.Context, feedURI string, limit int, cursor string) (*FeedSkeleton, error) {
	algo, ok := s.feeds[feedURI]
	if !ok {
		s.logger.Error("unknown feed requested", "feedURI", feedURI, "registered_feeds", s.FeedURIs())
		return nil, fmt.Errorf("unknown feed: %s", feedURI)
	}

	query := algo(s.now(), limit, cursor)

	posts, nextCursor, err := s.repo.FeedPosts(ctx, query)
	if err != nil {
		s.logger.Error("feed query failed", "feedURI", feedURI, "limit", limit, "cursor", cursor, "error", err)
		return nil, fmt.Errorf("get feed posts: %w", err)
	}

	skeleton := &FeedSkeleton{
		Cursor: nextCursor,
		Posts:  make([]SkeletonPost, len(posts)),
	}
	for i, p := range posts {
		skeleton.Posts[i] = SkeletonPost{Post: p.URI}
	}
	return skeleton, nil
}
