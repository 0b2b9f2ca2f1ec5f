package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/skygraph/feedgen/internal/domain"
	"github.com/skygraph/feedgen/internal/ranking"
)

// Consumer applies decoded event batches to the store. There is a single
// logical ingestion writer: batches are applied strictly in delivery order,
// one at a time.
type Consumer struct {
	service string
	store   domain.BatchWriter
	logger  *slog.Logger
	now     func() time.Time
}

// NewConsumer creates a Consumer persisting under the given source name.
func NewConsumer(service string, store domain.BatchWriter, logger *slog.Logger) *Consumer {
	return &Consumer{
		service: service,
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
}

// Apply partitions the batch by entity and kind, drops replies and malformed
// creates, and applies the surviving mutations plus the cursor advance as
// one atomic unit. A create and a delete of the same key in one batch leave
// the row in the state of whichever came later: create-then-delete yields
// absent, delete-then-create re-creates the row. Any storage failure aborts
// the whole batch without advancing the cursor; the upstream source
// redelivers from the last durable position and re-application is a no-op by
// unique-key idempotency.
func (c *Consumer) Apply(ctx context.Context, batch Batch) error {
	mut := domain.MutationBatch{
		Service: c.service,
		Cursor:  batch.Cursor,
	}

	lastDelete := map[Entity]map[string]int{
		EntityPost:   {},
		EntityFollow: {},
		EntityLike:   {},
	}
	for i, op := range batch.Ops {
		if op.Kind == KindDelete && op.URI != "" {
			lastDelete[op.Entity][op.URI] = i
		}
	}
	mut.PostDeletes = keys(lastDelete[EntityPost])
	mut.FollowDeletes = keys(lastDelete[EntityFollow])
	mut.LikeDeletes = keys(lastDelete[EntityLike])

	indexedAt := c.now().UTC()
	for i, op := range batch.Ops {
		if op.Kind != KindCreate {
			continue
		}
		// Only a delete appearing later in the batch suppresses a create.
		// A create after the last delete of its key survives; the store
		// applies deletes before inserts, so the row ends up present.
		if j, ok := lastDelete[op.Entity][op.URI]; ok && j > i {
			continue
		}

		switch op.Entity {
		case EntityPost:
			if post, ok := c.decodePost(op, indexedAt); ok {
				mut.PostCreates = append(mut.PostCreates, post)
			}
		case EntityFollow:
			if follow, ok := c.decodeFollow(op); ok {
				mut.FollowCreates = append(mut.FollowCreates, follow)
			}
		case EntityLike:
			if like, ok := c.decodeLike(op); ok {
				mut.LikeCreates = append(mut.LikeCreates, like)
			}
		}
	}

	return c.store.ApplyBatch(ctx, mut)
}

// decodePost validates a post create. Replies and rows missing any required
// field are dropped silently, never retried.
func (c *Consumer) decodePost(op Op, indexedAt time.Time) (domain.Post, bool) {
	r := op.Record
	if r == nil || r.Reply {
		return domain.Post{}, false
	}
	if op.URI == "" || op.Author == "" || r.CID == "" {
		return domain.Post{}, false
	}
	createdAt, ok := parseTimestamp(r.CreatedAt)
	if !ok {
		c.logger.Debug("dropping post with bad createdAt", "uri", op.URI, "createdAt", r.CreatedAt)
		return domain.Post{}, false
	}
	return domain.Post{
		URI:       op.URI,
		CID:       r.CID,
		Author:    op.Author,
		CreatedAt: createdAt,
		IndexedAt: indexedAt,
	}, true
}

func (c *Consumer) decodeFollow(op Op) (domain.Follow, bool) {
	r := op.Record
	if r == nil || op.URI == "" || op.Author == "" || r.Subject == "" {
		return domain.Follow{}, false
	}
	createdAt, ok := parseTimestamp(r.CreatedAt)
	if !ok {
		return domain.Follow{}, false
	}
	return domain.Follow{
		URI:         op.URI,
		FollowerDid: op.Author,
		SubjectDid:  r.Subject,
		CreatedAt:   createdAt,
	}, true
}

func (c *Consumer) decodeLike(op Op) (domain.Like, bool) {
	r := op.Record
	if r == nil || op.URI == "" || op.Author == "" || r.Subject == "" {
		return domain.Like{}, false
	}
	createdAt, ok := parseTimestamp(r.CreatedAt)
	if !ok {
		return domain.Like{}, false
	}
	return domain.Like{
		URI:        op.URI,
		LikerDid:   op.Author,
		SubjectURI: r.Subject,
		CreatedAt:  createdAt,
	}, true
}

// parseTimestamp accepts the ISO-8601 forms seen on the wire.
func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := ranking.ParseTime(s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func keys(set map[string]int) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
