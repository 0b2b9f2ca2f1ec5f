// Package stats maintains the follower-count time series: sampling current
// counts into raw history, compacting history into daily min/max rollups,
// and pruning raw history past the retention horizon. All three operations
// are idempotent and safe to re-run.
package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/skygraph/feedgen/internal/domain"
)

// profileBatchSize is the practical batch size of the profile lookup API.
const profileBatchSize = 25

// ProfileSource looks up current follower counts for a batch of authors.
// Implementations may return counts for only a subset of the requested DIDs.
type ProfileSource interface {
	FollowerCounts(ctx context.Context, dids []string) (map[string]int, error)
}

// Store is the persistence surface the maintenance jobs need.
type Store interface {
	// StaleAuthors returns post authors ordered stalest-first; limit <= 0
	// means all.
	StaleAuthors(ctx context.Context, limit int) ([]string, error)

	// RecordFollowerCounts upserts latest counts and appends history rows
	// atomically.
	RecordFollowerCounts(ctx context.Context, snapshots []domain.FollowerSnapshot) error

	// HasSnapshotTable reports whether the raw history table exists.
	HasSnapshotTable(ctx context.Context) (bool, error)

	// RollupFollowerSnapshots compacts history into the daily table with a
	// widening upsert. Returns rows written.
	RollupFollowerSnapshots(ctx context.Context) (int64, error)

	// DeleteSnapshotsBefore removes history rows older than the cutoff.
	DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Vacuum reclaims storage after large deletes.
	Vacuum(ctx context.Context) error
}

// SampleOptions bound one sampling run.
type SampleOptions struct {
	// MaxAuthors caps how many authors are sampled. Ignored in trickle
	// mode.
	MaxAuthors int

	// Trickle selects all authors (unbounded) and relies on Sleep and
	// Budget for pacing.
	Trickle bool

	// Sleep is an optional pause between profile batches.
	Sleep time.Duration

	// Budget is an optional wall-clock limit; when it expires the run
	// stops early without error.
	Budget time.Duration
}

// Sampler records follower-count snapshots for the authors we index.
type Sampler struct {
	store    Store
	profiles ProfileSource
	logger   *slog.Logger
	now      func() time.Time
}

// NewSampler creates a Sampler.
func NewSampler(store Store, profiles ProfileSource, logger *slog.Logger) *Sampler {
	return &Sampler{
		store:    store,
		profiles: profiles,
		logger:   logger,
		now:      time.Now,
	}
}

// Run samples follower counts for the stalest authors in fixed-size batches.
// A failed batch is logged and skipped; sampling continues with the next
// batch. Returns the number of authors sampled.
func (s *Sampler) Run(ctx context.Context, opts SampleOptions) (int, error) {
	limit := opts.MaxAuthors
	if opts.Trickle {
		limit = 0
	}

	dids, err := s.store.StaleAuthors(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(dids) == 0 {
		s.logger.Info("no authors to sample")
		return 0, nil
	}

	start := s.now()
	sampled := 0

	for i := 0; i < len(dids); i += profileBatchSize {
		if err := ctx.Err(); err != nil {
			return sampled, err
		}
		if opts.Budget > 0 && s.now().Sub(start) >= opts.Budget {
			s.logger.Info("sampling budget exhausted, stopping early",
				"sampled", sampled, "remaining", len(dids)-i)
			return sampled, nil
		}

		end := min(i+profileBatchSize, len(dids))
		batch := dids[i:end]

		counts, err := s.profiles.FollowerCounts(ctx, batch)
		if err != nil {
			s.logger.Warn("profile batch failed, skipping", "batch_start", i, "error", err)
			continue
		}

		recordedAt := s.now()
		snapshots := make([]domain.FollowerSnapshot, 0, len(counts))
		for _, did := range batch {
			followers, ok := counts[did]
			if !ok {
				continue
			}
			snapshots = append(snapshots, domain.FollowerSnapshot{
				Did:        did,
				Followers:  followers,
				RecordedAt: recordedAt,
			})
		}
		if len(snapshots) == 0 {
			continue
		}

		if err := s.store.RecordFollowerCounts(ctx, snapshots); err != nil {
			s.logger.Warn("recording snapshots failed, skipping batch", "batch_start", i, "error", err)
			continue
		}
		sampled += len(snapshots)

		if opts.Sleep > 0 && end < len(dids) {
			select {
			case <-ctx.Done():
				return sampled, ctx.Err()
			case <-time.After(opts.Sleep):
			}
		}
	}

	s.logger.Info("sampling complete", "sampled", sampled, "authors", len(dids))
	return sampled, nil
}
