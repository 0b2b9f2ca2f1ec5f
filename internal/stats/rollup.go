package stats

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRetentionDays is the raw-history retention horizon. Growth past
// this horizon survives only in the daily rollup, so Prune must run after
// Rollup has captured the rows it deletes.
const DefaultRetentionDays = 7

// Maintainer runs the rollup and prune operations.
type Maintainer struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewMaintainer creates a Maintainer.
func NewMaintainer(store Store, logger *slog.Logger) *Maintainer {
	return &Maintainer{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Rollup compacts all raw history rows into per-author, per-day min/max
// rows. The upsert only widens existing bounds, so repeated runs are
// idempotent. A missing history table (fresh install) is nothing to do.
func (m *Maintainer) Rollup(ctx context.Context) error {
	ok, err := m.store.HasSnapshotTable(ctx)
	if err != nil {
		return err
	}
	if !ok {
		m.logger.Info("no snapshot history table, nothing to aggregate")
		return nil
	}

	n, err := m.store.RollupFollowerSnapshots(ctx)
	if err != nil {
		return err
	}
	m.logger.Info("rollup complete", "daily_rows", n)
	return nil
}

// Prune deletes raw history older than retentionDays (DefaultRetentionDays
// if <= 0) and reclaims storage.
func (m *Maintainer) Prune(ctx context.Context, retentionDays int) error {
	ok, err := m.store.HasSnapshotTable(ctx)
	if err != nil {
		return err
	}
	if !ok {
		m.logger.Info("no snapshot history table, nothing to prune")
		return nil
	}

	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	cutoff := m.now().AddDate(0, 0, -retentionDays)

	deleted, err := m.store.DeleteSnapshotsBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if err := m.store.Vacuum(ctx); err != nil {
		return err
	}
	m.logger.Info("prune complete", "deleted", deleted, "retention_days", retentionDays)
	return nil
}
