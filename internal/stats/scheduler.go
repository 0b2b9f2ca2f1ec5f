package stats

import (
	"context"
	"log/slog"
	"time"
)

// RunEvery runs job immediately and then on every tick until ctx is
// cancelled. Job errors are logged, not fatal; the next tick retries.
func RunEvery(ctx context.Context, logger *slog.Logger, name string, interval time.Duration, job func(context.Context) error) {
	run := func() {
		if err := job(ctx); err != nil && ctx.Err() == nil {
			logger.Error("scheduled job failed", "job", name, "error", err)
		}
	}

	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
