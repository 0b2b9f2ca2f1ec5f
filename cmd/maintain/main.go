package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/skygraph/feedgen/internal/bluesky"
	"github.com/skygraph/feedgen/internal/config"
	"github.com/skygraph/feedgen/internal/sqlite"
	"github.com/skygraph/feedgen/internal/stats"
)

// One-shot maintenance runner for the follower time series. The same jobs
// run on a schedule inside cmd/server; this binary exists for cron setups
// and manual runs.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var task string
	flag.StringVar(&task, "task", "", "maintenance task: sample, rollup, or prune")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := sqlite.Open(cfg.SqliteLocation)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	maintainer := stats.NewMaintainer(store, logger)

	switch task {
	case "sample":
		client := bluesky.NewClient(cfg.PDSURL, cfg.AppViewURL, cfg.RequestsPerSecond)
		sampler := stats.NewSampler(store, client, logger)
		_, err := sampler.Run(ctx, stats.SampleOptions{
			MaxAuthors: cfg.SampleMaxAuthors,
			Trickle:    cfg.BackfillTrickle,
			Sleep:      time.Duration(cfg.SampleSleepMs) * time.Millisecond,
			Budget:     time.Duration(cfg.BackfillMaxRunMinutes) * time.Minute,
		})
		return err
	case "rollup":
		return maintainer.Rollup(ctx)
	case "prune":
		return maintainer.Prune(ctx, cfg.HistoryRetentionDays)
	default:
		return fmt.Errorf("unknown task %q (want sample, rollup, or prune)", task)
	}
}
