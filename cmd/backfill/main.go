package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/skygraph/feedgen/internal/backfill"
	"github.com/skygraph/feedgen/internal/bluesky"
	"github.com/skygraph/feedgen/internal/config"
	"github.com/skygraph/feedgen/internal/sqlite"
)

// Seeds the post table with recent posts by popular authors so the sparse
// and growth feeds have data to rank before the live stream catches up.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
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

	client := bluesky.NewClient(cfg.PDSURL, cfg.AppViewURL, cfg.RequestsPerSecond)
	crawler := backfill.NewCrawler(store, client, logger)

	inserted, err := crawler.Run(ctx, backfill.Options{
		MinFollowers:      cfg.MinFollowers,
		WindowDays:        cfg.MaxPostsWindowDays,
		MaxAuthors:        cfg.BackfillMaxAuthors,
		MaxPostsPerAuthor: cfg.BackfillMaxPostsPerAuthor,
		MaxPostsInWindow:  cfg.MaxPostsInWindow,
		Trickle:           cfg.BackfillTrickle,
		Sleep:             time.Duration(cfg.BackfillSleepMs) * time.Millisecond,
		Budget:            time.Duration(cfg.BackfillMaxRunMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}

	logger.Info("done", "inserted", inserted)
	return nil
}
