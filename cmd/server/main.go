package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skygraph/feedgen/internal/bluesky"
	"github.com/skygraph/feedgen/internal/config"
	"github.com/skygraph/feedgen/internal/domain"
	"github.com/skygraph/feedgen/internal/httpserver"
	"github.com/skygraph/feedgen/internal/ingest"
	"github.com/skygraph/feedgen/internal/sqlite"
	"github.com/skygraph/feedgen/internal/stats"
)

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

	// Schema errors are fatal: the process must not run against an
	// inconsistent schema.
	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("database ready", "path", cfg.SqliteLocation)

	feedService := domain.NewFeedService(cfg.PublisherDID, cfg.Ranking(), store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Single ingestion writer: the subscriber applies batches in delivery
	// order, one at a time.
	consumer := ingest.NewConsumer(ingest.CursorService, store, logger)
	subscriber := ingest.NewSubscriber(cfg.FirehoseURL, consumer, store, logger)
	go func() {
		if err := subscriber.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("firehose subscriber exited with error", "error", err)
		}
	}()

	// Maintenance jobs run concurrently with ingestion; WAL mode keeps
	// readers and the writer from blocking each other.
	client := bluesky.NewClient(cfg.PDSURL, cfg.AppViewURL, cfg.RequestsPerSecond)
	sampler := stats.NewSampler(store, client, logger)
	maintainer := stats.NewMaintainer(store, logger)

	go stats.RunEvery(ctx, logger, "sample", time.Duration(cfg.SampleIntervalMinutes)*time.Minute,
		func(ctx context.Context) error {
			_, err := sampler.Run(ctx, stats.SampleOptions{
				MaxAuthors: cfg.SampleMaxAuthors,
				Sleep:      time.Duration(cfg.SampleSleepMs) * time.Millisecond,
			})
			return err
		})
	go stats.RunEvery(ctx, logger, "rollup", time.Duration(cfg.RollupIntervalMinutes)*time.Minute,
		maintainer.Rollup)
	go stats.RunEvery(ctx, logger, "prune", time.Duration(cfg.PruneIntervalMinutes)*time.Minute,
		func(ctx context.Context) error {
			return maintainer.Prune(ctx, cfg.HistoryRetentionDays)
		})

	server := httpserver.NewServer(cfg, feedService, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("server started", "port", cfg.Port, "hostname", cfg.Hostname)

	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	return nil
}
