package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/skygraph/feedgen/internal/ranking"
)

// Config holds all configuration for the application. Values come from
// FEEDGEN_* environment variables with defaults for everything except the
// publisher DID.
type Config struct {
	// Hostname is the public hostname where this service is reachable
	// (used for did:web).
	Hostname string `mapstructure:"hostname"`

	// Port is the HTTP server port.
	Port int `mapstructure:"port"`

	// PublisherDID is the DID of the account that published the feed
	// generator records.
	PublisherDID string `mapstructure:"publisher_did"`

	// SqliteLocation is the path of the SQLite database file.
	SqliteLocation string `mapstructure:"sqlite_location"`

	// FirehoseURL is the Jetstream WebSocket endpoint.
	FirehoseURL string `mapstructure:"firehose_url"`

	// PDSURL and AppViewURL are the AT Protocol endpoints for record
	// writes and public reads.
	PDSURL     string `mapstructure:"pds_url"`
	AppViewURL string `mapstructure:"appview_url"`

	// Ranking thresholds.
	MinFollowers           int `mapstructure:"min_followers"`
	MaxPostsWindowDays     int `mapstructure:"max_posts_window_days"`
	MaxPostsInWindow       int `mapstructure:"max_posts_in_window"`
	GrowthLookbackDays     int `mapstructure:"growth_lookback_days"`
	GrowthMinDailyIncrease int `mapstructure:"growth_min_daily_increase"`

	// HistoryRetentionDays is the raw snapshot retention horizon.
	HistoryRetentionDays int `mapstructure:"history_retention_days"`

	// SampleMaxAuthors caps how many authors one sampling run refreshes.
	SampleMaxAuthors int `mapstructure:"sample_max_authors"`

	// SampleSleepMs is the pause between profile batches while sampling.
	SampleSleepMs int `mapstructure:"sample_sleep_ms"`

	// Maintenance job cadence, in minutes.
	SampleIntervalMinutes int `mapstructure:"sample_interval_minutes"`
	RollupIntervalMinutes int `mapstructure:"rollup_interval_minutes"`
	PruneIntervalMinutes  int `mapstructure:"prune_interval_minutes"`

	// Backfill pacing and scope.
	BackfillMaxAuthors        int     `mapstructure:"backfill_max_authors"`
	BackfillMaxPostsPerAuthor int     `mapstructure:"backfill_max_posts_per_author"`
	BackfillSleepMs           int     `mapstructure:"backfill_sleep_ms"`
	BackfillMaxRunMinutes     int     `mapstructure:"backfill_max_run_minutes"`
	BackfillTrickle           bool    `mapstructure:"backfill_trickle"`
	RequestsPerSecond         float64 `mapstructure:"requests_per_second"`
}

// ServiceDID returns the did:web for this feed generator.
func (c *Config) ServiceDID() string {
	return "did:web:" + c.Hostname
}

// Ranking returns the threshold configuration for the ranking algorithms.
func (c *Config) Ranking() ranking.Config {
	return ranking.Config{
		MinFollowers:       c.MinFollowers,
		MaxPostsWindowDays: c.MaxPostsWindowDays,
		MaxPostsInWindow:   c.MaxPostsInWindow,
		GrowthLookbackDays: c.GrowthLookbackDays,
		GrowthMinIncrease:  c.GrowthMinDailyIncrease,
	}
}

// Load reads configuration from the environment with sensible defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("hostname", "localhost")
	v.SetDefault("port", 3000)
	// Registered with an empty default so AutomaticEnv can fill it; an
	// unset key never reaches Unmarshal.
	v.SetDefault("publisher_did", "")
	v.SetDefault("sqlite_location", "data.sqlite")
	v.SetDefault("firehose_url", "wss://jetstream1.us-east.bsky.network/subscribe")
	v.SetDefault("pds_url", "https://bsky.social")
	v.SetDefault("appview_url", "https://public.api.bsky.app")

	v.SetDefault("min_followers", 500)
	v.SetDefault("max_posts_window_days", 30)
	v.SetDefault("max_posts_in_window", 30)
	v.SetDefault("growth_lookback_days", 7)
	v.SetDefault("growth_min_daily_increase", 100)
	v.SetDefault("history_retention_days", 7)

	v.SetDefault("sample_max_authors", 5000)
	v.SetDefault("sample_sleep_ms", 0)
	v.SetDefault("sample_interval_minutes", 60)
	v.SetDefault("rollup_interval_minutes", 60)
	v.SetDefault("prune_interval_minutes", 24*60)

	v.SetDefault("backfill_max_authors", 200)
	v.SetDefault("backfill_max_posts_per_author", 200)
	v.SetDefault("backfill_sleep_ms", 0)
	v.SetDefault("backfill_max_run_minutes", 0)
	v.SetDefault("backfill_trickle", false)
	v.SetDefault("requests_per_second", 5)

	v.SetEnvPrefix("FEEDGEN")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.PublisherDID == "" {
		return nil, fmt.Errorf("FEEDGEN_PUBLISHER_DID is required")
	}

	return &cfg, nil
}
