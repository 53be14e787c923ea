// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Site      SiteConfig      `mapstructure:"site"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Snapshots SnapshotsConfig `mapstructure:"snapshots"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SiteConfig names the crawled site.
type SiteConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	UserAgent string `mapstructure:"user_agent"`
}

// BrowserConfig configures the headless rendering engine.
type BrowserConfig struct {
	Headless        bool    `mapstructure:"headless"`
	UserDataDir     string  `mapstructure:"user_data_dir"`
	NavTimeoutSec   int     `mapstructure:"nav_timeout_seconds"`
	OpTimeoutSec    int     `mapstructure:"op_timeout_seconds"`
	NavQPS          float64 `mapstructure:"nav_qps"`
	ScrollPauseMs   int     `mapstructure:"scroll_pause_ms"`
	MaxScrollRounds int     `mapstructure:"max_scroll_rounds"`
}

// CrawlConfig governs per-target crawl behavior.
type CrawlConfig struct {
	BatchSize     int `mapstructure:"batch_size"`
	MaxLightItems int `mapstructure:"max_light_items"`
	MaxTargets    int `mapstructure:"max_targets"`
	ItemPauseMs   int `mapstructure:"item_pause_ms"`
	MaxComments   int `mapstructure:"max_comments"`
}

// ProbeConfig controls the cheap HTTP existence probe.
type ProbeConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	TimeoutSec     int  `mapstructure:"timeout_seconds"`
	DelayPerHostMs int  `mapstructure:"delay_per_host_ms"`
}

// LedgerConfig selects and configures ledger persistence.
type LedgerConfig struct {
	Provider string `mapstructure:"provider"` // "postgres" or "memory"
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PublisherConfig selects and configures event publication.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"` // "pubsub" or "memory"
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// SnapshotsConfig selects and configures comment snapshot blob storage.
type SnapshotsConfig struct {
	Provider string `mapstructure:"provider"` // "gcs", "local", or "memory"
	Bucket   string `mapstructure:"bucket"`
	BaseDir  string `mapstructure:"base_dir"`
	Prefix   string `mapstructure:"prefix"`
}

// DispatchConfig configures the assignment listener.
type DispatchConfig struct {
	ProjectID      string `mapstructure:"project_id"`
	Subscription   string `mapstructure:"subscription"`
	MaxOutstanding int    `mapstructure:"max_outstanding"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLIPCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("site.base_url", "https://www.tiktok.com")
	v.SetDefault("site.user_agent", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.op_timeout_seconds", 10)
	v.SetDefault("browser.nav_qps", 0.5)
	v.SetDefault("browser.scroll_pause_ms", 1500)
	v.SetDefault("browser.max_scroll_rounds", 30)
	v.SetDefault("crawl.batch_size", 100)
	v.SetDefault("crawl.max_light_items", 0)
	v.SetDefault("crawl.max_targets", 10)
	v.SetDefault("crawl.item_pause_ms", 500)
	v.SetDefault("crawl.max_comments", 20)
	v.SetDefault("probe.enabled", true)
	v.SetDefault("probe.timeout_seconds", 15)
	v.SetDefault("probe.delay_per_host_ms", 1000)
	v.SetDefault("ledger.provider", "memory")
	v.SetDefault("ledger.max_conns", 4)
	v.SetDefault("publisher.provider", "memory")
	v.SetDefault("publisher.topic", "crawl-records")
	v.SetDefault("snapshots.provider", "memory")
	v.SetDefault("snapshots.prefix", "snapshots")
	v.SetDefault("dispatch.max_outstanding", 1)
	v.SetDefault("dispatch.max_retries", 3)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url is required")
	}
	if c.Crawl.BatchSize <= 0 {
		return fmt.Errorf("crawl.batch_size must be > 0")
	}
	switch c.Ledger.Provider {
	case "postgres":
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger.dsn is required for the postgres provider")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown ledger.provider %q", c.Ledger.Provider)
	}
	switch c.Publisher.Provider {
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic are required for pubsub")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown publisher.provider %q", c.Publisher.Provider)
	}
	switch c.Snapshots.Provider {
	case "gcs":
		if c.Snapshots.Bucket == "" {
			return fmt.Errorf("snapshots.bucket is required for the gcs provider")
		}
	case "local":
		if c.Snapshots.BaseDir == "" {
			return fmt.Errorf("snapshots.base_dir is required for the local provider")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown snapshots.provider %q", c.Snapshots.Provider)
	}
	return nil
}

// NavTimeout converts the configured seconds to a duration.
func (c BrowserConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// OpTimeout converts the configured seconds to a duration.
func (c BrowserConfig) OpTimeout() time.Duration {
	return time.Duration(c.OpTimeoutSec) * time.Second
}

// ScrollPause converts the configured milliseconds to a duration.
func (c BrowserConfig) ScrollPause() time.Duration {
	return time.Duration(c.ScrollPauseMs) * time.Millisecond
}

// ItemPause converts the configured milliseconds to a duration.
func (c CrawlConfig) ItemPause() time.Duration {
	return time.Duration(c.ItemPauseMs) * time.Millisecond
}
