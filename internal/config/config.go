// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/filter"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig       `mapstructure:"server"`
	Auth      AuthConfig         `mapstructure:"auth"`
	Logging   LoggingConfig      `mapstructure:"logging"`
	Crawler   CrawlerConfig      `mapstructure:"crawler"`
	Convert   ConvertConfig      `mapstructure:"convert"`
	Filter    filter.Options     `mapstructure:"filter"`
	Sources   []SourceConfig     `mapstructure:"sources"`
	Source    SourceClientConfig `mapstructure:"source"`
	Storage   StorageConfig      `mapstructure:"storage"`
	Export    ExportConfig       `mapstructure:"export"`
	PubSub    PubSubConfig       `mapstructure:"pubsub"`
	BlockList BlockListConfig    `mapstructure:"blocklist"`
	Account   AccountConfig      `mapstructure:"account"`
	Progress  ProgressConfig     `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs the dispatcher and the crawl engine.
type CrawlerConfig struct {
	Workers           int            `mapstructure:"workers"`
	QueueDepth        int            `mapstructure:"queue_depth"`
	StandardPageCap   int            `mapstructure:"standard_page_cap"`
	ElevatedPageCap   int            `mapstructure:"elevated_page_cap"`
	SampleEvery       int            `mapstructure:"sample_every"`
	RateLimitCooldown time.Duration  `mapstructure:"rate_limit_cooldown"`
	SlowModeDelay     time.Duration  `mapstructure:"slow_mode_delay"`
	SlowModeAutoPages int            `mapstructure:"slow_mode_auto_pages"`
	Retry             RetryConfig    `mapstructure:"retry"`
	Budgets           map[string]int `mapstructure:"budgets"`
}

// RetryConfig bounds page fetch retries. MaxAttempts 0 retries forever.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// ConvertConfig sizes the post-crawl conversion queue.
type ConvertConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	Prefix      string `mapstructure:"prefix"`
}

// SourceConfig declares one listing source served by the JSON adapter.
type SourceConfig struct {
	Name         string `mapstructure:"name"`
	ListURL      string `mapstructure:"list_url"`
	ItemURL      string `mapstructure:"item_url"`
	ItemsPerPage int    `mapstructure:"items_per_page"`
	ReportsTotal bool   `mapstructure:"reports_total"`
	Sort         string `mapstructure:"sort"`
	BudgetUnit   string `mapstructure:"budget_unit"`
}

// SourceClientConfig tunes the HTTP client shared by all sources.
type SourceClientConfig struct {
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RateLimitRPS float64       `mapstructure:"rate_limit_rps"`
	Burst        int           `mapstructure:"burst"`
}

// StorageConfig selects the blob backend for result manifests.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig points the local backend at a directory.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// ExportConfig enables optional result export.
type ExportConfig struct {
	Postgres PostgresExportConfig `mapstructure:"postgres"`
}

// PostgresExportConfig controls the Postgres exporter. An empty DSN disables it.
type PostgresExportConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// BlockListConfig selects the user block-list backend.
type BlockListConfig struct {
	Backend string               `mapstructure:"backend"`
	Users   []string             `mapstructure:"users"`
	Redis   RedisBlockListConfig `mapstructure:"redis"`
}

// RedisBlockListConfig locates the Redis set holding blocked user IDs.
type RedisBlockListConfig struct {
	URL string `mapstructure:"url"`
	Key string `mapstructure:"key"`
}

// AccountConfig carries the account tier at startup.
type AccountConfig struct {
	Elevated bool `mapstructure:"elevated"`
}

// ProgressConfig sizes the progress hub.
type ProgressConfig struct {
	BufferSize int                 `mapstructure:"buffer_size"`
	Batch      ProgressBatchConfig `mapstructure:"batch"`
	LogEnabled bool                `mapstructure:"log_enabled"`
}

// ProgressBatchConfig controls hub flushing.
type ProgressBatchConfig struct {
	MaxEvents int           `mapstructure:"max_events"`
	MaxWait   time.Duration `mapstructure:"max_wait"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.StringToTimeHookFunc(time.RFC3339),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawler.workers", 1)
	v.SetDefault("crawler.queue_depth", 16)
	v.SetDefault("crawler.standard_page_cap", crawler.DefaultStandardPageCap)
	v.SetDefault("crawler.elevated_page_cap", crawler.DefaultElevatedPageCap)
	v.SetDefault("crawler.sample_every", 10)
	v.SetDefault("crawler.rate_limit_cooldown", "180s")
	v.SetDefault("crawler.slow_mode_delay", "1500ms")
	v.SetDefault("crawler.slow_mode_auto_pages", 100)
	v.SetDefault("crawler.retry.max_attempts", 0)
	v.SetDefault("convert.concurrency", 1)
	v.SetDefault("convert.prefix", "conversions")
	v.SetDefault("source.user_agent", "listing-crawler/0.1")
	v.SetDefault("source.timeout", "15s")
	v.SetDefault("source.rate_limit_rps", 2)
	v.SetDefault("source.burst", 1)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "results")
	v.SetDefault("export.postgres.table", "crawl_results")
	v.SetDefault("export.postgres.max_conns", 4)
	v.SetDefault("blocklist.backend", "static")
	v.SetDefault("blocklist.redis.key", "crawler:blocked_users")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch.max_events", 256)
	v.SetDefault("progress.batch.max_wait", "250ms")
	v.SetDefault("progress.log_enabled", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if c.Crawler.StandardPageCap <= 0 || c.Crawler.ElevatedPageCap < c.Crawler.StandardPageCap {
		return fmt.Errorf("crawler page caps must satisfy 0 < standard <= elevated")
	}
	if c.Crawler.SampleEvery <= 0 {
		return fmt.Errorf("crawler.sample_every must be > 0")
	}
	if c.Crawler.Retry.MaxAttempts < 0 {
		return fmt.Errorf("crawler.retry.max_attempts must be >= 0")
	}
	if c.Convert.Concurrency < 1 {
		return fmt.Errorf("convert.concurrency must be >= 1")
	}
	if err := c.Filter.Validate(); err != nil {
		return fmt.Errorf("filter: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		if src.Name == "" || src.ListURL == "" {
			return fmt.Errorf("sources[%d]: name and list_url are required", i)
		}
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("sources[%d]: duplicate name %q", i, src.Name)
		}
		seen[src.Name] = struct{}{}
		if src.ItemsPerPage <= 0 && src.ReportsTotal {
			return fmt.Errorf("sources[%d]: items_per_page must be > 0 when reports_total is set", i)
		}
		if _, err := src.SortOrder(); err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
		if _, err := src.Unit(); err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.BlockList.Backend {
	case "static":
	case "redis":
		if c.BlockList.Redis.URL == "" {
			return fmt.Errorf("blocklist.redis.url must be set for the redis backend")
		}
	default:
		return fmt.Errorf("unknown blocklist.backend %q", c.BlockList.Backend)
	}
	return nil
}

// Budget returns the configured requested count for a source, or
// crawler.Unbounded when none is set.
func (c Config) Budget(source string) int {
	if n, ok := c.Crawler.Budgets[source]; ok {
		return n
	}
	return crawler.Unbounded
}

// RetryPolicy converts the retry settings into the engine's policy config.
func (c Config) RetryPolicy() crawler.RetryConfig {
	return crawler.RetryConfig{
		MaxAttempts: c.Crawler.Retry.MaxAttempts,
		BaseDelay:   c.Crawler.Retry.BackoffInitial,
		MaxDelay:    c.Crawler.Retry.BackoffMax,
	}
}

// SortOrder parses the configured sort.
func (s SourceConfig) SortOrder() (crawler.SortOrder, error) {
	switch crawler.SortOrder(s.Sort) {
	case "", crawler.SortNone:
		return crawler.SortNone, nil
	case crawler.SortPopularity, crawler.SortIDDesc, crawler.SortIDAsc:
		return crawler.SortOrder(s.Sort), nil
	default:
		return "", fmt.Errorf("unknown sort %q", s.Sort)
	}
}

// Unit parses the configured budget unit.
func (s SourceConfig) Unit() (crawler.BudgetUnit, error) {
	switch crawler.BudgetUnit(s.BudgetUnit) {
	case "", crawler.BudgetPages:
		return crawler.BudgetPages, nil
	case crawler.BudgetItems:
		return crawler.BudgetItems, nil
	default:
		return "", fmt.Errorf("unknown budget_unit %q", s.BudgetUnit)
	}
}
