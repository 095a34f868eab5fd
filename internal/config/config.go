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
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Recrawl    RecrawlConfig    `mapstructure:"recrawl"`
	Similarity SimilarityConfig `mapstructure:"similarity"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
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

// CrawlerConfig governs probe fetch behavior.
type CrawlerConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	QueueDepth     int    `mapstructure:"queue_depth"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// PipelineConfig governs the step runner and stage batching.
type PipelineConfig struct {
	StepTimeoutSeconds   int `mapstructure:"step_timeout_seconds"`
	MaxRetries           int `mapstructure:"max_retries"`
	BackoffInitialMs     int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs         int `mapstructure:"backoff_max_ms"`
	DiscoverLimit        int `mapstructure:"discover_limit"`
	BatchConcurrency     int `mapstructure:"batch_concurrency"`
	DefaultEventDuration int `mapstructure:"default_event_duration_minutes"`
}

// ExtractionConfig configures the extraction gateway.
type ExtractionConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	EmbedModel string `mapstructure:"embed_model"`
}

// RecrawlConfig overrides per-classification recrawl intervals, in hours.
// Classifications not listed keep their built-in interval.
type RecrawlConfig struct {
	OverridesHours map[string]int `mapstructure:"overrides_hours"`
}

// SimilarityConfig sets merge-candidate thresholds.
type SimilarityConfig struct {
	EntityThreshold float64 `mapstructure:"entity_threshold"`
	EventThreshold  float64 `mapstructure:"event_threshold"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory store (dev mode).
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PubSubConfig holds metadata for publish-subscribe fan-out. An empty
// project falls back to the in-memory publisher.
type PubSubConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	CrawlTopic      string `mapstructure:"crawl_topic"`
	IdentityTopic   string `mapstructure:"identity_topic"`
	SimilarityTopic string `mapstructure:"similarity_topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VENUECRAWLER")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.user_agent", "artatlas-venue-bot/0.1")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("pipeline.step_timeout_seconds", 120)
	v.SetDefault("pipeline.max_retries", 2)
	v.SetDefault("pipeline.backoff_initial_ms", 250)
	v.SetDefault("pipeline.backoff_max_ms", 2000)
	v.SetDefault("pipeline.discover_limit", 30)
	v.SetDefault("pipeline.batch_concurrency", 4)
	v.SetDefault("pipeline.default_event_duration_minutes", 180)
	v.SetDefault("extraction.model", "gpt-4o-mini")
	v.SetDefault("extraction.embed_model", "text-embedding-3-small")
	v.SetDefault("similarity.entity_threshold", 0.86)
	v.SetDefault("similarity.event_threshold", 0.88)
	v.SetDefault("pubsub.crawl_topic", "crawl")
	v.SetDefault("pubsub.identity_topic", "identity")
	v.SetDefault("pubsub.similarity_topic", "similarity")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Similarity.EntityThreshold <= 0 || c.Similarity.EntityThreshold > 1 {
		return fmt.Errorf("similarity.entity_threshold must be in (0, 1]")
	}
	if c.Similarity.EventThreshold <= 0 || c.Similarity.EventThreshold > 1 {
		return fmt.Errorf("similarity.event_threshold must be in (0, 1]")
	}
	return nil
}

// StepTimeout returns the per-step execution budget.
func (c Config) StepTimeout() time.Duration {
	return time.Duration(c.Pipeline.StepTimeoutSeconds) * time.Second
}

// FetchTimeout returns the probe fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}
