// Package config loads feedtrak settings from defaults, an optional YAML
// file and FEEDTRAK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bryan-buckman/feedtrak/internal/fetch"
	"github.com/bryan-buckman/feedtrak/internal/jobs"
	"github.com/bryan-buckman/feedtrak/internal/logger"
	"github.com/bryan-buckman/feedtrak/internal/youtube"
)

// EnvPrefix prefixes environment overrides, e.g. FEEDTRAK_DATABASE_DRIVER.
const EnvPrefix = "FEEDTRAK"

type Config struct {
	Database   DatabaseConfig  `mapstructure:"database"`
	Server     ServerConfig    `mapstructure:"server"`
	Feed       FeedConfig      `mapstructure:"feed"`
	Jobs       JobsConfig      `mapstructure:"jobs"`
	Thumbnails ThumbnailConfig `mapstructure:"thumbnails"`
	YouTube    YouTubeConfig   `mapstructure:"youtube"`
	OPML       OPMLConfig      `mapstructure:"opml"`
	Log        LogConfig       `mapstructure:"log"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or postgres
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type FeedConfig struct {
	HTTPTimeout            time.Duration `mapstructure:"http_timeout"`
	UserAgent              string        `mapstructure:"user_agent"`
	NewFeedEntryLimit      int           `mapstructure:"new_feed_entry_limit"`
	ExistingFeedEntryLimit int           `mapstructure:"existing_feed_entry_limit"`
	InitialUnread          int           `mapstructure:"initial_unread"`
	StaleAfter             time.Duration `mapstructure:"stale_after"`
	RefreshInterval        time.Duration `mapstructure:"refresh_interval"`
	ManualRefreshCooldown  time.Duration `mapstructure:"manual_refresh_cooldown"`
	DomainConcurrency      int           `mapstructure:"domain_concurrency"`
	DomainDelay            time.Duration `mapstructure:"domain_delay"`
	MaxBodyBytes           int64         `mapstructure:"max_body_bytes"`
}

type JobsConfig struct {
	Workers   int             `mapstructure:"workers"` // 0 picks by database backend
	QueueSize int             `mapstructure:"queue_size"`
	Attempts  int             `mapstructure:"attempts"`
	Backoff   []time.Duration `mapstructure:"backoff"`
	Timeout   time.Duration   `mapstructure:"timeout"`
}

type ThumbnailConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	Attempts  int           `mapstructure:"attempts"`
}

type YouTubeConfig struct {
	Mirrors   []string      `mapstructure:"mirrors"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CachePath string        `mapstructure:"cache_path"` // empty disables the channel cache
}

type OPMLConfig struct {
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "feedtrak.db",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Feed: FeedConfig{
			HTTPTimeout:            fetch.DefaultTimeout,
			UserAgent:              fetch.DefaultUserAgent,
			NewFeedEntryLimit:      jobs.NewFeedEntryLimit,
			ExistingFeedEntryLimit: jobs.ExistingFeedEntryLimit,
			InitialUnread:          jobs.InitialUnread,
			StaleAfter:             jobs.DefaultStaleAfter,
			RefreshInterval:        jobs.DefaultRefreshInterval,
			ManualRefreshCooldown:  jobs.DefaultManualCooldown,
			DomainConcurrency:      fetch.DefaultPerDomain,
			DomainDelay:            500 * time.Millisecond,
			MaxBodyBytes:           fetch.DefaultMaxBodyBytes,
		},
		Jobs: JobsConfig{
			QueueSize: jobs.DefaultQueueSize,
			Attempts:  jobs.DefaultFetchPolicy.Attempts,
			Backoff:   jobs.DefaultFetchPolicy.Backoff,
			Timeout:   jobs.DefaultFetchPolicy.Timeout,
		},
		Thumbnails: ThumbnailConfig{
			Interval:  jobs.DefaultThumbnailInterval,
			BatchSize: jobs.DefaultThumbnailBatch,
			Timeout:   jobs.DefaultThumbnailPolicy.Timeout,
			UserAgent: jobs.ThumbnailUserAgent,
			Attempts:  jobs.DefaultThumbnailPolicy.Attempts,
		},
		YouTube: YouTubeConfig{
			Mirrors: youtube.DefaultMirrors,
			Timeout: youtube.DefaultTimeout,
		},
		OPML: OPMLConfig{
			MaxUploadBytes: 10 << 20,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    64,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// leaves flattens cfg into dotted keys. Durations are rendered as strings
// so the result reads well as YAML.
func leaves(cfg *Config) map[string]any {
	durations := func(ds []time.Duration) []string {
		out := make([]string, len(ds))
		for i, d := range ds {
			out[i] = d.String()
		}
		return out
	}
	return map[string]any{
		"database.driver": cfg.Database.Driver,
		"database.path":   cfg.Database.Path,
		"database.dsn":    cfg.Database.DSN,

		"server.addr": cfg.Server.Addr,

		"feed.http_timeout":              cfg.Feed.HTTPTimeout.String(),
		"feed.user_agent":                cfg.Feed.UserAgent,
		"feed.new_feed_entry_limit":      cfg.Feed.NewFeedEntryLimit,
		"feed.existing_feed_entry_limit": cfg.Feed.ExistingFeedEntryLimit,
		"feed.initial_unread":            cfg.Feed.InitialUnread,
		"feed.stale_after":               cfg.Feed.StaleAfter.String(),
		"feed.refresh_interval":          cfg.Feed.RefreshInterval.String(),
		"feed.manual_refresh_cooldown":   cfg.Feed.ManualRefreshCooldown.String(),
		"feed.domain_concurrency":        cfg.Feed.DomainConcurrency,
		"feed.domain_delay":              cfg.Feed.DomainDelay.String(),
		"feed.max_body_bytes":            cfg.Feed.MaxBodyBytes,

		"jobs.workers":    cfg.Jobs.Workers,
		"jobs.queue_size": cfg.Jobs.QueueSize,
		"jobs.attempts":   cfg.Jobs.Attempts,
		"jobs.backoff":    durations(cfg.Jobs.Backoff),
		"jobs.timeout":    cfg.Jobs.Timeout.String(),

		"thumbnails.interval":   cfg.Thumbnails.Interval.String(),
		"thumbnails.batch_size": cfg.Thumbnails.BatchSize,
		"thumbnails.timeout":    cfg.Thumbnails.Timeout.String(),
		"thumbnails.user_agent": cfg.Thumbnails.UserAgent,
		"thumbnails.attempts":   cfg.Thumbnails.Attempts,

		"youtube.mirrors":    cfg.YouTube.Mirrors,
		"youtube.timeout":    cfg.YouTube.Timeout.String(),
		"youtube.cache_path": cfg.YouTube.CachePath,

		"opml.max_upload_bytes": cfg.OPML.MaxUploadBytes,

		"log.level":       cfg.Log.Level,
		"log.file":        cfg.Log.File,
		"log.max_size":    cfg.Log.MaxSize,
		"log.max_backups": cfg.Log.MaxBackups,
		"log.max_age":     cfg.Log.MaxAge,
	}
}

// searchPaths lists the config files tried when no path is given.
func searchPaths() []string {
	paths := []string{"feedtrak.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "feedtrak", "config.yaml"))
	}
	return paths
}

// Load reads configPath, or the first existing default location when
// configPath is empty. A missing default file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	for key, value := range leaves(defaultConfig()) {
		v.SetDefault(key, value)
	}

	if configPath == "" {
		for _, p := range searchPaths() {
			if _, err := os.Stat(p); err == nil {
				configPath = p
				break
			}
		}
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.YouTube.CachePath = expandPath(cfg.YouTube.CachePath)
	cfg.Log.File = expandPath(cfg.Log.File)
	return &cfg, nil
}

// Validate rejects settings the components cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite", "":
	case "postgres", "postgresql":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Jobs.Attempts < 1 {
		errs = append(errs, errors.New("jobs.attempts must be at least 1"))
	}
	if c.Thumbnails.Attempts < 1 {
		errs = append(errs, errors.New("thumbnails.attempts must be at least 1"))
	}
	return errors.Join(errs...)
}

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// WriteDefault writes the default configuration as YAML to path.
func WriteDefault(path string) error {
	tree := make(map[string]any)
	for key, value := range leaves(defaultConfig()) {
		section, leaf, _ := strings.Cut(key, ".")
		m, ok := tree[section].(map[string]any)
		if !ok {
			m = make(map[string]any)
			tree[section] = m
		}
		m[leaf] = value
	}

	data, err := yaml.Marshal(tree)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// FetchOptions configures the shared HTTP client.
func (c *Config) FetchOptions() fetch.Options {
	return fetch.Options{
		Timeout:      c.Feed.HTTPTimeout,
		UserAgent:    c.Feed.UserAgent,
		MaxBodyBytes: c.Feed.MaxBodyBytes,
		PerDomain:    c.Feed.DomainConcurrency,
		DomainDelay:  c.Feed.DomainDelay,
	}
}

func (c *Config) PipelineOptions() jobs.PipelineOptions {
	return jobs.PipelineOptions{
		NewFeedEntryLimit:      c.Feed.NewFeedEntryLimit,
		ExistingFeedEntryLimit: c.Feed.ExistingFeedEntryLimit,
		InitialUnread:          c.Feed.InitialUnread,
	}
}

func (c *Config) SchedulerOptions() jobs.SchedulerOptions {
	return jobs.SchedulerOptions{
		RefreshInterval:   c.Feed.RefreshInterval,
		StaleAfter:        c.Feed.StaleAfter,
		ThumbnailInterval: c.Thumbnails.Interval,
		ThumbnailBatch:    c.Thumbnails.BatchSize,
		ManualCooldown:    c.Feed.ManualRefreshCooldown,
	}
}

// FetchPolicy is the retry policy for feed fetch jobs.
func (c *Config) FetchPolicy() jobs.RetryPolicy {
	return jobs.RetryPolicy{
		Attempts: c.Jobs.Attempts,
		Backoff:  c.Jobs.Backoff,
		Timeout:  c.Jobs.Timeout,
	}
}

// ThumbnailPolicy is the retry policy for thumbnail jobs.
func (c *Config) ThumbnailPolicy() jobs.RetryPolicy {
	return jobs.RetryPolicy{
		Attempts: c.Thumbnails.Attempts,
		Backoff:  jobs.DefaultThumbnailPolicy.Backoff,
		Timeout:  c.Thumbnails.Timeout,
	}
}

// YouTubeOptions configures the channel resolver. The cache is opened by
// the caller from YouTube.CachePath.
func (c *Config) YouTubeOptions() youtube.Options {
	return youtube.Options{
		Mirrors: c.YouTube.Mirrors,
		Timeout: c.YouTube.Timeout,
	}
}

func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Log.Level,
		File:       c.Log.File,
		MaxSize:    c.Log.MaxSize,
		MaxBackups: c.Log.MaxBackups,
		MaxAge:     c.Log.MaxAge,
	}
}
