package config

import "time"

// TestConfig returns a config suitable for testing
func TestConfig() *Config {
	cfg := defaultConfig()
	cfg.Database.Path = ":memory:" // Use in-memory database for tests
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Feed.HTTPTimeout = 5 * time.Second
	cfg.Feed.UserAgent = "feedtrak-test/1.0"
	cfg.Feed.DomainDelay = 0
	cfg.Jobs.Workers = 1
	cfg.Jobs.Backoff = []time.Duration{0}
	cfg.Jobs.Timeout = 5 * time.Second
	cfg.Thumbnails.Timeout = 5 * time.Second
	cfg.YouTube.Mirrors = []string{}
	cfg.YouTube.Timeout = time.Second
	cfg.Log.Level = "debug"
	return cfg
}
