// Package config defines the service configuration loaded from YAML and
// environment overrides.
package config

import (
	"time"

	"github.com/scrapehive/discovery/internal/discovery"
)

// AppConfig holds application-level settings.
type AppConfig struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // json, pretty
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port        string `mapstructure:"port"`
	CORSOrigins string `mapstructure:"cors_origins"`
}

// DiscoveryConfig toggles source adapters and bounds their latency.
type DiscoveryConfig struct {
	EnableFeeds       bool   `mapstructure:"enable_feeds"`
	EnableCommonCrawl bool   `mapstructure:"enable_commoncrawl"`
	EnableWayback     bool   `mapstructure:"enable_wayback"`
	EnableWikipedia   bool   `mapstructure:"enable_wikipedia"`
	EnableGovIndex    bool   `mapstructure:"enable_gov_index"`
	EnableWebSearch   bool   `mapstructure:"enable_web_search"`
	AdapterTimeout    string `mapstructure:"adapter_timeout"` // duration string, e.g. "10s"
}

// RedisConfig holds optional redis settings for the shared dedup ledger.
// An empty Addr selects the in-process ledger.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QuotaConfig holds quota snapshot persistence settings.
type QuotaConfig struct {
	SQLitePath       string `mapstructure:"sqlite_path"`
	SnapshotInterval string `mapstructure:"snapshot_interval"` // duration string
}

// LedgerConfig holds the external ledger gateway settings.
type LedgerConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// Config is the top-level configuration structure.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
}

// FillDefaults applies default values if not provided. Adapter enable flags
// default through viper (they are booleans, so zero values are meaningful).
func (c *Config) FillDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.LogFormat == "" {
		c.App.LogFormat = "json"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.CORSOrigins == "" {
		c.Server.CORSOrigins = "*"
	}
	if c.Discovery.AdapterTimeout == "" {
		c.Discovery.AdapterTimeout = "10s"
	}
	if c.Quota.SQLitePath == "" {
		c.Quota.SQLitePath = "./data/quota.db"
	}
	if c.Quota.SnapshotInterval == "" {
		c.Quota.SnapshotInterval = "5m"
	}
	if c.Ledger.BaseURL == "" {
		c.Ledger.BaseURL = "http://localhost:9090"
	}
}

// AdapterConfig maps the discovery section onto the aggregator's config.
func (c *Config) AdapterConfig() discovery.AdapterConfig {
	timeout, err := time.ParseDuration(c.Discovery.AdapterTimeout)
	if err != nil || timeout <= 0 {
		timeout = discovery.DefaultAdapterTimeout
	}
	return discovery.AdapterConfig{
		EnableFeeds:       c.Discovery.EnableFeeds,
		EnableCommonCrawl: c.Discovery.EnableCommonCrawl,
		EnableWayback:     c.Discovery.EnableWayback,
		EnableWikipedia:   c.Discovery.EnableWikipedia,
		EnableGovIndex:    c.Discovery.EnableGovIndex,
		EnableWebSearch:   c.Discovery.EnableWebSearch,
		AdapterTimeout:    timeout,
	}
}

// SnapshotInterval parses the configured interval, defaulting to 5 minutes.
func (c *Config) SnapshotInterval() time.Duration {
	interval, err := time.ParseDuration(c.Quota.SnapshotInterval)
	if err != nil || interval <= 0 {
		return 5 * time.Minute
	}
	return interval
}
