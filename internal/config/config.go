// Package config provides YAML-based configuration loading for prodsync.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level prodsync configuration, loaded from config.yaml.
type Config struct {
	Source     SourceConfig      `yaml:"source"`
	Store      StoreConfig       `yaml:"store"`
	Server     ServerConfig      `yaml:"server"`
	Sync       SyncConfig        `yaml:"sync"`
	Workspaces []WorkspaceConfig `yaml:"workspaces"`
	Notify     NotifyConfig      `yaml:"notify"`
}

// SourceConfig points at the source hierarchy API.
type SourceConfig struct {
	BaseURL string `yaml:"base_url"`
}

// StoreConfig holds connection settings for the MySQL store.
type StoreConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// ServerConfig holds settings for the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// SyncConfig tunes the pipeline.
type SyncConfig struct {
	BatchSize      int `yaml:"batch_size"`
	Concurrency    int `yaml:"concurrency"`
	TimeoutMinutes int `yaml:"timeout_minutes"`
}

// WorkspaceConfig describes one workspace to sync. APIKeyEnv names the
// environment variable holding the workspace's API key, so keys never sit
// in the config file itself.
type WorkspaceConfig struct {
	ID                 string `yaml:"id"`
	APIKeyEnv          string `yaml:"api_key_env"`
	Schedule           string `yaml:"schedule"` // cron expression; empty disables scheduling
	ProductID          string `yaml:"product_id"`
	InitiativeID       string `yaml:"initiative_id"`
	IncludeInitiatives *bool  `yaml:"include_initiatives"`
	IncludeComponents  *bool  `yaml:"include_components"`
	IncludeFeatures    *bool  `yaml:"include_features"`
	MaxDepth           int    `yaml:"max_depth"`
}

// NotifyConfig enables run-summary notifications.
type NotifyConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig configures the Slack notifier.
type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// DiscordConfig configures the Discord notifier.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// Timeout returns the configured run deadline as a duration.
func (s SyncConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMinutes) * time.Minute
}

// Includes resolves the workspace's include flags, defaulting to true.
func (w WorkspaceConfig) Includes() (initiatives, components, features bool) {
	return boolOr(w.IncludeInitiatives, true), boolOr(w.IncludeComponents, true), boolOr(w.IncludeFeatures, true)
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Store.Host == "" {
		c.Store.Host = "127.0.0.1"
	}
	if c.Store.Port == 0 {
		c.Store.Port = 3306
	}
	if c.Store.User == "" {
		c.Store.User = "root"
	}
	if c.Store.Database == "" {
		c.Store.Database = "prodsync"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 100
	}
	if c.Sync.Concurrency == 0 {
		c.Sync.Concurrency = 5
	}
	if c.Sync.TimeoutMinutes == 0 {
		c.Sync.TimeoutMinutes = 30
	}
	for i := range c.Workspaces {
		if c.Workspaces[i].MaxDepth == 0 {
			c.Workspaces[i].MaxDepth = 1
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Source.BaseURL == "" {
		errs = append(errs, "source.base_url is required")
	}
	for i, w := range c.Workspaces {
		if w.ID == "" {
			errs = append(errs, fmt.Sprintf("workspaces[%d].id is required", i))
		}
		if w.APIKeyEnv == "" {
			errs = append(errs, fmt.Sprintf("workspaces[%d].api_key_env is required", i))
		}
		if w.MaxDepth < 1 || w.MaxDepth > 10 {
			errs = append(errs, fmt.Sprintf("workspaces[%d].max_depth must be 1-10", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
