package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/elonfeng/newsgauge/pkg/saturation"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig           `yaml:"database"`
	LLM      LLMConfig                `yaml:"llm"`
	Search   SearchConfig             `yaml:"search"`
	Scoring  saturation.ScoringConfig `yaml:"scoring"`
	Quantify QuantifyConfig           `yaml:"quantify"`
	Alerts   AlertsConfig             `yaml:"alerts"`
	Server   ServerConfig             `yaml:"server"`
	Schedule ScheduleConfig           `yaml:"schedule"`

	// Timezone is the reference timezone mentions are normalized to.
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig configures the topic extractor's model endpoint. The endpoint
// must be OpenAI-compatible; the default is the Groq API.
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	Timeout string `yaml:"timeout"`
}

// ParseTimeout returns the per-attempt LLM timeout.
func (l LLMConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(l.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// SearchConfig configures the social search provider and the measurement
// knobs around it.
type SearchConfig struct {
	BaseURL       string `yaml:"base_url"`
	Token         string `yaml:"token"`
	Language      string `yaml:"language"`
	QueryLimit    int    `yaml:"query_limit"`
	QueryDelay    string `yaml:"query_delay"`
	LookbackHours int    `yaml:"lookback_hours"`
	BucketHours   int    `yaml:"bucket_hours"`
	Timeout       string `yaml:"timeout"`
}

// ParseQueryDelay returns the inter-query pacing delay.
func (s SearchConfig) ParseQueryDelay() time.Duration {
	d, err := time.ParseDuration(s.QueryDelay)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// ParseTimeout returns the per-request search timeout.
func (s SearchConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// QuantifyConfig configures batch runs.
type QuantifyConfig struct {
	// ContentType selects which evaluations count as news-like input.
	ContentType string `yaml:"content_type"`
	// BatchLimit caps items per run.
	BatchLimit int `yaml:"batch_limit"`
}

// AlertsConfig configures run-summary notification destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack incoming-webhook notifications.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook notifications.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook notifications.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// ScheduleConfig configures the daemon's periodic quantify run.
type ScheduleConfig struct {
	QuantifyInterval string `yaml:"quantify_interval"`
}

// ParseQuantifyInterval returns the daemon interval as time.Duration.
func (s ScheduleConfig) ParseQuantifyInterval() time.Duration {
	d, err := time.ParseDuration(s.QuantifyInterval)
	if err != nil {
		return 6 * time.Hour
	}
	return d
}

// Location resolves the configured reference timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", c.Timezone, err)
	}
	return loc, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./newsgauge.db"},
		LLM: LLMConfig{
			BaseURL: "https://api.groq.com/openai",
			Model:   "llama-3.3-70b-versatile",
			Timeout: "30s",
		},
		Search: SearchConfig{
			Language:      "ja",
			QueryLimit:    50,
			QueryDelay:    "2s",
			LookbackHours: 72,
			BucketHours:   6,
			Timeout:       "30s",
		},
		Scoring: saturation.DefaultScoringConfig(),
		Quantify: QuantifyConfig{
			ContentType: "ai_news",
			BatchLimit:  5,
		},
		Alerts:   AlertsConfig{},
		Server:   ServerConfig{Port: 8080},
		Schedule: ScheduleConfig{QuantifyInterval: "6h"},
		Timezone: "Asia/Tokyo",
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Yaml overrides cannot touch thresholds; restore defaults if a
	// partial scoring section zeroed them out.
	if len(cfg.Scoring.Thresholds) == 0 {
		def := saturation.DefaultScoringConfig()
		cfg.Scoring.Thresholds = def.Thresholds
		cfg.Scoring.DefaultLevel = def.DefaultLevel
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NEWSGAUGE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("NEWSGAUGE_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("NEWSGAUGE_SEARCH_URL"); v != "" {
		cfg.Search.BaseURL = v
	}
	if v := os.Getenv("NEWSGAUGE_SEARCH_TOKEN"); v != "" {
		cfg.Search.Token = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
}
