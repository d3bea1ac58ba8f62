// Package config holds the bridge configuration: YAML file, env var
// overlays, and a watcher for the policy knobs that may change at runtime.
package config

import (
	"fmt"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML scalars like "2h"
// or "90s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration. Fields that policy reloads may touch
// are read through the accessor methods, which take the lock.
type Config struct {
	mu sync.RWMutex

	Agora     AgoraConfig     `yaml:"agora"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Bot       BotConfig       `yaml:"bot"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Sched     SchedConfig     `yaml:"sched"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AgoraConfig points the bridge at its knowledge graph.
type AgoraConfig struct {
	// BaseURL is where entity links resolve.
	BaseURL string `yaml:"base_url"`
	// OutputDir is the root for ledger records and opt-in stream archives.
	// Empty means the bridge observes but never replies.
	OutputDir string `yaml:"output_dir"`
	DryRun    bool   `yaml:"dry_run"`
}

// LedgerConfig selects and tunes the dedup ledger backend.
type LedgerConfig struct {
	// Backend is "file" or "sqlite".
	Backend string `yaml:"backend"`
	// Path is the sqlite database file. Ignored by the file backend.
	Path string `yaml:"path"`
	// Gate decides how per-node dedup results combine into the reply
	// decision: "all", "any" or "first".
	Gate string `yaml:"gate"`
}

// BotConfig is interaction policy.
type BotConfig struct {
	// User is the bridge's own handle, so it never processes itself.
	User            string        `yaml:"user"`
	Allowlist       []string      `yaml:"allowlist"`
	ExcludedAuthors []string      `yaml:"excluded_authors"`
	FollowBack      bool          `yaml:"follow_back"`
	// MaxAge drops catch-up messages older than this. Zero disables the
	// filter.
	MaxAge Duration   `yaml:"max_age"`
	Hint   HintConfig `yaml:"hint"`
}

// HintConfig controls the probabilistic usage hint on unmatched mentions.
type HintConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Probability float64 `yaml:"probability"`
	Text        string  `yaml:"text"`
}

// ChannelsConfig enables platform listeners.
type ChannelsConfig struct {
	Mastodon MastodonConfig `yaml:"mastodon"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// MastodonConfig is the streaming listener.
type MastodonConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Server      string   `yaml:"server"`
	AccessToken string   `yaml:"access_token"`
	// Lists are additional list IDs to stream beyond the user stream.
	Lists   []string `yaml:"lists"`
	CatchUp bool     `yaml:"catch_up"`
	// RateLimitRPM caps outbound posts per minute.
	RateLimitRPM int `yaml:"rate_limit_rpm"`
}

// TelegramConfig is the long-polling listener.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// GatewayConfig is the ops HTTP surface.
type GatewayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// SchedConfig holds cron expressions for background jobs.
type SchedConfig struct {
	FollowBackCron string `yaml:"follow_back_cron"`
	CatchUpCron    string `yaml:"catch_up_cron"`
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Protocol    string `yaml:"protocol"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// ExcludedAuthorsList returns the current exclusion list.
func (c *Config) ExcludedAuthorsList() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.Bot.ExcludedAuthors))
	copy(out, c.Bot.ExcludedAuthors)
	return out
}

// AllowlistCopy returns the current always-opted-in handles.
func (c *Config) AllowlistCopy() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.Bot.Allowlist))
	copy(out, c.Bot.Allowlist)
	return out
}

// HintSnapshot returns the current hint policy settings.
func (c *Config) HintSnapshot() HintConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Bot.Hint
}

// DryRunEnabled reports whether outbound posting is suppressed.
func (c *Config) DryRunEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Agora.DryRun
}

func (c *Config) applyPolicy(fresh *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Bot.Allowlist = fresh.Bot.Allowlist
	c.Bot.ExcludedAuthors = fresh.Bot.ExcludedAuthors
	c.Bot.Hint = fresh.Bot.Hint
	c.Agora.DryRun = fresh.Agora.DryRun
}
