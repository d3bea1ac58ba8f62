package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agora: AgoraConfig{
			BaseURL: "https://anagora.org",
		},
		Ledger: LedgerConfig{
			Backend: "file",
			Gate:    "all",
		},
		Bot: BotConfig{
			User:       "agora",
			FollowBack: true,
		},
		Channels: ChannelsConfig{
			Mastodon: MastodonConfig{RateLimitRPM: 10},
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18790,
		},
		Sched: SchedConfig{
			FollowBackCron: "*/15 * * * *",
			CatchUpCron:    "0 * * * *",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "http",
			ServiceName: "agora-bridge",
		},
	}
}

// Load reads config from a YAML file, then overlays env vars. A missing
// file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("AGORA_BOT_BASE_URL", &c.Agora.BaseURL)
	envStr("AGORA_BOT_OUTPUT_DIR", &c.Agora.OutputDir)
	envBool("AGORA_BOT_DRY_RUN", &c.Agora.DryRun)

	envStr("AGORA_BOT_LEDGER_BACKEND", &c.Ledger.Backend)
	envStr("AGORA_BOT_LEDGER_PATH", &c.Ledger.Path)
	envStr("AGORA_BOT_LEDGER_GATE", &c.Ledger.Gate)

	envStr("AGORA_BOT_USER", &c.Bot.User)
	if v := os.Getenv("AGORA_BOT_ALLOWLIST"); v != "" {
		c.Bot.Allowlist = strings.Split(v, ",")
	}
	if v := os.Getenv("AGORA_BOT_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Bot.MaxAge = Duration(d)
		}
	}

	envStr("AGORA_BOT_MASTODON_SERVER", &c.Channels.Mastodon.Server)
	envStr("AGORA_BOT_MASTODON_TOKEN", &c.Channels.Mastodon.AccessToken)
	envStr("AGORA_BOT_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)

	// Auto-enable channels if credentials are provided via env
	if c.Channels.Mastodon.AccessToken != "" && c.Channels.Mastodon.Server != "" {
		c.Channels.Mastodon.Enabled = true
	}
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}

	envStr("AGORA_BOT_HOST", &c.Gateway.Host)
	if v := os.Getenv("AGORA_BOT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envBool("AGORA_BOT_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("AGORA_BOT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("AGORA_BOT_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("AGORA_BOT_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("AGORA_BOT_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
}

// Validate rejects configurations the bridge cannot run with.
func (c *Config) Validate() error {
	switch c.Ledger.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("ledger.backend %q: want file or sqlite", c.Ledger.Backend)
	}
	if c.Ledger.Backend == "sqlite" && c.Ledger.Path == "" {
		return fmt.Errorf("ledger.backend sqlite requires ledger.path")
	}
	switch c.Ledger.Gate {
	case "all", "any", "first":
	default:
		return fmt.Errorf("ledger.gate %q: want all, any or first", c.Ledger.Gate)
	}
	if !c.Channels.Mastodon.Enabled && !c.Channels.Telegram.Enabled {
		return fmt.Errorf("no channel enabled")
	}
	return nil
}
