package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
)

// DefaultWelcomeMessage is sent on the first message of a conversation.
const DefaultWelcomeMessage = "Welcome to Social Prediction Markets! Propose a bet to someone in this chat " +
	"(for example \"I bet @bob $5 it rains tomorrow\"), both of you confirm it, and ask me to resolve it " +
	"once the outcome is known. The loser gets a USDC payment request for the winner."

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			WelcomeMessage:    DefaultWelcomeMessage,
			ClassifierTimeout: Duration(60 * time.Second),
			QueueSize:         64,
			SweepSchedule:     "*/5 * * * *",
		},
		Classifier: ClassifierConfig{
			Provider:  "openai",
			WebSearch: true,
		},
		Channels: ChannelsConfig{
			SendRate:  1,
			SendBurst: 5,
		},
		Payments: PaymentsConfig{
			Network: "base-sepolia",
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18791,
		},
		Ledger: LedgerConfig{
			KafkaTopic:   "betclaw.bet-events",
			RedisChannel: "betclaw:bet-events",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "betclaw",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
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
	envDur := func(key string, dst *Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = Duration(d)
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("BETCLAW_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("BETCLAW_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("BETCLAW_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("BETCLAW_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("BETCLAW_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("BETCLAW_XMTP_BRIDGE_URL", &c.Channels.XMTP.BridgeURL)
	envStr("BETCLAW_XMTP_TOKEN", &c.Channels.XMTP.Token)
	envStr("BETCLAW_GATEWAY_TOKEN", &c.Gateway.Token)

	// Auto-enable channels if credentials are provided via env
	if os.Getenv("BETCLAW_TELEGRAM_TOKEN") != "" {
		c.Channels.Telegram.Enabled = true
	}
	if os.Getenv("BETCLAW_DISCORD_TOKEN") != "" {
		c.Channels.Discord.Enabled = true
	}
	if os.Getenv("BETCLAW_XMTP_BRIDGE_URL") != "" {
		c.Channels.XMTP.Enabled = true
	}

	// Agent identity and oracle
	envStr("BETCLAW_INBOX_ID", &c.Agent.InboxID)
	envStr("BETCLAW_PROVIDER", &c.Classifier.Provider)
	envStr("BETCLAW_MODEL", &c.Classifier.Model)
	envDur("BETCLAW_CLASSIFIER_TIMEOUT", &c.Agent.ClassifierTimeout)
	envDur("BETCLAW_PENDING_TTL", &c.Agent.PendingTTL)
	envDur("BETCLAW_DEDUPE_TTL", &c.Agent.DedupeTTL)
	envStr("BETCLAW_NETWORK_ID", &c.Payments.Network)

	// Gateway host/port
	envStr("BETCLAW_HOST", &c.Gateway.Host)
	if v := os.Getenv("BETCLAW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	// Ledger
	envStr("BETCLAW_POSTGRES_DSN", &c.Ledger.PostgresDSN)
	envStr("BETCLAW_REDIS_URL", &c.Ledger.RedisURL)
	envStr("BETCLAW_SQLITE_PATH", &c.Ledger.SQLitePath)
	if v := os.Getenv("BETCLAW_KAFKA_BROKERS"); v != "" {
		c.Ledger.KafkaBrokers = strings.Split(v, ",")
	}

	// Telemetry
	envStr("BETCLAW_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("BETCLAW_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("BETCLAW_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("BETCLAW_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("BETCLAW_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
}

// Validate rejects settings the gateway cannot run with.
func (c *Config) Validate() error {
	switch c.Classifier.Provider {
	case "openai", "anthropic", "openrouter":
	default:
		return fmt.Errorf("config: unknown classifier provider %q", c.Classifier.Provider)
	}
	if c.Agent.ClassifierTimeout < 0 || c.Agent.PendingTTL < 0 || c.Agent.DedupeTTL < 0 {
		return fmt.Errorf("config: durations must not be negative")
	}
	if c.Agent.DedupeMax < 0 || c.Agent.HistoryLimit < 0 {
		return fmt.Errorf("config: limits must not be negative")
	}
	if c.Channels.XMTP.Enabled && c.Channels.XMTP.BridgeURL == "" {
		return fmt.Errorf("config: channels.xmtp.bridge_url is required when xmtp is enabled")
	}
	return nil
}

// RetentionEnabled reports whether any eviction policy is configured.
func (c *Config) RetentionEnabled() bool {
	return c.Agent.DedupeTTL > 0 || c.Agent.PendingTTL > 0
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
