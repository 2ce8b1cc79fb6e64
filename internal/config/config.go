package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Duration is a time.Duration written as a Go duration string ("60s", "24h").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"'`)
	if s == "" || s == "null" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Config is the root configuration for the betclaw gateway.
type Config struct {
	Agent      AgentConfig      `json:"agent"`
	Classifier ClassifierConfig `json:"classifier"`
	Providers  ProvidersConfig  `json:"providers"`
	Channels   ChannelsConfig   `json:"channels"`
	Payments   PaymentsConfig   `json:"payments"`
	Gateway    GatewayConfig    `json:"gateway"`
	Ledger     LedgerConfig     `json:"ledger,omitempty"`
	Telemetry  TelemetryConfig  `json:"telemetry,omitempty"`
	mu         sync.RWMutex
}

// AgentConfig controls the bet orchestrator.
type AgentConfig struct {
	InboxID           string   `json:"inbox_id,omitempty"`           // the agent's own identity; messages from it are ignored
	Names             []string `json:"names,omitempty"`              // handles people use to address the agent, e.g. "@betbot"
	WelcomeMessage    string   `json:"welcome_message,omitempty"`    // sent on the first message of each conversation
	ClassifierTimeout Duration `json:"classifier_timeout,omitempty"` // bound on one oracle call (default 60s)
	ErrorNotices      *bool    `json:"error_notices,omitempty"`      // tell the chat when the oracle is unavailable (default true)
	QueueSize         int      `json:"queue_size,omitempty"`         // per-conversation classification backlog (default 64)
	HistoryLimit      int      `json:"history_limit,omitempty"`      // messages kept per conversation (0 = unbounded)

	// Retention. All zero (the default) keeps everything for the process lifetime.
	DedupeTTL     Duration `json:"dedupe_ttl,omitempty"`
	DedupeMax     int      `json:"dedupe_max,omitempty"`
	PendingTTL    Duration `json:"pending_ttl,omitempty"`    // expire unconfirmed bets older than this
	SweepSchedule string   `json:"sweep_schedule,omitempty"` // cron expression for the retention sweep (default "*/5 * * * *")
}

// ErrorNoticesEnabled reports whether oracle failures are announced in chat.
func (a AgentConfig) ErrorNoticesEnabled() bool {
	return a.ErrorNotices == nil || *a.ErrorNotices
}

// ClassifierConfig selects the oracle provider and its request options.
type ClassifierConfig struct {
	Provider    string   `json:"provider"`              // "openai" (default), "anthropic", "openrouter"
	Model       string   `json:"model,omitempty"`       // overrides the provider default
	MaxTokens   int      `json:"max_tokens,omitempty"`  //
	Temperature *float64 `json:"temperature,omitempty"` //
	WebSearch   bool     `json:"web_search,omitempty"`  // let the oracle search the web when resolving
}

type ProvidersConfig struct {
	Anthropic  ProviderConfig `json:"anthropic"`
	OpenAI     ProviderConfig `json:"openai"`
	OpenRouter ProviderConfig `json:"openrouter"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base,omitempty"`
}

// PaymentsConfig selects the chain payment requests target.
type PaymentsConfig struct {
	Network string `json:"network"` // "base-sepolia" (default) or "base-mainnet"
}

// GatewayConfig configures the status HTTP server.
type GatewayConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"token,omitempty"`           // bearer token for /v1 and /ws (empty = open)
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // CORS and WebSocket origins (empty = any)
}

// LedgerConfig enables the write-only bet event sinks.
// Secrets (Postgres DSN, Redis URL) are NEVER read from config.json, only from env.
type LedgerConfig struct {
	PostgresDSN  string   `json:"-"`                       // from env BETCLAW_POSTGRES_DSN only
	SQLitePath   string   `json:"sqlite_path,omitempty"`   // e.g. "~/.betclaw/ledger.db"
	KafkaBrokers []string `json:"kafka_brokers,omitempty"` //
	KafkaTopic   string   `json:"kafka_topic,omitempty"`   // default "betclaw.bet-events"
	RedisURL     string   `json:"-"`                       // from env BETCLAW_REDIS_URL only
	RedisChannel string   `json:"redis_channel,omitempty"` // default "betclaw:bet-events"
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
// When enabled, spans are exported to an OTLP-compatible backend (Jaeger, Tempo, Datadog, etc.)
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317", "https://otel.example.com:4318")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext connection (set true for local dev)
	ServiceName string            `json:"service_name,omitempty"` // OTEL service name (default "betclaw")
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens for cloud backends)
}
