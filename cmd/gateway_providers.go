package cmd

import (
	"log/slog"

	"github.com/nextlevelbuilder/betclaw/internal/config"
	"github.com/nextlevelbuilder/betclaw/internal/providers"
)

const openRouterAPIBase = "https://openrouter.ai/api/v1"

func registerProviders(registry *providers.Registry, cfg *config.Config) {
	if cfg.Providers.Anthropic.APIKey != "" {
		opts := []providers.AnthropicOption{}
		if cfg.Providers.Anthropic.APIBase != "" {
			opts = append(opts, providers.WithAnthropicBaseURL(cfg.Providers.Anthropic.APIBase))
		}
		registry.Register(providers.NewAnthropicProvider(cfg.Providers.Anthropic.APIKey, opts...))
		slog.Info("registered provider", "name", "anthropic")
	}

	if cfg.Providers.OpenAI.APIKey != "" {
		registry.Register(providers.NewOpenAIProvider("openai", cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase, "gpt-4.1"))
		slog.Info("registered provider", "name", "openai")
	}

	if cfg.Providers.OpenRouter.APIKey != "" {
		base := cfg.Providers.OpenRouter.APIBase
		if base == "" {
			base = openRouterAPIBase
		}
		registry.Register(providers.NewOpenAIProvider("openrouter", cfg.Providers.OpenRouter.APIKey, base, "openai/gpt-4.1"))
		slog.Info("registered provider", "name", "openrouter")
	}
}

// providerAPIKey returns the configured key for a classifier provider name.
func providerAPIKey(cfg *config.Config, name string) string {
	switch name {
	case "anthropic":
		return cfg.Providers.Anthropic.APIKey
	case "openai":
		return cfg.Providers.OpenAI.APIKey
	case "openrouter":
		return cfg.Providers.OpenRouter.APIKey
	}
	return ""
}
