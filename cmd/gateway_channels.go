package cmd

import (
	"log/slog"

	"github.com/nextlevelbuilder/betclaw/internal/bus"
	"github.com/nextlevelbuilder/betclaw/internal/channels"
	"github.com/nextlevelbuilder/betclaw/internal/channels/discord"
	"github.com/nextlevelbuilder/betclaw/internal/channels/telegram"
	"github.com/nextlevelbuilder/betclaw/internal/channels/xmtp"
	"github.com/nextlevelbuilder/betclaw/internal/config"
)

// registerChannels creates every enabled channel. A channel that fails to
// initialize is logged and skipped; the others still run.
func registerChannels(mgr *channels.Manager, cfg *config.Config, msgBus *bus.MessageBus) {
	if cfg.Channels.XMTP.Enabled {
		ch, err := xmtp.New(cfg.Channels.XMTP, msgBus)
		if err != nil {
			slog.Error("failed to initialize xmtp channel", "error", err)
		} else {
			mgr.RegisterChannel("xmtp", ch)
			slog.Info("xmtp channel enabled", "bridge_url", cfg.Channels.XMTP.BridgeURL)
		}
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		ch, err := telegram.New(cfg.Channels.Telegram, msgBus)
		if err != nil {
			slog.Error("failed to initialize telegram channel", "error", err)
		} else {
			mgr.RegisterChannel("telegram", ch)
			slog.Info("telegram channel enabled")
		}
	}

	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		ch, err := discord.New(cfg.Channels.Discord, msgBus)
		if err != nil {
			slog.Error("failed to initialize discord channel", "error", err)
		} else {
			mgr.RegisterChannel("discord", ch)
			slog.Info("discord channel enabled")
		}
	}
}
