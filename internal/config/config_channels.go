package config

// ChannelsConfig contains per-channel configuration.
type ChannelsConfig struct {
	XMTP     XMTPConfig     `json:"xmtp"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`

	// Outbound pacing per chat, shared by all channels.
	SendRate  float64 `json:"send_rate,omitempty"`  // messages per second (default 1)
	SendBurst int     `json:"send_burst,omitempty"` // default 5
}

// XMTPConfig connects to the XMTP bridge process over WebSocket.
type XMTPConfig struct {
	Enabled   bool                `json:"enabled"`
	BridgeURL string              `json:"bridge_url"` // e.g. "ws://127.0.0.1:3001/ws"
	Token     string              `json:"token,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allow_from"`
}

type TelegramConfig struct {
	Enabled   bool                `json:"enabled"`
	Token     string              `json:"token"`
	AllowFrom FlexibleStringSlice `json:"allow_from"`
}

type DiscordConfig struct {
	Enabled   bool                `json:"enabled"`
	Token     string              `json:"token"`
	AllowFrom FlexibleStringSlice `json:"allow_from"`
}
