package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/betclaw/internal/bus"
	"github.com/nextlevelbuilder/betclaw/internal/channels"
	"github.com/nextlevelbuilder/betclaw/internal/config"
)

const maxMessageLen = 2000

// Channel connects to Discord via the Bot API using gateway events.
type Channel struct {
	*channels.BaseChannel
	session   *discordgo.Session
	config    config.DiscordConfig
	botUserID string // populated on start
}

// New creates a new Discord channel from config.
func New(cfg config.DiscordConfig, msgBus *bus.MessageBus) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	// Request necessary intents
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", msgBus, cfg.AllowFrom),
		session:     session,
		config:      cfg,
	}, nil
}

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting discord bot")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	// Fetch bot identity
	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID
	c.SetSelfID(user.ID + "|" + user.Username)

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)

	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	return c.session.Close()
}

// Send delivers the text rendering of msg, chunked to Discord's limit. Only
// the id of the first chunk is returned; later chunk ids are not reported.
// Own messages are filtered by author on receive, so they never need a
// seen-set entry.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) (string, error) {
	if !c.IsRunning() {
		return "", fmt.Errorf("discord bot not running")
	}

	channelID := msg.ChatID
	if channelID == "" {
		return "", fmt.Errorf("empty chat ID for discord send")
	}

	var firstID string
	for _, chunk := range channels.SplitMessage(msg.Text(), maxMessageLen) {
		sent, err := c.session.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx))
		if err != nil {
			return firstID, fmt.Errorf("send discord message: %w", err)
		}
		if firstID == "" {
			firstID = sent.ID
		}
	}
	return firstID, nil
}

// ResolveIdentity maps a "id|username" sender to the Discord username.
func (c *Channel) ResolveIdentity(_ context.Context, senderID string) (string, error) {
	id, username, _ := strings.Cut(senderID, "|")
	if username != "" {
		return username, nil
	}
	if id == "" {
		return "", fmt.Errorf("empty sender id")
	}
	return "", fmt.Errorf("discord user %s has no username", id)
}

// handleMessage processes incoming Discord messages.
func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore bot's own messages
	if m.Author == nil || m.Author.ID == c.botUserID {
		return
	}

	// Ignore bot messages
	if m.Author.Bot {
		return
	}

	senderID := m.Author.ID + "|" + m.Author.Username
	peerKind := "group"
	if m.GuildID == "" {
		peerKind = "direct"
	}

	contentType := bus.ContentText
	if m.Content == "" && len(m.Attachments) > 0 {
		contentType = "attachment"
	}

	slog.Debug("discord message received",
		"sender_id", senderID,
		"channel_id", m.ChannelID,
		"preview", channels.Truncate(m.Content, 50),
	)

	c.HandleMessage(bus.InboundMessage{
		ID:          m.ID,
		SenderID:    senderID,
		ChatID:      m.ChannelID,
		Content:     m.Content,
		ContentType: contentType,
		PeerKind:    peerKind,
		Metadata: map[string]string{
			"guild_id":     m.GuildID,
			"display_name": resolveDisplayName(m),
		},
	})
}

func resolveDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
