package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/betclaw/internal/bus"
	"github.com/nextlevelbuilder/betclaw/internal/channels"
	"github.com/nextlevelbuilder/betclaw/internal/config"
)

const maxMessageLen = 4096

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	config     config.TelegramConfig
	pollCancel context.CancelFunc // cancels the long polling context
	pollDone   chan struct{}      // closed when polling goroutine exits
}

// New creates a new Telegram channel from config.
func New(cfg config.TelegramConfig, msgBus *bus.MessageBus, opts ...telego.BotOption) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", msgBus, cfg.AllowFrom),
		bot:         bot,
		config:      cfg,
	}, nil
}

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)")

	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("fetch telegram bot identity: %w", err)
	}
	c.SetSelfID(senderKey(me.ID, me.Username))

	// Stop() cancels this context to cleanly shut down long polling.
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", me.Username)

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(update.Message)
				} else {
					slog.Debug("telegram update skipped (no message)", "update_id", update.UpdateID)
				}
			}
		}
	}()

	return nil
}

// Stop shuts down the Telegram bot by cancelling the long polling context
// and waiting for the polling goroutine to exit.
func (c *Channel) Stop(ctx context.Context) error {
	slog.Info("stopping telegram bot")
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}

	// Telegram releases the getUpdates lock only after the poller exits.
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			slog.Info("telegram bot stopped")
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}

	return nil
}

// Send delivers the text rendering of msg, split at Telegram's length limit.
// Only the id of the first chunk is returned, in the same "chat:message"
// form as inbound ids; the ids of later chunks are not reported, so only the
// first reaches the seen-set. Bots never receive
// their own messages, so the rest cannot come back as events. Structured
// content falls back to its text form.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) (string, error) {
	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return "", fmt.Errorf("invalid telegram chat id %q: %w", msg.ChatID, err)
	}

	var firstID string
	for _, chunk := range channels.SplitMessage(msg.Text(), maxMessageLen) {
		sent, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk))
		if err != nil {
			return firstID, fmt.Errorf("send telegram message: %w", err)
		}
		if firstID == "" {
			firstID = messageKey(chatID, sent.MessageID)
		}
	}
	return firstID, nil
}

// ResolveIdentity turns a "id|username" sender into "@username", or the
// numeric id when the user has no username.
func (c *Channel) ResolveIdentity(_ context.Context, senderID string) (string, error) {
	return participantID(senderID)
}

// parseChatID converts a string chat ID to int64.
func parseChatID(chatIDStr string) (int64, error) {
	return strconv.ParseInt(chatIDStr, 10, 64)
}
