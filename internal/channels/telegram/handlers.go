package telegram

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/betclaw/internal/bus"
	"github.com/nextlevelbuilder/betclaw/internal/channels"
)

// handleMessage processes an incoming Telegram message.
func (c *Channel) handleMessage(message *telego.Message) {
	// Skip service messages (member added/removed, title changed, etc.).
	if isServiceMessage(message) {
		slog.Debug("telegram service message skipped", "chat_id", message.Chat.ID)
		return
	}

	user := message.From
	if user == nil || user.IsBot {
		return
	}

	senderID := senderKey(user.ID, user.Username)
	isGroup := message.Chat.Type == "group" || message.Chat.Type == "supergroup"
	peerKind := "direct"
	if isGroup {
		peerKind = "group"
	}

	content := message.Text
	contentType := bus.ContentText
	if content == "" {
		// Captions ride on media; the orchestrator only reads plain text.
		content = message.Caption
		contentType = "media"
	}

	slog.Debug("telegram message received",
		"chat_type", message.Chat.Type,
		"chat_id", message.Chat.ID,
		"sender_id", senderID,
		"preview", channels.Truncate(content, 60),
	)

	c.HandleMessage(bus.InboundMessage{
		ID:          messageKey(message.Chat.ID, message.MessageID),
		SenderID:    senderID,
		ChatID:      strconv.FormatInt(message.Chat.ID, 10),
		Content:     content,
		ContentType: contentType,
		PeerKind:    peerKind,
		Metadata: map[string]string{
			"user_id":    strconv.FormatInt(user.ID, 10),
			"username":   user.Username,
			"first_name": user.FirstName,
		},
	})
}

// senderKey builds the compound sender id "123456|username" the allowlist
// understands, or just the numeric id.
func senderKey(userID int64, username string) string {
	id := strconv.FormatInt(userID, 10)
	if username == "" {
		return id
	}
	return id + "|" + username
}

func participantID(senderID string) (string, error) {
	if senderID == "" {
		return "", fmt.Errorf("empty sender id")
	}
	idPart, username, found := strings.Cut(senderID, "|")
	if found && username != "" {
		return "@" + username, nil
	}
	return idPart, nil
}

// isServiceMessage returns true when the message carries no user content.
func isServiceMessage(msg *telego.Message) bool {
	// Has text or caption → user message
	if msg.Text != "" || msg.Caption != "" {
		return false
	}

	// Has media → user message (photo, audio, video, document, sticker, etc.)
	if msg.Photo != nil || msg.Audio != nil || msg.Video != nil ||
		msg.Document != nil || msg.Voice != nil || msg.VideoNote != nil ||
		msg.Sticker != nil || msg.Animation != nil || msg.Contact != nil ||
		msg.Location != nil || msg.Venue != nil || msg.Poll != nil {
		return false
	}

	return true
}

// messageKey is the transport id of a Telegram message. Message ids are
// only unique within a chat.
func messageKey(chatID int64, messageID int) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}
