package bus

import "context"

// Content types carried by inbound and outbound messages.
const (
	ContentText            = "text"
	ContentWalletSendCalls = "wallet_send_calls"
)

// InboundMessage represents a message received from a channel (XMTP, Telegram, Discord).
type InboundMessage struct {
	ID          string            `json:"id"`                     // transport message id, used for dedup
	Channel     string            `json:"channel"`
	SenderID    string            `json:"sender_id"`
	ChatID      string            `json:"chat_id"`
	Content     string            `json:"content"`
	ContentType string            `json:"content_type,omitempty"` // empty means text
	PeerKind    string            `json:"peer_kind,omitempty"`    // "direct" or "group"
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// IsText reports whether the message carries plain text.
func (m InboundMessage) IsText() bool {
	return m.ContentType == "" || m.ContentType == ContentText
}

// OutboundMessage represents a message to be sent to a channel.
type OutboundMessage struct {
	Channel     string            `json:"channel"`
	ChatID      string            `json:"chat_id"`
	Content     string            `json:"content"`
	ContentType string            `json:"content_type,omitempty"` // ContentText when empty
	Fallback    string            `json:"fallback,omitempty"`     // text for channels without ContentType support
	Metadata    map[string]string `json:"metadata,omitempty"`     // channel-specific metadata
}

// Text returns the message content as plain text, using Fallback for
// structured payloads.
func (m OutboundMessage) Text() string {
	if m.ContentType == "" || m.ContentType == ContentText || m.Fallback == "" {
		return m.Content
	}
	return m.Fallback
}

// Event represents a server-side event to broadcast to WebSocket clients.
type Event struct {
	Name    string      `json:"name"` // event name (e.g. "bet.proposed", "health")
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the gateway server and the bet ledger to decouple from the concrete MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// MessageRouter abstracts inbound message routing between channels and the orchestrator.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
}
