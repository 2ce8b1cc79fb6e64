// Package channels provides the channel abstraction layer for group messaging.
// Channels connect external networks (XMTP, Telegram, Discord) to the bet
// orchestrator via the message bus, and deliver its replies back.
package channels

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/betclaw/internal/bus"
)

// ErrIdentityUnresolved is returned when a sender cannot be mapped to a
// participant identifier.
var ErrIdentityUnresolved = errors.New("sender identity unresolved")

// Channel defines the interface that all channel implementations must satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g., "xmtp", "telegram", "discord").
	Name() string

	// Start begins listening for messages. Should be non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message and returns the id the network
	// assigned to it. A transport that splits a message returns only the
	// first part's id.
	Send(ctx context.Context, msg bus.OutboundMessage) (string, error)

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool

	// IsAllowed checks if a sender is permitted by the channel's allowlist.
	IsAllowed(senderID string) bool

	// SelfID returns the agent's own sender id on this network, empty until known.
	SelfID() string
}

// IdentityResolver is implemented by channels whose sender ids are not the
// participant identifiers used in bets (XMTP inbox ids map to wallet addresses).
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, senderID string) (string, error)
}

// BaseChannel provides shared functionality for all channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowList []string

	mu      sync.RWMutex
	running bool
	selfID  string
}

// NewBaseChannel creates a new BaseChannel with the given parameters.
func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		bus:       msgBus,
		allowList: allowList,
	}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) {
	c.mu.Lock()
	c.running = running
	c.mu.Unlock()
}

// SelfID returns the agent's own sender id.
func (c *BaseChannel) SelfID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selfID
}

// SetSelfID records the agent's own sender id once the network reports it.
func (c *BaseChannel) SetSelfID(id string) {
	c.mu.Lock()
	c.selfID = id
	c.mu.Unlock()
}

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// IsAllowed checks if a sender is permitted by the allowlist.
// Supports compound senderID format: "123456|username".
// Empty allowlist means all senders are allowed.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	// Extract parts from compound senderID like "123456|username"
	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		if senderID == allowed || senderID == trimmed ||
			idPart == allowed || idPart == trimmed ||
			(userPart != "" && (userPart == allowed || userPart == trimmed)) ||
			(strings.HasPrefix(trimmed, "0x") && strings.EqualFold(senderID, trimmed)) {
			return true
		}
	}

	return false
}

// HandleMessage publishes an inbound message to the bus when the sender is allowed.
// peerKind should be "direct" or "group".
func (c *BaseChannel) HandleMessage(msg bus.InboundMessage) {
	if !c.IsAllowed(msg.SenderID) {
		return
	}
	msg.Channel = c.name
	c.bus.PublishInbound(msg)
}

// HandleMessageContext is HandleMessage for callers that must not block
// past ctx. It returns ctx's error if the message could not be queued.
func (c *BaseChannel) HandleMessageContext(ctx context.Context, msg bus.InboundMessage) error {
	if !c.IsAllowed(msg.SenderID) {
		return nil
	}
	msg.Channel = c.name
	return c.bus.PublishInboundContext(ctx, msg)
}

// Truncate shortens s to at most width display cells, appending "..." if truncated.
func Truncate(s string, width int) string {
	return runewidth.Truncate(s, width, "...")
}

// SplitMessage breaks content into chunks of at most maxLen bytes,
// preferring to cut after a newline in the second half of a chunk.
func SplitMessage(content string, maxLen int) []string {
	if maxLen <= 0 || len(content) <= maxLen {
		return []string{content}
	}

	var chunks []string
	for len(content) > 0 {
		if len(content) <= maxLen {
			chunks = append(chunks, content)
			break
		}
		cutAt := maxLen
		if idx := strings.LastIndexByte(content[:maxLen], '\n'); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, content[:cutAt])
		content = content[cutAt:]
	}
	return chunks
}
