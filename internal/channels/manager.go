package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/betclaw/internal/bus"
)

// Manager manages all registered channels, handling their lifecycle
// and routing outbound messages to the correct channel.
type Manager struct {
	channels   map[string]Channel
	limiter    *SendLimiter
	identities *IdentityCache
	mu         sync.RWMutex
}

// NewManager creates a new channel manager. Channels publish inbound
// messages through their own BaseChannel bus and are registered externally
// via RegisterChannel. A nil limiter sends without pacing.
func NewManager(limiter *SendLimiter) *Manager {
	if limiter == nil {
		limiter = NewSendLimiter(0, 1)
	}
	return &Manager{
		channels:   make(map[string]Channel),
		limiter:    limiter,
		identities: NewIdentityCache(),
	}
}

// StartAll starts all registered channels.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.channels) == 0 {
		slog.Warn("no channels enabled")
		return nil
	}

	slog.Info("starting all channels")

	for name, channel := range m.channels {
		slog.Info("starting channel", "channel", name)
		if err := channel.Start(ctx); err != nil {
			slog.Error("failed to start channel", "channel", name, "error", err)
		}
	}

	slog.Info("all channels started")
	return nil
}

// StopAll gracefully stops all channels.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slog.Info("stopping all channels")

	for name, channel := range m.channels {
		slog.Info("stopping channel", "channel", name)
		if err := channel.Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", name, "error", err)
		}
	}

	slog.Info("all channels stopped")
	return nil
}

// GetChannel returns a channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channel, ok := m.channels[name]
	return channel, ok
}

// GetEnabledChannels returns the names of all enabled channels, sorted.
func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterChannel adds a channel to the manager.
func (m *Manager) RegisterChannel(name string, channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = channel
}

// Send delivers msg through its channel, paced per chat, and returns the
// sent message id. Sends are not retried.
func (m *Manager) Send(ctx context.Context, msg bus.OutboundMessage) (string, error) {
	channel, ok := m.GetChannel(msg.Channel)
	if !ok {
		return "", fmt.Errorf("channel %s not found", msg.Channel)
	}
	if err := m.limiter.Wait(ctx, msg.Channel+":"+msg.ChatID); err != nil {
		return "", fmt.Errorf("%s: send paced out: %w", msg.Channel, err)
	}
	return channel.Send(ctx, msg)
}

// SelfID returns the agent's own sender id on the named channel.
func (m *Manager) SelfID(channelName string) string {
	channel, ok := m.GetChannel(channelName)
	if !ok {
		return ""
	}
	return channel.SelfID()
}

// ResolveParticipant maps a sender on the named channel to its participant
// identifier, caching the result.
func (m *Manager) ResolveParticipant(ctx context.Context, channelName, senderID string) (string, error) {
	channel, ok := m.GetChannel(channelName)
	if !ok {
		return "", fmt.Errorf("%w: channel %s not found", ErrIdentityUnresolved, channelName)
	}
	return m.identities.Resolve(ctx, channel, senderID)
}
