// Package xmtp connects the agent to XMTP group chats through a bridge
// process that runs the XMTP client and speaks JSON frames over WebSocket.
package xmtp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/betclaw/internal/bus"
	"github.com/nextlevelbuilder/betclaw/internal/channels"
	"github.com/nextlevelbuilder/betclaw/internal/config"
)

const defaultRequestTimeout = 15 * time.Second

var errNotConnected = errors.New("xmtp bridge not connected")

// Channel connects to an XMTP bridge via WebSocket.
// The bridge handles the XMTP protocol, key storage and wallet content
// types; this channel just sends/receives JSON frames over WS.
type Channel struct {
	*channels.BaseChannel
	config         config.XMTPConfig
	requestTimeout time.Duration

	mu        sync.Mutex // guards conn and address
	conn      *websocket.Conn
	address   string
	writeMu   sync.Mutex
	pendingMu sync.Mutex
	pending   map[string]chan frame
	inbox     *inbox

	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{} // listenLoop exited
	forwardDone chan struct{} // forwardLoop exited
}

// New creates a new XMTP channel from config.
func New(cfg config.XMTPConfig, msgBus *bus.MessageBus) (*Channel, error) {
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("xmtp bridge_url is required")
	}

	return &Channel{
		BaseChannel:    channels.NewBaseChannel("xmtp", msgBus, cfg.AllowFrom),
		config:         cfg,
		requestTimeout: defaultRequestTimeout,
		pending:        make(map[string]chan frame),
		inbox:          newInbox(),
	}, nil
}

// Start connects to the bridge WebSocket and begins listening.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting xmtp channel", "bridge_url", c.config.BridgeURL)

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.forwardDone = make(chan struct{})

	if err := c.connect(); err != nil {
		// The reconnect loop keeps trying.
		slog.Warn("initial xmtp bridge connection failed, will retry", "error", err)
	}

	go c.listenLoop()
	go c.forwardLoop(c.ctx, c.forwardDone)

	c.SetRunning(true)
	return nil
}

// Stop closes the bridge connection and waits for the reader and the
// inbound forwarder to exit.
func (c *Channel) Stop(ctx context.Context) error {
	slog.Info("stopping xmtp channel")

	if c.cancel != nil {
		c.cancel()
	}
	c.dropConn(errors.New("channel stopped"))
	c.SetRunning(false)

	for _, done := range []chan struct{}{c.done, c.forwardDone} {
		if done == nil {
			continue
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Address returns the agent's wallet address as reported by the bridge.
func (c *Channel) Address() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.address
}

// Send delivers an outbound message and returns the XMTP message id.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) (string, error) {
	contentType := msg.ContentType
	if contentType == "" {
		contentType = bus.ContentText
	}
	reply, err := c.request(ctx, frame{
		Type:           frameSend,
		ConversationID: msg.ChatID,
		ContentType:    contentType,
		Content:        msg.Content,
		Fallback:       msg.Fallback,
	})
	if err != nil {
		return "", fmt.Errorf("xmtp send: %w", err)
	}
	if reply.MessageID == "" {
		return "", fmt.Errorf("xmtp send: bridge returned no message id")
	}
	return reply.MessageID, nil
}

// ResolveIdentity maps an inbox id to the wallet address that owns it.
func (c *Channel) ResolveIdentity(ctx context.Context, inboxID string) (string, error) {
	reply, err := c.request(ctx, frame{Type: frameResolveIdentity, InboxID: inboxID})
	if err != nil {
		return "", err
	}
	if reply.Address == "" {
		return "", fmt.Errorf("inbox %s has no address", inboxID)
	}
	return strings.ToLower(reply.Address), nil
}

// request writes f with a fresh request id and waits for the matching reply.
func (c *Channel) request(ctx context.Context, f frame) (frame, error) {
	f.RequestID = uuid.NewString()
	ch := make(chan frame, 1)

	c.pendingMu.Lock()
	c.pending[f.RequestID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, f.RequestID)
		c.pendingMu.Unlock()
	}()

	if err := c.write(f); err != nil {
		return frame{}, err
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		if reply.Type == frameError {
			return frame{}, fmt.Errorf("bridge: %s", reply.Error)
		}
		return reply, nil
	case <-timer.C:
		return frame{}, fmt.Errorf("bridge request %s timed out", f.Type)
	case <-ctx.Done():
		return frame{}, ctx.Err()
	}
}

func (c *Channel) write(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal xmtp frame: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write xmtp frame: %w", err)
	}
	return nil
}

// connect establishes the WebSocket connection to the bridge and asks it
// to sync conversations.
func (c *Channel) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	header := http.Header{}
	if c.config.Token != "" {
		header.Set("Authorization", "Bearer "+c.config.Token)
	}

	conn, _, err := dialer.DialContext(c.ctx, c.config.BridgeURL, header)
	if err != nil {
		return fmt.Errorf("dial xmtp bridge %s: %w", c.config.BridgeURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	slog.Info("xmtp bridge connected", "url", c.config.BridgeURL)
	return c.write(frame{Type: frameSync})
}

// dropConn closes the current connection and fails every waiting request.
func (c *Channel) dropConn(reason error) {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		select {
		case ch <- frame{Type: frameError, RequestID: id, Error: reason.Error()}:
		default:
		}
	}
	c.pendingMu.Unlock()
}

// listenLoop reads frames from the bridge with automatic reconnection.
func (c *Channel) listenLoop() {
	defer close(c.done)
	backoff := time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			// Not connected; reconnect with backoff.
			slog.Info("attempting xmtp bridge reconnect", "backoff", backoff)

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := c.connect(); err != nil {
				slog.Warn("xmtp bridge reconnect failed", "error", err)
				backoff = min(backoff*2, 30*time.Second)
				continue
			}

			backoff = time.Second // reset on success
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				slog.Warn("xmtp read error, will reconnect", "error", err)
			}
			c.dropConn(fmt.Errorf("bridge connection lost: %w", err))
			continue
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("invalid xmtp frame JSON", "error", err)
			continue
		}
		c.handleFrame(f)
	}
}

func (c *Channel) handleFrame(f frame) {
	switch f.Type {
	case frameMessage:
		c.handleIncomingMessage(f)

	case frameReady:
		c.SetSelfID(f.InboxID)
		c.mu.Lock()
		c.address = strings.ToLower(f.Address)
		c.mu.Unlock()
		slog.Info("xmtp client ready", "inbox_id", f.InboxID, "address", f.Address)

	case frameSent, frameIdentity, frameError:
		if f.RequestID == "" {
			slog.Warn("xmtp bridge error", "error", f.Error)
			return
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[f.RequestID]
		c.pendingMu.Unlock()
		if !ok {
			slog.Debug("xmtp reply for unknown request", "request_id", f.RequestID, "type", f.Type)
			return
		}
		select {
		case ch <- f:
		default:
		}

	default:
		slog.Debug("ignoring xmtp frame", "type", f.Type)
	}
}

// handleIncomingMessage queues a bridge message frame for the bus.
// Expected format: {"type":"message","id":"...","conversation_id":"...","sender_inbox_id":"...","content_type":"text","content":"..."}
func (c *Channel) handleIncomingMessage(f frame) {
	if f.ID == "" || f.ConversationID == "" || f.SenderInboxID == "" {
		slog.Debug("xmtp message missing ids", "id", f.ID, "conversation_id", f.ConversationID)
		return
	}

	peerKind := "group"
	if f.ConversationKind == "dm" {
		peerKind = "direct"
	}

	contentType := f.ContentType
	if contentType == "" {
		contentType = bus.ContentText
	}

	slog.Debug("xmtp message received",
		"sender_id", f.SenderInboxID,
		"chat_id", f.ConversationID,
		"content_type", contentType,
		"preview", channels.Truncate(f.Content, 50),
	)

	c.inbox.push(bus.InboundMessage{
		ID:          f.ID,
		SenderID:    f.SenderInboxID,
		ChatID:      f.ConversationID,
		Content:     f.Content,
		ContentType: contentType,
		PeerKind:    peerKind,
	})
}
