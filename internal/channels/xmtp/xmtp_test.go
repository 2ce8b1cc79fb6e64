package xmtp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/betclaw/internal/bus"
	"github.com/nextlevelbuilder/betclaw/internal/config"
)

// fakeBridge answers send and resolve_identity frames and lets the test
// push frames to the connected channel.
type fakeBridge struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	conn     *websocket.Conn
	received []frame
	auth     string
	connCh   chan struct{}
}

func newFakeBridge(t *testing.T) *fakeBridge {
	b := &fakeBridge{t: t, connCh: make(chan struct{}, 1)}
	upgrader := websocket.Upgrader{}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conn = conn
		b.auth = r.Header.Get("Authorization")
		b.mu.Unlock()
		b.connCh <- struct{}{}
		b.serve(conn)
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBridge) url() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http")
}

func (b *fakeBridge) serve(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		b.mu.Lock()
		b.received = append(b.received, f)
		b.mu.Unlock()

		switch f.Type {
		case frameSend:
			if f.ConversationID == "missing" {
				b.push(frame{Type: frameError, RequestID: f.RequestID, Error: "conversation not found"})
				continue
			}
			b.push(frame{Type: frameSent, RequestID: f.RequestID, MessageID: "msg-" + f.ConversationID})
		case frameResolveIdentity:
			if f.InboxID == "ghost" {
				b.push(frame{Type: frameIdentity, RequestID: f.RequestID, InboxID: f.InboxID})
				continue
			}
			b.push(frame{Type: frameIdentity, RequestID: f.RequestID, InboxID: f.InboxID, Address: "0xABCDEF0000000000000000000000000000000001"})
		}
	}
}

func (b *fakeBridge) push(f frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, _ := json.Marshal(f)
	_ = b.conn.WriteMessage(websocket.TextMessage, data)
}

func (b *fakeBridge) frames(kind string) []frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []frame
	for _, f := range b.received {
		if f.Type == kind {
			out = append(out, f)
		}
	}
	return out
}

func startChannel(t *testing.T, b *fakeBridge, msgBus *bus.MessageBus) *Channel {
	t.Helper()
	ch, err := New(config.XMTPConfig{BridgeURL: b.url(), Token: "secret"}, msgBus)
	require.NoError(t, err)
	require.NoError(t, ch.Start(context.Background()))
	t.Cleanup(func() { _ = ch.Stop(context.Background()) })

	select {
	case <-b.connCh:
	case <-time.After(5 * time.Second):
		t.Fatal("bridge never saw a connection")
	}
	return ch
}

func TestNewRequiresBridgeURL(t *testing.T) {
	_, err := New(config.XMTPConfig{}, bus.New())
	assert.Error(t, err)
}

func TestSendReturnsMessageID(t *testing.T) {
	b := newFakeBridge(t)
	ch := startChannel(t, b, bus.New())

	id, err := ch.Send(context.Background(), bus.OutboundMessage{ChatID: "conv-1", Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "msg-conv-1", id)

	sends := b.frames(frameSend)
	require.Len(t, sends, 1)
	assert.Equal(t, bus.ContentText, sends[0].ContentType)
	assert.Equal(t, "hello", sends[0].Content)
	assert.NotEmpty(t, sends[0].RequestID)
	assert.Equal(t, "Bearer secret", b.auth)
	assert.Len(t, b.frames(frameSync), 1)
}

func TestSendWalletCallsCarriesFallback(t *testing.T) {
	b := newFakeBridge(t)
	ch := startChannel(t, b, bus.New())

	_, err := ch.Send(context.Background(), bus.OutboundMessage{
		ChatID:      "conv-2",
		Content:     `{"version":"1.0"}`,
		ContentType: bus.ContentWalletSendCalls,
		Fallback:    "Payment request",
	})
	require.NoError(t, err)

	sends := b.frames(frameSend)
	require.Len(t, sends, 1)
	assert.Equal(t, bus.ContentWalletSendCalls, sends[0].ContentType)
	assert.Equal(t, "Payment request", sends[0].Fallback)
}

func TestSendBridgeError(t *testing.T) {
	b := newFakeBridge(t)
	ch := startChannel(t, b, bus.New())

	_, err := ch.Send(context.Background(), bus.OutboundMessage{ChatID: "missing", Content: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conversation not found")
}

func TestResolveIdentity(t *testing.T) {
	b := newFakeBridge(t)
	ch := startChannel(t, b, bus.New())

	addr, err := ch.ResolveIdentity(context.Background(), "inbox-1")
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", addr)

	_, err = ch.ResolveIdentity(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestRequestTimesOutWhenBridgeSilent(t *testing.T) {
	b := newFakeBridge(t)
	ch := startChannel(t, b, bus.New())
	ch.requestTimeout = 50 * time.Millisecond

	// The fake bridge ignores unknown frame types.
	_, err := ch.request(context.Background(), frame{Type: "ping"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestReadyAndInboundMessage(t *testing.T) {
	b := newFakeBridge(t)
	msgBus := bus.New()
	ch := startChannel(t, b, msgBus)

	b.push(frame{Type: frameReady, InboxID: "agent-inbox", Address: "0xAAAA000000000000000000000000000000000000"})
	b.push(frame{
		Type:           frameMessage,
		ID:             "m1",
		ConversationID: "conv-9",
		SenderInboxID:  "alice-inbox",
		Content:        "bet you 5 USDC",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, ok := msgBus.ConsumeInbound(ctx)
	require.True(t, ok)

	assert.Equal(t, "xmtp", msg.Channel)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "conv-9", msg.ChatID)
	assert.Equal(t, "alice-inbox", msg.SenderID)
	assert.Equal(t, bus.ContentText, msg.ContentType)
	assert.Equal(t, "group", msg.PeerKind)

	// The ready frame is handled before the message frame on the same connection.
	assert.Equal(t, "agent-inbox", ch.SelfID())
	assert.Equal(t, "0xaaaa000000000000000000000000000000000000", ch.Address())
}

func TestStopFailsWithoutBridge(t *testing.T) {
	ch, err := New(config.XMTPConfig{BridgeURL: "ws://127.0.0.1:1/ws"}, bus.New())
	require.NoError(t, err)
	require.NoError(t, ch.Start(context.Background()))

	_, err = ch.Send(context.Background(), bus.OutboundMessage{ChatID: "c", Content: "x"})
	assert.ErrorIs(t, err, errNotConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, ch.Stop(ctx))
	assert.False(t, ch.IsRunning())
}

func TestRepliesRoutedWhileBusFull(t *testing.T) {
	b := newFakeBridge(t)
	msgBus := bus.NewWithBuffer(1)
	ch := startChannel(t, b, msgBus)
	ch.requestTimeout = 2 * time.Second

	for _, id := range []string{"m1", "m2", "m3"} {
		b.push(frame{Type: frameMessage, ID: id, ConversationID: "conv-1", SenderInboxID: "alice-inbox", Content: id})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	first, ok := msgBus.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "m1", first.ID)

	// The bus is full again; the reader must still deliver the reply.
	start := time.Now()
	addr, err := ch.ResolveIdentity(ctx, "alice-inbox")
	require.NoError(t, err)
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", addr)
	assert.Less(t, time.Since(start), time.Second)

	_, err = ch.Send(ctx, bus.OutboundMessage{ChatID: "conv-1", Content: "pending bet"})
	require.NoError(t, err)

	for _, want := range []string{"m2", "m3"} {
		msg, ok := msgBus.ConsumeInbound(ctx)
		require.True(t, ok)
		assert.Equal(t, want, msg.ID)
	}
}

func TestStopWhileBusFull(t *testing.T) {
	b := newFakeBridge(t)
	msgBus := bus.NewWithBuffer(1)
	ch, err := New(config.XMTPConfig{BridgeURL: b.url()}, msgBus)
	require.NoError(t, err)
	require.NoError(t, ch.Start(context.Background()))
	<-b.connCh

	for _, id := range []string{"m1", "m2", "m3"} {
		b.push(frame{Type: frameMessage, ID: id, ConversationID: "conv-1", SenderInboxID: "alice-inbox"})
	}
	// Let the forwarder block on the full bus.
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, ch.Stop(ctx))
}
