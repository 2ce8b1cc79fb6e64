package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/betclaw/internal/bus"
	"github.com/nextlevelbuilder/betclaw/pkg/protocol"
)

const (
	clientBuffer = 64
	writeTimeout = 10 * time.Second
)

// client is one /ws subscriber. Frames are queued by the bus handler and
// written by run; a slow reader loses frames rather than stalling the bus.
type client struct {
	id   string
	conn *websocket.Conn
	send chan *protocol.EventFrame
	seq  atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan *protocol.EventFrame, clientBuffer),
		done: make(chan struct{}),
	}
}

func (c *client) enqueue(f *protocol.EventFrame) {
	select {
	case c.send <- f:
	default:
		slog.Warn("stream client too slow, event dropped", "client", c.id, "event", f.Event)
	}
}

func (c *client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *client) write(ctx context.Context, f *protocol.EventFrame) error {
	f.Seq = c.seq.Add(1)
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.conn, f)
}

// run writes queued frames until the peer goes away, ctx ends or the server
// shuts the client down.
func (c *client) run(ctx context.Context) {
	ctx = c.conn.CloseRead(ctx)

	hello := protocol.NewEvent(protocol.EventHello, map[string]string{"client": c.id})
	hello.Protocol = protocol.ProtocolVersion
	if err := c.write(ctx, hello); err != nil {
		slog.Debug("stream hello failed", "client", c.id, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			c.write(ctx, protocol.NewEvent(protocol.EventShutdown, nil))
			c.conn.Close(websocket.StatusGoingAway, "server shutdown")
			return
		case f := <-c.send:
			if err := c.write(ctx, f); err != nil {
				slog.Debug("stream write failed", "client", c.id, "error", err)
				return
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	// Origin was checked above against the configured allowlist.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(conn)
	s.registerClient(c)
	defer func() {
		s.unregisterClient(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.run(r.Context())
}

func (s *Server) registerClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c

	s.eventPub.Subscribe(c.id, func(event bus.Event) {
		if !protocol.IsBetEvent(event.Name) {
			return
		}
		c.enqueue(protocol.NewEvent(event.Name, event.Payload))
	})

	slog.Info("stream client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	s.eventPub.Unsubscribe(c.id)
	slog.Info("stream client disconnected", "id", c.id)
}

func (s *Server) closeClients() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		c.shutdown()
	}
}
