package xmtp

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/betclaw/internal/bus"
)

// inbox holds inbound messages between the frame reader and the bus. The
// reader only appends, so request replies (sent, identity, error) are
// routed even while the bus is full and the consumer is itself waiting on
// one of those replies.
type inbox struct {
	mu     sync.Mutex
	items  []bus.InboundMessage
	notify chan struct{}
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

func (q *inbox) push(msg bus.InboundMessage) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// take removes and returns everything queued, oldest first.
func (q *inbox) take() []bus.InboundMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *inbox) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// forwardLoop publishes queued messages to the bus in arrival order until
// ctx is done. Messages still queued at that point are dropped.
func (c *Channel) forwardLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.inbox.notify:
		}

		batch := c.inbox.take()
		for i, msg := range batch {
			if err := c.HandleMessageContext(ctx, msg); err != nil {
				slog.Info("xmtp channel stopping, inbound messages dropped",
					"dropped", len(batch)-i+c.inbox.len(), "error", err)
				return
			}
		}
	}
}
