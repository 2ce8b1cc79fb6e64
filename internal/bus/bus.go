package bus

import (
	"context"
	"log/slog"
	"sync"
)

const defaultInboundBuffer = 256

// MessageBus carries inbound channel messages to the consumer loop and
// fans broadcast events out to subscribers.
type MessageBus struct {
	inbound chan InboundMessage

	mu          sync.RWMutex
	subscribers map[string]EventHandler
}

// New creates a MessageBus with the default inbound buffer.
func New() *MessageBus {
	return NewWithBuffer(defaultInboundBuffer)
}

// NewWithBuffer creates a MessageBus whose inbound queue holds size messages.
func NewWithBuffer(size int) *MessageBus {
	if size <= 0 {
		size = defaultInboundBuffer
	}
	return &MessageBus{
		inbound:     make(chan InboundMessage, size),
		subscribers: make(map[string]EventHandler),
	}
}

// PublishInbound enqueues a message for the consumer. It blocks while the
// queue is full so stream order is preserved.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

// PublishInboundContext is PublishInbound that gives up when ctx is done.
func (b *MessageBus) PublishInboundContext(ctx context.Context, msg InboundMessage) error {
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeInbound returns the next inbound message, or false once ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// Subscribe registers handler under id, replacing any previous handler.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = handler
}

// Unsubscribe removes the handler registered under id.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Broadcast delivers event to every subscriber synchronously. A panicking
// handler is logged and does not affect the others.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subscribers))
	for _, h := range b.subscribers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("event handler panic", "event", event.Name, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
