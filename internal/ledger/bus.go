package ledger

import (
	"context"

	"github.com/nextlevelbuilder/betclaw/internal/bus"
)

// BusSink broadcasts events to in-process subscribers such as the
// gateway's WebSocket stream.
type BusSink struct {
	publisher bus.EventPublisher
}

func NewBusSink(publisher bus.EventPublisher) *BusSink {
	return &BusSink{publisher: publisher}
}

func (s *BusSink) Name() string { return "bus" }

func (s *BusSink) Record(_ context.Context, e Event) error {
	s.publisher.Broadcast(bus.Event{Name: string(e.Type), Payload: e})
	return nil
}

func (s *BusSink) Close() error { return nil }
