// Package protocol holds the wire names shared by the gateway event stream
// and the bet ledger.
package protocol

// ProtocolVersion is bumped when EventFrame or an event payload changes shape.
const ProtocolVersion = 1

// Bet lifecycle events. Payload is a ledger event.
const (
	EventBetProposed     = "bet.proposed"
	EventBetConfirmed    = "bet.confirmed"
	EventBetResolved     = "bet.resolved"
	EventBetInconclusive = "bet.inconclusive"
	EventBetExpired      = "bet.expired"
)

// Events pushed by the gateway itself.
const (
	EventHello    = "hello"
	EventShutdown = "shutdown"
)

// FrameTypeEvent is the only frame type the server pushes.
const FrameTypeEvent = "event"

// EventFrame is one message on the /ws stream.
type EventFrame struct {
	Type     string      `json:"type"`
	Event    string      `json:"event"`
	Payload  interface{} `json:"payload,omitempty"`
	Seq      uint64      `json:"seq,omitempty"`
	Protocol int         `json:"protocol,omitempty"`
}

// NewEvent builds an event frame.
func NewEvent(name string, payload interface{}) *EventFrame {
	return &EventFrame{Type: FrameTypeEvent, Event: name, Payload: payload}
}

// IsBetEvent reports whether name is one of the bet lifecycle events.
func IsBetEvent(name string) bool {
	switch name {
	case EventBetProposed, EventBetConfirmed, EventBetResolved, EventBetInconclusive, EventBetExpired:
		return true
	}
	return false
}
