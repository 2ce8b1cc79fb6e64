// Package ledger records bet lifecycle events to write-only sinks.
// Nothing in the agent reads the ledger back; state lives in memory.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nextlevelbuilder/betclaw/internal/bets"
	"github.com/nextlevelbuilder/betclaw/pkg/protocol"
)

// EventType names a bet transition.
type EventType string

const (
	EventProposed     EventType = protocol.EventBetProposed
	EventConfirmed    EventType = protocol.EventBetConfirmed
	EventResolved     EventType = protocol.EventBetResolved
	EventInconclusive EventType = protocol.EventBetInconclusive
	EventExpired      EventType = protocol.EventBetExpired
)

// Event is one ledger row.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	BetID     string          `json:"betId"`
	Channel   string          `json:"channel"`
	ChatID    string          `json:"chatId"`
	Amount    decimal.Decimal `json:"amount"`
	Condition string          `json:"condition"`
	Maker     string          `json:"maker"`
	Taker     string          `json:"taker"`
	Winner    string          `json:"winner,omitempty"`
	Details   string          `json:"details,omitempty"`
	// Payment fields are set on bet.resolved when a payment request was built.
	PaymentAmount  string    `json:"paymentAmount,omitempty"` // minor units
	PaymentNetwork string    `json:"paymentNetwork,omitempty"`
	At             time.Time `json:"at"`
}

// NewEvent builds an event for bet in the given conversation.
func NewEvent(typ EventType, betID, channel, chatID string, bet bets.Bet) Event {
	return Event{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Type:      typ,
		BetID:     betID,
		Channel:   channel,
		ChatID:    chatID,
		Amount:    bet.Amount,
		Condition: bet.Condition,
		Maker:     bet.Maker,
		Taker:     bet.Taker,
		At:        time.Now().UTC(),
	}
}

func (e Event) marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal ledger event %s: %w", e.ID, err)
	}
	return data, nil
}

// Sink receives ledger events.
type Sink interface {
	Name() string
	Record(ctx context.Context, e Event) error
	Close() error
}

// Multi fans every event out to all of its sinks.
type Multi struct {
	sinks []Sink
}

// NewMulti creates a fan-out over sinks; nil entries are skipped.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *Multi) Name() string { return "multi" }

// Add appends a sink.
func (m *Multi) Add(s Sink) {
	if s != nil {
		m.sinks = append(m.sinks, s)
	}
}

// Len returns the number of sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Record writes e to every sink. A failing sink does not stop the others;
// all failures are joined into the returned error.
func (m *Multi) Record(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			slog.Warn("ledger sink close failed", "sink", s.Name(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
