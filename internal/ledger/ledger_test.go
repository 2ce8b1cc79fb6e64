package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/betclaw/internal/bets"
	"github.com/nextlevelbuilder/betclaw/internal/bus"
)

var sampleBet = bets.Bet{
	Amount:    decimal.RequireFromString("5"),
	Condition: "it rains in Lisbon tomorrow",
	Maker:     "@alice",
	Taker:     "@bob",
}

type recordingSink struct {
	name   string
	err    error
	events []Event
	closed bool
}

func (r *recordingSink) Name() string { return r.name }
func (r *recordingSink) Record(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return r.err
}
func (r *recordingSink) Close() error { r.closed = true; return nil }

func TestNewEvent(t *testing.T) {
	e := NewEvent(EventProposed, "bet-1", "telegram", "-100", sampleBet)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, EventProposed, e.Type)
	assert.Equal(t, "bet-1", e.BetID)
	assert.True(t, e.Amount.Equal(sampleBet.Amount))
	assert.Equal(t, "@alice", e.Maker)
	assert.False(t, e.At.IsZero())

	other := NewEvent(EventProposed, "bet-1", "telegram", "-100", sampleBet)
	assert.NotEqual(t, e.ID, other.ID)
}

func TestMultiFansOutAndJoinsErrors(t *testing.T) {
	ok := &recordingSink{name: "ok"}
	bad := &recordingSink{name: "bad", err: errors.New("down")}
	m := NewMulti(ok, nil, bad)
	require.Equal(t, 2, m.Len())

	err := m.Record(context.Background(), NewEvent(EventConfirmed, "b", "xmtp", "c", sampleBet))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Len(t, ok.events, 1)
	assert.Len(t, bad.events, 1)

	require.NoError(t, m.Close())
	assert.True(t, ok.closed)
	assert.True(t, bad.closed)
}

func TestBusSinkBroadcasts(t *testing.T) {
	msgBus := bus.New()
	var got []bus.Event
	msgBus.Subscribe("test", func(e bus.Event) { got = append(got, e) })

	sink := NewBusSink(msgBus)
	require.NoError(t, sink.Record(context.Background(), NewEvent(EventExpired, "b", "xmtp", "c", sampleBet)))

	require.Len(t, got, 1)
	assert.Equal(t, "bet.expired", got[0].Name)
	payload, ok := got[0].Payload.(Event)
	require.True(t, ok)
	assert.Equal(t, "b", payload.BetID)
}

func TestSQLiteSink(t *testing.T) {
	ctx := context.Background()
	sink, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer sink.Close()

	e := NewEvent(EventResolved, "bet-9", "xmtp", "conv", sampleBet)
	e.Winner = "@alice"
	e.PaymentAmount = "5000000"
	e.PaymentNetwork = "base-sepolia"

	require.NoError(t, sink.Record(ctx, e))
	// Same event id is ignored.
	require.NoError(t, sink.Record(ctx, e))

	var count int
	require.NoError(t, sink.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM bet_events`).Scan(&count))
	assert.Equal(t, 1, count)

	var typ, amount, payment string
	require.NoError(t, sink.DB().QueryRowContext(ctx,
		`SELECT event_type, amount, payment_amount FROM bet_events WHERE bet_id = ?`, "bet-9",
	).Scan(&typ, &amount, &payment))
	assert.Equal(t, "bet.resolved", typ)
	assert.Equal(t, "5", amount)
	assert.Equal(t, "5000000", payment)
}

func TestEventMarshal(t *testing.T) {
	data, err := NewEvent(EventProposed, "b", "discord", "c", sampleBet).marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"bet.proposed"`)
	assert.Contains(t, string(data), `"amount":"5"`)
}
