package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nextlevelbuilder/betclaw/internal/bets"
	"github.com/nextlevelbuilder/betclaw/internal/bus"
	"github.com/nextlevelbuilder/betclaw/internal/classifier"
	"github.com/nextlevelbuilder/betclaw/internal/ledger"
	"github.com/nextlevelbuilder/betclaw/internal/payments"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	alice = "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"
	bob   = "0x2222222222222222222222222222222222222222"
)

// fakeTransport records sends and resolves senders from a fixed table.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []bus.OutboundMessage
	seq     int
	selfIDs map[string]string
	idents  map[string]string // sender -> participant; missing means passthrough
	failFor map[string]bool
	sendErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		selfIDs: map[string]string{},
		idents:  map[string]string{},
		failFor: map[string]bool{},
	}
}

func (f *fakeTransport) Send(_ context.Context, msg bus.OutboundMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.seq++
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("out-%d", f.seq), nil
}

func (f *fakeTransport) SelfID(channel string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selfIDs[channel]
}

func (f *fakeTransport) ResolveParticipant(_ context.Context, _, senderID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[senderID] {
		return "", errors.New("no identifiers")
	}
	if id, ok := f.idents[senderID]; ok {
		return id, nil
	}
	return senderID, nil
}

func (f *fakeTransport) messages() []bus.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bus.OutboundMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) texts() []string {
	var out []string
	for _, m := range f.messages() {
		out = append(out, m.Text())
	}
	return out
}

// scripted returns the queued verdicts in order, then NoAction.
type scripted struct {
	mu       sync.Mutex
	verdicts []verdict
	calls    atomic.Int32
	requests []classifier.Request
}

type verdict struct {
	intent classifier.Intent
	err    error
}

func (s *scripted) Classify(_ context.Context, req classifier.Request) (classifier.Intent, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.verdicts) == 0 {
		return classifier.NoAction{}, nil
	}
	v := s.verdicts[0]
	s.verdicts = s.verdicts[1:]
	return v.intent, v.err
}

type memSink struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (m *memSink) Name() string { return "mem" }
func (m *memSink) Record(_ context.Context, e ledger.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}
func (m *memSink) Close() error { return nil }

func (m *memSink) types() []ledger.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.EventType
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

func text(id, chat, sender, content string) bus.InboundMessage {
	return bus.InboundMessage{
		ID:          id,
		Channel:     "xmtp",
		ChatID:      chat,
		SenderID:    sender,
		Content:     content,
		ContentType: bus.ContentText,
		PeerKind:    "group",
	}
}

func newTestOrchestrator(t *testing.T, tr *fakeTransport, c classifier.Classifier, opts Options) *Orchestrator {
	t.Helper()
	o := New(tr, c, opts)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

var fiveUSDC = bets.Bet{
	Amount:    decimal.RequireFromString("5"),
	Condition: "it rains tomorrow",
	Maker:     alice,
	Taker:     bob,
}

func TestReplayedEventIsIgnored(t *testing.T) {
	tr := newFakeTransport()
	c := &scripted{verdicts: []verdict{{intent: classifier.CreateBet{CallID: "call_1", Bet: fiveUSDC}}}}
	o := newTestOrchestrator(t, tr, c, Options{})

	msg := text("m1", "chat", alice, "I bet bob 5 USDC it rains")
	o.HandleEvent(context.Background(), msg)
	o.HandleEvent(context.Background(), msg)
	require.NoError(t, o.Close())

	assert.Equal(t, int32(1), c.calls.Load())
	pending, _, ok := o.Bets("xmtp:chat")
	require.True(t, ok)
	assert.Len(t, pending, 1)
	assert.Len(t, tr.messages(), 1, "only the proposal is sent")
}

func TestCreateBetScenario(t *testing.T) {
	tr := newFakeTransport()
	sink := &memSink{}
	bet := bets.Bet{Amount: decimal.NewFromInt(5), Condition: "the Lakers win tonight", Maker: "A", Taker: "B"}
	c := &scripted{verdicts: []verdict{{intent: classifier.CreateBet{Bet: bet}}}}
	o := newTestOrchestrator(t, tr, c, Options{Ledger: sink, NewID: func() string { return "bet-1" }})

	o.HandleEvent(context.Background(), text("m1", "chat", "A", "I bet @B $5 the Lakers win tonight"))
	o.HandleEvent(context.Background(), text("m2", "chat", "B", "@A accepts"))
	require.NoError(t, o.Close())

	pending, confirmed, ok := o.Bets("xmtp:chat")
	require.True(t, ok)
	require.Len(t, pending, 1)
	assert.Empty(t, confirmed)
	assert.Equal(t, "bet-1", pending[0].ID)

	texts := tr.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "5")
	assert.Contains(t, texts[0], "A")
	assert.Contains(t, texts[0], "B")
	assert.Equal(t, []ledger.EventType{ledger.EventProposed}, sink.types())

	// The second classification saw the full history and the pending bet.
	require.Len(t, c.requests, 2)
	assert.Len(t, c.requests[1].History, 2)
	assert.Len(t, c.requests[1].Pending, 1)
}

func TestCreateBetConflictKeepsOriginal(t *testing.T) {
	tr := newFakeTransport()
	other := fiveUSDC
	other.Amount = decimal.NewFromInt(50)
	c := &scripted{verdicts: []verdict{
		{intent: classifier.CreateBet{CallID: "call_1", Bet: fiveUSDC}},
		{intent: classifier.CreateBet{CallID: "call_1", Bet: other}},
	}}
	o := newTestOrchestrator(t, tr, c, Options{})

	o.HandleEvent(context.Background(), text("m1", "chat", alice, "bet"))
	o.HandleEvent(context.Background(), text("m2", "chat", bob, "bet again"))
	require.NoError(t, o.Close())

	pending, _, _ := o.Bets("xmtp:chat")
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Bet.Amount.Equal(decimal.NewFromInt(5)))
	assert.Len(t, tr.messages(), 1)
}

func TestConfirmMissingBet(t *testing.T) {
	tr := newFakeTransport()
	c := &scripted{verdicts: []verdict{{intent: classifier.ConfirmBet{BetID: "nope"}}}}
	o := newTestOrchestrator(t, tr, c, Options{})

	o.HandleEvent(context.Background(), text("m1", "chat", alice, "confirm"))
	require.NoError(t, o.Close())

	pending, confirmed, _ := o.Bets("xmtp:chat")
	assert.Empty(t, pending)
	assert.Empty(t, confirmed)
	require.Len(t, tr.texts(), 1)
	assert.Contains(t, tr.texts()[0], "no pending bet")
}

func TestFullLifecyclePaysWinner(t *testing.T) {
	tr := newFakeTransport()
	sink := &memSink{}
	c := &scripted{verdicts: []verdict{
		{intent: classifier.CreateBet{CallID: "call_1", Bet: fiveUSDC}},
		{intent: classifier.ConfirmBet{BetID: "call_1"}},
		{intent: classifier.ResolveBet{BetID: "call_1", Winner: "0x" + strings.ToUpper(alice[2:]), ResolutionDetails: "It rained."}},
	}}
	o := newTestOrchestrator(t, tr, c, Options{Ledger: sink})

	o.HandleEvent(context.Background(), text("m1", "chat", alice, "I bet bob 5 USDC it rains"))
	o.HandleEvent(context.Background(), text("m2", "chat", bob, "deal"))
	o.HandleEvent(context.Background(), text("m3", "chat", alice, "it rained, resolve"))
	require.NoError(t, o.Close())

	pending, confirmed, _ := o.Bets("xmtp:chat")
	assert.Empty(t, pending)
	assert.Empty(t, confirmed)

	msgs := tr.messages()
	require.Len(t, msgs, 4)
	assert.Contains(t, msgs[2].Content, "Winner: "+alice)

	payment := msgs[3]
	assert.Equal(t, bus.ContentWalletSendCalls, payment.ContentType)
	assert.NotEmpty(t, payment.Fallback)

	var calls payments.WalletSendCalls
	require.NoError(t, json.Unmarshal([]byte(payment.Content), &calls))
	assert.Equal(t, bob, calls.From, "loser pays")
	require.Len(t, calls.Calls, 1)
	assert.Equal(t, "5000000", calls.Calls[0].Metadata.Amount)
	assert.Contains(t, calls.Calls[0].Data, strings.TrimPrefix(alice, "0x"), "winner is payee")

	assert.Equal(t, []ledger.EventType{ledger.EventProposed, ledger.EventConfirmed, ledger.EventResolved}, sink.types())
	assert.Equal(t, "5000000", sink.events[2].PaymentAmount)
	assert.Equal(t, alice, sink.events[2].Winner)
}

func TestResolveWithUnknownWinnerIsInconclusive(t *testing.T) {
	tr := newFakeTransport()
	c := &scripted{verdicts: []verdict{
		{intent: classifier.CreateBet{CallID: "b", Bet: fiveUSDC}},
		{intent: classifier.ConfirmBet{BetID: "b"}},
		{intent: classifier.ResolveBet{BetID: "b", Winner: "carol", ResolutionDetails: "no data yet"}},
	}}
	o := newTestOrchestrator(t, tr, c, Options{})

	for i := 1; i <= 3; i++ {
		o.HandleEvent(context.Background(), text(fmt.Sprintf("m%d", i), "chat", alice, "msg"))
	}
	require.NoError(t, o.Close())

	_, confirmed, _ := o.Bets("xmtp:chat")
	assert.Len(t, confirmed, 1, "bet stays confirmed")

	msgs := tr.messages()
	require.Len(t, msgs, 3)
	assert.Contains(t, msgs[2].Content, "not resolved yet")
	for _, m := range msgs {
		assert.NotEqual(t, bus.ContentWalletSendCalls, m.ContentType)
	}
}

func TestResolveMissingBet(t *testing.T) {
	tr := newFakeTransport()
	c := &scripted{verdicts: []verdict{{intent: classifier.ResolveBet{BetID: "ghost", Winner: alice}}}}
	o := newTestOrchestrator(t, tr, c, Options{})

	o.HandleEvent(context.Background(), text("m1", "chat", alice, "resolve"))
	require.NoError(t, o.Close())

	require.Len(t, tr.texts(), 1)
	assert.Contains(t, tr.texts()[0], "no confirmed bet")
}

func TestUsernamesGetTextPaymentRequest(t *testing.T) {
	tr := newFakeTransport()
	bet := bets.Bet{Amount: decimal.RequireFromString("2.5"), Condition: "x", Maker: "@alice", Taker: "@bob"}
	c := &scripted{verdicts: []verdict{
		{intent: classifier.CreateBet{CallID: "b", Bet: bet}},
		{intent: classifier.ConfirmBet{BetID: "b"}},
		{intent: classifier.ResolveBet{BetID: "b", Winner: "@bob"}},
	}}
	o := newTestOrchestrator(t, tr, c, Options{})

	for i := 1; i <= 3; i++ {
		o.HandleEvent(context.Background(), text(fmt.Sprintf("m%d", i), "chat", "@alice", "msg"))
	}
	require.NoError(t, o.Close())

	msgs := tr.messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "", msgs[3].ContentType)
	assert.Contains(t, msgs[3].Content, "@alice should send 2.5 USDC (2500000 minor units) to @bob")
}

func TestAmountTooSmallSendsNotice(t *testing.T) {
	tr := newFakeTransport()
	tiny := fiveUSDC
	tiny.Amount = decimal.RequireFromString("0.0000001")
	c := &scripted{verdicts: []verdict{
		{intent: classifier.CreateBet{CallID: "b", Bet: tiny}},
		{intent: classifier.ConfirmBet{BetID: "b"}},
		{intent: classifier.ResolveBet{BetID: "b", Winner: bob}},
	}}
	o := newTestOrchestrator(t, tr, c, Options{})

	for i := 1; i <= 3; i++ {
		o.HandleEvent(context.Background(), text(fmt.Sprintf("m%d", i), "chat", alice, "msg"))
	}
	require.NoError(t, o.Close())

	_, confirmed, _ := o.Bets("xmtp:chat")
	assert.Empty(t, confirmed, "bet stays resolved")
	texts := tr.texts()
	require.Len(t, texts, 4)
	assert.Contains(t, texts[3], "below the smallest payable amount")
}

func TestClassifierFailures(t *testing.T) {
	t.Run("unavailable sends notice", func(t *testing.T) {
		tr := newFakeTransport()
		c := &scripted{verdicts: []verdict{{err: fmt.Errorf("%w: timeout", classifier.ErrOracleUnavailable)}}}
		o := newTestOrchestrator(t, tr, c, Options{ErrorNotices: true})

		o.HandleEvent(context.Background(), text("m1", "chat", alice, "hi"))
		require.NoError(t, o.Close())
		assert.Equal(t, []string{oracleUnavailableNotice}, tr.texts())
	})

	t.Run("unavailable without notices", func(t *testing.T) {
		tr := newFakeTransport()
		c := &scripted{verdicts: []verdict{{err: classifier.ErrOracleUnavailable}}}
		o := newTestOrchestrator(t, tr, c, Options{})

		o.HandleEvent(context.Background(), text("m1", "chat", alice, "hi"))
		require.NoError(t, o.Close())
		assert.Empty(t, tr.messages())
	})

	t.Run("malformed is logged only", func(t *testing.T) {
		tr := newFakeTransport()
		c := &scripted{verdicts: []verdict{{err: fmt.Errorf("%w: two calls", classifier.ErrMalformedIntent)}}}
		o := newTestOrchestrator(t, tr, c, Options{ErrorNotices: true})

		o.HandleEvent(context.Background(), text("m1", "chat", alice, "hi"))
		require.NoError(t, o.Close())
		assert.Empty(t, tr.messages())
	})

	t.Run("timeout bounds the oracle call", func(t *testing.T) {
		tr := newFakeTransport()
		c := classifier.Func(func(ctx context.Context, _ classifier.Request) (classifier.Intent, error) {
			<-ctx.Done()
			return nil, fmt.Errorf("%w: %w", classifier.ErrOracleUnavailable, ctx.Err())
		})
		o := newTestOrchestrator(t, tr, c, Options{ErrorNotices: true, ClassifierTimeout: 20 * time.Millisecond})

		o.HandleEvent(context.Background(), text("m1", "chat", alice, "hi"))
		require.NoError(t, o.Close())
		assert.Equal(t, []string{oracleUnavailableNotice}, tr.texts())
	})
}

func TestDroppedEvents(t *testing.T) {
	tr := newFakeTransport()
	tr.selfIDs["xmtp"] = "agent-inbox"
	tr.failFor["ghost"] = true
	c := &scripted{}
	o := newTestOrchestrator(t, tr, c, Options{InboxID: "AGENT-CONFIGURED", WelcomeMessage: "welcome"})

	reaction := text("r1", "chat", "Agent-Inbox", "👍")
	reaction.ContentType = "reaction"
	o.HandleEvent(context.Background(), reaction)
	o.HandleEvent(context.Background(), text("s1", "chat", "agent-configured", "echo"))
	o.HandleEvent(context.Background(), text("u1", "chat", "ghost", "who am I"))

	attachment := text("a1", "chat", alice, "")
	attachment.ContentType = "attachment"
	o.HandleEvent(context.Background(), attachment)
	require.NoError(t, o.Close())

	assert.Equal(t, int32(0), c.calls.Load())
	assert.Empty(t, tr.messages(), "no session, so no welcome")
	assert.Empty(t, o.Conversations())
}

func TestWelcomeOncePerConversation(t *testing.T) {
	tr := newFakeTransport()
	c := &scripted{}
	o := newTestOrchestrator(t, tr, c, Options{WelcomeMessage: "welcome"})

	o.HandleEvent(context.Background(), text("m1", "chat-a", alice, "hi"))
	o.HandleEvent(context.Background(), text("m2", "chat-a", bob, "hey"))
	o.HandleEvent(context.Background(), text("m3", "chat-b", alice, "hi"))
	require.NoError(t, o.Close())

	msgs := tr.messages()
	require.Len(t, msgs, 2)
	chats := []string{msgs[0].ChatID, msgs[1].ChatID}
	assert.ElementsMatch(t, []string{"chat-a", "chat-b"}, chats)
	for _, m := range msgs {
		assert.Equal(t, "welcome", m.Content)
	}
	assert.Equal(t, int32(3), c.calls.Load())
}

func TestSentMessagesAreMarkedSeen(t *testing.T) {
	tr := newFakeTransport()
	c := &scripted{}
	dedupe := bus.NewDedupeCache(0, 0)
	o := newTestOrchestrator(t, tr, c, Options{WelcomeMessage: "welcome", Dedupe: dedupe})

	o.HandleEvent(context.Background(), text("m1", "chat", alice, "hi"))
	require.NoError(t, o.Close())

	assert.True(t, dedupe.Seen("m1"))
	assert.True(t, dedupe.Seen("out-1"), "welcome id recorded")
}

func TestConversationsAreSerialized(t *testing.T) {
	tr := newFakeTransport()
	var inFlight, maxInFlight, total atomic.Int32
	c := classifier.Func(func(context.Context, classifier.Request) (classifier.Intent, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		total.Add(1)
		return classifier.NoAction{}, nil
	})
	o := newTestOrchestrator(t, tr, c, Options{})

	for i := 0; i < 20; i++ {
		o.HandleEvent(context.Background(), text(fmt.Sprintf("m%d", i), "chat", alice, "msg"))
	}
	require.NoError(t, o.Close())

	assert.Equal(t, int32(20), total.Load())
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestSweepExpiresPendingBets(t *testing.T) {
	tr := newFakeTransport()
	sink := &memSink{}
	c := &scripted{verdicts: []verdict{{intent: classifier.CreateBet{CallID: "b", Bet: fiveUSDC}}}}
	o := newTestOrchestrator(t, tr, c, Options{PendingTTL: time.Minute, Ledger: sink})

	o.HandleEvent(context.Background(), text("m1", "chat", alice, "bet"))
	o.Sweep(time.Now().Add(time.Hour))
	require.NoError(t, o.Close())

	pending, _, _ := o.Bets("xmtp:chat")
	assert.Empty(t, pending)
	texts := tr.texts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[1], "expired")
	assert.Equal(t, []ledger.EventType{ledger.EventProposed, ledger.EventExpired}, sink.types())
}

func TestEventsAfterCloseAreDropped(t *testing.T) {
	tr := newFakeTransport()
	c := &scripted{}
	o := New(tr, c, Options{})
	require.NoError(t, o.Close())

	o.HandleEvent(context.Background(), text("m1", "chat", alice, "late"))
	assert.Equal(t, int32(0), c.calls.Load())
	assert.NoError(t, o.Close(), "Close is idempotent")
}

func TestRunConsumesBus(t *testing.T) {
	tr := newFakeTransport()
	c := &scripted{}
	o := newTestOrchestrator(t, tr, c, Options{})
	msgBus := bus.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Run(ctx, msgBus)
		close(done)
	}()

	msgBus.PublishInbound(text("m1", "chat", alice, "hi"))
	require.Eventually(t, func() bool { return c.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestRunSweeper(t *testing.T) {
	o := newTestOrchestrator(t, newFakeTransport(), &scripted{}, Options{})

	assert.Error(t, o.RunSweeper(context.Background(), "not a cron"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, o.RunSweeper(ctx, "*/5 * * * *"))
}

func TestConversationsListing(t *testing.T) {
	tr := newFakeTransport()
	c := &scripted{verdicts: []verdict{{intent: classifier.CreateBet{CallID: "b", Bet: fiveUSDC}}}}
	o := newTestOrchestrator(t, tr, c, Options{})

	o.HandleEvent(context.Background(), text("m1", "chat:with:colons", alice, "bet"))
	require.NoError(t, o.Close())

	convs := o.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, "xmtp:chat:with:colons", convs[0].ID)
	assert.Equal(t, 1, convs[0].Pending)
	assert.Equal(t, 1, convs[0].Messages)

	_, _, ok := o.Bets(convs[0].ID)
	assert.True(t, ok)
	_, _, ok = o.Bets("nonsense")
	assert.False(t, ok)
}
