package channels

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/betclaw/internal/bus"
)

type stubChannel struct {
	*BaseChannel
	mu   sync.Mutex
	sent []bus.OutboundMessage
}

func newStub(name string) *stubChannel {
	return &stubChannel{BaseChannel: NewBaseChannel(name, bus.New(), nil)}
}

func (s *stubChannel) Start(context.Context) error { s.SetRunning(true); return nil }
func (s *stubChannel) Stop(context.Context) error  { s.SetRunning(false); return nil }
func (s *stubChannel) Send(_ context.Context, msg bus.OutboundMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return "sent-" + msg.ChatID, nil
}

type resolvingChannel struct {
	*stubChannel
	calls atomic.Int32
	fail  bool
}

func (r *resolvingChannel) ResolveIdentity(_ context.Context, senderID string) (string, error) {
	r.calls.Add(1)
	time.Sleep(5 * time.Millisecond)
	if r.fail {
		return "", errors.New("inbox has no identifiers")
	}
	return "0xaddr-" + senderID, nil
}

func TestManagerSendReturnsID(t *testing.T) {
	m := NewManager(nil)
	ch := newStub("telegram")
	m.RegisterChannel("telegram", ch)

	id, err := m.Send(context.Background(), bus.OutboundMessage{Channel: "telegram", ChatID: "42", Content: "hi"})
	if err != nil || id != "sent-42" {
		t.Fatalf("Send() = %q, %v", id, err)
	}
	if _, err := m.Send(context.Background(), bus.OutboundMessage{Channel: "slack"}); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager(nil)
	a, b := newStub("xmtp"), newStub("discord")
	m.RegisterChannel("xmtp", a)
	m.RegisterChannel("discord", b)

	_ = m.StartAll(context.Background())
	if !a.IsRunning() || !b.IsRunning() {
		t.Fatal("channels not started")
	}
	if got := m.GetEnabledChannels(); len(got) != 2 || got[0] != "discord" {
		t.Fatalf("GetEnabledChannels() = %v", got)
	}
	_ = m.StopAll(context.Background())
	if a.IsRunning() {
		t.Fatal("channel not stopped")
	}
}

func TestResolveParticipantCachesAndCollapses(t *testing.T) {
	m := NewManager(nil)
	rc := &resolvingChannel{stubChannel: newStub("xmtp")}
	m.RegisterChannel("xmtp", rc)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := m.ResolveParticipant(context.Background(), "xmtp", "inbox-1")
			if err != nil || id != "0xaddr-inbox-1" {
				t.Errorf("ResolveParticipant() = %q, %v", id, err)
			}
		}()
	}
	wg.Wait()

	if _, err := m.ResolveParticipant(context.Background(), "xmtp", "inbox-1"); err != nil {
		t.Fatal(err)
	}
	if rc.calls.Load() == 0 {
		t.Fatal("resolver never called")
	}
	before := rc.calls.Load()
	_, _ = m.ResolveParticipant(context.Background(), "xmtp", "inbox-1")
	if rc.calls.Load() != before {
		t.Fatal("cached identity resolved again")
	}
}

func TestResolveParticipantFailure(t *testing.T) {
	m := NewManager(nil)
	m.RegisterChannel("xmtp", &resolvingChannel{stubChannel: newStub("xmtp"), fail: true})
	m.RegisterChannel("telegram", newStub("telegram"))

	if _, err := m.ResolveParticipant(context.Background(), "xmtp", "inbox-1"); !errors.Is(err, ErrIdentityUnresolved) {
		t.Fatalf("err = %v", err)
	}
	if _, err := m.ResolveParticipant(context.Background(), "telegram", ""); !errors.Is(err, ErrIdentityUnresolved) {
		t.Fatalf("empty sender err = %v", err)
	}
	if id, err := m.ResolveParticipant(context.Background(), "telegram", "@alice"); err != nil || id != "@alice" {
		t.Fatalf("passthrough = %q, %v", id, err)
	}
	if _, err := m.ResolveParticipant(context.Background(), "matrix", "x"); !errors.Is(err, ErrIdentityUnresolved) {
		t.Fatalf("unknown channel err = %v", err)
	}
}

func TestSendLimiterPacesPerChat(t *testing.T) {
	l := NewSendLimiter(1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, "a"); err != nil {
		t.Fatalf("first send waited: %v", err)
	}
	if err := l.Wait(ctx, "b"); err != nil {
		t.Fatalf("other chat was paced: %v", err)
	}
	if err := l.Wait(ctx, "a"); err == nil {
		t.Fatal("second send in the same chat should exceed the deadline")
	}
}

func TestIsAllowed(t *testing.T) {
	open := NewBaseChannel("x", bus.New(), nil)
	if !open.IsAllowed("anyone") {
		t.Fatal("empty allowlist must allow all")
	}

	c := NewBaseChannel("x", bus.New(), []string{"@alice", "12345", "0xAbC0000000000000000000000000000000000001"})
	tests := map[string]bool{
		"alice":       true,
		"12345|bob":   true,
		"999|alice":   true,
		"mallory":     false,
		"0xabc0000000000000000000000000000000000001": true,
	}
	for sender, want := range tests {
		if got := c.IsAllowed(sender); got != want {
			t.Errorf("IsAllowed(%q) = %v, want %v", sender, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Errorf("Truncate short = %q", got)
	}
	if got := Truncate("hello world", 8); got != "hello..." {
		t.Errorf("Truncate long = %q", got)
	}
	if got := Truncate("賭けは楽しい", 7); got != "賭け..." {
		t.Errorf("Truncate wide = %q", got)
	}
}

func TestSplitMessage(t *testing.T) {
	if got := SplitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("SplitMessage(short) = %q", got)
	}

	got := SplitMessage("aaaaaa\nbbbbbbbbbb", 10)
	if len(got) != 2 || got[0] != "aaaaaa\n" || got[1] != "bbbbbbbbbb" {
		t.Fatalf("SplitMessage(newline) = %q", got)
	}

	got = SplitMessage("abcdefghijkl", 5)
	if len(got) != 3 || got[2] != "kl" {
		t.Fatalf("SplitMessage(hard cut) = %q", got)
	}
}

func TestHandleMessageContextGivesUpOnFullBus(t *testing.T) {
	msgBus := bus.NewWithBuffer(1)
	c := NewBaseChannel("xmtp", msgBus, []string{"alice"})

	if err := c.HandleMessageContext(context.Background(), bus.InboundMessage{ID: "1", SenderID: "alice"}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	// Filtered senders never touch the bus.
	if err := c.HandleMessageContext(context.Background(), bus.InboundMessage{ID: "x", SenderID: "mallory"}); err != nil {
		t.Fatalf("filtered publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.HandleMessageContext(ctx, bus.InboundMessage{ID: "2", SenderID: "alice"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("publish on full bus = %v, want deadline exceeded", err)
	}

	msg, ok := msgBus.ConsumeInbound(context.Background())
	if !ok || msg.ID != "1" || msg.Channel != "xmtp" {
		t.Fatalf("ConsumeInbound() = %+v, %v", msg, ok)
	}
}
