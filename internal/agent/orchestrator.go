// Package agent runs the bet orchestration loop: it turns inbound chat
// events into classifier calls and applies the resulting bet transitions.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/betclaw/internal/bets"
	"github.com/nextlevelbuilder/betclaw/internal/bus"
	"github.com/nextlevelbuilder/betclaw/internal/classifier"
	"github.com/nextlevelbuilder/betclaw/internal/ledger"
	"github.com/nextlevelbuilder/betclaw/internal/metrics"
	"github.com/nextlevelbuilder/betclaw/internal/payments"
)

const defaultQueueSize = 64

// Transport is what the orchestrator needs from the channel layer.
// *channels.Manager implements it.
type Transport interface {
	Send(ctx context.Context, msg bus.OutboundMessage) (string, error)
	SelfID(channel string) string
	ResolveParticipant(ctx context.Context, channel, senderID string) (string, error)
}

// Options configures an Orchestrator. Zero values are usable: no welcome
// message, no error notices, unbounded history and no ledger.
type Options struct {
	InboxID           string // the agent's own identity; its messages are ignored
	WelcomeMessage    string
	ErrorNotices      bool
	QueueSize         int
	HistoryLimit      int
	ClassifierTimeout time.Duration
	PendingTTL        time.Duration
	Network           payments.Network

	Dedupe  *bus.DedupeCache // shared seen-set; created when nil
	Ledger  ledger.Sink
	Metrics *metrics.Metrics
	NewID   func() string // bet ids when the oracle supplies none; UUIDv7 by default
}

// Orchestrator owns the per-conversation sessions. HandleEvent runs the
// cheap per-event checks inline; classification and transitions run on one
// worker goroutine per conversation, in delivery order.
type Orchestrator struct {
	opts       Options
	transport  Transport
	classifier classifier.Classifier
	dedupe     *bus.DedupeCache

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[conversationKey]*session
	closed   bool
}

// New creates an orchestrator. Call Close to stop its workers.
func New(transport Transport, c classifier.Classifier, opts Options) *Orchestrator {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	if opts.Network.ID == "" {
		opts.Network, _ = payments.LookupNetwork("")
	}
	dedupe := opts.Dedupe
	if dedupe == nil {
		dedupe = bus.NewDedupeCache(0, 0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		opts:       opts,
		transport:  transport,
		classifier: c,
		dedupe:     dedupe,
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[conversationKey]*session),
	}
}

// Run consumes inbound messages until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, router bus.MessageRouter) {
	slog.Info("bet orchestrator started")
	for {
		msg, ok := router.ConsumeInbound(ctx)
		if !ok {
			slog.Info("bet orchestrator consumer stopped")
			return
		}
		o.HandleEvent(ctx, msg)
	}
}

// HandleEvent processes one inbound chat event. It never blocks on the
// oracle; the event is queued on its conversation's worker.
func (o *Orchestrator) HandleEvent(ctx context.Context, msg bus.InboundMessage) {
	if msg.ID != "" && o.dedupe.Seen(msg.ID) {
		slog.Debug("duplicate event dropped", "channel", msg.Channel, "message_id", msg.ID)
		o.opts.Metrics.Event(msg.Channel, metrics.OutcomeDuplicate)
		return
	}

	if self := o.transport.SelfID(msg.Channel); self != "" && strings.EqualFold(msg.SenderID, self) && !msg.IsText() {
		o.opts.Metrics.Event(msg.Channel, metrics.OutcomeSelf)
		return
	}
	if o.opts.InboxID != "" && strings.EqualFold(msg.SenderID, o.opts.InboxID) {
		o.opts.Metrics.Event(msg.Channel, metrics.OutcomeSelf)
		return
	}
	if !msg.IsText() {
		slog.Debug("non-text event dropped", "channel", msg.Channel, "content_type", msg.ContentType)
		o.dedupe.Mark(msg.ID)
		o.opts.Metrics.Event(msg.Channel, metrics.OutcomeNonText)
		return
	}

	participant, err := o.transport.ResolveParticipant(ctx, msg.Channel, msg.SenderID)
	if err != nil {
		slog.Warn("sender identity unresolved, event dropped",
			"channel", msg.Channel, "chat_id", msg.ChatID, "sender_id", msg.SenderID, "error", err)
		o.opts.Metrics.Event(msg.Channel, metrics.OutcomeUnresolved)
		return
	}

	s, created, ok := o.session(conversationKey{channel: msg.Channel, chatID: msg.ChatID})
	if !ok {
		o.opts.Metrics.Event(msg.Channel, metrics.OutcomeDropped)
		return
	}
	if created && o.opts.WelcomeMessage != "" {
		o.enqueue(s, job{kind: jobWelcome})
	}

	o.dedupe.Mark(msg.ID)
	s.history.Append(participant, msg.Content)

	if !o.enqueue(s, job{kind: jobClassify, msg: msg}) {
		slog.Warn("conversation queue full, event not classified",
			"channel", msg.Channel, "chat_id", msg.ChatID, "message_id", msg.ID)
		o.opts.Metrics.Event(msg.Channel, metrics.OutcomeDropped)
		return
	}
	o.opts.Metrics.Event(msg.Channel, metrics.OutcomeProcessed)
}

// session returns the conversation's session, creating it and its worker on
// first use. ok is false once the orchestrator is closed.
func (o *Orchestrator) session(key conversationKey) (s *session, created, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, false, false
	}
	if s, exists := o.sessions[key]; exists {
		return s, false, true
	}

	s = newSession(key, o.opts.HistoryLimit, o.opts.QueueSize)
	o.sessions[key] = s
	o.opts.Metrics.SetConversations(len(o.sessions))

	o.wg.Add(1)
	go o.runSession(s)

	slog.Info("conversation session started", "channel", key.channel, "chat_id", key.chatID)
	return s, true, true
}

// enqueue hands j to the session worker without blocking.
func (o *Orchestrator) enqueue(s *session, j job) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false
	}
	select {
	case s.queue <- j:
		return true
	default:
		return false
	}
}

// Sweep applies the retention policy: it prunes the seen-set and, when a
// pending TTL is configured, queues expiry of stale pending bets on every
// conversation worker.
func (o *Orchestrator) Sweep(now time.Time) {
	if pruned := o.dedupe.Prune(now); pruned > 0 {
		slog.Debug("seen-set pruned", "entries", pruned)
	}
	if o.opts.PendingTTL <= 0 {
		return
	}

	cutoff := now.Add(-o.opts.PendingTTL)
	for _, s := range o.snapshotSessions() {
		if !o.enqueue(s, job{kind: jobExpire, cutoff: cutoff}) {
			slog.Warn("conversation queue full, expiry skipped", "channel", s.key.channel, "chat_id", s.key.chatID)
		}
	}
}

func (o *Orchestrator) snapshotSessions() []*session {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]*session, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, s)
	}
	return out
}

// Conversation summarizes one session for status endpoints.
type Conversation struct {
	ID        string `json:"id"`
	Channel   string `json:"channel"`
	ChatID    string `json:"chatId"`
	Messages  int    `json:"messages"`
	Pending   int    `json:"pending"`
	Confirmed int    `json:"confirmed"`
}

// Conversations lists every session, ordered by id.
func (o *Orchestrator) Conversations() []Conversation {
	sessions := o.snapshotSessions()
	out := make([]Conversation, 0, len(sessions))
	for _, s := range sessions {
		pending, confirmed := s.registry.Counts()
		out = append(out, Conversation{
			ID:        s.key.String(),
			Channel:   s.key.channel,
			ChatID:    s.key.chatID,
			Messages:  s.history.Len(),
			Pending:   pending,
			Confirmed: confirmed,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Bets returns the pending and confirmed bets of the conversation with the
// given id ("channel:chatID").
func (o *Orchestrator) Bets(id string) (pending, confirmed []bets.Entry, ok bool) {
	key, err := parseConversationID(id)
	if err != nil {
		return nil, nil, false
	}

	o.mu.Lock()
	s, exists := o.sessions[key]
	o.mu.Unlock()
	if !exists {
		return nil, nil, false
	}
	return s.registry.PendingSnapshot(), s.registry.ConfirmedSnapshot(), true
}

// Shutdown stops accepting events and waits for every worker to drain its
// queue. If ctx ends first, in-flight oracle calls and sends are cancelled
// and Shutdown still waits for the workers to exit.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		for _, s := range o.sessions {
			close(s.queue)
		}
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		return fmt.Errorf("orchestrator shutdown: %w", ctx.Err())
	}
}

// Close is Shutdown without a deadline.
func (o *Orchestrator) Close() error {
	return o.Shutdown(context.Background())
}

func (o *Orchestrator) refreshGauges() {
	if o.opts.Metrics == nil {
		return
	}
	var pending, confirmed int
	for _, s := range o.snapshotSessions() {
		p, c := s.registry.Counts()
		pending += p
		confirmed += c
	}
	o.opts.Metrics.SetBets(pending, confirmed)
}
