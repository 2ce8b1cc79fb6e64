package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/betclaw/internal/bets"
	"github.com/nextlevelbuilder/betclaw/internal/bus"
	"github.com/nextlevelbuilder/betclaw/internal/classifier"
	"github.com/nextlevelbuilder/betclaw/internal/tracing"
)

type conversationKey struct {
	channel string
	chatID  string
}

func (k conversationKey) String() string { return k.channel + ":" + k.chatID }

func parseConversationID(id string) (conversationKey, error) {
	channel, chatID, found := strings.Cut(id, ":")
	if !found || channel == "" || chatID == "" {
		return conversationKey{}, fmt.Errorf("invalid conversation id %q", id)
	}
	return conversationKey{channel: channel, chatID: chatID}, nil
}

type jobKind int

const (
	jobWelcome jobKind = iota
	jobClassify
	jobExpire
)

type job struct {
	kind   jobKind
	msg    bus.InboundMessage
	cutoff time.Time
}

// session is one conversation: its bets, its history and the queue its
// worker drains.
type session struct {
	key      conversationKey
	registry *bets.Registry
	history  *Accumulator
	queue    chan job
}

func newSession(key conversationKey, historyLimit, queueSize int) *session {
	return &session{
		key:      key,
		registry: bets.NewRegistry(),
		history:  NewAccumulator(historyLimit),
		queue:    make(chan job, queueSize),
	}
}

func (o *Orchestrator) runSession(s *session) {
	defer o.wg.Done()
	for j := range s.queue {
		o.runJob(s, j)
	}
	slog.Debug("conversation session stopped", "channel", s.key.channel, "chat_id", s.key.chatID)
}

func (o *Orchestrator) runJob(s *session, j job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in conversation worker",
				"channel", s.key.channel, "chat_id", s.key.chatID, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	switch j.kind {
	case jobWelcome:
		o.send(o.ctx, s, o.opts.WelcomeMessage)
	case jobClassify:
		o.classifyAndApply(s, j.msg)
	case jobExpire:
		o.expire(s, j.cutoff)
	}
}

func (o *Orchestrator) classifyAndApply(s *session, msg bus.InboundMessage) {
	ctx, span := tracing.Tracer().Start(o.ctx, "bet.classify",
		trace.WithAttributes(tracing.Conversation(s.key.channel, s.key.chatID)...),
		trace.WithAttributes(attribute.String("betclaw.message_id", msg.ID)),
	)
	defer span.End()

	callCtx := ctx
	if o.opts.ClassifierTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.opts.ClassifierTimeout)
		defer cancel()
	}

	req := classifier.Request{
		History:   s.history.Snapshot(),
		Pending:   s.registry.PendingSnapshot(),
		Confirmed: s.registry.ConfirmedSnapshot(),
	}

	start := time.Now()
	intent, err := o.classifier.Classify(callCtx, req)
	o.opts.Metrics.ObserveClassify(time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classify failed")
		o.handleClassifyError(ctx, s, msg, err)
		return
	}

	span.SetAttributes(attribute.String("betclaw.intent", string(intent.Kind())))
	o.opts.Metrics.Intent(string(intent.Kind()))
	o.apply(ctx, s, intent)
	o.refreshGauges()
}

func (o *Orchestrator) handleClassifyError(ctx context.Context, s *session, msg bus.InboundMessage, err error) {
	if errors.Is(err, classifier.ErrMalformedIntent) {
		slog.Warn("malformed oracle verdict ignored",
			"channel", s.key.channel, "chat_id", s.key.chatID, "message_id", msg.ID, "error", err)
		o.opts.Metrics.ClassifierError("malformed")
		return
	}

	slog.Error("oracle unavailable",
		"channel", s.key.channel, "chat_id", s.key.chatID, "message_id", msg.ID, "error", err)
	o.opts.Metrics.ClassifierError("unavailable")
	if o.opts.ErrorNotices {
		o.send(ctx, s, oracleUnavailableNotice)
	}
}

// send delivers text to the session's conversation and marks the sent id
// seen. Failures are logged, never retried.
func (o *Orchestrator) send(ctx context.Context, s *session, text string) {
	o.deliver(ctx, s, bus.OutboundMessage{
		Channel: s.key.channel,
		ChatID:  s.key.chatID,
		Content: text,
	})
}

func (o *Orchestrator) deliver(ctx context.Context, s *session, msg bus.OutboundMessage) {
	id, err := o.transport.Send(ctx, msg)
	o.opts.Metrics.Send(s.key.channel, err)
	if err != nil {
		slog.Error("send failed",
			"channel", s.key.channel, "chat_id", s.key.chatID, "content_type", msg.ContentType, "error", err)
		return
	}
	o.dedupe.Mark(id)
}
