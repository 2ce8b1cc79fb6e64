package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/betclaw/internal/bets"
	"github.com/nextlevelbuilder/betclaw/internal/classifier"
	"github.com/nextlevelbuilder/betclaw/internal/ledger"
	"github.com/nextlevelbuilder/betclaw/internal/payments"
)

const ledgerTimeout = 5 * time.Second

// apply performs the transition an intent asks for. Registry errors are
// recovered here; nothing is rolled back when a later send fails.
func (o *Orchestrator) apply(ctx context.Context, s *session, intent classifier.Intent) {
	switch in := intent.(type) {
	case classifier.NoAction:
		slog.Debug("no bet action", "channel", s.key.channel, "chat_id", s.key.chatID)
	case classifier.CreateBet:
		o.createBet(ctx, s, in)
	case classifier.ConfirmBet:
		o.confirmBet(ctx, s, in)
	case classifier.ResolveBet:
		o.resolveBet(ctx, s, in)
	default:
		slog.Warn("unknown intent ignored", "kind", intent.Kind())
	}
}

func (o *Orchestrator) createBet(ctx context.Context, s *session, in classifier.CreateBet) {
	id := in.CallID
	if id == "" {
		id = o.opts.NewID()
	}

	if err := s.registry.CreatePending(id, in.Bet); err != nil {
		if errors.Is(err, bets.ErrConflict) {
			slog.Warn("bet id already in use, proposal ignored", "chat_id", s.key.chatID, "bet_id", id)
			return
		}
		slog.Warn("bet proposal rejected", "chat_id", s.key.chatID, "bet_id", id, "error", err)
		return
	}

	slog.Info("bet proposed",
		"channel", s.key.channel, "chat_id", s.key.chatID, "bet_id", id,
		"amount", in.Bet.Amount.String(), "maker", in.Bet.Maker, "taker", in.Bet.Taker)
	o.record(s, ledger.NewEvent(ledger.EventProposed, id, s.key.channel, s.key.chatID, in.Bet))
	o.send(ctx, s, proposalText(id, in.Bet))
}

func (o *Orchestrator) confirmBet(ctx context.Context, s *session, in classifier.ConfirmBet) {
	bet, err := s.registry.Confirm(in.BetID)
	if err != nil {
		if !errors.Is(err, bets.ErrNotFound) {
			slog.Error("confirm failed", "chat_id", s.key.chatID, "bet_id", in.BetID, "error", err)
			return
		}
		o.send(ctx, s, noPendingText(in.BetID))
		return
	}

	slog.Info("bet confirmed", "channel", s.key.channel, "chat_id", s.key.chatID, "bet_id", in.BetID)
	o.record(s, ledger.NewEvent(ledger.EventConfirmed, in.BetID, s.key.channel, s.key.chatID, bet))
	o.send(ctx, s, confirmedText(in.BetID, bet))
}

func (o *Orchestrator) resolveBet(ctx context.Context, s *session, in classifier.ResolveBet) {
	bet, ok := s.registry.Confirmed(in.BetID)
	if !ok {
		o.send(ctx, s, noConfirmedText(in.BetID))
		return
	}

	winner, ok := bet.Winner(in.Winner)
	if !ok {
		slog.Info("bet resolution inconclusive",
			"chat_id", s.key.chatID, "bet_id", in.BetID, "winner", in.Winner)
		ev := ledger.NewEvent(ledger.EventInconclusive, in.BetID, s.key.channel, s.key.chatID, bet)
		ev.Details = in.ResolutionDetails
		o.record(s, ev)
		o.send(ctx, s, inconclusiveText(in.BetID, in.ResolutionDetails))
		return
	}
	loser, _ := bet.Loser(winner)

	if _, err := s.registry.Resolve(in.BetID); err != nil {
		// Only this worker mutates the registry, so this means another
		// caller resolved it first.
		slog.Warn("bet already resolved", "chat_id", s.key.chatID, "bet_id", in.BetID, "error", err)
		o.send(ctx, s, noConfirmedText(in.BetID))
		return
	}

	slog.Info("bet resolved",
		"channel", s.key.channel, "chat_id", s.key.chatID, "bet_id", in.BetID, "winner", winner)
	o.send(ctx, s, winnerText(in.BetID, winner, in.ResolutionDetails))

	ev := ledger.NewEvent(ledger.EventResolved, in.BetID, s.key.channel, s.key.chatID, bet)
	ev.Winner = winner
	ev.Details = in.ResolutionDetails

	req, err := payments.NewRequest(bet.Amount, loser, winner, o.opts.Network, bet.Condition)
	if err != nil {
		o.record(s, ev)
		if errors.Is(err, payments.ErrAmountTooSmall) {
			o.send(ctx, s, amountTooSmallText(in.BetID, bet))
			return
		}
		slog.Error("build payment request", "bet_id", in.BetID, "error", err)
		return
	}
	ev.PaymentAmount = req.Amount.String()
	ev.PaymentNetwork = req.Network.ID
	o.record(s, ev)

	msg, err := req.Message(s.key.channel, s.key.chatID)
	if err != nil {
		slog.Error("render payment request", "bet_id", in.BetID, "error", err)
		return
	}
	o.deliver(ctx, s, msg)
}

// expire drops pending bets that entered the registry before cutoff.
func (o *Orchestrator) expire(s *session, cutoff time.Time) {
	expired := s.registry.ExpirePending(cutoff)
	for _, e := range expired {
		slog.Info("pending bet expired", "channel", s.key.channel, "chat_id", s.key.chatID, "bet_id", e.ID)
		o.record(s, ledger.NewEvent(ledger.EventExpired, e.ID, s.key.channel, s.key.chatID, e.Bet))
		o.send(o.ctx, s, expiredText(e.ID, e.Bet))
	}
	if len(expired) > 0 {
		o.refreshGauges()
	}
}

// record writes a ledger event. Ledger failures never affect bet state.
func (o *Orchestrator) record(s *session, ev ledger.Event) {
	if o.opts.Ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(o.ctx, ledgerTimeout)
	defer cancel()

	if err := o.opts.Ledger.Record(ctx, ev); err != nil {
		slog.Warn("ledger record failed",
			"chat_id", s.key.chatID, "bet_id", ev.BetID, "event", ev.Type, "error", err)
		o.opts.Metrics.LedgerError()
	}
}
