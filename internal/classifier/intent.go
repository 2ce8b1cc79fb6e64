// Package classifier maps a conversation and the current bet registry
// snapshot to a single bet intent by consulting an LLM.
package classifier

import (
	"context"
	"errors"

	"github.com/nextlevelbuilder/betclaw/internal/bets"
)

var (
	// ErrOracleUnavailable means the upstream call failed, timed out or
	// returned a non-success status.
	ErrOracleUnavailable = errors.New("oracle unavailable")

	// ErrMalformedIntent means the oracle answered with something that is
	// not exactly one of the known intents, including a body the provider
	// could not parse.
	ErrMalformedIntent = errors.New("malformed intent")
)

// Kind tags an Intent.
type Kind string

const (
	KindNoAction   Kind = "no_action"
	KindCreateBet  Kind = "create_bet"
	KindConfirmBet Kind = "confirm_bet"
	KindResolveBet Kind = "resolve_bet"
)

// Intent is one of NoAction, CreateBet, ConfirmBet or ResolveBet.
type Intent interface {
	Kind() Kind
	sealed()
}

// NoAction means nothing in the conversation calls for a transition.
type NoAction struct{}

// CreateBet proposes a new pending bet. CallID is the oracle's call
// correlation id, empty when the provider did not supply one.
type CreateBet struct {
	CallID string
	Bet    bets.Bet
}

// ConfirmBet asks to move a pending bet to confirmed.
type ConfirmBet struct {
	BetID string
}

// ResolveBet reports the outcome of a confirmed bet. An empty Winner, or
// one matching neither participant, is an inconclusive verdict.
type ResolveBet struct {
	BetID             string
	Winner            string
	ResolutionDetails string
}

func (NoAction) Kind() Kind   { return KindNoAction }
func (CreateBet) Kind() Kind  { return KindCreateBet }
func (ConfirmBet) Kind() Kind { return KindConfirmBet }
func (ResolveBet) Kind() Kind { return KindResolveBet }

func (NoAction) sealed()   {}
func (CreateBet) sealed()  {}
func (ConfirmBet) sealed() {}
func (ResolveBet) sealed() {}

// Turn is one chat message as the oracle sees it.
type Turn struct {
	Sender string `json:"userId"`
	Text   string `json:"content"`
}

// Request is the input of one classification: the conversation so far and
// snapshots of the registry.
type Request struct {
	History   []Turn
	Pending   []bets.Entry
	Confirmed []bets.Entry
}

// Classifier decides which bet transition, if any, a conversation calls for.
type Classifier interface {
	Classify(ctx context.Context, req Request) (Intent, error)
}

// Func adapts a function to the Classifier interface.
type Func func(ctx context.Context, req Request) (Intent, error)

func (f Func) Classify(ctx context.Context, req Request) (Intent, error) { return f(ctx, req) }
