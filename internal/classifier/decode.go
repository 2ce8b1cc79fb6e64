package classifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nextlevelbuilder/betclaw/internal/bets"
	"github.com/nextlevelbuilder/betclaw/internal/providers"
)

const (
	toolCreateBet  = "create_bet"
	toolConfirmBet = "confirm_bet"
	toolResolveBet = "resolve_bet"
)

type createBetArgs struct {
	Amount       *decimal.Decimal `json:"amount"`
	BetCondition *string          `json:"betCondition"`
	Maker        *string          `json:"maker"`
	Taker        *string          `json:"taker"`
}

type confirmBetArgs struct {
	BetID *string `json:"betId"`
}

type resolveBetArgs struct {
	BetID             *string `json:"betId"`
	Winner            *string `json:"winner"`
	ResolutionDetails *string `json:"resolutionDetails"`
}

// Decode turns a provider response into an Intent. It accepts exactly one
// known function call, or a text answer that means "no action"; anything
// else is ErrMalformedIntent.
func Decode(resp *providers.ChatResponse) (Intent, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedIntent)
	}

	switch len(resp.ToolCalls) {
	case 0:
		if isNoActionText(resp.Content) {
			return NoAction{}, nil
		}
		return nil, fmt.Errorf("%w: unexpected text answer %q", ErrMalformedIntent, truncate(resp.Content, 80))
	case 1:
		return decodeCall(resp.ToolCalls[0])
	default:
		return nil, fmt.Errorf("%w: %d function calls, want at most one", ErrMalformedIntent, len(resp.ToolCalls))
	}
}

func decodeCall(call providers.ToolCall) (Intent, error) {
	raw := call.RawArguments
	if len(bytes.TrimSpace(raw)) == 0 {
		var err error
		if raw, err = json.Marshal(call.Arguments); err != nil {
			return nil, fmt.Errorf("%w: %s arguments: %v", ErrMalformedIntent, call.Name, err)
		}
	}

	switch call.Name {
	case toolCreateBet:
		var args createBetArgs
		if err := strictUnmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("%w: create_bet: %v", ErrMalformedIntent, err)
		}
		if args.Amount == nil || args.BetCondition == nil || args.Maker == nil || args.Taker == nil {
			return nil, fmt.Errorf("%w: create_bet: amount, betCondition, maker and taker are required", ErrMalformedIntent)
		}
		bet := bets.Bet{
			Amount:    *args.Amount,
			Condition: strings.TrimSpace(*args.BetCondition),
			Maker:     strings.TrimSpace(*args.Maker),
			Taker:     strings.TrimSpace(*args.Taker),
		}
		if err := bet.Validate(); err != nil {
			slog.Debug("classifier: discarding invalid bet proposal", "call_id", call.ID, "error", err)
			return NoAction{}, nil
		}
		return CreateBet{CallID: call.ID, Bet: bet}, nil

	case toolConfirmBet:
		var args confirmBetArgs
		if err := strictUnmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("%w: confirm_bet: %v", ErrMalformedIntent, err)
		}
		if args.BetID == nil || strings.TrimSpace(*args.BetID) == "" {
			return nil, fmt.Errorf("%w: confirm_bet: betId is required", ErrMalformedIntent)
		}
		return ConfirmBet{BetID: strings.TrimSpace(*args.BetID)}, nil

	case toolResolveBet:
		var args resolveBetArgs
		if err := strictUnmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("%w: resolve_bet: %v", ErrMalformedIntent, err)
		}
		if args.BetID == nil || strings.TrimSpace(*args.BetID) == "" {
			return nil, fmt.Errorf("%w: resolve_bet: betId is required", ErrMalformedIntent)
		}
		if args.ResolutionDetails == nil {
			return nil, fmt.Errorf("%w: resolve_bet: resolutionDetails is required", ErrMalformedIntent)
		}
		intent := ResolveBet{
			BetID:             strings.TrimSpace(*args.BetID),
			ResolutionDetails: strings.TrimSpace(*args.ResolutionDetails),
		}
		if args.Winner != nil {
			intent.Winner = strings.TrimSpace(*args.Winner)
		}
		return intent, nil
	}

	return nil, fmt.Errorf("%w: unknown function %q", ErrMalformedIntent, call.Name)
}

// strictUnmarshal decodes a single JSON object, rejecting unknown fields
// and trailing data.
func strictUnmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after arguments object")
	}
	return nil
}

func isNoActionText(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "null", `""`, `"null"`:
		return true
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
