package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/betclaw/internal/bets"
	"github.com/nextlevelbuilder/betclaw/internal/providers"
)

// DefaultTimeout bounds one classification when Options.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// Options configures an LLM classifier.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature *float64
	WebSearch   bool
	Timeout     time.Duration
	AgentNames  []string // identities the oracle should not wait for a mention of
}

// LLM classifies with a chat-completion provider and three function tools.
type LLM struct {
	provider providers.Provider
	opts     Options
	prompt   string
}

// NewLLM creates an LLM classifier backed by provider.
func NewLLM(provider providers.Provider, opts Options) *LLM {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &LLM{
		provider: provider,
		opts:     opts,
		prompt:   systemPrompt(opts.AgentNames),
	}
}

// Classify sends the conversation and registry snapshots to the provider
// and decodes its answer.
func (c *LLM) Classify(ctx context.Context, req Request) (Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	user, err := userPrompt(req)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	chatReq := providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: c.prompt},
			{Role: "user", Content: user},
		},
		Tools:   toolDefinitions(),
		Model:   c.opts.Model,
		Options: map[string]interface{}{},
	}
	if c.opts.MaxTokens > 0 {
		chatReq.Options[providers.OptMaxTokens] = c.opts.MaxTokens
	}
	if c.opts.Temperature != nil {
		chatReq.Options[providers.OptTemperature] = *c.opts.Temperature
	}
	if c.opts.WebSearch {
		chatReq.Options[providers.OptWebSearch] = true
	}

	resp, err := c.provider.Chat(ctx, chatReq)
	if errors.Is(err, providers.ErrMalformedResponse) {
		return nil, fmt.Errorf("%w: %w", ErrMalformedIntent, err)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrOracleUnavailable, c.provider.Name(), err)
	}
	if resp.Usage != nil {
		slog.Debug("oracle call",
			"provider", c.provider.Name(), "finish_reason", resp.FinishReason,
			"prompt_tokens", resp.Usage.PromptTokens, "completion_tokens", resp.Usage.CompletionTokens)
	}
	return Decode(resp)
}

type wireBet struct {
	BetID string `json:"betId"`
	Bet   struct {
		Amount       json.Number `json:"amount"`
		BetCondition string      `json:"betCondition"`
		Maker        string      `json:"maker"`
		Taker        string      `json:"taker"`
	} `json:"bet"`
}

func wireBets(entries []bets.Entry) []wireBet {
	out := make([]wireBet, 0, len(entries))
	for _, e := range entries {
		var w wireBet
		w.BetID = e.ID
		w.Bet.Amount = json.Number(e.Bet.Amount.String())
		w.Bet.BetCondition = e.Bet.Condition
		w.Bet.Maker = e.Bet.Maker
		w.Bet.Taker = e.Bet.Taker
		out = append(out, w)
	}
	return out
}

func userPrompt(req Request) (string, error) {
	history := req.History
	if history == nil {
		history = []Turn{}
	}
	sections := []struct {
		title string
		value interface{}
	}{
		{"CONVERSATION HISTORY", history},
		{"PENDING BETS", wireBets(req.Pending)},
		{"CONFIRMED BETS", wireBets(req.Confirmed)},
	}

	var sb strings.Builder
	for _, s := range sections {
		data, err := json.Marshal(s.value)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "--- %s ---\n%s\n", s.title, data)
	}
	return sb.String(), nil
}
