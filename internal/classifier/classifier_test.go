package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/betclaw/internal/bets"
	"github.com/nextlevelbuilder/betclaw/internal/providers"
)

func call(name, args string) *providers.ChatResponse {
	return &providers.ChatResponse{ToolCalls: []providers.ToolCall{{
		ID: "call_1", Name: name, RawArguments: json.RawMessage(args),
	}}}
}

func TestDecodeNoActionText(t *testing.T) {
	for _, text := range []string{"", "  ", "null", `""`, `"null"`, "\nnull\n"} {
		intent, err := Decode(&providers.ChatResponse{Content: text})
		require.NoError(t, err, "text %q", text)
		assert.Equal(t, KindNoAction, intent.Kind())
	}
}

func TestDecodeCreateBet(t *testing.T) {
	intent, err := Decode(call("create_bet", `{"amount":5,"betCondition":"Lakers win tonight","maker":"A","taker":"B"}`))
	require.NoError(t, err)
	create, ok := intent.(CreateBet)
	require.True(t, ok, "got %T", intent)
	assert.Equal(t, "call_1", create.CallID)
	assert.True(t, create.Bet.Amount.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, "A", create.Bet.Maker)
	assert.Equal(t, "B", create.Bet.Taker)
	assert.Equal(t, "Lakers win tonight", create.Bet.Condition)
}

func TestDecodeCreateBetFallsBackToArgumentsMap(t *testing.T) {
	resp := &providers.ChatResponse{ToolCalls: []providers.ToolCall{{
		ID:   "toolu_1",
		Name: "create_bet",
		Arguments: map[string]interface{}{
			"amount": 2.5, "betCondition": "it snows", "maker": "A", "taker": "B",
		},
	}}}
	intent, err := Decode(resp)
	require.NoError(t, err)
	assert.True(t, intent.(CreateBet).Bet.Amount.Equal(decimal.RequireFromString("2.5")))
}

func TestDecodeInvalidProposalIsNoAction(t *testing.T) {
	cases := []string{
		`{"amount":0,"betCondition":"x","maker":"A","taker":"B"}`,
		`{"amount":-3,"betCondition":"x","maker":"A","taker":"B"}`,
		`{"amount":5,"betCondition":"","maker":"A","taker":"B"}`,
		`{"amount":5,"betCondition":"x","maker":"","taker":"B"}`,
		`{"amount":5,"betCondition":"x","maker":"A","taker":"A"}`,
	}
	for _, args := range cases {
		intent, err := Decode(call("create_bet", args))
		require.NoError(t, err, args)
		assert.Equal(t, KindNoAction, intent.Kind(), args)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		resp *providers.ChatResponse
	}{
		{"nil response", nil},
		{"free text", &providers.ChatResponse{Content: "Sure, I created the bet!"}},
		{"unknown function", call("cancel_bet", `{"betId":"b1"}`)},
		{"unknown field", call("confirm_bet", `{"betId":"b1","extra":true}`)},
		{"missing bet id", call("confirm_bet", `{}`)},
		{"blank bet id", call("confirm_bet", `{"betId":"  "}`)},
		{"wrong type", call("confirm_bet", `{"betId":7}`)},
		{"missing amount", call("create_bet", `{"betCondition":"x","maker":"A","taker":"B"}`)},
		{"null maker", call("create_bet", `{"amount":1,"betCondition":"x","maker":null,"taker":"B"}`)},
		{"not json", call("resolve_bet", `{betId: b1}`)},
		{"trailing data", call("confirm_bet", `{"betId":"b1"} {"betId":"b2"}`)},
		{"resolve without details", call("resolve_bet", `{"betId":"b1","winner":"A"}`)},
		{"two calls", &providers.ChatResponse{ToolCalls: []providers.ToolCall{
			{Name: "confirm_bet", RawArguments: json.RawMessage(`{"betId":"b1"}`)},
			{Name: "confirm_bet", RawArguments: json.RawMessage(`{"betId":"b2"}`)},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.resp)
			require.ErrorIs(t, err, ErrMalformedIntent)
		})
	}
}

func TestDecodeResolveBet(t *testing.T) {
	intent, err := Decode(call("resolve_bet", `{"betId":"b1","winner":"A","resolutionDetails":"Lakers won 110-102"}`))
	require.NoError(t, err)
	assert.Equal(t, ResolveBet{BetID: "b1", Winner: "A", ResolutionDetails: "Lakers won 110-102"}, intent)

	intent, err = Decode(call("resolve_bet", `{"betId":"b1","resolutionDetails":"game is tomorrow"}`))
	require.NoError(t, err)
	assert.Equal(t, ResolveBet{BetID: "b1", ResolutionDetails: "game is tomorrow"}, intent)
}

type fakeProvider struct {
	resp  *providers.ChatResponse
	err   error
	delay time.Duration
	got   providers.ChatRequest
}

func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	f.got = req
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.resp, f.err
}

func (f *fakeProvider) DefaultModel() string { return "fake-1" }
func (f *fakeProvider) Name() string         { return "fake" }

func TestLLMClassifyBuildsRequest(t *testing.T) {
	fp := &fakeProvider{resp: call("confirm_bet", `{"betId":"b1"}`)}
	c := NewLLM(fp, Options{Model: "gpt-4o", WebSearch: true, MaxTokens: 512, AgentNames: []string{"@betbot"}})

	pending := []bets.Entry{{ID: "b1", Bet: bets.Bet{
		Amount: decimal.NewFromInt(5), Condition: "rain", Maker: "A", Taker: "B",
	}}}
	intent, err := c.Classify(context.Background(), Request{
		History: []Turn{{Sender: "A", Text: "I bet B $5 it rains"}, {Sender: "B", Text: "deal"}},
		Pending: pending,
	})
	require.NoError(t, err)
	assert.Equal(t, ConfirmBet{BetID: "b1"}, intent)

	require.Len(t, fp.got.Messages, 2)
	assert.Equal(t, "system", fp.got.Messages[0].Role)
	assert.Contains(t, fp.got.Messages[0].Content, "@betbot")
	user := fp.got.Messages[1].Content
	assert.Contains(t, user, `{"userId":"A","content":"I bet B $5 it rains"}`)
	assert.Contains(t, user, `"betId":"b1"`)
	assert.Contains(t, user, `"amount":5`)
	assert.Contains(t, user, "--- CONFIRMED BETS ---\n[]")
	assert.Len(t, fp.got.Tools, 3)
	assert.Equal(t, "gpt-4o", fp.got.Model)
	assert.Equal(t, true, fp.got.Options[providers.OptWebSearch])
	assert.Equal(t, 512, fp.got.Options[providers.OptMaxTokens])
}

func TestLLMClassifyUpstreamFailure(t *testing.T) {
	fp := &fakeProvider{err: &providers.HTTPError{Status: 502, Body: "bad gateway"}}
	_, err := NewLLM(fp, Options{}).Classify(context.Background(), Request{})
	require.ErrorIs(t, err, ErrOracleUnavailable)

	var httpErr *providers.HTTPError
	assert.True(t, errors.As(err, &httpErr))
}

func TestLLMClassifyTimeout(t *testing.T) {
	fp := &fakeProvider{delay: time.Second, resp: &providers.ChatResponse{Content: "null"}}
	start := time.Now()
	_, err := NewLLM(fp, Options{Timeout: 20 * time.Millisecond}).Classify(context.Background(), Request{})
	require.ErrorIs(t, err, ErrOracleUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestLLMClassifyMalformed(t *testing.T) {
	fp := &fakeProvider{resp: &providers.ChatResponse{Content: "I think you should bet more"}}
	_, err := NewLLM(fp, Options{}).Classify(context.Background(), Request{})
	require.ErrorIs(t, err, ErrMalformedIntent)
	assert.False(t, errors.Is(err, ErrOracleUnavailable))
}

func TestSystemPromptWithoutAgentNames(t *testing.T) {
	assert.False(t, strings.Contains(systemPrompt(nil), "do not wait for"))
}

func TestLLMClassifyUnparsableProviderBody(t *testing.T) {
	fp := &fakeProvider{err: fmt.Errorf("%w: openai: no choices", providers.ErrMalformedResponse)}
	_, err := NewLLM(fp, Options{}).Classify(context.Background(), Request{})
	require.ErrorIs(t, err, ErrMalformedIntent)
	require.ErrorIs(t, err, providers.ErrMalformedResponse)
	assert.False(t, errors.Is(err, ErrOracleUnavailable))
}
