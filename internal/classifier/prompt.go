package classifier

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/betclaw/internal/providers"
)

const basePrompt = `You are the orchestrator of a prediction market in which participants place bets on outcomes with other participants. You are given a group chat history where users may be formulating, confirming or settling bets, together with the bets that are pending confirmation and the bets that are confirmed.

Answer with a single function call from the functions provided, or with null when the conversation calls for no action in the prediction market. Do not answer in markdown and never call more than one function.

1. If users are just conversing and nobody has proposed a bet or asked to resolve a confirmed bet, answer null.
2. If a user has proposed a bet and it has both a maker and a taker, call create_bet with the terms discussed between them. Use the user IDs exactly as they appear in the history.
3. If a bet is pending confirmation and both the maker and the taker have confirmed it, call confirm_bet with the betId of that pending bet.
4. If the maker or the taker asks for a confirmed bet to be resolved, look up its betCondition and determine whether it has resolved. If it has not, call resolve_bet without a winner and explain in resolutionDetails why it is not resolved yet. If it has, call resolve_bet with the betId, the winner's user ID and the resolutionDetails.
5. Never create, confirm or resolve a bet that already appears in the state it would be moved to.`

func systemPrompt(agentNames []string) string {
	if len(agentNames) == 0 {
		return basePrompt
	}
	return basePrompt + fmt.Sprintf("\n\nYou will not be named or tagged in messages (do not wait for %s as a cue). Understand the context from the existing messages and act without an explicit request.",
		strings.Join(agentNames, " or "))
}

func toolDefinitions() []providers.ToolDefinition {
	return []providers.ToolDefinition{
		{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        toolCreateBet,
				Description: "Create a bet between two user IDs that is yet to be resolved. The maker proposes the bet and the amount; the taker accepts the bet on the terms the maker stated.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"amount": map[string]interface{}{
							"type":        "number",
							"description": "The amount being bet, in USDC",
						},
						"betCondition": map[string]interface{}{
							"type":        "string",
							"description": "A concise but complete description of the condition being bet upon. It is used later to resolve the bet, so keep the details.",
						},
						"maker": map[string]interface{}{
							"type":        "string",
							"description": "The user ID who proposed the bet and the amount",
						},
						"taker": map[string]interface{}{
							"type":        "string",
							"description": "The user ID who accepted the terms of the bet",
						},
					},
					"required":             []string{"amount", "betCondition", "maker", "taker"},
					"additionalProperties": false,
				},
			},
		},
		{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        toolConfirmBet,
				Description: "Confirm a pending bet once both the maker and the taker have approved it.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"betId": map[string]interface{}{
							"type":        "string",
							"description": "The ID of the pending bet confirmed by its maker and taker",
						},
					},
					"required":             []string{"betId"},
					"additionalProperties": false,
				},
			},
		},
		{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        toolResolveBet,
				Description: "Resolve a confirmed bet by declaring the user ID of the winner, or explain why it cannot be resolved yet.",
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"betId": map[string]interface{}{
							"type":        "string",
							"description": "The ID of the confirmed bet to resolve",
						},
						"winner": map[string]interface{}{
							"type":        "string",
							"description": "The user ID of the winner. Omit when the condition has not resolved.",
						},
						"resolutionDetails": map[string]interface{}{
							"type":        "string",
							"description": "One or two lines describing the outcome that decides the bet, or why it has not resolved yet",
						},
					},
					"required":             []string{"betId", "resolutionDetails"},
					"additionalProperties": false,
				},
			},
		},
	}
}
