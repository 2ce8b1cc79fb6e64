package agent

import (
	"fmt"

	"github.com/nextlevelbuilder/betclaw/internal/bets"
)

const (
	oracleUnavailableNotice = "Sorry, I couldn't reach the betting oracle just now. Please try again in a moment."
)

func describeBet(b bets.Bet) string {
	return fmt.Sprintf("%s bets %s %s USDC that %s", b.Maker, b.Taker, b.Amount.String(), b.Condition)
}

func proposalText(id string, b bets.Bet) string {
	return fmt.Sprintf("New bet proposed [%s]: %s. %s and %s, confirm in chat to lock it in.",
		id, describeBet(b), b.Maker, b.Taker)
}

func confirmedText(id string, b bets.Bet) string {
	return fmt.Sprintf("Bet confirmed [%s]: %s. Ask me to resolve it once the outcome is known.", id, describeBet(b))
}

func noPendingText(id string) string {
	return fmt.Sprintf("There is no pending bet with id %s.", id)
}

func noConfirmedText(id string) string {
	return fmt.Sprintf("There is no confirmed bet with id %s.", id)
}

func inconclusiveText(id, details string) string {
	if details == "" {
		return fmt.Sprintf("Bet %s is not resolved yet: the outcome could not be determined.", id)
	}
	return fmt.Sprintf("Bet %s is not resolved yet: %s", id, details)
}

func winnerText(id, winner, details string) string {
	if details == "" {
		return fmt.Sprintf("Bet %s resolved. Winner: %s", id, winner)
	}
	return fmt.Sprintf("Bet %s resolved. Winner: %s. %s", id, winner, details)
}

func amountTooSmallText(id string, b bets.Bet) string {
	return fmt.Sprintf("Bet %s is settled, but %s USDC is below the smallest payable amount, so no payment request was sent.",
		id, b.Amount.String())
}

func expiredText(id string, b bets.Bet) string {
	return fmt.Sprintf("Pending bet %s expired without confirmation: %s.", id, describeBet(b))
}
