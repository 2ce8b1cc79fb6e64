// Package bets holds the bet value type and the in-memory registry that
// tracks each bet through pending and confirmed states.
package bets

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrConflict is returned when a bet id is already pending, confirmed or retired.
	ErrConflict = errors.New("bet id already in use")

	// ErrNotFound is returned when a transition targets a bet id that is not
	// in the required state.
	ErrNotFound = errors.New("bet not found")

	// ErrInvalidBet wraps every validation failure from Bet.Validate.
	ErrInvalidBet = errors.New("invalid bet")
)

// Bet is a wager between two participants on a stated condition.
// Values are never mutated after creation; transitions move them between
// registry containers.
type Bet struct {
	Amount    decimal.Decimal `json:"amount"`
	Condition string          `json:"condition"`
	Maker     string          `json:"maker"`
	Taker     string          `json:"taker"`
}

// Validate checks amount > 0, a non-empty condition and two distinct,
// non-empty participants.
func (b Bet) Validate() error {
	switch {
	case !b.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidBet, b.Amount.String())
	case strings.TrimSpace(b.Condition) == "":
		return fmt.Errorf("%w: empty condition", ErrInvalidBet)
	case strings.TrimSpace(b.Maker) == "" || strings.TrimSpace(b.Taker) == "":
		return fmt.Errorf("%w: maker and taker are required", ErrInvalidBet)
	case SameParticipant(b.Maker, b.Taker):
		return fmt.Errorf("%w: maker and taker are the same participant", ErrInvalidBet)
	}
	return nil
}

// Loser returns the counterparty of winner, or false when winner is neither
// the maker nor the taker.
func (b Bet) Loser(winner string) (string, bool) {
	switch {
	case SameParticipant(winner, b.Maker):
		return b.Taker, true
	case SameParticipant(winner, b.Taker):
		return b.Maker, true
	}
	return "", false
}

// Winner maps a classifier-supplied winner onto the stored participant
// identifier, so payments always use the identifier recorded at creation.
func (b Bet) Winner(winner string) (string, bool) {
	switch {
	case SameParticipant(winner, b.Maker):
		return b.Maker, true
	case SameParticipant(winner, b.Taker):
		return b.Taker, true
	}
	return "", false
}

var evmAddress = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// IsAddress reports whether id looks like an EVM hex address.
func IsAddress(id string) bool { return evmAddress.MatchString(id) }

// SameParticipant compares two participant identifiers. EVM addresses are
// checksum-cased by wallets and compare case-insensitively; every other
// identifier (usernames, inbox ids) compares exactly.
func SameParticipant(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if IsAddress(a) && IsAddress(b) {
		return strings.EqualFold(a, b)
	}
	return a == b
}
