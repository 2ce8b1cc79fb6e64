package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/nextlevelbuilder/betclaw/internal/bus"
)

// ErrAmountTooSmall is returned when an amount truncates to zero minor units.
var ErrAmountTooSmall = errors.New("amount is below the smallest payable unit")

// transferSelector is the ERC-20 transfer(address,uint256) function selector.
var transferSelector = common.FromHex("0xa9059cbb")

// ToMinorUnits converts amount to the asset's smallest unit, truncating
// toward zero (5.1234567 USDC -> 5123456).
func ToMinorUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	units := amount.Shift(decimals).Truncate(0).BigInt()
	if units.Sign() <= 0 {
		return nil, fmt.Errorf("%s: %w", amount.String(), ErrAmountTooSmall)
	}
	return units, nil
}

// Request is a payment from the losing participant to the winner.
type Request struct {
	Amount  *big.Int // minor units
	Display decimal.Decimal
	Payer   string
	Payee   string
	Network Network
	Reason  string
}

// NewRequest builds a Request for amount on network.
func NewRequest(amount decimal.Decimal, payer, payee string, network Network, reason string) (Request, error) {
	units, err := ToMinorUnits(amount, network.Decimals)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Amount:  units,
		Display: amount,
		Payer:   payer,
		Payee:   payee,
		Network: network,
		Reason:  reason,
	}, nil
}

// Payable reports whether both sides are EVM addresses and a transfer call
// can be built.
func (r Request) Payable() bool {
	return common.IsHexAddress(r.Payer) && common.IsHexAddress(r.Payee)
}

// WalletSendCalls is the EIP-5792 wallet_sendCalls request body.
type WalletSendCalls struct {
	Version string `json:"version"`
	From    string `json:"from"`
	ChainID string `json:"chainId"`
	Calls   []Call `json:"calls"`
}

// Call is one transaction in a WalletSendCalls batch.
type Call struct {
	To       string       `json:"to"`
	Data     string       `json:"data"`
	Metadata CallMetadata `json:"metadata"`
}

// CallMetadata is the display hint wallets show next to a call.
type CallMetadata struct {
	Description     string `json:"description"`
	TransactionType string `json:"transactionType"`
	Currency        string `json:"currency"`
	Amount          string `json:"amount"`
	Decimals        int32  `json:"decimals"`
	NetworkID       string `json:"networkId"`
}

// WalletSendCalls renders the request as an ERC-20 transfer call from the
// payer to the payee.
func (r Request) WalletSendCalls() (WalletSendCalls, error) {
	if !common.IsHexAddress(r.Payer) {
		return WalletSendCalls{}, fmt.Errorf("payer %q is not an address", r.Payer)
	}
	if !common.IsHexAddress(r.Payee) {
		return WalletSendCalls{}, fmt.Errorf("payee %q is not an address", r.Payee)
	}

	payee := common.HexToAddress(r.Payee)
	data := make([]byte, 0, 4+32+32)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(payee.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(r.Amount.Bytes(), 32)...)

	return WalletSendCalls{
		Version: "1.0",
		From:    common.HexToAddress(r.Payer).Hex(),
		ChainID: r.Network.ChainIDHex(),
		Calls: []Call{{
			To:   r.Network.TokenAddress.Hex(),
			Data: "0x" + common.Bytes2Hex(data),
			Metadata: CallMetadata{
				Description:     fmt.Sprintf("Transfer %s %s on %s", r.Display.String(), r.Network.Currency, r.Network.Name),
				TransactionType: "transfer",
				Currency:        r.Network.Currency,
				Amount:          r.Amount.String(),
				Decimals:        r.Network.Decimals,
				NetworkID:       r.Network.ID,
			},
		}},
	}, nil
}

// FallbackText describes the payment for transports that cannot carry a
// wallet_sendCalls payload.
func (r Request) FallbackText() string {
	return fmt.Sprintf("Payment request: %s should send %s %s (%s minor units) to %s on %s.",
		r.Payer, r.Display.String(), r.Network.Currency, r.Amount.String(), r.Payee, r.Network.Name)
}

// Message builds the outbound message for chatID. Payable requests carry a
// wallet_sendCalls payload with the text as fallback; others are text only.
func (r Request) Message(channel, chatID string) (bus.OutboundMessage, error) {
	msg := bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: r.FallbackText(),
	}
	if !r.Payable() {
		return msg, nil
	}
	calls, err := r.WalletSendCalls()
	if err != nil {
		return bus.OutboundMessage{}, err
	}
	body, err := json.Marshal(calls)
	if err != nil {
		return bus.OutboundMessage{}, fmt.Errorf("encode wallet_sendCalls: %w", err)
	}
	msg.Content = string(body)
	msg.ContentType = bus.ContentWalletSendCalls
	msg.Fallback = r.FallbackText()
	return msg, nil
}
