// Package payments turns a resolved bet into a USDC transfer request that
// wallet-capable transports render as an EIP-5792 wallet_sendCalls payload.
package payments

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Network describes the chain a payment request targets.
type Network struct {
	ID           string         `json:"network_id"`
	Name         string         `json:"network_name"`
	ChainID      uint64         `json:"chain_id"`
	TokenAddress common.Address `json:"token_address"`
	Decimals     int32          `json:"decimals"`
	Currency     string         `json:"currency"`
}

// ChainIDHex returns the chain id in the 0x-prefixed form wallet_sendCalls expects.
func (n Network) ChainIDHex() string {
	return fmt.Sprintf("0x%x", n.ChainID)
}

var networks = map[string]Network{
	"base-sepolia": {
		ID:           "base-sepolia",
		Name:         "Base Sepolia",
		ChainID:      84532,
		TokenAddress: common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
		Decimals:     6,
		Currency:     "USDC",
	},
	"base-mainnet": {
		ID:           "base-mainnet",
		Name:         "Base Mainnet",
		ChainID:      8453,
		TokenAddress: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		Decimals:     6,
		Currency:     "USDC",
	},
}

// DefaultNetwork is used when no network is configured.
const DefaultNetwork = "base-sepolia"

// LookupNetwork returns the network registered under id.
func LookupNetwork(id string) (Network, error) {
	if id == "" {
		id = DefaultNetwork
	}
	n, ok := networks[id]
	if !ok {
		return Network{}, fmt.Errorf("unknown payment network %q", id)
	}
	return n, nil
}

// NetworkIDs lists the supported network ids.
func NetworkIDs() []string {
	return []string{"base-sepolia", "base-mainnet"}
}
